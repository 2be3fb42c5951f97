package views

import (
	"fmt"
	"time"

	"github.com/matheus3301/shopchat/internal/subscription"
	"github.com/matheus3301/shopchat/internal/tui/ui"
	"github.com/rivo/tview"
)

// StatusBar shows the user, the live-update state, the clock and the current flash.
type StatusBar struct {
	*tview.TextView
	theme *ui.Theme
	user  string
	state subscription.State
	flash *ui.FlashMessage
	now   func() time.Time
}

// NewStatusBar creates a new status bar.
func NewStatusBar(theme *ui.Theme) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, theme: theme, state: subscription.Idle, now: time.Now}
}

// SetUser updates the user display.
func (sb *StatusBar) SetUser(name string) {
	sb.user = name
	sb.render()
}

// SetState updates the subscription indicator.
func (sb *StatusBar) SetState(s subscription.State) {
	sb.state = s
	sb.render()
}

// SetFlash shows msg, or clears the flash when nil.
func (sb *StatusBar) SetFlash(msg *ui.FlashMessage) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) stateTag() string {
	switch sb.state {
	case subscription.Active:
		return fmt.Sprintf("[%s]● live[-]", ui.Tag(sb.theme.OnlineColor))
	case subscription.Subscribing:
		return fmt.Sprintf("[%s]◌ connecting[-]", ui.Tag(sb.theme.FlashWarnColor))
	case subscription.Degraded:
		return fmt.Sprintf("[%s]✕ offline[-]", ui.Tag(sb.theme.FailedColor))
	default:
		return fmt.Sprintf("[%s]○ idle[-]", ui.Tag(sb.theme.MutedColor))
	}
}

func (sb *StatusBar) render() {
	sb.Clear()

	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s | %s", tview.Escape(sb.user), sb.stateTag(), sb.now().Format("15:04"))
	if sb.flash != nil {
		color := sb.theme.FlashInfoColor
		switch sb.flash.Level {
		case ui.FlashWarn:
			color = sb.theme.FlashWarnColor
		case ui.FlashErr:
			color = sb.theme.FlashErrColor
		}
		line += fmt.Sprintf(" | [%s]%s[-]", ui.Tag(color), tview.Escape(sb.flash.Text))
	}

	_, _ = fmt.Fprint(sb, line)
}
