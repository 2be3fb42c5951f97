package views

import (
	"fmt"

	"github.com/matheus3301/shopchat/internal/tui/ui"
	"github.com/rivo/tview"
)

// HelpView displays the key binding and command reference.
type HelpView struct {
	*tview.TextView
}

// NewHelpView creates a new help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	kc := ui.Tag(theme.MenuKeyColor)
	k := func(s string) string { return fmt.Sprintf("[%s]%s[-:-:-]", kc, s) }

	_, _ = fmt.Fprintf(tv, `
  [::b]Global[-:-:-]

  %-28s Command mode       %-26s Cancel / back
  %-28s Help               %-26s Quit

  [::b]Roster[-:-:-]

  %-28s Open conversation  %-26s Jump to Nth user
  %-28s Filter by name     %-26s Refresh

  [::b]Conversation[-:-:-]

  %-28s Focus composer     %-26s Leave composer
  %-28s Mark all read

  [::b]Composer commands[-:-:-]

  %s   Replace the body of your message n (within 5 minutes)
  %s        Unsend your message n (leaves a tombstone)
  %s               Mark the conversation read
  %s               Send a message starting with ':'

  [::b]Commands (: mode)[-:-:-]

  %s     Open a conversation
  %s   Filter the roster
  %s  Reload the roster
  %s / %s  Quit

  [::b]Markers[-:-:-]

  …  waiting for the hub     !  failed, see the status bar
`,
		k(":"), k("Esc"),
		k("?"), k("q"),
		k("Enter"), k("1-9"),
		k("/"), k("r"),
		k("i"), k("Esc"),
		k("R"),
		k(":edit <n> <text>"),
		k(":unsend <n>"),
		k(":read"),
		k("::text"),
		k(":open <user>"),
		k(":filter <text>"),
		k(":refresh"),
		k(":quit"), k(":q"),
	)

	return &HelpView{TextView: tv}
}

// Crumb implements ui.Page.
func (hv *HelpView) Crumb() string { return "help" }

// Hints implements ui.Page.
func (hv *HelpView) Hints() []ui.MenuHint {
	return []ui.MenuHint{{Key: "Esc", Description: "Back"}}
}
