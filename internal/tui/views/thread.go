package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/shopchat/internal/tui/model"
	"github.com/matheus3301/shopchat/internal/tui/ui"
	"github.com/rivo/tview"
)

// Thread shows one conversation: numbered messages, a typing line and the composer.
type Thread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	typing   *tview.TextView
	composer *tview.InputField
	peer     string
	onSubmit func(text string)
	onChange func(text string)
	now      func() time.Time
}

// NewThread creates the conversation view.
func NewThread(theme *ui.Theme) *Thread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitleColor(theme.TitleColor)

	typing := tview.NewTextView().SetDynamicColors(true)
	typing.SetBackgroundColor(theme.BgColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus, :edit n text, :unsend n, :read) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(typing, 1, 0, false).
		AddItem(composer, 3, 0, false)

	t := &Thread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		typing:   typing,
		composer: composer,
		now:      time.Now,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || t.onSubmit == nil {
			return
		}
		text := composer.GetText()
		if strings.TrimSpace(text) == "" {
			return
		}
		composer.SetText("")
		t.onSubmit(text)
	})
	composer.SetChangedFunc(func(text string) {
		if t.onChange != nil {
			t.onChange(text)
		}
	})

	return t
}

// Crumb implements ui.Page.
func (t *Thread) Crumb() string {
	if t.peer == "" {
		return "conversation"
	}
	return t.peer
}

// Hints implements ui.Page.
func (t *Thread) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "i", Description: "Compose"},
		{Key: "Esc", Description: "Back"},
		{Key: "R", Description: "Mark read"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
	}
}

// SetPeer sets the counterpart name shown in the title.
func (t *Thread) SetPeer(name string) {
	t.peer = name
	t.messages.SetTitle(fmt.Sprintf(" %s ", tview.Escape(name)))
}

// SetOnSubmit sets the callback for composer text submitted with Enter.
func (t *Thread) SetOnSubmit(fn func(text string)) { t.onSubmit = fn }

// SetOnChange sets the callback for every composer edit.
func (t *Thread) SetOnChange(fn func(text string)) { t.onChange = fn }

// Reset clears the view for a newly opened conversation.
func (t *Thread) Reset() {
	t.messages.Clear()
	t.typing.Clear()
	t.composer.SetText("")
}

// Update renders rows and the typing line.
func (t *Thread) Update(rows []model.Row, typing bool) {
	t.messages.Clear()
	now := t.now()
	self, peer := ui.Tag(t.theme.SelfColor), ui.Tag(t.theme.PeerColor)
	muted := ui.Tag(t.theme.MutedColor)

	for _, r := range rows {
		who, color := t.peer, peer
		if r.Mine {
			who, color = "You", self
		}

		body := tview.Escape(sanitizeForTerminal(r.Body))
		if r.Unsent {
			body = fmt.Sprintf("[%s::i]%s[-:-:-]", muted, body)
		}

		var tags []string
		if r.Edited {
			tags = append(tags, "edited")
		}
		if r.Mine && r.Read {
			tags = append(tags, "read")
		}
		meta := formatTimestamp(r.At, now)
		if len(tags) > 0 {
			meta += " · " + strings.Join(tags, " · ")
		}

		marker := ""
		switch {
		case r.Pending:
			marker = fmt.Sprintf(" [%s]%s[-]", ui.Tag(t.theme.PendingColor), r.Marker())
		case r.Failed:
			marker = fmt.Sprintf(" [%s::b]%s[-:-:-]", ui.Tag(t.theme.FailedColor), r.Marker())
		}

		_, _ = fmt.Fprintf(t.messages, "[%s]%3d[-] [%s::b]%s[-:-:-] [%s]%s[-]%s\n     %s\n",
			muted, r.N, color, tview.Escape(who), muted, meta, marker, body)
	}
	t.messages.ScrollToEnd()

	t.typing.Clear()
	if typing {
		_, _ = fmt.Fprintf(t.typing, " [%s::i]%s is typing…[-:-:-]", muted, tview.Escape(t.peer))
	}
}

// Messages returns the message pane (for focus management).
func (t *Thread) Messages() *tview.TextView { return t.messages }

// Composer returns the composer input (for focus management).
func (t *Thread) Composer() *tview.InputField { return t.composer }
