package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

// InfoData is what the header shows about the signed-in client.
type InfoData struct {
	User   string
	Hub    string
	Online int
	Unread int
}

// Info displays client metadata in the header.
type Info struct {
	*tview.TextView
	theme *Theme
}

// NewInfo creates a new info panel.
func NewInfo(theme *Theme) *Info {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &Info{TextView: tv, theme: theme}
}

// Update renders d.
func (i *Info) Update(d InfoData) {
	i.Clear()
	fg, val := Tag(i.theme.FgColor), Tag(i.theme.CounterColor)
	_, _ = fmt.Fprintf(i,
		"[%s::b]User:[-:-:-]   [%s]%s[-]\n"+
			"[%s::b]Hub:[-:-:-]    [%s]%s[-]\n"+
			"[%s::b]Online:[-:-:-] [%s]%d[-]\n"+
			"[%s::b]Unread:[-:-:-] [%s]%d[-]",
		fg, val, tview.Escape(d.User),
		fg, val, tview.Escape(d.Hub),
		fg, val, d.Online,
		fg, val, d.Unread,
	)
}
