package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/matheus3301/shopchat/internal/roster"
	"github.com/matheus3301/shopchat/internal/tui/ui"
	"github.com/rivo/tview"
)

// RosterList is the table of counterparts.
type RosterList struct {
	*tview.Table
	theme   *ui.Theme
	entries []roster.Entry
	visible []roster.Entry
	filter  string
	now     func() time.Time
}

// NewRosterList creates the roster table.
func NewRosterList(theme *ui.Theme) *RosterList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitleColor(theme.TitleColor)

	rl := &RosterList{Table: table, theme: theme, now: time.Now}
	rl.render()
	return rl
}

// Crumb implements ui.Page.
func (rl *RosterList) Crumb() string { return "roster" }

// Hints implements ui.Page.
func (rl *RosterList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "1-9", Description: "Jump"},
		{Key: "/", Description: "Filter"},
		{Key: "r", Description: "Refresh"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
		{Key: "q", Description: "Quit"},
	}
}

// Update replaces the entries, keeping the selected user under the cursor.
func (rl *RosterList) Update(entries []roster.Entry) {
	selected := rl.SelectedUser()
	rl.entries = entries
	rl.render()
	for i, e := range rl.visible {
		if e.UserID == selected {
			rl.Select(i+1, 0)
			return
		}
	}
}

// SetFilter narrows the table to names containing filter.
func (rl *RosterList) SetFilter(filter string) {
	rl.filter = filter
	rl.render()
}

// Filter returns the active filter.
func (rl *RosterList) Filter() string { return rl.filter }

func (rl *RosterList) render() {
	rl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{"  ", 0},
		{" NAME", 2},
		{" UNREAD", 0},
		{" LAST SEEN", 1},
	}
	for col, h := range headers {
		rl.SetCell(0, col, tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(rl.theme.TableHeaderFg).
			SetBackgroundColor(rl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp))
	}

	now := rl.now()
	rl.visible = rl.visible[:0]
	for _, e := range rl.entries {
		if rl.filter != "" && !containsFold(e.Name(), rl.filter) && !containsFold(string(e.UserID), rl.filter) {
			continue
		}
		rl.visible = append(rl.visible, e)
		row := len(rl.visible)

		dot := tview.NewTableCell(" ○").SetTextColor(rl.theme.MutedColor)
		if e.IsOnline {
			dot = tview.NewTableCell(" ●").SetTextColor(rl.theme.OnlineColor)
		}
		rl.SetCell(row, 0, dot)

		name := tview.NewTableCell(" " + tview.Escape(sanitizeForTerminal(e.Name()))).
			SetExpansion(2).SetTextColor(rl.theme.FgColor)
		unread := tview.NewTableCell("").SetAlign(tview.AlignRight)
		if e.UnreadCount > 0 {
			name.SetAttributes(tcell.AttrBold)
			unread.SetText(fmt.Sprintf("(%d)", e.UnreadCount)).SetTextColor(rl.theme.UnreadColor)
		}
		rl.SetCell(row, 1, name)
		rl.SetCell(row, 2, unread)
		rl.SetCell(row, 3, tview.NewTableCell(" "+formatLastSeen(e.LastSeenAt, now)).
			SetExpansion(1).SetTextColor(rl.theme.MutedColor))
	}

	if rl.filter != "" {
		rl.SetTitle(fmt.Sprintf(" Roster (%d/%d) filter: %s ", len(rl.visible), len(rl.entries), tview.Escape(rl.filter)))
	} else {
		rl.SetTitle(fmt.Sprintf(" Roster (%d) ", len(rl.entries)))
	}
}

// SelectedUser returns the user under the cursor.
func (rl *RosterList) SelectedUser() chat.UserID {
	row, _ := rl.GetSelection()
	return rl.UserAt(row)
}

// UserAt returns the user of the nth visible row (1-based).
func (rl *RosterList) UserAt(n int) chat.UserID {
	if n < 1 || n > len(rl.visible) {
		return ""
	}
	return rl.visible[n-1].UserID
}
