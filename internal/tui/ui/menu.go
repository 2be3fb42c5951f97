package ui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// menuRows is how many hints stack in one column before wrapping.
const menuRows = 4

// Menu lays out the front page's key hints in columns.
type Menu struct {
	*tview.Table
	theme *Theme
}

func NewMenu(theme *Theme) *Menu {
	t := tview.NewTable().SetBorders(false).SetSelectable(false, false)
	t.SetBackgroundColor(theme.BgColor)
	t.SetBorderPadding(0, 0, 2, 0)
	return &Menu{Table: t, theme: theme}
}

// Update replaces the hints. Each hint takes a key cell and a label cell.
func (m *Menu) Update(hints []MenuHint) {
	m.Clear()
	for i, h := range hints {
		row, col := i%menuRows, (i/menuRows)*2
		m.SetCell(row, col, tview.NewTableCell("<"+h.Key+">").
			SetTextColor(m.theme.MenuKeyColor).
			SetAttributes(tcell.AttrBold).
			SetBackgroundColor(m.theme.BgColor))
		m.SetCell(row, col+1, tview.NewTableCell(h.Description+"  ").
			SetTextColor(m.theme.FgColor).
			SetBackgroundColor(m.theme.BgColor))
	}
}
