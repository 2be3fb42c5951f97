package ui

// MenuHint describes a keyboard shortcut for display in the menu panel.
type MenuHint struct {
	Key         string
	Description string
}

// Page is a view that can sit on the page stack.
type Page interface {
	// Crumb is the breadcrumb label while the page is in front.
	Crumb() string
	Hints() []MenuHint
}
