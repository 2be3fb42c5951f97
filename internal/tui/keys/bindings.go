package keys

import "github.com/gdamore/tcell/v2"

// Action represents a keybinding action.
type Action struct {
	Key     tcell.Key
	Rune    rune
	Handler func()
}

// Matches returns true if the event matches this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Registry holds keybindings per page plus global ones. Page bindings win.
type Registry struct {
	global []*Action
	pages  map[string][]*Action
}

// NewRegistry creates a new keybinding registry.
func NewRegistry() *Registry {
	return &Registry{pages: make(map[string][]*Action)}
}

// Global registers a binding active on every page.
func (r *Registry) Global(a *Action) {
	r.global = append(r.global, a)
}

// Page registers a binding active only while page is in front.
func (r *Registry) Page(page string, a *Action) {
	r.pages[page] = append(r.pages[page], a)
}

// Rune is shorthand for a printable key binding.
func Rune(ch rune, fn func()) *Action {
	return &Action{Key: tcell.KeyRune, Rune: ch, Handler: fn}
}

// Key is shorthand for a special key binding.
func Key(k tcell.Key, fn func()) *Action {
	return &Action{Key: k, Handler: fn}
}

// HandleEvent runs the first binding for ev on page.
// Returns true if a handler matched.
func (r *Registry) HandleEvent(page string, ev *tcell.EventKey) bool {
	for _, a := range r.pages[page] {
		if a.Matches(ev) {
			a.Handler()
			return true
		}
	}
	for _, a := range r.global {
		if a.Matches(ev) {
			a.Handler()
			return true
		}
	}
	return false
}
