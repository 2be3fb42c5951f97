package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/matheus3301/shopchat/internal/controller"
	"github.com/matheus3301/shopchat/internal/roster"
	"github.com/matheus3301/shopchat/internal/subscription"
)

// ErrNoRow is returned when a command names a message number that is not shown.
var ErrNoRow = errors.New("no such message")

// ViewModel caches the roster and exposes the open conversation as rows.
type ViewModel struct {
	ctl   *controller.Controller
	query *roster.Query

	mu      sync.RWMutex
	entries []roster.Entry
}

// NewViewModel creates a view model over the client's controller and roster.
func NewViewModel(ctl *controller.Controller, query *roster.Query) *ViewModel {
	return &ViewModel{ctl: ctl, query: query}
}

// Self returns the signed-in user.
func (vm *ViewModel) Self() chat.UserID { return vm.ctl.Self() }

// LoadRoster re-queries the roster.
func (vm *ViewModel) LoadRoster(ctx context.Context) error {
	entries, err := vm.query.Fetch(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.entries = entries
	vm.mu.Unlock()
	return nil
}

// Roster returns the last loaded roster.
func (vm *ViewModel) Roster() []roster.Entry {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.entries
}

// Name returns the display name of user, falling back to the id.
func (vm *ViewModel) Name(user chat.UserID) string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, e := range vm.entries {
		if e.UserID == user {
			return e.Name()
		}
	}
	return string(user)
}

// Open switches to the conversation with counterpart. A degraded
// subscription still opens the conversation and is reported as an error.
func (vm *ViewModel) Open(ctx context.Context, counterpart chat.UserID) error {
	return vm.ctl.Open(ctx, counterpart)
}

// Close leaves the open conversation.
func (vm *ViewModel) Close() { vm.ctl.Close() }

// Counterpart returns who the open conversation is with.
func (vm *ViewModel) Counterpart() (chat.UserID, bool) { return vm.ctl.Counterpart() }

// Rows returns the open conversation as numbered rows.
func (vm *ViewModel) Rows() []Row {
	return BuildRows(vm.ctl.Self(), vm.ctl.Messages())
}

// Resolve maps a row number to a message id.
func (vm *ViewModel) Resolve(n int) (string, error) {
	rows := vm.Rows()
	if n < 1 || n > len(rows) {
		return "", fmt.Errorf("%w: %d", ErrNoRow, n)
	}
	return rows[n-1].ID, nil
}

// Send sends text to the open conversation.
func (vm *ViewModel) Send(ctx context.Context, text string) error {
	_, err := vm.ctl.Send(ctx, text)
	return err
}

// Edit replaces the body of row n.
func (vm *ViewModel) Edit(ctx context.Context, n int, text string) error {
	id, err := vm.Resolve(n)
	if err != nil {
		return err
	}
	_, err = vm.ctl.Edit(ctx, id, text)
	return err
}

// Unsend tombstones row n.
func (vm *ViewModel) Unsend(ctx context.Context, n int) error {
	id, err := vm.Resolve(n)
	if err != nil {
		return err
	}
	_, err = vm.ctl.Unsend(ctx, id)
	return err
}

// MarkRead marks the open conversation read and returns how many rows changed.
func (vm *ViewModel) MarkRead(ctx context.Context) (int, error) {
	return vm.ctl.MarkConversationRead(ctx)
}

// Resume marks the open conversation read when it comes back to the front.
// It does nothing when no conversation is open.
func (vm *ViewModel) Resume(ctx context.Context) (int, error) {
	if _, ok := vm.ctl.Counterpart(); !ok {
		return 0, nil
	}
	return vm.ctl.MarkConversationRead(ctx)
}

// Draft records composer text, signalling typing.
func (vm *ViewModel) Draft(ctx context.Context, text string) {
	_ = vm.ctl.SetDraft(ctx, text)
}

// Typing reports whether the counterpart is typing.
func (vm *ViewModel) Typing() bool { return vm.ctl.CounterpartIsTyping() }

// State returns the live-update state of the open conversation.
func (vm *ViewModel) State() subscription.State { return vm.ctl.SubscriptionState() }
