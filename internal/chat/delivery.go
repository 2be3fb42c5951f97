package chat

import "time"

// Op names a local mutation awaiting or having failed remote confirmation.
type Op string

const (
	OpSend   Op = "send"
	OpEdit   Op = "edit"
	OpUnsend Op = "unsend"
	OpRead   Op = "read"
)

// Delivery is the reconciliation state attached to a stored message.
// It is one of LocalPending, Confirmed or Failed.
type Delivery interface {
	isDelivery()
	String() string
}

// LocalPending marks an optimistic mutation that the remote has not confirmed yet.
// Base is the UpdatedAt of the remote version an edit or unsend started from;
// remote rows at or before it are older than the pending change.
type LocalPending struct {
	Op    Op
	Since time.Time
	Base  time.Time
}

// Confirmed marks a message whose state came from, or was acknowledged by, the remote.
type Confirmed struct {
	At time.Time
}

// Failed marks a message whose last optimistic mutation was rolled back.
type Failed struct {
	Op  Op
	Err error
}

func (LocalPending) isDelivery() {}
func (Confirmed) isDelivery()    {}
func (Failed) isDelivery()       {}

func (d LocalPending) String() string { return "pending:" + string(d.Op) }
func (Confirmed) String() string      { return "confirmed" }
func (d Failed) String() string       { return "failed:" + string(d.Op) }

// IsPending reports whether d is a LocalPending state.
func IsPending(d Delivery) bool {
	_, ok := d.(LocalPending)
	return ok
}
