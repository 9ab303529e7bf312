package domain

import (
	"crypto/rand"
	"sync"

	"github.com/oklog/ulid/v2"
)

// MutationTarget is the state a ledger applies speculative changes to.
type MutationTarget[T any] interface {
	ApplyPending(tempID string, v T)
	ConfirmPending(tempID string, v T) bool
	RollbackPending(tempID string) bool
}

type handleState int

const (
	handleOpen handleState = iota
	handleConfirmed
	handleRejected
)

// Handle identifies one applied, not yet resolved mutation.
type Handle struct {
	ID     ulid.ULID
	TempID string
	Op     string

	state handleState
}

func (h *Handle) Resolved() bool {
	return h != nil && h.state != handleOpen
}

// Ledger tracks optimistic mutations against one target. It holds no
// timers: whoever issues the write resolves the handle once its result is
// known.
type Ledger[T any] struct {
	target MutationTarget[T]

	mu      sync.Mutex
	open    map[string]*Handle
	entropy *ulid.MonotonicEntropy
}

func NewLedger[T any](target MutationTarget[T]) *Ledger[T] {
	return &Ledger[T]{
		target:  target,
		open:    make(map[string]*Handle),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Apply mutates the target synchronously and returns the handle that must
// later be confirmed or rejected.
func (l *Ledger[T]) Apply(op, tempID string, projected T) *Handle {
	l.mu.Lock()
	h := &Handle{
		ID:     ulid.MustNew(ulid.Now(), l.entropy),
		TempID: tempID,
		Op:     op,
	}
	l.open[h.ID.String()] = h
	l.mu.Unlock()

	l.target.ApplyPending(tempID, projected)

	return h
}

// Confirm swaps the pending entry for the server record. It reports false
// when the entry was removed in the meantime; that is not an error.
func (l *Ledger[T]) Confirm(h *Handle, server T) bool {
	l.resolve(h, handleConfirmed)

	return l.target.ConfirmPending(h.TempID, server)
}

// Reject rolls the pending entry back and returns the reason wrapped for
// display.
func (l *Ledger[T]) Reject(h *Handle, reason error) error {
	l.resolve(h, handleRejected)
	l.target.RollbackPending(h.TempID)

	return &RejectedError{Op: h.Op, Reason: reason}
}

// Outstanding is the number of applied but unresolved mutations.
func (l *Ledger[T]) Outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.open)
}

func (l *Ledger[T]) resolve(h *Handle, state handleState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h == nil {
		panic("domain: nil mutation handle")
	}
	if h.state != handleOpen {
		panic("domain: mutation " + h.ID.String() + " resolved twice")
	}
	h.state = state
	delete(l.open, h.ID.String())
}
