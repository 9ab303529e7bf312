package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veepo/veeposync/internal/backend"
	"github.com/veepo/veeposync/internal/domain"
)

var ErrBusy = errors.New("availability change already in progress")

const (
	opSetAvailability = "set availability"
	defaultTimeout    = 30 * time.Second
)

// Store reads and writes the provider's own availability.
type Store interface {
	GetAvailability(ctx context.Context, providerID string) (bool, error)
	SetAvailability(ctx context.Context, update backend.AvailabilityUpdate) error
}

type Phase int

const (
	PhaseOffline Phase = iota
	PhaseAcquiringLocation
	PhaseGoingOnline
	PhaseOnline
	PhaseGoingOffline
)

func (p Phase) String() string {
	switch p {
	case PhaseOffline:
		return "offline"
	case PhaseAcquiringLocation:
		return "acquiring location"
	case PhaseGoingOnline:
		return "going online"
	case PhaseOnline:
		return "online"
	case PhaseGoingOffline:
		return "going offline"
	default:
		return "unknown"
	}
}

// State is what a UI shows: the possibly speculative availability flag,
// the phase of an in-flight toggle and the last failure reason.
type State struct {
	Available bool
	Pending   bool
	Phase     Phase
	Location  *domain.Location
	Reason    string
}

// Outcome is the resolution of one toggle.
type Outcome struct {
	Available bool
	Err       error
}

// Tracker owns the provider's availability flag and applies toggles
// optimistically.
type Tracker struct {
	logger     *slog.Logger
	store      Store
	locator    Locator
	providerID string
	timeout    time.Duration

	cell   *availabilityCell
	ledger *domain.Ledger[bool]

	mu       sync.Mutex
	inFlight bool
	phase    Phase
	location *domain.Location
	reason   string
	changes  chan struct{}
}

func NewTracker(logger *slog.Logger, providerID string, store Store, locator Locator) *Tracker {
	if logger == nil {
		logger = slog.Default().With("component", "presence")
	}
	cell := &availabilityCell{}

	return &Tracker{
		logger:     logger,
		store:      store,
		locator:    locator,
		providerID: providerID,
		timeout:    defaultTimeout,
		cell:       cell,
		ledger:     domain.NewLedger[bool](cell),
		changes:    make(chan struct{}, 1),
	}
}

// Load fetches the confirmed availability. It is ignored while a toggle is
// in flight.
func (t *Tracker) Load(ctx context.Context) error {
	available, err := t.store.GetAvailability(ctx, t.providerID)
	if err != nil {
		return fmt.Errorf("load availability: %w", err)
	}

	t.mu.Lock()
	if t.inFlight {
		t.mu.Unlock()

		return nil
	}
	t.cell.reset(available)
	t.phase = phaseFor(available)
	t.mu.Unlock()
	t.notify()

	return nil
}

func (t *Tracker) Available() bool {
	return t.cell.value()
}

func (t *Tracker) State() State {
	available, pending := t.cell.snapshot()
	t.mu.Lock()
	defer t.mu.Unlock()

	return State{
		Available: available,
		Pending:   pending,
		Phase:     t.phase,
		Location:  t.location,
		Reason:    t.reason,
	}
}

// Changes signals after every visible state change. Signals are coalesced.
func (t *Tracker) Changes() <-chan struct{} {
	return t.changes
}

// Toggle requests a new availability. The flag flips immediately; the
// returned channel yields the outcome once the location fix and the write
// have resolved.
func (t *Tracker) Toggle(ctx context.Context, online bool) <-chan Outcome {
	resCh := make(chan Outcome, 1)

	t.mu.Lock()
	if t.inFlight {
		t.mu.Unlock()
		resCh <- Outcome{Available: t.cell.value(), Err: ErrBusy}
		close(resCh)

		return resCh
	}
	if current, pending := t.cell.snapshot(); current == online && !pending {
		t.mu.Unlock()
		resCh <- Outcome{Available: current}
		close(resCh)

		return resCh
	}
	t.inFlight = true
	t.reason = ""
	if online {
		t.phase = PhaseAcquiringLocation
	} else {
		t.phase = PhaseGoingOffline
	}
	t.mu.Unlock()

	h := t.ledger.Apply(opSetAvailability, domain.TempIDPrefix+uuid.NewString(), online)
	t.notify()
	t.logger.Debug("availability toggle applied", "mutation", h.ID.String(), "online", online)

	go func() {
		out := t.resolve(ctx, h, online)
		t.finish(out)
		resCh <- out
		close(resCh)
	}()

	return resCh
}

func (t *Tracker) resolve(ctx context.Context, h *domain.Handle, online bool) Outcome {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	update := backend.AvailabilityUpdate{ProviderID: t.providerID, Available: online}
	if online {
		loc, err := t.locator.Locate(ctx)
		if err != nil {
			pre := preconditionFor(err)
			t.ledger.Reject(h, pre)
			t.logger.Warn("availability toggle blocked", "mutation", h.ID.String(), "reason", pre.Reason, "error", err)

			return Outcome{Available: t.cell.value(), Err: pre}
		}
		update.Location = &loc
		t.mu.Lock()
		t.phase = PhaseGoingOnline
		t.location = &loc
		t.mu.Unlock()
		t.notify()
	}

	if err := t.store.SetAvailability(ctx, update); err != nil {
		rejected := t.ledger.Reject(h, err)
		t.logger.Warn("availability write rejected", "mutation", h.ID.String(), "online", online, "error", err)

		return Outcome{Available: t.cell.value(), Err: rejected}
	}
	t.ledger.Confirm(h, online)
	t.logger.Info("availability changed", "mutation", h.ID.String(), "online", online)

	return Outcome{Available: online}
}

func (t *Tracker) finish(out Outcome) {
	t.mu.Lock()
	t.inFlight = false
	t.phase = phaseFor(t.cell.value())
	if !t.cell.value() {
		t.location = nil
	}
	t.reason = domain.UserMessage(out.Err)
	t.mu.Unlock()
	t.notify()
}

func (t *Tracker) notify() {
	select {
	case t.changes <- struct{}{}:
	default:
	}
}

func phaseFor(available bool) Phase {
	if available {
		return PhaseOnline
	}

	return PhaseOffline
}

// availabilityCell is the single-value mutation target behind the tracker.
type availabilityCell struct {
	mu        sync.RWMutex
	confirmed bool
	current   bool
	pending   bool
}

func (c *availabilityCell) ApplyPending(_ string, v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = v
	c.pending = true
}

func (c *availabilityCell) ConfirmPending(_ string, v bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmed = v
	c.current = v
	c.pending = false

	return true
}

func (c *availabilityCell) RollbackPending(_ string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.confirmed
	c.pending = false

	return true
}

func (c *availabilityCell) reset(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmed = v
	c.current = v
	c.pending = false
}

func (c *availabilityCell) value() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.current
}

func (c *availabilityCell) snapshot() (bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.current, c.pending
}
