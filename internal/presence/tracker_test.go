package presence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/veepo/veeposync/internal/backend"
	"github.com/veepo/veeposync/internal/domain"
)

func TestToggleOnlineWithDeniedPermissionStaysOffline(t *testing.T) {
	store := &fakeStore{}
	tracker := NewTracker(discardLogger(), "p1", store, StaticLocator{Denied: true})

	out := waitOutcome(t, tracker.Toggle(context.Background(), true))
	if out.Available {
		t.Fatalf("expected availability to stay false")
	}
	if !errors.Is(out.Err, domain.ErrPreconditionFailed) {
		t.Fatalf("expected precondition failure, got %v", out.Err)
	}
	if got := domain.UserMessage(out.Err); got != "location permission denied" {
		t.Fatalf("expected permission denied reason, got %q", got)
	}
	if store.writes() != 0 {
		t.Fatalf("expected no write to be attempted, got %d", store.writes())
	}
	state := tracker.State()
	if state.Available || state.Pending || state.Phase != PhaseOffline {
		t.Fatalf("unexpected state after denial: %+v", state)
	}
	if state.Reason != "location permission denied" {
		t.Fatalf("expected reason in state, got %q", state.Reason)
	}
}

func TestToggleOnlineWithoutFixReportsUnavailable(t *testing.T) {
	store := &fakeStore{}
	tracker := NewTracker(discardLogger(), "p1", store, StaticLocator{})

	out := waitOutcome(t, tracker.Toggle(context.Background(), true))
	if got := domain.UserMessage(out.Err); got != "location unavailable" {
		t.Fatalf("expected unavailable reason, got %q", got)
	}
	if store.writes() != 0 {
		t.Fatalf("expected no write, got %d", store.writes())
	}
}

func TestToggleFlipsImmediatelyAndConfirms(t *testing.T) {
	release := make(chan struct{})
	store := &fakeStore{block: release}
	loc := domain.Location{Latitude: -28.3, Longitude: -52.79}
	tracker := NewTracker(discardLogger(), "p1", store, StaticLocator{Location: &loc})

	resCh := tracker.Toggle(context.Background(), true)
	if !tracker.Available() {
		t.Fatalf("expected optimistic flip before the write resolves")
	}
	if !tracker.State().Pending {
		t.Fatalf("expected pending state while in flight")
	}
	close(release)

	out := waitOutcome(t, resCh)
	if out.Err != nil || !out.Available {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	state := tracker.State()
	if !state.Available || state.Pending || state.Phase != PhaseOnline {
		t.Fatalf("unexpected state: %+v", state)
	}
	last := store.last()
	if !last.Available || last.Location == nil || last.Location.Latitude != -28.3 {
		t.Fatalf("expected write with location, got %+v", last)
	}
}

func TestWriteFailureRollsBack(t *testing.T) {
	store := &fakeStore{err: &backend.HTTPError{StatusCode: 500, Message: "boom"}}
	loc := domain.Location{Latitude: 1, Longitude: 2}
	tracker := NewTracker(discardLogger(), "p1", store, StaticLocator{Location: &loc})

	out := waitOutcome(t, tracker.Toggle(context.Background(), true))
	if out.Available || tracker.Available() {
		t.Fatalf("expected rollback to offline")
	}
	if !errors.Is(out.Err, domain.ErrWriteRejected) {
		t.Fatalf("expected write rejected, got %v", out.Err)
	}
	if store.writes() != 1 {
		t.Fatalf("expected one write, got %d", store.writes())
	}
}

func TestGoingOfflineNeedsNoLocation(t *testing.T) {
	store := &fakeStore{available: true}
	locator := LocatorFunc(func(context.Context) (domain.Location, error) {
		t.Errorf("locator must not be called when going offline")

		return domain.Location{}, ErrPositionUnavailable
	})
	tracker := NewTracker(discardLogger(), "p1", store, locator)
	if err := tracker.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !tracker.Available() {
		t.Fatalf("expected loaded availability")
	}

	out := waitOutcome(t, tracker.Toggle(context.Background(), false))
	if out.Err != nil || out.Available {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if last := store.last(); last.Available || last.Location != nil {
		t.Fatalf("expected offline write without location, got %+v", last)
	}
}

func TestOfflineWriteFailureRestoresOnline(t *testing.T) {
	store := &fakeStore{available: true}
	tracker := NewTracker(discardLogger(), "p1", store, StaticLocator{})
	if err := tracker.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	store.setErr(errors.New("network down"))

	out := waitOutcome(t, tracker.Toggle(context.Background(), false))
	if !out.Available || !tracker.Available() {
		t.Fatalf("expected availability restored to online")
	}
	if got := domain.UserMessage(out.Err); got != "network down" {
		t.Fatalf("expected write reason, got %q", got)
	}
}

func TestToggleWhileInFlightIsRefused(t *testing.T) {
	release := make(chan struct{})
	store := &fakeStore{block: release}
	loc := domain.Location{}
	tracker := NewTracker(discardLogger(), "p1", store, StaticLocator{Location: &loc})

	first := tracker.Toggle(context.Background(), true)
	second := waitOutcome(t, tracker.Toggle(context.Background(), false))
	if !errors.Is(second.Err, ErrBusy) {
		t.Fatalf("expected busy error, got %v", second.Err)
	}
	close(release)
	if out := waitOutcome(t, first); out.Err != nil {
		t.Fatalf("first toggle failed: %v", out.Err)
	}
}

func TestToggleToCurrentValueIsNoop(t *testing.T) {
	store := &fakeStore{}
	tracker := NewTracker(discardLogger(), "p1", store, StaticLocator{})

	out := waitOutcome(t, tracker.Toggle(context.Background(), false))
	if out.Err != nil || out.Available {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if store.writes() != 0 {
		t.Fatalf("expected no write, got %d", store.writes())
	}
}

type fakeStore struct {
	mu        sync.Mutex
	available bool
	err       error
	block     chan struct{}
	updates   []backend.AvailabilityUpdate
}

func (s *fakeStore) GetAvailability(context.Context, string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.available, nil
}

func (s *fakeStore) SetAvailability(ctx context.Context, update backend.AvailabilityUpdate) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, update)
	if s.err != nil {
		return s.err
	}
	s.available = update.Available

	return nil
}

func (s *fakeStore) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *fakeStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.updates)
}

func (s *fakeStore) last() backend.AvailabilityUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updates) == 0 {
		return backend.AvailabilityUpdate{}
	}

	return s.updates[len(s.updates)-1]
}

func waitOutcome(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(2 * time.Second):
		t.Fatalf("toggle did not resolve")
	}

	return Outcome{}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
