package realtime

import (
	"encoding/json"
	"sync"

	"github.com/veepo/veeposync/internal/bus"
	"github.com/veepo/veeposync/internal/domain"
)

// SubscriptionState is the lifecycle of one topic subscription.
type SubscriptionState int

const (
	StateIdle SubscriptionState = iota
	StateConnecting
	StateActive
	StateReconnecting
	StateClosed
)

func (s SubscriptionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is either a row change or a state transition of a subscription.
// Change is empty for state events.
type Event struct {
	Topic     domain.Topic
	Change    ChangeKind
	Record    json.RawMessage
	OldRecord json.RawMessage
	State     SubscriptionState
}

func (e Event) IsState() bool {
	return e.Change == ""
}

// Subscription delivers the events of one topic in arrival order.
type Subscription struct {
	topic   domain.Topic
	release func(*Subscription)
	bus     bus.MessageBus
	busCh   bus.Subscription
	events  chan Event

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.RWMutex
	state SubscriptionState
	err   error
}

func newSubscription(topic domain.Topic, b bus.MessageBus, buffer int, release func(*Subscription)) *Subscription {
	s := &Subscription{
		topic:   topic,
		release: release,
		bus:     b,
		events:  make(chan Event, buffer),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		state:   StateIdle,
	}
	s.busCh = b.Subscribe(busTopic(topic))
	go s.forward()

	return s
}

func (s *Subscription) Topic() domain.Topic {
	return s.topic
}

// Events is closed once the subscription is closed.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Ready is closed the first time the subscription becomes active.
func (s *Subscription) Ready() <-chan struct{} {
	return s.ready
}

func (s *Subscription) State() SubscriptionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// Err is set when the subscription was closed by a failure rather than by
// its owner.
func (s *Subscription) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.err
}

// Close detaches the subscription. It is idempotent.
func (s *Subscription) Close() {
	s.terminate(nil)
}

func (s *Subscription) terminate(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.err = err
		s.mu.Unlock()
		close(s.done)

		if s.release != nil {
			s.release(s)
		}
		s.bus.Unsubscribe(s.busCh, busTopic(s.topic))
	})
}

func (s *Subscription) setState(state SubscriptionState) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()

		return
	}
	s.state = state
	s.mu.Unlock()

	if state == StateActive {
		s.readyOnce.Do(func() { close(s.ready) })
	}
}

func (s *Subscription) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// forward drains the bus channel until the bus closes it, so Unsubscribe
// never blocks on a full buffer.
func (s *Subscription) forward() {
	defer close(s.events)

	for raw := range s.busCh {
		ev, ok := raw.(Event)
		if !ok || s.closed() {
			continue
		}
		if ev.IsState() {
			s.setState(ev.State)
		}
		select {
		case s.events <- ev:
		case <-s.done:
		}
	}
}

func busTopic(topic domain.Topic) string {
	return "realtime." + topic.String()
}
