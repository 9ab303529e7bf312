// Package feeds keeps the synced collections the UI reads up to date: each
// feed pairs a realtime subscription with an authoritative snapshot fetch
// and a mutation ledger for optimistic writes.
package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/veepo/veeposync/internal/bus"
	"github.com/veepo/veeposync/internal/domain"
	"github.com/veepo/veeposync/internal/realtime"
)

const (
	defaultMessageLimit      = 200
	defaultNotificationLimit = 100
	resyncTimeout            = 30 * time.Second
)

// Subscriber opens realtime subscriptions. *realtime.Client implements it.
type Subscriber interface {
	Subscribe(topic domain.Topic) (*realtime.Subscription, error)
}

// Options are shared by every feed.
type Options struct {
	Logger *slog.Logger
	// Bus receives confirmed records for the cache projection and other
	// listeners. Optional.
	Bus bus.MessageBus
	// EchoWindow bounds the own-echo match of locally sent messages.
	EchoWindow time.Duration
	// ResyncOnReconnect refetches the snapshot after a reconnect, since
	// events missed during the gap are not replayed.
	ResyncOnReconnect bool
	// SnapshotLimit caps the number of records fetched per snapshot.
	SnapshotLimit int
	Now           func() time.Time
}

func (o Options) withDefaults(component string) Options {
	if o.Logger == nil {
		o.Logger = slog.Default().With("component", component)
	}
	if o.EchoWindow <= 0 {
		o.EchoWindow = domain.DefaultEchoWindow
	}
	if o.Now == nil {
		o.Now = time.Now
	}

	return o
}

func (o Options) publish(topic string, msg any) {
	if o.Bus == nil {
		return
	}
	o.Bus.Publish(topic, msg)
}

// follow drains sub until its event channel closes. apply gets every row
// change; resync runs after each reconnect. The returned channel is closed
// once the subscription ended.
func follow(sub *realtime.Subscription, apply func(realtime.Event), resync func()) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)
		reconnecting := false
		for ev := range sub.Events() {
			if !ev.IsState() {
				apply(ev)

				continue
			}
			switch ev.State {
			case realtime.StateReconnecting:
				reconnecting = true
			case realtime.StateActive:
				if reconnecting && resync != nil {
					resync()
				}
				reconnecting = false
			}
		}
	}()

	return done
}

// waitReady blocks until the subscription is live. Events delivered from
// then on are not missed, so a snapshot taken afterwards plus the live tail
// covers everything.
func waitReady(ctx context.Context, sub *realtime.Subscription, done <-chan struct{}) error {
	select {
	case <-sub.Ready():
		return nil
	case <-done:
		if err := sub.Err(); err != nil {
			return err
		}

		return fmt.Errorf("subscription %s closed before it became ready: %w", sub.Topic(), domain.ErrTransport)
	case <-ctx.Done():
		return ctx.Err()
	}
}

type recordID struct {
	ID string `json:"id"`
}

// decodeRecord decodes the row of an insert or update event.
func decodeRecord[T interface{ Validate() error }](ev realtime.Event) (T, error) {
	var v T
	if err := json.Unmarshal(ev.Record, &v); err != nil {
		return v, fmt.Errorf("decode %s record: %w", ev.Topic.Kind, err)
	}
	if err := v.Validate(); err != nil {
		return v, err
	}

	return v, nil
}

// deletedID returns the identity of a deleted row.
func deletedID(ev realtime.Event) (string, error) {
	var id recordID
	if err := json.Unmarshal(ev.OldRecord, &id); err != nil {
		return "", fmt.Errorf("decode %s old record: %w", ev.Topic.Kind, err)
	}
	if id.ID == "" {
		return "", fmt.Errorf("%s delete without id", ev.Topic.Kind)
	}

	return id.ID, nil
}
