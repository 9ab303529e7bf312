package feeds

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/veepo/veeposync/internal/connectors"
	"github.com/veepo/veeposync/internal/domain"
	"github.com/veepo/veeposync/internal/realtime"
)

const opMarkRead = "mark read"

type NotificationAPI interface {
	ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) (domain.Notification, error)
}

// Notifications is the live notification list of the session user, newest
// first.
type Notifications struct {
	opts  Options
	sub   Subscriber
	api   NotificationAPI
	cache domain.NotificationRepository
	topic domain.Topic

	coll   *domain.SyncedCollection[domain.Notification]
	ledger *domain.Ledger[domain.Notification]

	mu      sync.Mutex
	active  *realtime.Subscription
	done    <-chan struct{}
	stopped bool
	err     error
}

func NewNotifications(userID string, sub Subscriber, api NotificationAPI, cache domain.NotificationRepository, opts Options) *Notifications {
	opts = opts.withDefaults("feeds.notifications")
	if opts.SnapshotLimit <= 0 {
		opts.SnapshotLimit = defaultNotificationLimit
	}
	coll := domain.NewNotificationCollection()

	return &Notifications{
		opts:   opts,
		sub:    sub,
		api:    api,
		cache:  cache,
		topic:  domain.NotificationsTopic(userID),
		coll:   coll,
		ledger: domain.NewLedger[domain.Notification](coll),
	}
}

// Start subscribes to the user's notifications and merges the snapshot
// once the subscription is live.
func (f *Notifications) Start(ctx context.Context) error {
	if err := f.topic.Validate(); err != nil {
		return fmt.Errorf("start notifications: %w", err)
	}

	f.mu.Lock()
	if f.active != nil {
		f.mu.Unlock()

		return nil
	}
	f.stopped = false
	f.err = nil
	f.mu.Unlock()

	f.warmStart(ctx)

	s, err := f.sub.Subscribe(f.topic)
	if err != nil {
		return fmt.Errorf("start notifications: %w", err)
	}
	var resync func()
	if f.opts.ResyncOnReconnect {
		resync = func() { go f.resync() }
	}
	done := follow(s, f.apply, resync)

	f.mu.Lock()
	f.active = s
	f.done = done
	f.mu.Unlock()
	go f.watchEnd(s, done)

	if err := waitReady(ctx, s, done); err != nil {
		return fmt.Errorf("start notifications: %w", err)
	}
	if err := f.fetchSnapshot(ctx); err != nil {
		return fmt.Errorf("start notifications: %w", err)
	}
	f.opts.Logger.Info("notifications started", "topic", f.topic.String(), "unread", f.UnreadCount())

	return nil
}

// Close ends the subscription. Late events are discarded.
func (f *Notifications) Close() {
	f.mu.Lock()
	s := f.active
	done := f.done
	f.active = nil
	f.done = nil
	f.stopped = true
	f.mu.Unlock()

	if s == nil {
		return
	}
	s.Close()
	<-done
}

// MarkRead flips the read flag right away and rolls it back if the write
// fails. The returned error carries a display-ready reason.
func (f *Notifications) MarkRead(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	entry, ok := f.coll.Get(id)
	if !ok {
		return fmt.Errorf("mark read %s: %w", id, domain.ErrNotFound)
	}
	if entry.Value.IsRead || entry.Pending {
		return nil
	}

	projected := entry.Value
	projected.IsRead = true
	h := f.ledger.Apply(opMarkRead, id, projected)

	saved, err := f.api.MarkNotificationRead(ctx, id)
	if err != nil {
		rejected := f.ledger.Reject(h, err)
		f.opts.Logger.Warn("mark read rejected", "mutation", h.ID.String(), "id", id, "error", err)

		return rejected
	}
	f.ledger.Confirm(h, saved)
	f.opts.publish(connectors.TopicNotificationUpdated, saved)

	return nil
}

func (f *Notifications) UnreadCount() int {
	count := 0
	for _, n := range f.coll.Items() {
		if !n.IsRead {
			count++
		}
	}

	return count
}

func (f *Notifications) Items() []domain.Notification {
	return f.coll.Items()
}

func (f *Notifications) Entries() []domain.Entry[domain.Notification] {
	return f.coll.Entries()
}

// Changes signals after every change of the list. Signals are coalesced.
func (f *Notifications) Changes() <-chan struct{} {
	return f.coll.Changes()
}

func (f *Notifications) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.err
}

func (f *Notifications) apply(ev realtime.Event) {
	f.mu.Lock()
	if f.stopped || ev.Topic != f.topic {
		f.mu.Unlock()
		f.opts.Logger.Debug("stale notification event dropped", "topic", ev.Topic.String(), "error", domain.ErrStaleEvent)

		return
	}

	var (
		published domain.Notification
		topic     string
	)
	switch ev.Change {
	case realtime.ChangeInsert, realtime.ChangeUpdate:
		n, err := decodeRecord[domain.Notification](ev)
		if err != nil {
			f.mu.Unlock()
			f.opts.Logger.Warn("invalid notification event dropped", "topic", ev.Topic.String(), "error", err)

			return
		}
		res := f.coll.Upsert(n)
		published = n
		topic = connectors.TopicNotificationUpdated
		if ev.Change == realtime.ChangeInsert && res == domain.UpsertInserted {
			topic = connectors.TopicNotificationReceived
		}
	case realtime.ChangeDelete:
		id, err := deletedID(ev)
		if err != nil {
			f.mu.Unlock()
			f.opts.Logger.Warn("invalid notification delete dropped", "topic", ev.Topic.String(), "error", err)

			return
		}
		f.coll.Remove(id)
	}
	f.mu.Unlock()

	if topic != "" {
		f.opts.publish(topic, published)
	}
}

func (f *Notifications) warmStart(ctx context.Context) {
	if f.cache == nil {
		return
	}
	cached, err := f.cache.ListRecentByUser(ctx, f.topic.ScopeID, f.opts.SnapshotLimit)
	if err != nil {
		f.opts.Logger.Warn("load cached notifications", "error", err)

		return
	}
	f.coll.Load(cached)
}

func (f *Notifications) fetchSnapshot(ctx context.Context) error {
	items, err := f.api.ListNotifications(ctx, f.topic.ScopeID, f.opts.SnapshotLimit)
	if err != nil {
		return fmt.Errorf("fetch notifications: %w", err)
	}

	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()

		return nil
	}
	f.coll.Load(items)
	f.mu.Unlock()

	for _, n := range items {
		f.opts.publish(connectors.TopicNotificationUpdated, n)
	}

	return nil
}

func (f *Notifications) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
	defer cancel()
	if err := f.fetchSnapshot(ctx); err != nil {
		f.opts.Logger.Warn("resync notifications failed", "error", err)
	}
}

func (f *Notifications) watchEnd(s *realtime.Subscription, done <-chan struct{}) {
	<-done
	if err := s.Err(); err != nil {
		f.mu.Lock()
		f.err = err
		if f.active == s {
			f.active = nil
			f.done = nil
		}
		f.mu.Unlock()
		f.opts.Logger.Error("notification subscription ended", "topic", f.topic.String(), "error", err)
	}
}
