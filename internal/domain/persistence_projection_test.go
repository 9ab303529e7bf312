package domain

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/veepo/veeposync/internal/bus"
	"github.com/veepo/veeposync/internal/connectors"
)

func TestPersistenceProjection_StoresConfirmedMessagesAndTouchesConversation(t *testing.T) {
	b := bus.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(b.Close)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	msgs := &fakeMessageRepo{}
	convs := &fakeConversationRepo{}
	StartPersistenceProjection(ctx, b, inlineQueue{}, Repositories{Messages: msgs, Conversations: convs})

	b.Publish(connectors.TopicMessageConfirmed, Message{ID: "temp-1", ConversationID: "c1", Content: "pending"})
	b.Publish(connectors.TopicMessageConfirmed, Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Content: "oi", CreatedAt: baseTime})
	b.Publish(connectors.TopicMessageDeleted, connectors.MessageDeleted{ID: "m0", ConversationID: "c1"})

	waitFor(t, func() bool { return msgs.count() == 1 && msgs.deletedCount() == 1 && convs.count() == 1 })
	if got := msgs.upserts()[0].ID; got != "m1" {
		t.Fatalf("expected only the confirmed message to be stored, got %s", got)
	}
	touched := convs.upserts()[0]
	if touched.ID != "c1" || touched.LastMessage != "oi" || !touched.LastMessageAt.Equal(baseTime) {
		t.Fatalf("unexpected conversation touch: %+v", touched)
	}
}

func TestPersistenceProjection_StoresNotificationsAndProviders(t *testing.T) {
	b := bus.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(b.Close)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	notes := &fakeNotificationRepo{}
	providers := &fakeProviderRepo{}
	StartPersistenceProjection(ctx, b, inlineQueue{}, Repositories{Notifications: notes, Providers: providers})

	b.Publish(connectors.TopicNotificationReceived, Notification{ID: "n1", UserID: "u1", CreatedAt: baseTime})
	b.Publish(connectors.TopicNotificationUpdated, Notification{ID: "n1", UserID: "u1", IsRead: true, CreatedAt: baseTime})
	b.Publish(connectors.TopicProvidersFetched, ProviderList{Items: []Provider{{ID: "p1"}, {ID: "p2"}}})
	b.Publish(connectors.TopicProvidersFetched, ProviderList{})

	waitFor(t, func() bool { return notes.count() == 2 && providers.count() == 2 })
	if providers.batchCount() != 1 {
		t.Fatalf("expected empty batches to be skipped, got %d batches", providers.batchCount())
	}
}

func TestPersistenceProjection_DrainWaitsForPublishedEvents(t *testing.T) {
	b := bus.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(b.Close)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	msgs := &fakeMessageRepo{}
	providers := &fakeProviderRepo{}
	p := StartPersistenceProjection(ctx, b, inlineQueue{}, Repositories{Messages: msgs, Providers: providers})

	for i := 0; i < 20; i++ {
		b.Publish(connectors.TopicMessageConfirmed, Message{ID: fmt.Sprintf("m%d", i), ConversationID: "c1", SenderID: "u1", CreatedAt: baseTime})
	}
	b.Publish(connectors.TopicProvidersFetched, ProviderList{Items: []Provider{{ID: "p1"}}})

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer drainCancel()
	if err := p.Drain(drainCtx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if msgs.count() != 20 || providers.count() != 1 {
		t.Fatalf("expected every event handled before drain returned, got %d messages and %d providers", msgs.count(), providers.count())
	}
}

func TestPersistenceProjection_DrainHonoursContext(t *testing.T) {
	b := bus.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(b.Close)
	ctx, cancel := context.WithCancel(context.Background())

	p := StartPersistenceProjection(ctx, b, inlineQueue{}, Repositories{Providers: &fakeProviderRepo{}})
	cancel()
	time.Sleep(50 * time.Millisecond)

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer drainCancel()
	if err := p.Drain(drainCtx); err == nil {
		t.Fatalf("expected drain to time out once the projection stopped")
	}
}

type inlineQueue struct{}

func (inlineQueue) Enqueue(_ string, fn func(context.Context) error) {
	_ = fn(context.Background())
}

type recorder[T any] struct {
	mu    sync.Mutex
	items []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, v)
}

func (r *recorder[T]) upserts() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]T(nil), r.items...)
}

func (r *recorder[T]) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.items)
}

type fakeMessageRepo struct {
	recorder[Message]
	deleted recorder[string]
}

func (r *fakeMessageRepo) Upsert(_ context.Context, m Message) error {
	r.add(m)

	return nil
}

func (r *fakeMessageRepo) Delete(_ context.Context, id string) error {
	r.deleted.add(id)

	return nil
}

func (r *fakeMessageRepo) deletedCount() int {
	return r.deleted.count()
}

func (r *fakeMessageRepo) ListRecentByConversation(context.Context, string, int) ([]Message, error) {
	return r.upserts(), nil
}

type fakeConversationRepo struct {
	recorder[Conversation]
}

func (r *fakeConversationRepo) Upsert(_ context.Context, c Conversation) error {
	r.add(c)

	return nil
}

func (r *fakeConversationRepo) ListByActivity(context.Context) ([]Conversation, error) {
	return r.upserts(), nil
}

type fakeNotificationRepo struct {
	recorder[Notification]
}

func (r *fakeNotificationRepo) Upsert(_ context.Context, n Notification) error {
	r.add(n)

	return nil
}

func (r *fakeNotificationRepo) ListRecentByUser(context.Context, string, int) ([]Notification, error) {
	return r.upserts(), nil
}

type fakeProviderRepo struct {
	recorder[Provider]
	batches recorder[int]
}

func (r *fakeProviderRepo) UpsertMany(_ context.Context, providers []Provider) error {
	r.batches.add(len(providers))
	for _, p := range providers {
		r.add(p)
	}

	return nil
}

func (r *fakeProviderRepo) batchCount() int {
	return r.batches.count()
}

func (r *fakeProviderRepo) ListAll(context.Context) ([]Provider, error) {
	return r.upserts(), nil
}

func waitFor(t *testing.T, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition was not met before timeout")
}
