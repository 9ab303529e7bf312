package domain

import (
	"context"
	"fmt"

	"github.com/veepo/veeposync/internal/bus"
	"github.com/veepo/veeposync/internal/connectors"
)

// WriteQueue serializes persistence writes from async domain events.
type WriteQueue interface {
	Enqueue(name string, fn func(context.Context) error)
}

// Repositories groups the cache repositories a projection writes to. Nil
// repositories are skipped.
type Repositories struct {
	Conversations ConversationRepository
	Messages      MessageRepository
	Notifications NotificationRepository
	Providers     ProviderRepository
}

// PersistenceProjection is a running bus-to-cache projection.
type PersistenceProjection struct {
	bus    bus.MessageBus
	topics []string
}

// projectionMarker travels through a projected topic behind every event
// published before it.
type projectionMarker struct {
	done chan struct{}
}

// StartPersistenceProjection mirrors confirmed records published on the bus
// into the local cache. Pending entries never reach the bus, so they are
// never persisted.
func StartPersistenceProjection(ctx context.Context, b bus.MessageBus, queue WriteQueue, repos Repositories) *PersistenceProjection {
	p := &PersistenceProjection{bus: b}

	if repos.Messages != nil {
		project(ctx, p, connectors.TopicMessageConfirmed, func(m Message) {
			if m.IsTemporary() {
				return
			}
			queue.Enqueue("upsert_message", func(writeCtx context.Context) error {
				if err := repos.Messages.Upsert(writeCtx, m); err != nil {
					return err
				}
				if repos.Conversations == nil {
					return nil
				}

				return repos.Conversations.Upsert(writeCtx, Conversation{
					ID:            m.ConversationID,
					LastMessage:   m.Content,
					LastMessageAt: m.CreatedAt,
				})
			})
		})
		project(ctx, p, connectors.TopicMessageDeleted, func(d connectors.MessageDeleted) {
			queue.Enqueue("delete_message", func(writeCtx context.Context) error {
				return repos.Messages.Delete(writeCtx, d.ID)
			})
		})
	}

	if repos.Notifications != nil {
		upsert := func(n Notification) {
			queue.Enqueue("upsert_notification", func(writeCtx context.Context) error {
				return repos.Notifications.Upsert(writeCtx, n)
			})
		}
		project(ctx, p, connectors.TopicNotificationReceived, upsert)
		project(ctx, p, connectors.TopicNotificationUpdated, upsert)
	}

	if repos.Conversations != nil {
		project(ctx, p, connectors.TopicConversationUpdated, func(c Conversation) {
			queue.Enqueue("upsert_conversation", func(writeCtx context.Context) error {
				return repos.Conversations.Upsert(writeCtx, c)
			})
		})
	}

	if repos.Providers != nil {
		project(ctx, p, connectors.TopicProvidersFetched, func(list ProviderList) {
			if len(list.Items) == 0 {
				return
			}
			queue.Enqueue("upsert_providers", func(writeCtx context.Context) error {
				return repos.Providers.UpsertMany(writeCtx, list.Items)
			})
		})
	}

	return p
}

// Drain returns once every event published before the call has been
// handed to the write queue. Flush the queue afterwards to wait for the
// writes themselves.
func (p *PersistenceProjection) Drain(ctx context.Context) error {
	if p == nil {
		return nil
	}

	markers := make([]projectionMarker, 0, len(p.topics))
	for _, topic := range p.topics {
		m := projectionMarker{done: make(chan struct{})}
		markers = append(markers, m)
		p.bus.Publish(topic, m)
	}
	for i, m := range markers {
		select {
		case <-m.done:
		case <-ctx.Done():
			return fmt.Errorf("drain %s: %w", p.topics[i], ctx.Err())
		}
	}

	return nil
}

func project[T any](ctx context.Context, p *PersistenceProjection, topic string, handle func(T)) {
	p.topics = append(p.topics, topic)
	sub := p.bus.Subscribe(topic)

	go func() {
		for {
			select {
			case <-ctx.Done():
				bus.Release(p.bus, sub, topic)

				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				if m, ok := raw.(projectionMarker); ok {
					close(m.done)

					continue
				}
				v, ok := raw.(T)
				if !ok {
					continue
				}
				handle(v)
			}
		}
	}()
}
