package feeds

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/veepo/veeposync/internal/backend"
	"github.com/veepo/veeposync/internal/bus"
	"github.com/veepo/veeposync/internal/connectors"
	"github.com/veepo/veeposync/internal/domain"
)

const opStartConversation = "start conversation"

type ConversationAPI interface {
	GetMyConversations(ctx context.Context) ([]domain.Conversation, error)
	CreateConversationAndSendMessage(ctx context.Context, req backend.CreateConversationRequest) error
}

// Conversations is the session user's conversation list, most recently
// active first. It has no realtime topic of its own: it is refreshed on
// demand and touched by confirmed messages.
type Conversations struct {
	opts   Options
	api    ConversationAPI
	cache  domain.ConversationRepository
	userID string
	coll   *domain.SyncedCollection[domain.Conversation]

	warmOnce sync.Once
}

func NewConversations(userID string, api ConversationAPI, cache domain.ConversationRepository, opts Options) *Conversations {
	return &Conversations{
		opts:   opts.withDefaults("feeds.conversations"),
		api:    api,
		cache:  cache,
		userID: strings.TrimSpace(userID),
		coll:   domain.NewConversationCollection(),
	}
}

// Refresh merges the authoritative conversation list.
func (f *Conversations) Refresh(ctx context.Context) error {
	f.warmOnce.Do(func() { f.warmStart(ctx) })

	items, err := f.api.GetMyConversations(ctx)
	if err != nil {
		return fmt.Errorf("refresh conversations: %w", err)
	}
	f.coll.Load(items)
	for _, c := range items {
		f.opts.publish(connectors.TopicConversationUpdated, c)
	}
	f.opts.Logger.Debug("conversations refreshed", "count", len(items))

	return nil
}

// Start opens a conversation with receiverID by sending its first message,
// then refreshes the list. Invalid input fails before any call is made.
func (f *Conversations) Start(ctx context.Context, receiverID, content string) error {
	req := backend.CreateConversationRequest{CallerID: f.userID, ReceiverID: receiverID, Content: content}
	if err := req.Validate(); err != nil {
		return &domain.PreconditionError{Reason: err.Error(), Err: err}
	}
	if err := f.api.CreateConversationAndSendMessage(ctx, req); err != nil {
		f.opts.Logger.Warn("start conversation rejected", "receiver", req.ReceiverID, "error", err)

		return &domain.RejectedError{Op: opStartConversation, Reason: err}
	}

	return f.Refresh(ctx)
}

// Touch records a confirmed message as the latest activity of its
// conversation. Older messages and unknown conversations are ignored.
func (f *Conversations) Touch(m domain.Message) bool {
	if m.IsTemporary() {
		return false
	}
	entry, ok := f.coll.Get(m.ConversationID)
	if !ok {
		return false
	}
	c := entry.Value
	if !m.CreatedAt.After(c.LastMessageAt) {
		return false
	}
	c.LastMessage = m.Content
	c.LastMessageAt = m.CreatedAt
	f.coll.Upsert(c)

	return true
}

// Watch touches conversations with every confirmed message published on
// the bus until ctx is done.
func (f *Conversations) Watch(ctx context.Context) {
	if f.opts.Bus == nil {
		return
	}
	sub := f.opts.Bus.Subscribe(connectors.TopicMessageConfirmed)

	go func() {
		for {
			select {
			case <-ctx.Done():
				bus.Release(f.opts.Bus, sub, connectors.TopicMessageConfirmed)

				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				if m, ok := raw.(domain.Message); ok {
					f.Touch(m)
				}
			}
		}
	}()
}

func (f *Conversations) Items() []domain.Conversation {
	return f.coll.Items()
}

// Changes signals after every change of the list. Signals are coalesced.
func (f *Conversations) Changes() <-chan struct{} {
	return f.coll.Changes()
}

func (f *Conversations) warmStart(ctx context.Context) {
	if f.cache == nil {
		return
	}
	cached, err := f.cache.ListByActivity(ctx)
	if err != nil {
		f.opts.Logger.Warn("load cached conversations", "error", err)

		return
	}
	f.coll.Load(cached)
}
