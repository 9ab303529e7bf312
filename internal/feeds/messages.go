package feeds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/veepo/veeposync/internal/backend"
	"github.com/veepo/veeposync/internal/connectors"
	"github.com/veepo/veeposync/internal/domain"
	"github.com/veepo/veeposync/internal/realtime"
)

const opSendMessage = "send message"

var ErrNoConversation = errors.New("no conversation is open")

// MessageAPI is the backend surface the message feed needs.
type MessageAPI interface {
	ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
	InsertMessage(ctx context.Context, req backend.InsertMessageRequest) (domain.Message, error)
}

// SendResult resolves one Send call. Message is the confirmed record, or
// the rolled back pending one when Err is set.
type SendResult struct {
	Message domain.Message
	Err     error
}

// Messages is the live message list of the selected conversation.
type Messages struct {
	opts   Options
	sub    Subscriber
	api    MessageAPI
	cache  domain.MessageRepository
	userID string

	coll   *domain.SyncedCollection[domain.Message]
	ledger *domain.Ledger[domain.Message]

	openMu sync.Mutex

	// mu guards the active scope. Live events and snapshots are applied
	// while holding it so nothing lands after a scope switch.
	mu     sync.Mutex
	topic  domain.Topic
	active *realtime.Subscription
	done   <-chan struct{}
	err    error
}

func NewMessages(userID string, sub Subscriber, api MessageAPI, cache domain.MessageRepository, opts Options) *Messages {
	opts = opts.withDefaults("feeds.messages")
	if opts.SnapshotLimit <= 0 {
		opts.SnapshotLimit = defaultMessageLimit
	}
	coll := domain.NewMessageCollection(opts.EchoWindow, opts.Now)

	return &Messages{
		opts:   opts,
		sub:    sub,
		api:    api,
		cache:  cache,
		userID: strings.TrimSpace(userID),
		coll:   coll,
		ledger: domain.NewLedger[domain.Message](coll),
	}
}

// Open switches the feed to conversationID. The previous conversation's
// subscription is closed first and its late events are discarded. Open
// returns once the subscription is live and the snapshot is merged.
func (f *Messages) Open(ctx context.Context, conversationID string) error {
	topic := domain.MessagesTopic(conversationID)
	if err := topic.Validate(); err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}

	f.openMu.Lock()
	defer f.openMu.Unlock()

	f.closeScope()

	f.mu.Lock()
	f.topic = topic
	f.err = nil
	f.mu.Unlock()

	f.warmStart(ctx, topic)

	s, err := f.sub.Subscribe(topic)
	if err != nil {
		f.setErr(topic, err)

		return fmt.Errorf("open conversation %s: %w", topic.ScopeID, err)
	}
	var resync func()
	if f.opts.ResyncOnReconnect {
		resync = func() { go f.resync(topic) }
	}
	done := follow(s, func(ev realtime.Event) { f.apply(topic, ev) }, resync)

	f.mu.Lock()
	f.active = s
	f.done = done
	f.mu.Unlock()
	go f.watchEnd(topic, s, done)

	if err := waitReady(ctx, s, done); err != nil {
		f.setErr(topic, err)

		return fmt.Errorf("open conversation %s: %w", topic.ScopeID, err)
	}
	if err := f.fetchSnapshot(ctx, topic); err != nil {
		f.setErr(topic, err)

		return fmt.Errorf("open conversation %s: %w", topic.ScopeID, err)
	}
	f.opts.Logger.Info("conversation opened", "topic", topic.String(), "messages", f.coll.Len())

	return nil
}

// Close ends the current conversation scope.
func (f *Messages) Close() {
	f.openMu.Lock()
	defer f.openMu.Unlock()
	f.closeScope()
}

// Send appends a pending message right away and resolves it once the
// insert returns. The channel yields exactly one result.
func (f *Messages) Send(ctx context.Context, content string) <-chan SendResult {
	resCh := make(chan SendResult, 1)
	content = strings.TrimSpace(content)

	// The scope check and the pending insert happen under one lock so a
	// concurrent Open cannot reset the list in between.
	f.mu.Lock()
	topic := f.topic
	switch {
	case topic.IsZero():
		f.mu.Unlock()
		resCh <- SendResult{Err: &domain.PreconditionError{Reason: ErrNoConversation.Error(), Err: ErrNoConversation}}
		close(resCh)

		return resCh
	case content == "":
		f.mu.Unlock()
		resCh <- SendResult{Err: &domain.PreconditionError{Reason: "message content is empty"}}
		close(resCh)

		return resCh
	}

	tempID := domain.TempIDPrefix + uuid.NewString()
	local := domain.Message{
		ID:             tempID,
		ConversationID: topic.ScopeID,
		SenderID:       f.userID,
		Content:        content,
		CreatedAt:      f.opts.Now().UTC(),
	}
	h := f.ledger.Apply(opSendMessage, tempID, local)
	f.mu.Unlock()
	f.opts.Logger.Debug("message applied", "mutation", h.ID.String(), "temp_id", tempID, "topic", topic.String())

	go func() {
		defer close(resCh)
		saved, err := f.api.InsertMessage(ctx, backend.InsertMessageRequest{
			ConversationID: local.ConversationID,
			SenderID:       local.SenderID,
			Content:        local.Content,
		})
		if err != nil {
			rejected := f.ledger.Reject(h, err)
			f.opts.Logger.Warn("message rejected", "mutation", h.ID.String(), "topic", topic.String(), "error", err)
			resCh <- SendResult{Message: local, Err: rejected}

			return
		}
		if !f.ledger.Confirm(h, saved) {
			f.opts.Logger.Debug("confirmed message no longer listed", "mutation", h.ID.String(), "id", saved.ID)
		}
		f.opts.publish(connectors.TopicMessageConfirmed, saved)
		resCh <- SendResult{Message: saved}
	}()

	return resCh
}

// ConversationID is the open scope, empty when closed.
func (f *Messages) ConversationID() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.topic.ScopeID
}

func (f *Messages) Items() []domain.Message {
	return f.coll.Items()
}

func (f *Messages) Entries() []domain.Entry[domain.Message] {
	return f.coll.Entries()
}

// Changes signals after every change of the list. Signals are coalesced.
func (f *Messages) Changes() <-chan struct{} {
	return f.coll.Changes()
}

// Err reports why the current scope stopped receiving live events.
func (f *Messages) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.err
}

func (f *Messages) closeScope() {
	f.mu.Lock()
	s := f.active
	done := f.done
	f.topic = domain.Topic{}
	f.active = nil
	f.done = nil
	f.coll.Reset()
	f.mu.Unlock()

	if s == nil {
		return
	}
	s.Close()
	<-done
}

func (f *Messages) apply(topic domain.Topic, ev realtime.Event) {
	f.mu.Lock()
	if f.topic != topic || ev.Topic != topic {
		f.mu.Unlock()
		f.opts.Logger.Debug("stale message event dropped", "topic", ev.Topic.String(), "error", domain.ErrStaleEvent)

		return
	}

	var confirmed *domain.Message
	var deleted *connectors.MessageDeleted
	switch ev.Change {
	case realtime.ChangeInsert, realtime.ChangeUpdate:
		m, err := decodeRecord[domain.Message](ev)
		if err != nil {
			f.mu.Unlock()
			f.opts.Logger.Warn("invalid message event dropped", "topic", topic.String(), "error", err)

			return
		}
		res := f.coll.Upsert(m)
		f.opts.Logger.Debug("message event applied", "id", m.ID, "result", res)
		confirmed = &m
	case realtime.ChangeDelete:
		id, err := deletedID(ev)
		if err != nil {
			f.mu.Unlock()
			f.opts.Logger.Warn("invalid message delete dropped", "topic", topic.String(), "error", err)

			return
		}
		f.coll.Remove(id)
		deleted = &connectors.MessageDeleted{ID: id, ConversationID: topic.ScopeID}
	}
	f.mu.Unlock()

	if confirmed != nil {
		f.opts.publish(connectors.TopicMessageConfirmed, *confirmed)
	}
	if deleted != nil {
		f.opts.publish(connectors.TopicMessageDeleted, *deleted)
	}
}

func (f *Messages) warmStart(ctx context.Context, topic domain.Topic) {
	if f.cache == nil {
		return
	}
	cached, err := f.cache.ListRecentByConversation(ctx, topic.ScopeID, f.opts.SnapshotLimit)
	if err != nil {
		f.opts.Logger.Warn("load cached messages", "topic", topic.String(), "error", err)

		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.topic == topic {
		f.coll.Load(cached)
	}
}

func (f *Messages) fetchSnapshot(ctx context.Context, topic domain.Topic) error {
	items, err := f.api.ListMessages(ctx, topic.ScopeID, f.opts.SnapshotLimit)
	if err != nil {
		return fmt.Errorf("fetch messages: %w", err)
	}

	f.mu.Lock()
	if f.topic != topic {
		f.mu.Unlock()

		return nil
	}
	f.coll.Load(items)
	f.mu.Unlock()

	for _, m := range items {
		f.opts.publish(connectors.TopicMessageConfirmed, m)
	}

	return nil
}

func (f *Messages) resync(topic domain.Topic) {
	ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
	defer cancel()
	if err := f.fetchSnapshot(ctx, topic); err != nil {
		f.opts.Logger.Warn("resync messages failed", "topic", topic.String(), "error", err)

		return
	}
	f.opts.Logger.Debug("messages resynced", "topic", topic.String())
}

func (f *Messages) watchEnd(topic domain.Topic, s *realtime.Subscription, done <-chan struct{}) {
	<-done
	if err := s.Err(); err != nil {
		f.setErr(topic, err)
		f.opts.Logger.Error("message subscription ended", "topic", topic.String(), "error", err)
	}
}

func (f *Messages) setErr(topic domain.Topic, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.topic == topic {
		f.err = err
	}
}
