package domain

import (
	"strings"
	"time"
)

// NewMessageCollection orders messages oldest first and matches the echo of
// a locally sent message by conversation, sender and body.
func NewMessageCollection(echoWindow time.Duration, now func() time.Time) *SyncedCollection[Message] {
	return NewSyncedCollection(CollectionOptions[Message]{
		Key: func(m Message) string { return m.ID },
		Before: func(a, b Message) bool {
			return a.CreatedAt.Before(b.CreatedAt)
		},
		Correlate:  IsMessageEcho,
		EchoWindow: echoWindow,
		Now:        now,
	})
}

// NewNotificationCollection orders notifications newest first.
func NewNotificationCollection() *SyncedCollection[Notification] {
	return NewSyncedCollection(CollectionOptions[Notification]{
		Key: func(n Notification) string { return n.ID },
		Before: func(a, b Notification) bool {
			return a.CreatedAt.After(b.CreatedAt)
		},
	})
}

// NewConversationCollection orders conversations by latest activity.
func NewConversationCollection() *SyncedCollection[Conversation] {
	return NewSyncedCollection(CollectionOptions[Conversation]{
		Key: func(c Conversation) string { return c.ID },
		Before: func(a, b Conversation) bool {
			return a.ActivityAt().After(b.ActivityAt())
		},
	})
}

// IsMessageEcho reports whether remote is the server copy of local.
func IsMessageEcho(local, remote Message) bool {
	if local.ID == remote.ID {
		return true
	}

	return local.ConversationID == remote.ConversationID &&
		local.SenderID == remote.SenderID &&
		strings.TrimSpace(local.Content) == strings.TrimSpace(remote.Content)
}
