package domain

import "context"

type ConversationRepository interface {
	Upsert(ctx context.Context, c Conversation) error
	ListByActivity(ctx context.Context) ([]Conversation, error)
}

type MessageRepository interface {
	Upsert(ctx context.Context, m Message) error
	Delete(ctx context.Context, id string) error
	ListRecentByConversation(ctx context.Context, conversationID string, limit int) ([]Message, error)
}

type NotificationRepository interface {
	Upsert(ctx context.Context, n Notification) error
	ListRecentByUser(ctx context.Context, userID string, limit int) ([]Notification, error)
}

type ProviderRepository interface {
	UpsertMany(ctx context.Context, providers []Provider) error
	ListAll(ctx context.Context) ([]Provider, error)
}
