package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/veepo/veeposync/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Upsert stores a confirmed message. Records with a client-side temporary
// id are refused.
func (r *MessageRepo) Upsert(ctx context.Context, m domain.Message) error {
	if m.IsTemporary() {
		return fmt.Errorf("upsert message: %s is not confirmed", m.ID)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages(id, conversation_id, sender_id, content, created_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			created_at = excluded.created_at
	`, m.ID, m.ConversationID, m.SenderID, m.Content, toUnixMillis(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}

	return nil
}

func (r *MessageRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	return nil
}

// ListRecentByConversation returns up to limit of the latest messages,
// oldest first.
func (r *MessageRepo) ListRecentByConversation(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages by conversation: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []domain.Message
	for rows.Next() {
		var (
			m         domain.Message
			createdMs int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &createdMs); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = fromUnixMillis(createdMs)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages by conversation: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	return out, nil
}
