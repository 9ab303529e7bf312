package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/veepo/veeposync/internal/domain"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// Upsert stores a conversation. Activity fields only move forward so a
// stale snapshot row never hides a newer message.
func (r *ConversationRepo) Upsert(ctx context.Context, c domain.Conversation) error {
	participants, err := json.Marshal(c.ParticipantIDs)
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}
	if c.ParticipantIDs == nil {
		participants = []byte("[]")
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO conversations(id, participant_ids, other_participant_id, other_name, other_avatar_url, last_message, last_message_at, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			participant_ids = CASE
				WHEN excluded.participant_ids != '[]' THEN excluded.participant_ids
				ELSE conversations.participant_ids
			END,
			other_participant_id = COALESCE(excluded.other_participant_id, conversations.other_participant_id),
			other_name = CASE
				WHEN excluded.other_name != '' THEN excluded.other_name
				ELSE conversations.other_name
			END,
			other_avatar_url = COALESCE(excluded.other_avatar_url, conversations.other_avatar_url),
			last_message = CASE
				WHEN excluded.last_message_at >= conversations.last_message_at THEN COALESCE(excluded.last_message, conversations.last_message)
				ELSE conversations.last_message
			END,
			last_message_at = MAX(excluded.last_message_at, conversations.last_message_at),
			created_at = CASE
				WHEN conversations.created_at = 0 THEN excluded.created_at
				ELSE conversations.created_at
			END
	`, c.ID, string(participants), nullableString(c.OtherParticipantID), c.OtherName, nullableString(c.OtherAvatarURL),
		nullableString(c.LastMessage), toUnixMillis(c.LastMessageAt), toUnixMillis(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	return nil
}

// ListByActivity returns conversations, most recently active first.
func (r *ConversationRepo) ListByActivity(ctx context.Context) ([]domain.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, participant_ids, other_participant_id, other_name, other_avatar_url, last_message, last_message_at, created_at
		FROM conversations
		ORDER BY MAX(last_message_at, created_at) DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	out := make([]domain.Conversation, 0)
	for rows.Next() {
		var (
			c            domain.Conversation
			participants string
			otherID      sql.NullString
			avatar       sql.NullString
			lastMessage  sql.NullString
			lastMs       int64
			createdMs    int64
		)
		if err := rows.Scan(&c.ID, &participants, &otherID, &c.OtherName, &avatar, &lastMessage, &lastMs, &createdMs); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if err := json.Unmarshal([]byte(participants), &c.ParticipantIDs); err != nil {
			return nil, fmt.Errorf("decode participants of %s: %w", c.ID, err)
		}
		if len(c.ParticipantIDs) == 0 {
			c.ParticipantIDs = nil
		}
		c.OtherParticipantID = otherID.String
		c.OtherAvatarURL = avatar.String
		c.LastMessage = lastMessage.String
		c.LastMessageAt = fromUnixMillis(lastMs)
		c.CreatedAt = fromUnixMillis(createdMs)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	return out, nil
}
