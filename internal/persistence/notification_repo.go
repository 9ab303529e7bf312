package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/veepo/veeposync/internal/domain"
)

type NotificationRepo struct {
	db *sql.DB
}

func NewNotificationRepo(db *sql.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

// Upsert stores a notification. The read flag never goes back to unread.
func (r *NotificationRepo) Upsert(ctx context.Context, n domain.Notification) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications(id, user_id, type, message, link_to, is_read, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			message = excluded.message,
			link_to = excluded.link_to,
			is_read = MAX(excluded.is_read, notifications.is_read),
			created_at = excluded.created_at
	`, n.ID, n.UserID, n.Type, n.Message, nullableString(n.LinkTo), boolToInt(n.IsRead), toUnixMillis(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert notification: %w", err)
	}

	return nil
}

// ListRecentByUser returns up to limit notifications, newest first.
func (r *NotificationRepo) ListRecentByUser(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, type, message, link_to, is_read, created_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC, id ASC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []domain.Notification
	for rows.Next() {
		var (
			n         domain.Notification
			linkTo    sql.NullString
			isRead    int64
			createdMs int64
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Message, &linkTo, &isRead, &createdMs); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.LinkTo = linkTo.String
		n.IsRead = isRead != 0
		n.CreatedAt = fromUnixMillis(createdMs)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}

	return out, nil
}
