package store

import (
	"context"

	"github.com/google/uuid"

	"postvolve/models"
)

func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return s.db.QueryRowContext(ctx, `
		INSERT INTO notifications (id, user_id, post_id, kind, message) VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, n.ID, n.UserID, nullString(n.PostID), n.Kind, n.Message).Scan(&n.CreatedAt)
}

func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(post_id::text, ''), kind, message, read, created_at
		FROM notifications
		WHERE user_id = $1 AND (NOT $2 OR NOT read)
		ORDER BY created_at DESC LIMIT $3
	`, userID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.PostID, &n.Kind, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationsRead marks one notification, or all of them when id is empty.
func (s *Store) MarkNotificationsRead(ctx context.Context, userID, id string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read = TRUE WHERE user_id = $1 AND ($2 = '' OR id::text = $2) AND NOT read
	`, userID, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
