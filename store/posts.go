package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"postvolve/models"
)

const postColumns = `id, user_id, title, body, category, image_url, source, status,
	scheduled_at, published_at, attempts, last_error, created_at, updated_at`

func scanPost(row scanner) (models.Post, error) {
	var p models.Post
	var scheduledAt, publishedAt sql.NullTime
	err := row.Scan(&p.ID, &p.UserID, &p.Title, &p.Body, &p.Category, &p.ImageURL, &p.Source, &p.Status,
		&scheduledAt, &publishedAt, &p.Attempts, &p.LastError, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	p.ScheduledAt = timePtr(scheduledAt)
	p.PublishedAt = timePtr(publishedAt)
	return p, nil
}

func collectPosts(rows *sql.Rows) ([]models.Post, error) {
	defer rows.Close()
	var posts []models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// ClaimDuePosts moves up to limit due posts from scheduled to publishing and
// returns them. SKIP LOCKED keeps concurrent runs from claiming the same row.
func (s *Store) ClaimDuePosts(ctx context.Context, now time.Time, limit int) ([]models.Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE posts SET status = 'publishing', attempts = attempts + 1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM posts
			WHERE status = 'scheduled' AND scheduled_at <= $1
			ORDER BY scheduled_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+postColumns, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due posts: %w", err)
	}
	return collectPosts(rows)
}

// ClaimPost moves one of the user's posts into publishing for an immediate
// publish. Posts already publishing or fully posted are not claimable.
func (s *Store) ClaimPost(ctx context.Context, userID, postID string) (*models.Post, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE posts SET status = 'publishing', attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status IN ('draft', 'scheduled', 'failed', 'partial')
		RETURNING `+postColumns, postID, userID)
	p, err := scanPost(row)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// RecoverStuckPosts puts posts that sat in publishing since before cutoff back
// to scheduled.
func (s *Store) RecoverStuckPosts(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE posts SET status = 'scheduled', scheduled_at = COALESCE(scheduled_at, NOW()), updated_at = NOW()
		WHERE status = 'publishing' AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// TouchPost bumps updated_at on a post still in publishing.
func (s *Store) TouchPost(ctx context.Context, postID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE posts SET updated_at = NOW() WHERE id = $1 AND status = 'publishing'
	`, postID)
	return err
}

func (s *Store) ListPlatforms(ctx context.Context, postID string) ([]models.PostPlatform, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, post_id, platform, content, status, external_id, external_url, error, posted_at
		FROM post_platforms WHERE post_id = $1 ORDER BY platform
	`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PostPlatform
	for rows.Next() {
		var pp models.PostPlatform
		var postedAt sql.NullTime
		if err := rows.Scan(&pp.ID, &pp.PostID, &pp.Platform, &pp.Content, &pp.Status,
			&pp.ExternalID, &pp.ExternalURL, &pp.Error, &postedAt); err != nil {
			return nil, err
		}
		pp.PostedAt = timePtr(postedAt)
		out = append(out, pp)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePlatformResult(ctx context.Context, pp *models.PostPlatform) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE post_platforms
		SET status = $1, external_id = $2, external_url = $3, error = $4, posted_at = $5, updated_at = NOW()
		WHERE id = $6
	`, pp.Status, pp.ExternalID, pp.ExternalURL, pp.Error, nullTime(pp.PostedAt), pp.ID)
	return err
}

// FinishPost writes the reconciled status of a publish attempt.
func (s *Store) FinishPost(ctx context.Context, postID, status, lastError string, publishedAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE posts SET status = $1, last_error = $2, published_at = COALESCE($3, published_at), updated_at = NOW()
		WHERE id = $4
	`, status, lastError, nullTime(publishedAt), postID)
	return err
}

func (s *Store) InsertPublishLog(ctx context.Context, l models.PublishLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO publish_logs (post_id, platform, status, message) VALUES ($1, $2, $3, $4)
	`, l.PostID, l.Platform, l.Status, l.Message)
	return err
}

func (s *Store) ListPublishLogs(ctx context.Context, postID string, limit int) ([]models.PublishLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, post_id, platform, status, message, created_at
		FROM publish_logs WHERE post_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, postID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []models.PublishLog{}
	for rows.Next() {
		var l models.PublishLog
		if err := rows.Scan(&l.ID, &l.PostID, &l.Platform, &l.Status, &l.Message, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// CreatePost inserts the post and its platform variants in one transaction.
func (s *Store) CreatePost(ctx context.Context, p *models.Post) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO posts (id, user_id, title, body, category, image_url, source, status, scheduled_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING created_at, updated_at
		`, p.ID, p.UserID, p.Title, p.Body, p.Category, p.ImageURL, p.Source, p.Status, nullTime(p.ScheduledAt),
		).Scan(&p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert post: %w", err)
		}
		return insertPlatforms(ctx, tx, p)
	})
}

func insertPlatforms(ctx context.Context, tx *sql.Tx, p *models.Post) error {
	for i := range p.Platforms {
		pp := &p.Platforms[i]
		if pp.ID == "" {
			pp.ID = uuid.NewString()
		}
		pp.PostID = p.ID
		if pp.Status == "" {
			pp.Status = models.PlatformStatusPending
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO post_platforms (id, post_id, platform, content, status) VALUES ($1, $2, $3, $4, $5)
		`, pp.ID, pp.PostID, pp.Platform, pp.Content, pp.Status); err != nil {
			return fmt.Errorf("insert platform %s: %w", pp.Platform, err)
		}
	}
	return nil
}

// UpdatePost rewrites content, schedule and platform set. Platform rows are
// replaced, which resets their publish status.
func (s *Store) UpdatePost(ctx context.Context, p *models.Post) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE posts SET title = $1, body = $2, category = $3, image_url = $4, status = $5,
				scheduled_at = $6, last_error = '', updated_at = NOW()
			WHERE id = $7 AND user_id = $8 AND status IN ('draft', 'scheduled', 'failed')
			RETURNING updated_at
		`, p.Title, p.Body, p.Category, p.ImageURL, p.Status, nullTime(p.ScheduledAt), p.ID, p.UserID,
		).Scan(&p.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrInvalidState
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM post_platforms WHERE post_id = $1`, p.ID); err != nil {
			return err
		}
		return insertPlatforms(ctx, tx, p)
	})
}

// SetPostSchedule changes status and scheduled time without touching content.
func (s *Store) SetPostSchedule(ctx context.Context, userID, postID, status string, at *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE posts SET status = $1, scheduled_at = $2, attempts = 0, updated_at = NOW()
		WHERE id = $3 AND user_id = $4 AND status IN ('draft', 'scheduled', 'failed')
	`, status, nullTime(at), postID, userID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Store) GetPost(ctx context.Context, userID, postID string) (*models.Post, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1 AND user_id = $2`, postID, userID)
	p, err := scanPost(row)
	if err != nil {
		return nil, notFound(err)
	}
	if p.Platforms, err = s.ListPlatforms(ctx, p.ID); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPosts pages backwards by (created_at, id). A zero cursor starts at the newest.
func (s *Store) ListPosts(ctx context.Context, userID, status string, before models.PostCursor, limit int) ([]models.Post, error) {
	if before.CreatedAt.IsZero() {
		before = models.PostCursor{CreatedAt: time.Now().Add(time.Hour)}
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE user_id = $1 AND ($2 = '' OR status = $2) AND (created_at, id) < ($3, $4)
		ORDER BY created_at DESC, id DESC LIMIT $5
	`, userID, status, before.CreatedAt, before.ID, limit)
	if err != nil {
		return nil, err
	}
	posts, err := collectPosts(rows)
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return []models.Post{}, nil
	}

	ids := make([]string, len(posts))
	index := make(map[string]int, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
		index[p.ID] = i
	}
	prow, err := s.db.QueryContext(ctx, `
		SELECT id, post_id, platform, content, status, external_id, external_url, error, posted_at
		FROM post_platforms WHERE post_id = ANY($1) ORDER BY platform
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer prow.Close()
	for prow.Next() {
		var pp models.PostPlatform
		var postedAt sql.NullTime
		if err := prow.Scan(&pp.ID, &pp.PostID, &pp.Platform, &pp.Content, &pp.Status,
			&pp.ExternalID, &pp.ExternalURL, &pp.Error, &postedAt); err != nil {
			return nil, err
		}
		pp.PostedAt = timePtr(postedAt)
		i := index[pp.PostID]
		posts[i].Platforms = append(posts[i].Platforms, pp)
	}
	return posts, prow.Err()
}

func (s *Store) DeletePost(ctx context.Context, userID, postID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM posts WHERE id = $1 AND user_id = $2 AND status <> 'publishing'
	`, postID, userID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// CountGeneratedSince counts AI posts the user created at or after since.
func (s *Store) CountGeneratedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM posts WHERE user_id = $1 AND source = 'ai' AND created_at >= $2
	`, userID, since).Scan(&n)
	return n, err
}
