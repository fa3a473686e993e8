package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"postvolve/models"
)

const scheduleColumns = `id, user_id, category, tone, platforms, posting_time, timezone, weekdays, lane,
	auto_publish, enabled, last_generated_on, created_at`

func scanSchedule(row scanner) (models.GenerationSchedule, error) {
	var g models.GenerationSchedule
	var weekdays []int64
	var lastOn sql.NullTime
	err := row.Scan(&g.ID, &g.UserID, &g.Category, &g.Tone, pq.Array(&g.Platforms), &g.PostingTime, &g.Timezone,
		pq.Array(&weekdays), &g.Lane, &g.AutoPublish, &g.Enabled, &lastOn, &g.CreatedAt)
	if err != nil {
		return g, err
	}
	g.Weekdays = make([]int, len(weekdays))
	for i, d := range weekdays {
		g.Weekdays[i] = int(d)
	}
	g.LastGeneratedOn = timePtr(lastOn)
	return g, nil
}

func collectSchedules(rows *sql.Rows) ([]models.GenerationSchedule, error) {
	defer rows.Close()
	out := []models.GenerationSchedule{}
	for rows.Next() {
		g, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func weekdayArray(days []int) any {
	out := make([]int64, len(days))
	for i, d := range days {
		out[i] = int64(d)
	}
	return pq.Array(out)
}

// ListAutoSchedules returns every enabled schedule in the auto lane.
func (s *Store) ListAutoSchedules(ctx context.Context) ([]models.GenerationSchedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM generation_schedules
		WHERE enabled AND lane = 'auto' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

func (s *Store) ListSchedules(ctx context.Context, userID string) ([]models.GenerationSchedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM generation_schedules
		WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

func (s *Store) GetSchedule(ctx context.Context, userID, id string) (*models.GenerationSchedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM generation_schedules
		WHERE id = $1 AND user_id = $2`, id, userID)
	g, err := scanSchedule(row)
	if err != nil {
		return nil, notFound(err)
	}
	return &g, nil
}

func (s *Store) CreateSchedule(ctx context.Context, g *models.GenerationSchedule) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return s.db.QueryRowContext(ctx, `
		INSERT INTO generation_schedules (id, user_id, category, tone, platforms, posting_time, timezone,
			weekdays, lane, auto_publish, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`, g.ID, g.UserID, g.Category, g.Tone, pq.Array(g.Platforms), g.PostingTime, g.Timezone,
		weekdayArray(g.Weekdays), g.Lane, g.AutoPublish, g.Enabled,
	).Scan(&g.CreatedAt)
}

func (s *Store) UpdateSchedule(ctx context.Context, g *models.GenerationSchedule) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE generation_schedules SET category = $1, tone = $2, platforms = $3, posting_time = $4,
			timezone = $5, weekdays = $6, lane = $7, auto_publish = $8, enabled = $9
		WHERE id = $10 AND user_id = $11
	`, g.Category, g.Tone, pq.Array(g.Platforms), g.PostingTime, g.Timezone, weekdayArray(g.Weekdays),
		g.Lane, g.AutoPublish, g.Enabled, g.ID, g.UserID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSchedule(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM generation_schedules WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// MarkGenerated stamps the local calendar date a schedule last produced a post.
func (s *Store) MarkGenerated(ctx context.Context, id string, localDate time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE generation_schedules SET last_generated_on = $1 WHERE id = $2`,
		localDate.Format("2006-01-02"), id)
	return err
}
