package store

import (
	"context"
)

type PlatformStats struct {
	Platform    string  `json:"platform"`
	Posted      int     `json:"posted"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

type Overview struct {
	ByStatus  map[string]int  `json:"by_status"`
	Platforms []PlatformStats `json:"platforms"`
	Generated int             `json:"generated"`
}

func (s *Store) StatsOverview(ctx context.Context, userID string) (*Overview, error) {
	out := &Overview{ByStatus: map[string]int{}, Platforms: []PlatformStats{}}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM posts WHERE user_id = $1 GROUP BY status`, userID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, err
		}
		out.ByStatus[status] = n
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT pp.platform,
			COUNT(*) FILTER (WHERE pp.status = 'posted'),
			COUNT(*) FILTER (WHERE pp.status = 'failed')
		FROM post_platforms pp JOIN posts p ON p.id = pp.post_id
		WHERE p.user_id = $1
		GROUP BY pp.platform ORDER BY pp.platform
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ps PlatformStats
		if err := rows.Scan(&ps.Platform, &ps.Posted, &ps.Failed); err != nil {
			return nil, err
		}
		if total := ps.Posted + ps.Failed; total > 0 {
			ps.SuccessRate = float64(ps.Posted) / float64(total) * 100
		}
		out.Platforms = append(out.Platforms, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts WHERE user_id = $1 AND source = 'ai'`, userID).
		Scan(&out.Generated)
	return out, err
}
