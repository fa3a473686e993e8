package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"postvolve/models"
)

const accountColumns = `id, user_id, platform, external_id, display_name, access_token, refresh_token,
	expires_at, status, created_at, updated_at`

func (s *Store) scanAccount(row scanner) (*models.ConnectedAccount, error) {
	var a models.ConnectedAccount
	var expiresAt sql.NullTime
	if err := row.Scan(&a.ID, &a.UserID, &a.Platform, &a.ExternalID, &a.DisplayName, &a.AccessToken,
		&a.RefreshToken, &expiresAt, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.ExpiresAt = timePtr(expiresAt)

	var err error
	if a.AccessToken, err = s.open(a.AccessToken); err != nil {
		return nil, fmt.Errorf("open access token for %s: %w", a.Platform, err)
	}
	if a.RefreshToken, err = s.open(a.RefreshToken); err != nil {
		return nil, fmt.Errorf("open refresh token for %s: %w", a.Platform, err)
	}
	return &a, nil
}

func (s *Store) seal(v string) (string, error) {
	if s.sealer == nil {
		return v, nil
	}
	return s.sealer.Seal(v)
}

func (s *Store) open(v string) (string, error) {
	if s.sealer == nil {
		return v, nil
	}
	return s.sealer.Open(v)
}

func (s *Store) GetAccount(ctx context.Context, userID, platform string) (*models.ConnectedAccount, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM connected_accounts
		WHERE user_id = $1 AND platform = $2`, userID, platform)
	a, err := s.scanAccount(row)
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

func (s *Store) ListAccounts(ctx context.Context, userID string) ([]models.ConnectedAccount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM connected_accounts
		WHERE user_id = $1 ORDER BY platform`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := []models.ConnectedAccount{}
	for rows.Next() {
		a, err := s.scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (s *Store) CountAccounts(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM connected_accounts WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

// UpsertAccount stores a fresh connection, replacing any previous one for the
// same user and platform.
func (s *Store) UpsertAccount(ctx context.Context, a *models.ConnectedAccount) error {
	access, err := s.seal(a.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := s.seal(a.RefreshToken)
	if err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = models.AccountStatusConnected
	}
	return s.db.QueryRowContext(ctx, `
		INSERT INTO connected_accounts (id, user_id, platform, external_id, display_name, access_token,
			refresh_token, expires_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, platform) DO UPDATE SET
			external_id = EXCLUDED.external_id,
			display_name = EXCLUDED.display_name,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			status = EXCLUDED.status,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`, a.ID, a.UserID, a.Platform, a.ExternalID, a.DisplayName, access, refresh, nullTime(a.ExpiresAt), a.Status,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

func (s *Store) UpdateAccountTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error {
	access, err := s.seal(accessToken)
	if err != nil {
		return err
	}
	refresh, err := s.seal(refreshToken)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE connected_accounts
		SET access_token = $1, refresh_token = $2, expires_at = $3, status = 'connected', updated_at = NOW()
		WHERE id = $4
	`, access, refresh, nullTime(expiresAt), id)
	return err
}

func (s *Store) SetAccountStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE connected_accounts SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	return err
}

func (s *Store) DeleteAccount(ctx context.Context, userID, platform string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM connected_accounts WHERE user_id = $1 AND platform = $2`, userID, platform)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}
