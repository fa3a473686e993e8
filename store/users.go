package store

import (
	"context"
	"database/sql"

	"postvolve/models"
)

const SystemEmail = "system@postvolve.internal"

func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error) {
	u := models.User{Email: email, PasswordHash: passwordHash}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash) VALUES ($1, $2) RETURNING id, created_at
	`, email, passwordHash).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, models.ErrConflict
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	var hash sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT id, email, password_hash, created_at FROM users WHERE email = $1`, email).
		Scan(&u.ID, &u.Email, &hash, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	u.PasswordHash = hash.String
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx, `SELECT id, email, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// EnsureUser creates a users row for an externally authenticated identity
// (Supabase) the first time it is seen.
func (s *Store) EnsureUser(ctx context.Context, id, email string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email) VALUES ($1, $2) ON CONFLICT DO NOTHING
	`, id, email)
	return err
}
