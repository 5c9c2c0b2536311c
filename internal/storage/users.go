// internal/storage/users.go
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"flipcut/internal/models"
)

func (s *Storage) CreateUser(ctx context.Context, u *models.User) error {
	const op = "storage.CreateUser"

	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (user_id, email, name, picture, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		u.UserID, u.Email, u.Name, u.Picture, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	return nil
}

func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.GetUserByEmail"

	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, email, name, picture, created_at FROM users WHERE email = $1`,
		email).Scan(&u.UserID, &u.Email, &u.Name, &u.Picture, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return &u, nil
}

func (s *Storage) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	const op = "storage.GetUserByID"

	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, email, name, picture, created_at FROM users WHERE user_id = $1`,
		userID).Scan(&u.UserID, &u.Email, &u.Name, &u.Picture, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return &u, nil
}

// ReplaceSession drops any previous sessions for the user before
// inserting the new one, so a user holds at most one live session.
func (s *Storage) ReplaceSession(ctx context.Context, sess *models.UserSession) error {
	const op = "storage.ReplaceSession"

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM user_sessions WHERE user_id = $1`, sess.UserID); err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO user_sessions (session_token, user_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)`,
		sess.SessionToken, sess.UserID, sess.ExpiresAt, sess.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	return nil
}

func (s *Storage) GetSession(ctx context.Context, token string) (*models.UserSession, error) {
	const op = "storage.GetSession"

	var sess models.UserSession
	err := s.pool.QueryRow(ctx,
		`SELECT session_token, user_id, expires_at, created_at FROM user_sessions WHERE session_token = $1`,
		token).Scan(&sess.SessionToken, &sess.UserID, &sess.ExpiresAt, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return &sess, nil
}

func (s *Storage) DeleteSession(ctx context.Context, token string) error {
	const op = "storage.DeleteSession"

	_, err := s.pool.Exec(ctx, `DELETE FROM user_sessions WHERE session_token = $1`, token)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	return nil
}
