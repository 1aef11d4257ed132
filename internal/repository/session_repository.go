package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/clubsync/clubsync/internal/model"
)

// SessionRepo persists legacy server-side sessions for browser flows.
type SessionRepo struct{ DB *sql.DB }

func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{DB: db} }

// Create inserts a session row.
func (r *SessionRepo) Create(ctx context.Context, s model.Session) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO sessions (id, data, expires_at) VALUES (?,?,?)",
		s.ID, s.Data, s.ExpiresAt.UTC())
	return err
}

// Get loads a non-expired session by id.
func (r *SessionRepo) Get(ctx context.Context, id string, now time.Time) (model.Session, error) {
	var s model.Session
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, data, expires_at, created_at FROM sessions WHERE id=? AND expires_at > ? LIMIT 1",
		id, now.UTC()).Scan(&s.ID, &s.Data, &s.ExpiresAt, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return model.Session{}, ErrSessionNotFound
	}
	return s, err
}

// Delete removes a session (logout).
func (r *SessionRepo) Delete(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, "DELETE FROM sessions WHERE id=?", id)
	return err
}

// DeleteExpired prunes sessions whose expiry has passed.
func (r *SessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM sessions WHERE expires_at < ?", now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
