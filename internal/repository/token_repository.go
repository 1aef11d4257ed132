package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/clubsync/clubsync/internal/model"
)

// TokenRepo persists refresh tokens (single 'token_hash' column; the raw
// token never reaches the database).
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// StoreRefresh inserts a refresh token hash row.
func (r *TokenRepo) StoreRefresh(ctx context.Context, username string, discordID *string, tokenHash string, exp time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO refresh_tokens (token_hash, username, discord_id, expires_at) VALUES (?,?,?,?)",
		tokenHash, username, discordID, exp.UTC())
	return err
}

// LookupRefresh returns the stored row for a hash, or sql.ErrNoRows.
func (r *TokenRepo) LookupRefresh(ctx context.Context, tokenHash string) (model.RefreshToken, error) {
	var t model.RefreshToken
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, token_hash, username, discord_id, expires_at, created_at FROM refresh_tokens WHERE token_hash=? LIMIT 1",
		tokenHash).Scan(&t.ID, &t.TokenHash, &t.Username, &t.DiscordID, &t.ExpiresAt, &t.CreatedAt)
	return t, err
}

// DeleteRefresh removes a token row and reports whether one existed.
func (r *TokenRepo) DeleteRefresh(ctx context.Context, tokenHash string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE token_hash=?", tokenHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteExpiredRefresh bulk-deletes rows whose expiry is strictly before
// now.  Idempotent; safe to run concurrently with reads.
func (r *TokenRepo) DeleteExpiredRefresh(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE expires_at < ?", now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Revoke records an access-token hash on the shared denylist.  expires_at
// bounds how long the row has to live: once the token itself would have
// expired the entry is dead weight and gets swept.
func (r *TokenRepo) Revoke(ctx context.Context, tokenHash string, exp time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT IGNORE INTO revoked_tokens (token_hash, expires_at) VALUES (?,?)",
		tokenHash, exp.UTC())
	return err
}

// IsRevoked reports whether an access-token hash is on the denylist.
func (r *TokenRepo) IsRevoked(ctx context.Context, tokenHash string) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx,
		"SELECT 1 FROM revoked_tokens WHERE token_hash=? LIMIT 1", tokenHash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteExpiredRevocations prunes denylist rows for tokens that have
// expired on their own.
func (r *TokenRepo) DeleteExpiredRevocations(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM revoked_tokens WHERE expires_at < ?", now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
