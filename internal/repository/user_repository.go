package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/clubsync/clubsync/internal/model"
)

// UserRepo encapsulates database operations for the users table.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "id, uuid, email, discord_id, name, created_at"

func scanUser(row *sql.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.UUID, &u.Email, &u.DiscordID, &u.Name, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return model.User{}, ErrUserNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

// GetByID loads a user by primary key.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
}

// GetByDiscordID loads a user by Discord snowflake.
func (r *UserRepo) GetByDiscordID(ctx context.Context, discordID string) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE discord_id=? LIMIT 1", discordID))
}

// GetByUUID loads a user by public identifier.
func (r *UserRepo) GetByUUID(ctx context.Context, id string) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE uuid=? LIMIT 1", id))
}

// GetByEmail loads a user by email (case-insensitive, stored lowercased).
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1",
		strings.ToLower(strings.TrimSpace(email))))
}

// GetByEmailOrDiscordID resolves a user for dual-auth flows: either
// identifier may be empty, and the first match wins.
func (r *UserRepo) GetByEmailOrDiscordID(ctx context.Context, email, discordID string) (model.User, error) {
	if email != "" {
		if u, err := r.GetByEmail(ctx, email); err == nil {
			return u, nil
		} else if err != ErrUserNotFound {
			return model.User{}, err
		}
	}
	if discordID != "" {
		return r.GetByDiscordID(ctx, discordID)
	}
	return model.User{}, ErrUserNotFound
}

// Create inserts a new user and returns its id.  A fresh UUID is assigned
// when the caller did not provide one.
func (r *UserRepo) Create(ctx context.Context, u model.User) (uint64, error) {
	if u.UUID == "" {
		u.UUID = uuid.NewString()
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (uuid, email, discord_id, name) VALUES (?,?,?,?)",
		u.UUID, u.Email, u.DiscordID, u.Name)
	if err != nil {
		if isDuplicate(err) {
			return 0, ErrUserExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	return uint64(id), err
}

// UpsertFromDiscord finds the user owning a Discord id or creates one on
// first login; the display name is refreshed on every call so renames in
// Discord propagate.
func (r *UserRepo) UpsertFromDiscord(ctx context.Context, discordID, name string) (model.User, error) {
	u, err := r.GetByDiscordID(ctx, discordID)
	if err == nil {
		if u.Name != name {
			if _, err := r.DB.ExecContext(ctx,
				"UPDATE users SET name=? WHERE id=?", name, u.ID); err != nil {
				return model.User{}, err
			}
			u.Name = name
		}
		return u, nil
	}
	if err != ErrUserNotFound {
		return model.User{}, err
	}
	id, err := r.Create(ctx, model.User{DiscordID: &discordID, Name: name})
	if err != nil {
		return model.User{}, err
	}
	return r.GetByID(ctx, id)
}

// isDuplicate reports whether err is a MySQL duplicate-key violation.
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

// isFKRestricted reports whether err is a MySQL foreign-key restriction
// (rows in a child table still reference the one being deleted).
func isFKRestricted(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1451
}
