package repository

import (
	"context"
	"database/sql"

	"github.com/clubsync/clubsync/internal/model"
)

// MembershipRepo persists the registration ledger joining users to
// organizations.  Authorization does not read this table; it exists for
// storefront and points bookkeeping.
type MembershipRepo struct{ DB *sql.DB }

func NewMembershipRepo(db *sql.DB) *MembershipRepo { return &MembershipRepo{DB: db} }

// Upsert records a membership, reactivating a soft-deleted row if one
// exists.  The unique key on (user_id, organization_id) keeps at most one
// row per pair.
func (r *MembershipRepo) Upsert(ctx context.Context, userID, orgID uint64) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO user_organization_memberships (user_id, organization_id, is_active)
		 VALUES (?,?,1)
		 ON DUPLICATE KEY UPDATE is_active=1`,
		userID, orgID)
	return err
}

// Deactivate soft-deletes a membership.
func (r *MembershipRepo) Deactivate(ctx context.Context, userID, orgID uint64) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE user_organization_memberships SET is_active=0 WHERE user_id=? AND organization_id=?",
		userID, orgID)
	return err
}

// IsRegistered reports whether the ledger holds an active membership.
func (r *MembershipRepo) IsRegistered(ctx context.Context, userID, orgID uint64) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx,
		"SELECT 1 FROM user_organization_memberships WHERE user_id=? AND organization_id=? AND is_active=1 LIMIT 1",
		userID, orgID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListByOrg returns the active members of an organization with their user
// records joined in.
func (r *MembershipRepo) ListByOrg(ctx context.Context, orgID uint64) ([]model.User, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT u.id, u.uuid, u.email, u.discord_id, u.name, u.created_at
		 FROM user_organization_memberships m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.organization_id=? AND m.is_active=1
		 ORDER BY u.name`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.UUID, &u.Email, &u.DiscordID, &u.Name, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
