package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/clubsync/clubsync/internal/model"
)

// OrgRepo encapsulates database operations for organizations.
type OrgRepo struct{ DB *sql.DB }

func NewOrgRepo(db *sql.DB) *OrgRepo { return &OrgRepo{DB: db} }

const orgColumns = "id, guild_id, prefix, name, officer_role_id, is_active, config, created_at"

func scanOrg(row *sql.Row) (model.Organization, error) {
	var o model.Organization
	var active int
	err := row.Scan(&o.ID, &o.GuildID, &o.Prefix, &o.Name, &o.OfficerRoleID, &active, &o.Config, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return model.Organization{}, ErrOrgNotFound
	}
	if err != nil {
		return model.Organization{}, err
	}
	o.IsActive = active == 1
	return o, nil
}

// GetByPrefix resolves an active organization by its URL slug.  Inactive
// organizations are invisible to tenant routing, so they 404 here.
func (r *OrgRepo) GetByPrefix(ctx context.Context, prefix string) (model.Organization, error) {
	return scanOrg(r.DB.QueryRowContext(ctx,
		"SELECT "+orgColumns+" FROM organizations WHERE prefix=? AND is_active=1 LIMIT 1", prefix))
}

// GetByID loads an organization regardless of its active flag.
func (r *OrgRepo) GetByID(ctx context.Context, id uint64) (model.Organization, error) {
	return scanOrg(r.DB.QueryRowContext(ctx,
		"SELECT "+orgColumns+" FROM organizations WHERE id=? LIMIT 1", id))
}

// GetByGuildID loads an organization by its Discord guild snowflake.
func (r *OrgRepo) GetByGuildID(ctx context.Context, guildID string) (model.Organization, error) {
	return scanOrg(r.DB.QueryRowContext(ctx,
		"SELECT "+orgColumns+" FROM organizations WHERE guild_id=? LIMIT 1", guildID))
}

// List returns organizations, optionally restricted to active ones.
func (r *OrgRepo) List(ctx context.Context, activeOnly bool) ([]model.Organization, error) {
	q := "SELECT " + orgColumns + " FROM organizations"
	if activeOnly {
		q += " WHERE is_active=1"
	}
	q += " ORDER BY name"
	rows, err := r.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []model.Organization
	for rows.Next() {
		var o model.Organization
		var active int
		if err := rows.Scan(&o.ID, &o.GuildID, &o.Prefix, &o.Name, &o.OfficerRoleID, &active, &o.Config, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.IsActive = active == 1
		orgs = append(orgs, o)
	}
	return orgs, rows.Err()
}

// Create registers a guild as an organization and returns the new id.
func (r *OrgRepo) Create(ctx context.Context, o model.Organization) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO organizations (guild_id, prefix, name, officer_role_id, is_active, config) VALUES (?,?,?,?,?,?)",
		o.GuildID, o.Prefix, o.Name, o.OfficerRoleID, boolToInt(o.IsActive), nullJSON(o.Config))
	if err != nil {
		if dup := dupOrgKey(err); dup != nil {
			return 0, dup
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	return uint64(id), err
}

// dupOrgKey maps a duplicate-key error to the organization-level error
// for the violated key.  MySQL names the key in the message, e.g.
// "Duplicate entry 'g1' for key 'organizations.guild_id'".
func dupOrgKey(err error) error {
	if !isDuplicate(err) {
		return nil
	}
	if strings.Contains(err.Error(), "guild_id") {
		return ErrGuildTaken
	}
	return ErrPrefixTaken
}

// Update rewrites the mutable fields of an organization.
func (r *OrgRepo) Update(ctx context.Context, o model.Organization) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE organizations SET prefix=?, name=?, officer_role_id=?, is_active=? WHERE id=?",
		o.Prefix, o.Name, o.OfficerRoleID, boolToInt(o.IsActive), o.ID)
	if err != nil {
		if isDuplicate(err) {
			return ErrPrefixTaken
		}
		return err
	}
	return requireRow(res, ErrOrgNotFound)
}

// UpdateConfig replaces the free-form JSON configuration blob.
func (r *OrgRepo) UpdateConfig(ctx context.Context, id uint64, cfg []byte) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE organizations SET config=? WHERE id=?", nullJSON(cfg), id)
	if err != nil {
		return err
	}
	return requireRow(res, ErrOrgNotFound)
}

// Delete removes an organization outright.  Rows in points, products,
// orders or memberships still referencing it make the delete fail with
// ErrOrgHasData; deactivation is the path for tenants with history.
func (r *OrgRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM organizations WHERE id=?", id)
	if err != nil {
		if isFKRestricted(err) {
			return ErrOrgHasData
		}
		return err
	}
	return requireRow(res, ErrOrgNotFound)
}

// SetActive toggles the tenant on or off without losing its data.
func (r *OrgRepo) SetActive(ctx context.Context, id uint64, active bool) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE organizations SET is_active=? WHERE id=?", boolToInt(active), id)
	if err != nil {
		return err
	}
	return requireRow(res, ErrOrgNotFound)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullJSON maps an empty blob to SQL NULL so the JSON column stays valid.
func nullJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

// requireRow converts a zero-rows-affected update into notFound.
func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
