package repository

import (
	"context"
	"database/sql"

	"github.com/clubsync/clubsync/internal/model"
)

// PointsRepo owns the append-only points ledger.
type PointsRepo struct{ DB *sql.DB }

func NewPointsRepo(db *sql.DB) *PointsRepo { return &PointsRepo{DB: db} }

// Insert appends one ledger entry and returns its id.
func (r *PointsRepo) Insert(ctx context.Context, e model.PointsEntry) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO points (user_id, organization_id, points, event, awarded_by) VALUES (?,?,?,?,?)",
		e.UserID, e.OrganizationID, e.Points, e.Event, e.AwardedBy)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	return uint64(id), err
}

// InsertTx appends one ledger entry inside an open transaction; the
// purchase flow uses it to keep the spend entry atomic with the order.
func (r *PointsRepo) InsertTx(ctx context.Context, tx *sql.Tx, e model.PointsEntry) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO points (user_id, organization_id, points, event, awarded_by) VALUES (?,?,?,?,?)",
		e.UserID, e.OrganizationID, e.Points, e.Event, e.AwardedBy)
	return err
}

// BulkInsert appends many entries in one statement (CSV event awards).
func (r *PointsRepo) BulkInsert(ctx context.Context, entries []model.PointsEntry) error {
	if len(entries) == 0 {
		return nil
	}
	query := "INSERT INTO points (user_id, organization_id, points, event, awarded_by) VALUES "
	args := make([]interface{}, 0, len(entries)*5)
	for i, e := range entries {
		if i > 0 {
			query += ","
		}
		query += "(?,?,?,?,?)"
		args = append(args, e.UserID, e.OrganizationID, e.Points, e.Event, e.AwardedBy)
	}
	_, err := r.DB.ExecContext(ctx, query, args...)
	return err
}

// Balance returns SUM(points) for a user within one organization.
func (r *PointsRepo) Balance(ctx context.Context, userID, orgID uint64) (int64, error) {
	var total int64
	err := r.DB.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(points),0) FROM points WHERE user_id=? AND organization_id=?",
		userID, orgID).Scan(&total)
	return total, err
}

// BalanceTx is Balance inside an open transaction so the purchase flow
// reads the balance under the same snapshot as its stock locks.
func (r *PointsRepo) BalanceTx(ctx context.Context, tx *sql.Tx, userID, orgID uint64) (int64, error) {
	var total int64
	err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(points),0) FROM points WHERE user_id=? AND organization_id=?",
		userID, orgID).Scan(&total)
	return total, err
}

// Leaderboard aggregates the ledger per user for one organization,
// ordered by total points descending then name ascending.
func (r *PointsRepo) Leaderboard(ctx context.Context, orgID uint64) ([]model.LeaderboardRow, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT u.name, u.email, u.uuid, COALESCE(SUM(p.points),0) AS total
		 FROM points p
		 JOIN users u ON u.id = p.user_id
		 WHERE p.organization_id=?
		 GROUP BY u.id, u.name, u.email, u.uuid
		 ORDER BY total DESC, u.name ASC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var board []model.LeaderboardRow
	for rows.Next() {
		var row model.LeaderboardRow
		if err := rows.Scan(&row.Name, &row.Email, &row.UUID, &row.Points); err != nil {
			return nil, err
		}
		board = append(board, row)
	}
	return board, rows.Err()
}

// ListByUser returns a user's ledger entries within one organization,
// newest first.
func (r *PointsRepo) ListByUser(ctx context.Context, userID, orgID uint64) ([]model.PointsEntry, error) {
	return r.list(ctx,
		"SELECT id, user_id, organization_id, points, event, awarded_by, awarded_at FROM points WHERE user_id=? AND organization_id=? ORDER BY awarded_at DESC",
		userID, orgID)
}

// ListByOrg returns every ledger entry for an organization, newest first.
func (r *PointsRepo) ListByOrg(ctx context.Context, orgID uint64) ([]model.PointsEntry, error) {
	return r.list(ctx,
		"SELECT id, user_id, organization_id, points, event, awarded_by, awarded_at FROM points WHERE organization_id=? ORDER BY awarded_at DESC",
		orgID)
}

func (r *PointsRepo) list(ctx context.Context, query string, args ...interface{}) ([]model.PointsEntry, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.PointsEntry
	for rows.Next() {
		var e model.PointsEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.OrganizationID, &e.Points, &e.Event, &e.AwardedBy, &e.AwardedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
