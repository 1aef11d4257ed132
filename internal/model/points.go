package model

import "time"

// PointsEntry is one immutable row of the points ledger.  A user's balance
// in an organization is SUM(points) over their rows; storefront spend is
// recorded as a single negative entry per order.
//
// Fields:
//  ID             – primary key identifier.
//  UserID         – user the points belong to.
//  OrganizationID – organization scoping the ledger.
//  Points         – signed delta; negative rows represent spend.
//  Event          – free-text label for what earned (or spent) the points.
//  AwardedBy      – display name of the awarding officer.
//  AwardedAt      – when the entry was written.
type PointsEntry struct {
	ID             uint64    // points.id
	UserID         uint64    // points.user_id
	OrganizationID uint64    // points.organization_id
	Points         int64     // points.points
	Event          string    // points.event
	AwardedBy      string    // points.awarded_by
	AwardedAt      time.Time // points.awarded_at
}

// LeaderboardRow is an aggregate over the ledger for one user.  Identifier
// carries either the email (authenticated callers) or the UUID
// (unauthenticated callers); the repository returns both and the handler
// decides which to expose.
type LeaderboardRow struct {
	Name   string
	Email  *string
	UUID   string
	Points int64
}
