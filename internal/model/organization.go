package model

import "time"

// Organization maps a Discord guild to a platform tenant.  The prefix is
// the URL-safe slug used as the external routing key for every
// tenant-scoped endpoint; it is unique across the platform.
//
// Fields:
//  ID            – primary key identifier.
//  GuildID       – Discord guild snowflake, unique.
//  Prefix        – URL-safe slug, unique.
//  Name          – display name.
//  OfficerRoleID – Discord role granting officer permissions (nullable).
//  IsActive      – inactive organizations are hidden from tenant routing.
//  Config        – free-form JSON configuration blob.
//  CreatedAt     – creation timestamp.
type Organization struct {
	ID            uint64    // organizations.id
	GuildID       string    // organizations.guild_id
	Prefix        string    // organizations.prefix
	Name          string    // organizations.name
	OfficerRoleID *string   // organizations.officer_role_id (nullable)
	IsActive      bool      // organizations.is_active
	Config        []byte    // organizations.config (raw JSON, nullable)
	CreatedAt     time.Time // organizations.created_at
}

// Membership joins a user to an organization.  This table is a registration
// ledger used by storefront and points bookkeeping; live Discord guild
// membership remains authoritative for authorization decisions.
//
// Fields:
//  ID             – primary key identifier.
//  UserID         – member.
//  OrganizationID – organization joined.
//  IsActive       – soft-delete flag.
//  JoinedAt       – when the membership was recorded.
type Membership struct {
	ID             uint64    // user_organization_memberships.id
	UserID         uint64    // user_organization_memberships.user_id
	OrganizationID uint64    // user_organization_memberships.organization_id
	IsActive       bool      // user_organization_memberships.is_active
	JoinedAt       time.Time // user_organization_memberships.joined_at
}
