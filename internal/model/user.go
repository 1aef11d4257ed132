package model

import "time"

// User represents an identity record as stored in the `users` table.
// Users are created on first successful OAuth callback or on their first
// storefront purchase and are never hard-deleted in normal flow.  The UUID
// is the public identifier exposed to unauthenticated callers (for example
// in leaderboards) so the email never leaks.
//
// Fields:
//  ID        – primary key identifier of the user.
//  UUID      – public, unguessable identifier.
//  Email     – email address (nullable; users created from Discord may lack one).
//  DiscordID – Discord snowflake (nullable; provider-only users may lack one).
//  Name      – display name.
//  CreatedAt – timestamp of creation.
type User struct {
	ID        uint64    // users.id
	UUID      string    // users.uuid
	Email     *string   // users.email (nullable)
	DiscordID *string   // users.discord_id (nullable)
	Name      string    // users.name
	CreatedAt time.Time // users.created_at
}
