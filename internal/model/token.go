package model

import "time"

// RefreshToken models an entry in the `refresh_tokens` table.  The raw
// token is returned to the caller exactly once at issuance; only its
// SHA-256 hash is persisted, so the raw value is unrecoverable from
// storage afterwards.
//
// Fields:
//  ID        – primary key identifier.
//  TokenHash – SHA-256 hex digest of the raw token.
//  Username  – identity the token refreshes.
//  DiscordID – Discord snowflake bound at login (nullable).
//  ExpiresAt – expiration timestamp (UTC).
//  CreatedAt – timestamp of creation.
type RefreshToken struct {
	ID        uint64     // refresh_tokens.id
	TokenHash string     // refresh_tokens.token_hash
	Username  string     // refresh_tokens.username
	DiscordID *string    // refresh_tokens.discord_id (nullable)
	ExpiresAt time.Time  // refresh_tokens.expires_at
	CreatedAt time.Time  // refresh_tokens.created_at
}

// Session is a legacy server-side session record used by browser flows.
// Bearer-token flows superseded it but it is retained for compatibility.
//
// Fields:
//  ID        – random session identifier carried in the signed cookie.
//  Data      – JSON blob (token, discord id, role flag).
//  ExpiresAt – expiration timestamp.
//  CreatedAt – timestamp of creation.
type Session struct {
	ID        string    // sessions.id
	Data      []byte    // sessions.data (raw JSON)
	ExpiresAt time.Time // sessions.expires_at
	CreatedAt time.Time // sessions.created_at
}
