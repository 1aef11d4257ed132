// Package auth owns credential issuance and verification: RS256 access and
// app tokens signed with a disk-persisted RSA keypair, opaque refresh
// tokens persisted as SHA-256 hashes, and a database-backed revocation
// store shared by every instance.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clubsync/clubsync/internal/model"
)

// ErrNoToken is the "no token" signal: the refresh token is unknown,
// expired, or already revoked.  Callers must not distinguish which.
var ErrNoToken = errors.New("no refresh token")

// RefreshStore is the persistence surface the manager needs.  It is
// satisfied by *repository.TokenRepo; tests substitute an in-memory fake.
type RefreshStore interface {
	StoreRefresh(ctx context.Context, username string, discordID *string, tokenHash string, exp time.Time) error
	LookupRefresh(ctx context.Context, tokenHash string) (model.RefreshToken, error)
	DeleteRefresh(ctx context.Context, tokenHash string) (bool, error)
	DeleteExpiredRefresh(ctx context.Context, now time.Time) (int64, error)
	Revoke(ctx context.Context, tokenHash string, exp time.Time) error
	IsRevoked(ctx context.Context, tokenHash string) (bool, error)
	DeleteExpiredRevocations(ctx context.Context, now time.Time) (int64, error)
}

// TokenPair bundles a freshly issued access and refresh token.  The raw
// refresh token exists only here; storage keeps its hash.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Manager issues, verifies, refreshes and revokes credentials.  It is the
// only component holding private key material.
type Manager struct {
	key        *rsa.PrivateKey
	store      RefreshStore
	accessTTL  time.Duration
	refreshTTL time.Duration
	appTTL     time.Duration
	now        func() time.Time
}

// NewManager builds a Manager around a signing key and a refresh store.
func NewManager(key *rsa.PrivateKey, store RefreshStore, accessTTL, refreshTTL, appTTL time.Duration) *Manager {
	return &Manager{
		key:        key,
		store:      store,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		appTTL:     appTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// PublicKey exposes the verification half of the keypair.
func (m *Manager) PublicKey() *rsa.PublicKey { return &m.key.PublicKey }

// HashToken returns the SHA-256 hex digest of a raw token.  Only digests
// ever reach the database.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// GenerateToken signs a short-lived RS256 access token.  discordID is
// optional; when present it binds the token to a Discord identity so
// authorization can skip the legacy display-name lookup.  No side effects.
func (m *Manager) GenerateToken(username, discordID string, ttl time.Duration) (string, time.Time, error) {
	exp := m.now().Add(ttl)
	claims := jwt.MapClaims{
		"exp":      exp.Unix(),
		"iat":      m.now().Unix(),
		"username": username,
		"type":     "access",
	}
	if discordID != "" {
		claims["discord_id"] = discordID
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(m.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// GenerateAccessToken issues an access token with the configured TTL.
func (m *Manager) GenerateAccessToken(username, discordID string) (string, time.Time, error) {
	return m.GenerateToken(username, discordID, m.accessTTL)
}

// GenerateRefreshToken creates a 256-bit random URL-safe token, persists
// its hash with metadata and expiry, and returns the raw value exactly
// once.  A database write failure propagates: the caller never receives a
// valid-looking token that storage does not know about.
func (m *Manager) GenerateRefreshToken(ctx context.Context, username, discordID string) (string, time.Time, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, err
	}
	raw := base64.RawURLEncoding.EncodeToString(buf)
	exp := m.now().Add(m.refreshTTL)

	var did *string
	if discordID != "" {
		did = &discordID
	}
	if err := m.store.StoreRefresh(ctx, username, did, HashToken(raw), exp); err != nil {
		return "", time.Time{}, fmt.Errorf("store refresh token: %w", err)
	}
	return raw, exp, nil
}

// GenerateTokenPair issues both tokens; an error from either leg
// propagates and the caller must treat the pair as not issued.
func (m *Manager) GenerateTokenPair(ctx context.Context, username, discordID string) (TokenPair, error) {
	access, accessExp, err := m.GenerateAccessToken(username, discordID)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := m.GenerateRefreshToken(ctx, username, discordID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// RefreshAccessToken exchanges a raw refresh token for a new access token.
// Unknown hashes return ErrNoToken; expired rows are deleted and return
// ErrNoToken.  The refresh token is deliberately not rotated: it stays
// valid until its own expiry or explicit revocation.
func (m *Manager) RefreshAccessToken(ctx context.Context, raw string) (string, time.Time, error) {
	rec, err := m.store.LookupRefresh(ctx, HashToken(raw))
	if err == sql.ErrNoRows {
		return "", time.Time{}, ErrNoToken
	}
	if err != nil {
		return "", time.Time{}, err
	}
	// Stored expiries are UTC; normalize before comparing so a naive
	// timestamp from an older row cannot shift the window.
	if m.now().After(rec.ExpiresAt.UTC()) {
		if _, err := m.store.DeleteRefresh(ctx, rec.TokenHash); err != nil {
			return "", time.Time{}, err
		}
		return "", time.Time{}, ErrNoToken
	}
	discordID := ""
	if rec.DiscordID != nil {
		discordID = *rec.DiscordID
	}
	return m.GenerateAccessToken(rec.Username, discordID)
}

// RevokeRefreshToken deletes the stored hash for a raw refresh token and
// reports whether a row existed.
func (m *Manager) RevokeRefreshToken(ctx context.Context, raw string) (bool, error) {
	return m.store.DeleteRefresh(ctx, HashToken(raw))
}

// CleanupExpired removes refresh-token rows and denylist entries whose
// expiry lies in the past.  Runs hourly; idempotent.
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteExpiredRefresh(ctx, m.now())
	if err != nil {
		return n, err
	}
	pruned, err := m.store.DeleteExpiredRevocations(ctx, m.now())
	return n + pruned, err
}

// RevokeToken puts an access token on the shared denylist until its own
// expiry would have retired it anyway.
func (m *Manager) RevokeToken(ctx context.Context, token string) error {
	exp := m.now().Add(m.accessTTL)
	if claims, err := m.decode(token, false); err == nil {
		if unix, err := claims.GetExpirationTime(); err == nil && unix != nil {
			exp = unix.Time
		}
	}
	return m.store.Revoke(ctx, HashToken(token), exp)
}

// IsTokenValid reports whether a token carries a good signature and is not
// on the denylist.  Expiry is checked separately by IsTokenExpired.
func (m *Manager) IsTokenValid(ctx context.Context, token string) bool {
	revoked, err := m.store.IsRevoked(ctx, HashToken(token))
	if err != nil || revoked {
		return false
	}
	_, err = m.decode(token, false)
	return err == nil
}

// IsTokenExpired reports whether a structurally valid token has passed its
// expiry.
func (m *Manager) IsTokenExpired(token string) bool {
	_, err := m.decode(token, true)
	return errors.Is(err, jwt.ErrTokenExpired)
}

// DecodeToken returns the verified claims of a non-expired token.
func (m *Manager) DecodeToken(token string) (jwt.MapClaims, error) {
	return m.decode(token, true)
}

// RetrieveUsername extracts the username claim.  An expired signature is
// retried once without expiry verification so callers can identify who a
// stale token belonged to; that relaxed decode is diagnostic only and
// never proof of current validity.
func (m *Manager) RetrieveUsername(token string) string {
	return m.claimString(token, "username")
}

// RetrieveDiscordID extracts the discord_id claim under the same relaxed
// rules as RetrieveUsername.
func (m *Manager) RetrieveDiscordID(token string) string {
	return m.claimString(token, "discord_id")
}

func (m *Manager) claimString(token, name string) string {
	claims, err := m.decode(token, true)
	if errors.Is(err, jwt.ErrTokenExpired) {
		claims, err = m.decode(token, false)
	}
	if err != nil {
		return ""
	}
	if v, ok := claims[name].(string); ok {
		return v
	}
	return ""
}

// GenerateAppToken signs a long-lived token for a third-party application
// integration.  Same signing mechanism as access tokens, different claim
// shape, no discord_id binding.
func (m *Manager) GenerateAppToken(name, appName string) (string, error) {
	claims := jwt.MapClaims{
		"exp":      m.now().Add(m.appTTL).Unix(),
		"iat":      m.now().Unix(),
		"name":     name,
		"app_name": appName,
		"type":     "app",
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(m.key)
}

func (m *Manager) decode(token string, verifyExp bool) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256"})}
	if !verifyExp {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}
	parsed, err := jwt.NewParser(opts...).Parse(token, func(t *jwt.Token) (interface{}, error) {
		return &m.key.PublicKey, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("unexpected claim type")
	}
	return claims, nil
}
