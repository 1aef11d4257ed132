package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubsync/clubsync/internal/model"
)

// fakeStore is an in-memory RefreshStore.
type fakeStore struct {
	refresh map[string]model.RefreshToken
	revoked map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		refresh: map[string]model.RefreshToken{},
		revoked: map[string]time.Time{},
	}
}

func (s *fakeStore) StoreRefresh(_ context.Context, username string, discordID *string, tokenHash string, exp time.Time) error {
	s.refresh[tokenHash] = model.RefreshToken{
		TokenHash: tokenHash,
		Username:  username,
		DiscordID: discordID,
		ExpiresAt: exp,
	}
	return nil
}

func (s *fakeStore) LookupRefresh(_ context.Context, tokenHash string) (model.RefreshToken, error) {
	rec, ok := s.refresh[tokenHash]
	if !ok {
		return model.RefreshToken{}, sql.ErrNoRows
	}
	return rec, nil
}

func (s *fakeStore) DeleteRefresh(_ context.Context, tokenHash string) (bool, error) {
	_, ok := s.refresh[tokenHash]
	delete(s.refresh, tokenHash)
	return ok, nil
}

func (s *fakeStore) DeleteExpiredRefresh(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for hash, rec := range s.refresh {
		if rec.ExpiresAt.Before(now) {
			delete(s.refresh, hash)
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) Revoke(_ context.Context, tokenHash string, exp time.Time) error {
	s.revoked[tokenHash] = exp
	return nil
}

func (s *fakeStore) IsRevoked(_ context.Context, tokenHash string) (bool, error) {
	_, ok := s.revoked[tokenHash]
	return ok, nil
}

func (s *fakeStore) DeleteExpiredRevocations(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for hash, exp := range s.revoked {
		if exp.Before(now) {
			delete(s.revoked, hash)
			n++
		}
	}
	return n, nil
}

func newTestManager(t *testing.T) (*Manager, *fakeStore) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	store := newFakeStore()
	return NewManager(key, store, 30*time.Minute, 7*24*time.Hour, 120*24*time.Hour), store
}

func TestTokenPairValidAfterIssuance(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	pair, err := m.GenerateTokenPair(ctx, "alice", "100200300")
	require.NoError(t, err)

	assert.True(t, m.IsTokenValid(ctx, pair.AccessToken))
	assert.False(t, m.IsTokenExpired(pair.AccessToken))
	assert.Equal(t, "alice", m.RetrieveUsername(pair.AccessToken))
	assert.Equal(t, "100200300", m.RetrieveDiscordID(pair.AccessToken))
}

func TestRevokedTokenIsInvalid(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	access, _, err := m.GenerateAccessToken("alice", "")
	require.NoError(t, err)
	require.True(t, m.IsTokenValid(ctx, access))

	require.NoError(t, m.RevokeToken(ctx, access))
	assert.False(t, m.IsTokenValid(ctx, access))
}

func TestRefreshTokenRawNeverStored(t *testing.T) {
	m, store := newTestManager(t)

	raw, _, err := m.GenerateRefreshToken(context.Background(), "alice", "")
	require.NoError(t, err)

	_, storedRaw := store.refresh[raw]
	assert.False(t, storedRaw, "raw token must not be a storage key")
	_, storedHash := store.refresh[HashToken(raw)]
	assert.True(t, storedHash, "hash of raw token must be the storage key")
}

func TestRefreshAccessToken(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	raw, _, err := m.GenerateRefreshToken(ctx, "alice", "100200300")
	require.NoError(t, err)

	access, _, err := m.RefreshAccessToken(ctx, raw)
	require.NoError(t, err)
	assert.True(t, m.IsTokenValid(ctx, access))
	assert.Equal(t, "alice", m.RetrieveUsername(access))
	assert.Equal(t, "100200300", m.RetrieveDiscordID(access))

	// no rotation: the same refresh token keeps working
	again, _, err := m.RefreshAccessToken(ctx, raw)
	require.NoError(t, err)
	assert.NotEmpty(t, again)
}

func TestRefreshUnknownToken(t *testing.T) {
	m, _ := newTestManager(t)

	_, _, err := m.RefreshAccessToken(context.Background(), "never-issued")
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestRefreshExpiredTokenDeletesRow(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	raw, _, err := m.GenerateRefreshToken(ctx, "alice", "")
	require.NoError(t, err)

	// jump past the refresh TTL
	m.now = func() time.Time { return time.Now().UTC().Add(8 * 24 * time.Hour) }

	_, _, err = m.RefreshAccessToken(ctx, raw)
	assert.ErrorIs(t, err, ErrNoToken)
	assert.Empty(t, store.refresh, "expired row must be deleted on use")
}

func TestRevokeRefreshToken(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	raw, _, err := m.GenerateRefreshToken(ctx, "alice", "")
	require.NoError(t, err)

	found, err := m.RevokeRefreshToken(ctx, raw)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = m.RevokeRefreshToken(ctx, raw)
	require.NoError(t, err)
	assert.False(t, found, "second revoke must report not found")

	_, _, err = m.RefreshAccessToken(ctx, raw)
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestCleanupExpiredRemovesOnlyExpired(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	fresh, _, err := m.GenerateRefreshToken(ctx, "alice", "")
	require.NoError(t, err)

	// issue one token in the past so it is expired by now
	m.now = func() time.Time { return time.Now().UTC().Add(-30 * 24 * time.Hour) }
	stale, _, err := m.GenerateRefreshToken(ctx, "bob", "")
	require.NoError(t, err)
	m.now = func() time.Time { return time.Now().UTC() }

	removed, err := m.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, ok := store.refresh[HashToken(fresh)]
	assert.True(t, ok, "unexpired row must survive")
	_, ok = store.refresh[HashToken(stale)]
	assert.False(t, ok)

	// idempotent: a second run with nothing new expired is a no-op
	removed, err = m.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestExpiredTokenStillIdentifiesOwner(t *testing.T) {
	m, _ := newTestManager(t)

	m.now = func() time.Time { return time.Now().UTC().Add(-2 * time.Hour) }
	access, _, err := m.GenerateAccessToken("alice", "100200300")
	require.NoError(t, err)
	m.now = func() time.Time { return time.Now().UTC() }

	assert.True(t, m.IsTokenExpired(access))
	_, err = m.DecodeToken(access)
	assert.Error(t, err)

	// the relaxed decode recovers identity for diagnostics
	assert.Equal(t, "alice", m.RetrieveUsername(access))
	assert.Equal(t, "100200300", m.RetrieveDiscordID(access))
}

func TestAppTokenClaims(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	token, err := m.GenerateAppToken("fulfillment-bot", "warehouse")
	require.NoError(t, err)
	assert.True(t, m.IsTokenValid(ctx, token))

	claims, err := m.DecodeToken(token)
	require.NoError(t, err)
	assert.Equal(t, "app", claims["type"])
	assert.Equal(t, "fulfillment-bot", claims["name"])
	assert.Equal(t, "warehouse", claims["app_name"])
	_, hasDiscord := claims["discord_id"]
	assert.False(t, hasDiscord)
}

func TestTamperedTokenRejected(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	access, _, err := m.GenerateAccessToken("alice", "")
	require.NoError(t, err)

	tampered := access[:len(access)-4] + "AAAA"
	assert.False(t, m.IsTokenValid(ctx, tampered))
}
