package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clubsync/clubsync/internal/auth"
	"github.com/clubsync/clubsync/internal/discord"
	"github.com/clubsync/clubsync/internal/model"
	"github.com/clubsync/clubsync/internal/repository"
)

// fakeMemberLister serves guild member lists by guild id.
type fakeMemberLister struct {
	guilds map[string][]discord.Member
	scans  int
}

func (l *fakeMemberLister) GuildMembers(_ context.Context, guildID string) ([]discord.Member, error) {
	l.scans++
	return l.guilds[guildID], nil
}

func namedMember(id, nick string) discord.Member {
	var m discord.Member
	m.User.ID = id
	m.Nick = nick
	return m
}

type fakeOrgStore struct {
	orgs map[string]model.Organization
}

func (s *fakeOrgStore) GetByPrefix(_ context.Context, prefix string) (model.Organization, error) {
	org, ok := s.orgs[prefix]
	if !ok {
		return model.Organization{}, repository.ErrOrgNotFound
	}
	return org, nil
}

func (s *fakeOrgStore) List(_ context.Context, _ bool) ([]model.Organization, error) {
	var out []model.Organization
	for _, org := range s.orgs {
		out = append(out, org)
	}
	return out, nil
}

type fakeUserStore struct {
	byEmail map[string]model.User
}

func (s *fakeUserStore) GetByEmail(_ context.Context, email string) (model.User, error) {
	u, ok := s.byEmail[email]
	if !ok {
		return model.User{}, repository.ErrUserNotFound
	}
	return u, nil
}

// fakeResolver records which authorization questions were asked.
type fakeResolver struct {
	members     map[string]bool // guildID:discordID
	officers    map[string]bool
	superadmins map[string]bool
	calls       int
}

func (r *fakeResolver) IsMember(_ context.Context, org model.Organization, discordID string) (bool, error) {
	r.calls++
	return r.members[org.GuildID+":"+discordID], nil
}

func (r *fakeResolver) IsOfficer(_ context.Context, org model.Organization, discordID string) (bool, error) {
	r.calls++
	return r.officers[org.GuildID+":"+discordID], nil
}

func (r *fakeResolver) IsSuperadmin(_ context.Context, discordID string) (bool, error) {
	r.calls++
	return r.superadmins[discordID], nil
}

type memRefreshStore struct {
	refresh map[string]model.RefreshToken
	revoked map[string]time.Time
}

func newMemRefreshStore() *memRefreshStore {
	return &memRefreshStore{refresh: map[string]model.RefreshToken{}, revoked: map[string]time.Time{}}
}

func (s *memRefreshStore) StoreRefresh(_ context.Context, username string, discordID *string, hash string, exp time.Time) error {
	s.refresh[hash] = model.RefreshToken{TokenHash: hash, Username: username, DiscordID: discordID, ExpiresAt: exp}
	return nil
}

func (s *memRefreshStore) LookupRefresh(_ context.Context, hash string) (model.RefreshToken, error) {
	rec, ok := s.refresh[hash]
	if !ok {
		return model.RefreshToken{}, sql.ErrNoRows
	}
	return rec, nil
}

func (s *memRefreshStore) DeleteRefresh(_ context.Context, hash string) (bool, error) {
	_, ok := s.refresh[hash]
	delete(s.refresh, hash)
	return ok, nil
}

func (s *memRefreshStore) DeleteExpiredRefresh(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (s *memRefreshStore) Revoke(_ context.Context, hash string, exp time.Time) error {
	s.revoked[hash] = exp
	return nil
}

func (s *memRefreshStore) IsRevoked(_ context.Context, hash string) (bool, error) {
	_, ok := s.revoked[hash]
	return ok, nil
}

func (s *memRefreshStore) DeleteExpiredRevocations(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func newTestAuthenticator(t *testing.T) (*Authenticator, *fakeOrgStore, *fakeResolver, *auth.Manager) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	mgr := auth.NewManager(key, newMemRefreshStore(), 30*time.Minute, 7*24*time.Hour, 120*24*time.Hour)
	orgs := &fakeOrgStore{orgs: map[string]model.Organization{}}
	resolver := &fakeResolver{
		members:     map[string]bool{},
		officers:    map[string]bool{},
		superadmins: map[string]bool{},
	}
	a := &Authenticator{
		Tokens:   mgr,
		Users:    &fakeUserStore{byEmail: map[string]model.User{}},
		Orgs:     orgs,
		Resolver: resolver,
		Log:      zap.NewNop(),
	}
	return a, orgs, resolver, mgr
}

func invoke(a *Authenticator, mw echo.MiddlewareFunc, p *Principal, prefix string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if prefix != "" {
		c.SetParamNames("prefix")
		c.SetParamValues(prefix)
	}
	if p != nil {
		c.Set(principalKey, *p)
	}
	handler := mw(func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"ok": "true"})
	})
	_ = handler(c)
	return rec
}

func TestRequireAuth(t *testing.T) {
	a, _, _, _ := newTestAuthenticator(t)

	rec := invoke(a, a.RequireAuth(), nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"authentication required"}`, rec.Body.String())

	rec = invoke(a, a.RequireAuth(), &Principal{Username: "alice", Source: "token"}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireMemberUnknownOrgNeverHitsDiscord(t *testing.T) {
	a, _, resolver, _ := newTestAuthenticator(t)
	p := &Principal{Username: "alice", DiscordID: "111", Source: "token"}

	rec := invoke(a, a.RequireMember(), p, "ghost")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"organization not found"}`, rec.Body.String())
	assert.Zero(t, resolver.calls, "membership must not be checked for an unknown organization")
}

func TestRequireMember(t *testing.T) {
	a, orgs, resolver, _ := newTestAuthenticator(t)
	orgs.orgs["acm"] = model.Organization{ID: 1, Prefix: "acm", GuildID: "g1", IsActive: true}
	resolver.members["g1:111"] = true

	rec := invoke(a, a.RequireMember(), &Principal{Username: "alice", DiscordID: "111"}, "acm")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = invoke(a, a.RequireMember(), &Principal{Username: "mallory", DiscordID: "999"}, "acm")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"insufficient permissions"}`, rec.Body.String())

	rec = invoke(a, a.RequireMember(), nil, "acm")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireMemberUnlinkedPrincipal(t *testing.T) {
	a, orgs, _, _ := newTestAuthenticator(t)
	orgs.orgs["acm"] = model.Organization{ID: 1, Prefix: "acm", GuildID: "g1", IsActive: true}

	rec := invoke(a, a.RequireMember(), &Principal{Username: "svc@example.com", Email: "svc@example.com", Source: "provider"}, "acm")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"no linked discord account"}`, rec.Body.String())
}

func TestRequireOfficerIsPerOrganization(t *testing.T) {
	a, orgs, resolver, _ := newTestAuthenticator(t)
	orgs.orgs["acm"] = model.Organization{ID: 1, Prefix: "acm", GuildID: "g1", IsActive: true}
	orgs.orgs["ieee"] = model.Organization{ID: 2, Prefix: "ieee", GuildID: "g2", IsActive: true}
	resolver.officers["g1:111"] = true

	p := &Principal{Username: "alice", DiscordID: "111"}
	rec := invoke(a, a.RequireOfficer(), p, "acm")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = invoke(a, a.RequireOfficer(), p, "ieee")
	assert.Equal(t, http.StatusForbidden, rec.Code, "officer status must not carry across organizations")
}

func TestRequireAnyMember(t *testing.T) {
	a, orgs, resolver, _ := newTestAuthenticator(t)
	orgs.orgs["acm"] = model.Organization{ID: 1, Prefix: "acm", GuildID: "g1", IsActive: true}
	orgs.orgs["ieee"] = model.Organization{ID: 2, Prefix: "ieee", GuildID: "g2", IsActive: true}
	resolver.members["g2:111"] = true

	rec := invoke(a, a.RequireAnyMember(), &Principal{Username: "alice", DiscordID: "111"}, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = invoke(a, a.RequireAnyMember(), &Principal{Username: "mallory", DiscordID: "999"}, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireSuperadmin(t *testing.T) {
	a, _, resolver, _ := newTestAuthenticator(t)
	resolver.superadmins["111"] = true

	rec := invoke(a, a.RequireSuperadmin(), &Principal{Username: "alice", DiscordID: "111"}, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = invoke(a, a.RequireSuperadmin(), &Principal{Username: "bob", DiscordID: "222"}, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSuperadminLegacyNameFallback(t *testing.T) {
	a, orgs, resolver, _ := newTestAuthenticator(t)
	orgs.orgs["acm"] = model.Organization{ID: 1, Prefix: "acm", GuildID: "g1", IsActive: true}
	a.Members = &fakeMemberLister{guilds: map[string][]discord.Member{
		"g1": {namedMember("999", "Boss")},
	}}
	resolver.superadmins["999"] = true

	// tokens from early deployments carry a name but no discord id
	rec := invoke(a, a.RequireSuperadmin(), &Principal{Username: "Boss", Source: "token"}, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = invoke(a, a.RequireSuperadmin(), &Principal{Username: "Nobody", Source: "token"}, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMemberGateLegacyNameFallback(t *testing.T) {
	a, orgs, resolver, _ := newTestAuthenticator(t)
	orgs.orgs["acm"] = model.Organization{ID: 1, Prefix: "acm", GuildID: "g1", IsActive: true}
	a.Members = &fakeMemberLister{guilds: map[string][]discord.Member{
		"g1": {namedMember("111", "Prez")},
	}}
	resolver.members["g1:111"] = true

	rec := invoke(a, a.RequireMember(), &Principal{Username: "Prez", Source: "token"}, "acm")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNameFallbackSkippedWhenLinked(t *testing.T) {
	a, orgs, resolver, _ := newTestAuthenticator(t)
	orgs.orgs["acm"] = model.Organization{ID: 1, Prefix: "acm", GuildID: "g1", IsActive: true}
	lister := &fakeMemberLister{guilds: map[string][]discord.Member{}}
	a.Members = lister
	resolver.members["g1:111"] = true

	rec := invoke(a, a.RequireMember(), &Principal{Username: "alice", DiscordID: "111"}, "acm")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, lister.scans, "linked principals must not trigger the guild scan")
}

func TestRequireApp(t *testing.T) {
	a, _, resolver, _ := newTestAuthenticator(t)
	resolver.superadmins["111"] = true

	rec := invoke(a, a.RequireApp(), &Principal{Username: "fulfillment-bot", Source: "app"}, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// a superadmin may invoke the endpoint manually
	rec = invoke(a, a.RequireApp(), &Principal{Username: "alice", DiscordID: "111", Source: "token"}, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = invoke(a, a.RequireApp(), &Principal{Username: "bob", DiscordID: "222", Source: "token"}, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = invoke(a, a.RequireApp(), nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEmailPrincipalResolvesLinkedAccount(t *testing.T) {
	a, orgs, resolver, _ := newTestAuthenticator(t)
	orgs.orgs["acm"] = model.Organization{ID: 1, Prefix: "acm", GuildID: "g1", IsActive: true}
	discordID := "111"
	a.Users = &fakeUserStore{byEmail: map[string]model.User{
		"alice@example.com": {ID: 1, UUID: "u-1", DiscordID: &discordID},
	}}
	resolver.members["g1:111"] = true

	p := &Principal{Username: "alice@example.com", Email: "alice@example.com", Source: "provider"}
	rec := invoke(a, a.RequireMember(), p, "acm")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func resolvePrincipal(a *Authenticator, header string) (Principal, int) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(echo.HeaderAuthorization, header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var got Principal
	var ok bool
	handler := a.Resolve()(a.RequireAuth()(func(c echo.Context) error {
		got, ok = PrincipalFrom(c)
		return c.NoContent(http.StatusOK)
	}))
	_ = handler(c)
	if !ok {
		return Principal{}, rec.Code
	}
	return got, rec.Code
}

func TestResolveBearerToken(t *testing.T) {
	a, _, _, mgr := newTestAuthenticator(t)

	access, _, err := mgr.GenerateAccessToken("alice", "111")
	require.NoError(t, err)

	p, code := resolvePrincipal(a, "Bearer "+access)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, "111", p.DiscordID)
	assert.Equal(t, "token", p.Source)
}

func TestResolveAppToken(t *testing.T) {
	a, _, _, mgr := newTestAuthenticator(t)

	token, err := mgr.GenerateAppToken("fulfillment-bot", "warehouse")
	require.NoError(t, err)

	p, code := resolvePrincipal(a, "Bearer "+token)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "fulfillment-bot", p.Username)
	assert.Equal(t, "app", p.Source)
}

func TestRevokedAndMissingTokensGetSameResponse(t *testing.T) {
	a, _, _, mgr := newTestAuthenticator(t)

	access, _, err := mgr.GenerateAccessToken("alice", "111")
	require.NoError(t, err)
	require.NoError(t, mgr.RevokeToken(context.Background(), access))

	_, revokedCode := resolvePrincipal(a, "Bearer "+access)
	_, missingCode := resolvePrincipal(a, "")
	_, garbageCode := resolvePrincipal(a, "Bearer not-a-token")

	assert.Equal(t, http.StatusUnauthorized, revokedCode)
	assert.Equal(t, missingCode, revokedCode, "revoked and missing credentials must be indistinguishable")
	assert.Equal(t, garbageCode, revokedCode)
}

func TestBearerTokenParsing(t *testing.T) {
	e := echo.New()
	for header, want := range map[string]string{
		"Bearer abc":  "abc",
		"bearer abc":  "abc",
		"Basic abc":   "",
		"Bearer":      "",
		"":            "",
		"Bearer  xy ": "xy",
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set(echo.HeaderAuthorization, header)
		}
		c := e.NewContext(req, httptest.NewRecorder())
		assert.Equal(t, want, bearerToken(c), "header %q", header)
	}
}
