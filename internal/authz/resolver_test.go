package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clubsync/clubsync/internal/model"
)

type fakeGuilds struct {
	members map[string]bool // guildID:userID
	roles   map[string]bool // guildID:userID:roleID
	calls   int
}

func (g *fakeGuilds) IsMember(_ context.Context, guildID, userID string) (bool, error) {
	g.calls++
	return g.members[guildID+":"+userID], nil
}

func (g *fakeGuilds) HasRole(_ context.Context, guildID, userID, roleID string) (bool, error) {
	g.calls++
	return g.roles[guildID+":"+userID+":"+roleID], nil
}

type fakeOrgs struct {
	orgs []model.Organization
}

func (o *fakeOrgs) List(_ context.Context, _ bool) ([]model.Organization, error) {
	return o.orgs, nil
}

func strptr(s string) *string { return &s }

func newTestResolver(guilds *fakeGuilds, orgs []model.Organization, superadmins ...string) *Resolver {
	return NewResolver(guilds, &fakeOrgs{orgs: orgs}, nil, 0, superadmins, zap.NewNop())
}

func TestIsMember(t *testing.T) {
	guilds := &fakeGuilds{members: map[string]bool{"g1:111": true}}
	r := newTestResolver(guilds, nil)
	ctx := context.Background()

	ok, err := r.IsMember(ctx, model.Organization{GuildID: "g1"}, "111")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.IsMember(ctx, model.Organization{GuildID: "g1"}, "999")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsOfficerWithoutConfiguredRole(t *testing.T) {
	guilds := &fakeGuilds{roles: map[string]bool{"g1:111:r-officer": true}}
	r := newTestResolver(guilds, nil)
	ctx := context.Background()

	ok, err := r.IsOfficer(ctx, model.Organization{GuildID: "g1"}, "111")
	require.NoError(t, err)
	assert.False(t, ok, "no officer role configured means no officers")
	assert.Zero(t, guilds.calls, "discord must not be asked when no role is configured")

	ok, err = r.IsOfficer(ctx, model.Organization{GuildID: "g1", OfficerRoleID: strptr("")}, "111")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsOfficer(t *testing.T) {
	guilds := &fakeGuilds{roles: map[string]bool{"g1:111:r-officer": true}}
	r := newTestResolver(guilds, nil)
	org := model.Organization{GuildID: "g1", OfficerRoleID: strptr("r-officer")}
	ctx := context.Background()

	ok, err := r.IsOfficer(ctx, org, "111")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.IsOfficer(ctx, org, "222")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsOfficerAnywhere(t *testing.T) {
	guilds := &fakeGuilds{roles: map[string]bool{"g2:111:r-b": true}}
	orgs := []model.Organization{
		{ID: 1, Prefix: "acm", GuildID: "g1", OfficerRoleID: strptr("r-a")},
		{ID: 2, Prefix: "ieee", GuildID: "g2", OfficerRoleID: strptr("r-b")},
	}
	r := newTestResolver(guilds, orgs)
	ctx := context.Background()

	ok, org, err := r.IsOfficerAnywhere(ctx, "111")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, org)
	assert.Equal(t, "ieee", org.Prefix)

	ok, org, err = r.IsOfficerAnywhere(ctx, "999")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, org)
}

func TestIsSuperadmin(t *testing.T) {
	guilds := &fakeGuilds{roles: map[string]bool{"g1:222:r-officer": true}}
	orgs := []model.Organization{{ID: 1, GuildID: "g1", OfficerRoleID: strptr("r-officer")}}
	r := newTestResolver(guilds, orgs, "111")
	ctx := context.Background()

	// configured platform owner
	ok, err := r.IsSuperadmin(ctx, "111")
	require.NoError(t, err)
	assert.True(t, ok)

	// officer of some active org qualifies too
	ok, err = r.IsSuperadmin(ctx, "222")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.IsSuperadmin(ctx, "999")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.IsSuperadmin(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok, "an empty id must never be granted anything")
}

func TestNoCacheMeansLiveChecks(t *testing.T) {
	guilds := &fakeGuilds{members: map[string]bool{"g1:111": true}}
	r := newTestResolver(guilds, nil)
	org := model.Organization{GuildID: "g1"}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := r.IsMember(ctx, org, "111")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, guilds.calls, "without a cache every check goes to discord")
}
