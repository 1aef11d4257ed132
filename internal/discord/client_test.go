package discord

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/users/@me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bot bot-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":"1","username":"clubsync-bot"}`))
	})
	mux.HandleFunc("/users/@me/guilds", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"g1","name":"ACM"},{"id":"g2","name":"IEEE"}]`))
	})
	mux.HandleFunc("/guilds/g1/members/111", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"user": {"id": "111", "username": "alice", "global_name": "Alice"},
			"nick": "Prez",
			"roles": ["r-officer", "r-member"]
		}`))
	})
	mux.HandleFunc("/guilds/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	return httptest.NewServer(mux)
}

func startedClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c := NewWithBaseURL("bot-token", srv.URL, zap.NewNop())
	require.NoError(t, c.Start(context.Background()))
	return c
}

func TestQueriesBeforeStartFailWithNotReady(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()
	c := NewWithBaseURL("bot-token", srv.URL, zap.NewNop())
	ctx := context.Background()

	_, err := c.Guilds(ctx)
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = c.Member(ctx, "g1", "111")
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = c.IsMember(ctx, "g1", "111")
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = c.GuildMembers(ctx, "g1")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestStartRejectsBadToken(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	c := NewWithBaseURL("wrong", srv.URL, zap.NewNop())
	assert.Error(t, c.Start(context.Background()))
	assert.False(t, c.Ready())

	c = NewWithBaseURL("", srv.URL, zap.NewNop())
	assert.Error(t, c.Start(context.Background()))
}

func TestGuilds(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()
	c := startedClient(t, srv)

	guilds, err := c.Guilds(context.Background())
	require.NoError(t, err)
	require.Len(t, guilds, 2)
	assert.Equal(t, "ACM", guilds[0].Name)
}

func TestMembership(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()
	c := startedClient(t, srv)
	ctx := context.Background()

	ok, err := c.IsMember(ctx, "g1", "111")
	require.NoError(t, err)
	assert.True(t, ok)

	// a 404 from Discord means "not a member", not an error
	ok, err = c.IsMember(ctx, "g1", "999")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Member(ctx, "g1", "999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHasRole(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()
	c := startedClient(t, srv)
	ctx := context.Background()

	ok, err := c.HasRole(ctx, "g1", "111", "r-officer")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.HasRole(ctx, "g1", "111", "r-admin")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.HasRole(ctx, "g1", "999", "r-officer")
	require.NoError(t, err)
	assert.False(t, ok, "a departed member holds no roles")
}

func TestIdentityDisplayName(t *testing.T) {
	id := Identity{Username: "alice"}
	assert.Equal(t, "alice", id.DisplayName())

	id.GlobalName = "Alice"
	assert.Equal(t, "Alice", id.DisplayName())
}

func TestDisplayNamePrecedence(t *testing.T) {
	var m Member
	m.User.Username = "alice"
	assert.Equal(t, "alice", m.DisplayName())

	m.User.GlobalName = "Alice"
	assert.Equal(t, "Alice", m.DisplayName())

	m.Nick = "Prez"
	assert.Equal(t, "Prez", m.DisplayName())
}

func TestGuildMembersPagination(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/@me", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"1","username":"clubsync-bot"}`))
	})
	pages := 0
	mux.HandleFunc("/guilds/g1/members", func(w http.ResponseWriter, r *http.Request) {
		pages++
		after := r.URL.Query().Get("after")
		w.Header().Set("Content-Type", "application/json")
		if after == "" {
			// a full page forces a second request
			_, _ = w.Write([]byte(fullPage(1000)))
			return
		}
		_, _ = w.Write([]byte(`[{"user":{"id":"tail","username":"last"}}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := startedClient(t, srv)
	members, err := c.GuildMembers(context.Background(), "g1")
	require.NoError(t, err)
	assert.Len(t, members, 1001)
	assert.Equal(t, 2, pages)
	assert.Equal(t, "tail", members[1000].User.ID)
}

func fullPage(n int) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, `{"user":{"id":"m%d","username":"u"}}`, i)
	}
	sb.WriteByte(']')
	return sb.String()
}
