// Package discord wraps the pieces of the Discord REST API this service
// depends on: guild listings, member lookups and role checks for
// authorization, plus the OAuth2 login flow.  Only read queries are
// issued; gateway (websocket) features are out of scope.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const defaultBaseURL = "https://discord.com/api/v10"

var (
	// ErrNotReady is returned while the startup handshake has not
	// completed; handlers translate it to 503.
	ErrNotReady = errors.New("discord client not ready")
	// ErrNotFound marks a 404 from Discord (unknown guild or member).
	ErrNotFound = errors.New("not found on discord")
)

// Guild is a Discord community the bot participates in.
type Guild struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon"`
}

// Member is one user's membership record in a guild.
type Member struct {
	User struct {
		ID         string `json:"id"`
		Username   string `json:"username"`
		GlobalName string `json:"global_name"`
	} `json:"user"`
	Nick  string   `json:"nick"`
	Roles []string `json:"roles"`
}

// DisplayName mirrors Discord precedence: nickname, then global display
// name, then account name.
func (m Member) DisplayName() string {
	if m.Nick != "" {
		return m.Nick
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}

// Client is a thread-safe REST client authenticated with a bot token.
// The zero value is unusable; construct with New.  Requests are safe to
// issue from any request-handling goroutine once Ready reports true.
type Client struct {
	token   string
	baseURL string
	httpc   *http.Client
	log     *zap.Logger
	ready   atomic.Bool
}

// New builds a Client.  Call Start before serving traffic.
func New(botToken string, log *zap.Logger) *Client {
	return &Client{
		token:   botToken,
		baseURL: defaultBaseURL,
		httpc:   &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// NewWithBaseURL is New with an overridden API root, used by tests to
// point at an httptest server.
func NewWithBaseURL(botToken, baseURL string, log *zap.Logger) *Client {
	c := New(botToken, log)
	c.baseURL = baseURL
	return c
}

// Start validates the bot token against /users/@me and flips the ready
// flag.  Until it succeeds every authorization query fails with
// ErrNotReady, which surfaces to clients as 503.
func (c *Client) Start(ctx context.Context) error {
	if c.token == "" {
		return errors.New("discord bot token not configured")
	}
	var me struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	if err := c.get(ctx, "/users/@me", &me); err != nil {
		return fmt.Errorf("discord handshake: %w", err)
	}
	c.ready.Store(true)
	c.log.Info("discord client ready", zap.String("bot_user", me.Username))
	return nil
}

// Ready reports whether the handshake completed.
func (c *Client) Ready() bool { return c.ready.Load() }

// Guilds lists the guilds the bot is a member of.
func (c *Client) Guilds(ctx context.Context) ([]Guild, error) {
	if !c.Ready() {
		return nil, ErrNotReady
	}
	var guilds []Guild
	if err := c.get(ctx, "/users/@me/guilds", &guilds); err != nil {
		return nil, err
	}
	return guilds, nil
}

// Member fetches one user's membership in a guild.  ErrNotFound means the
// user is not (or no longer) a member.
func (c *Client) Member(ctx context.Context, guildID, userID string) (Member, error) {
	if !c.Ready() {
		return Member{}, ErrNotReady
	}
	var m Member
	err := c.get(ctx, fmt.Sprintf("/guilds/%s/members/%s", guildID, userID), &m)
	return m, err
}

// IsMember reports current live guild membership.
func (c *Client) IsMember(ctx context.Context, guildID, userID string) (bool, error) {
	_, err := c.Member(ctx, guildID, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// HasRole reports whether the user currently holds roleID in the guild.
func (c *Client) HasRole(ctx context.Context, guildID, userID, roleID string) (bool, error) {
	m, err := c.Member(ctx, guildID, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, r := range m.Roles {
		if r == roleID {
			return true, nil
		}
	}
	return false, nil
}

// GuildMembers pages through a guild's member list.  Used only by the
// legacy display-name fallback, so small guilds are assumed.
func (c *Client) GuildMembers(ctx context.Context, guildID string) ([]Member, error) {
	if !c.Ready() {
		return nil, ErrNotReady
	}
	var all []Member
	after := ""
	for {
		path := fmt.Sprintf("/guilds/%s/members?limit=1000", guildID)
		if after != "" {
			path += "&after=" + after
		}
		var page []Member
		if err := c.get(ctx, path, &page); err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < 1000 {
			return all, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord %s: status %d: %s", path, resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
