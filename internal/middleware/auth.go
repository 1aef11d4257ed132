// Package middleware carries the route guards: principal resolution from
// the three credential types, the membership/officer/superadmin gates,
// rate limiting and the outermost error handler.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/clubsync/clubsync/internal/auth"
	"github.com/clubsync/clubsync/internal/discord"
	"github.com/clubsync/clubsync/internal/idp"
	"github.com/clubsync/clubsync/internal/model"
	"github.com/clubsync/clubsync/internal/repository"
	"github.com/clubsync/clubsync/internal/session"
)

const (
	principalKey = "principal"
	orgKey       = "org"
)

// Principal is the authenticated caller, normalized across credential
// types.  Source records which credential produced it.
type Principal struct {
	Username  string
	DiscordID string
	Email     string
	Source    string // "session", "token", "app" or "provider"
}

// PrincipalFrom returns the principal attached by Resolve, if any.
func PrincipalFrom(c echo.Context) (Principal, bool) {
	p, ok := c.Get(principalKey).(Principal)
	return p, ok
}

// OrgFrom returns the organization attached by RequireMember or
// RequireOfficer.
func OrgFrom(c echo.Context) (model.Organization, bool) {
	o, ok := c.Get(orgKey).(model.Organization)
	return o, ok
}

// OrgStore is the slice of the organization repository the gates use.
type OrgStore interface {
	GetByPrefix(ctx context.Context, prefix string) (model.Organization, error)
	List(ctx context.Context, activeOnly bool) ([]model.Organization, error)
}

// UserStore resolves email principals to linked accounts.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (model.User, error)
}

// MemberLister pages a guild's member list; satisfied by
// *discord.Client.  Used only for the legacy identity fallback.
type MemberLister interface {
	GuildMembers(ctx context.Context, guildID string) ([]discord.Member, error)
}

// AccessResolver answers the authorization questions; satisfied by
// *authz.Resolver.
type AccessResolver interface {
	IsMember(ctx context.Context, org model.Organization, discordID string) (bool, error)
	IsOfficer(ctx context.Context, org model.Organization, discordID string) (bool, error)
	IsSuperadmin(ctx context.Context, discordID string) (bool, error)
}

// Authenticator resolves credentials into principals and enforces the
// authorization gates.
type Authenticator struct {
	Sessions *session.Store // nil for token-only deployments
	Tokens   *auth.Manager
	Provider *idp.Verifier // nil when no external provider is configured
	Users    UserStore
	Orgs     OrgStore
	Members  MemberLister // nil disables the legacy name fallback
	Resolver AccessResolver
	Log      *zap.Logger
}

// Resolve attaches a Principal when the request carries a usable
// credential.  Session cookies win over bearer headers; among bearer
// tokens our own RS256 tokens are tried before the external provider's.
// Resolution never fails the request; gates decide that.
func (a *Authenticator) Resolve() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if p, ok := a.resolve(c); ok {
				c.Set(principalKey, p)
			}
			return next(c)
		}
	}
}

func (a *Authenticator) resolve(c echo.Context) (Principal, bool) {
	if data, err := a.sessionData(c); err == nil {
		return Principal{
			Username:  data.Username,
			DiscordID: data.DiscordID,
			Email:     data.Email,
			Source:    "session",
		}, true
	}

	raw := bearerToken(c)
	if raw == "" {
		return Principal{}, false
	}

	ctx := c.Request().Context()
	if a.Tokens.IsTokenValid(ctx, raw) && !a.Tokens.IsTokenExpired(raw) {
		claims, err := a.Tokens.DecodeToken(raw)
		if err != nil {
			return Principal{}, false
		}
		source := "token"
		username, _ := claims["username"].(string)
		if t, _ := claims["type"].(string); t == "app" {
			source = "app"
			username, _ = claims["name"].(string)
		}
		discordID, _ := claims["discord_id"].(string)
		return Principal{Username: username, DiscordID: discordID, Source: source}, true
	}

	if a.Provider != nil {
		claims, err := a.Provider.Verify(ctx, raw)
		if err == nil {
			p := Principal{Username: claims.Email, Email: claims.Email, Source: "provider"}
			// best effort: an email that maps to a linked account
			// gives the principal a Discord identity too
			if u, err := a.Users.GetByEmail(ctx, claims.Email); err == nil && u.DiscordID != nil {
				p.DiscordID = *u.DiscordID
			}
			return p, true
		}
	}
	return Principal{}, false
}

// RequireAuth rejects requests without a principal.  Expired, revoked
// and missing credentials all get the same 401 so callers cannot probe
// token state.
func (a *Authenticator) RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := PrincipalFrom(c); !ok {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "authentication required"})
			}
			return next(c)
		}
	}
}

// ResolveOrg loads the :prefix organization for routes that are
// tenant-scoped but public.  Unknown or deactivated prefixes 404.
func (a *Authenticator) ResolveOrg() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			org, err := a.Orgs.GetByPrefix(c.Request().Context(), c.Param("prefix"))
			if errors.Is(err, repository.ErrOrgNotFound) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "organization not found"})
			}
			if err != nil {
				return err
			}
			c.Set(orgKey, org)
			return next(c)
		}
	}
}

// RequireMember gates organization routes.  The organization is resolved
// first so an unknown or deactivated prefix 404s before Discord is ever
// consulted; only then is live guild membership checked.
func (a *Authenticator) RequireMember() echo.MiddlewareFunc {
	return a.orgGate(func(ctx context.Context, org model.Organization, discordID string) (bool, error) {
		return a.Resolver.IsMember(ctx, org, discordID)
	})
}

// RequireOfficer gates management routes on the organization's officer
// role.  Officer status in one organization grants nothing in another.
func (a *Authenticator) RequireOfficer() echo.MiddlewareFunc {
	return a.orgGate(func(ctx context.Context, org model.Organization, discordID string) (bool, error) {
		return a.Resolver.IsOfficer(ctx, org, discordID)
	})
}

func (a *Authenticator) orgGate(check func(context.Context, model.Organization, string) (bool, error)) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFrom(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "authentication required"})
			}
			ctx := c.Request().Context()
			org, err := a.Orgs.GetByPrefix(ctx, c.Param("prefix"))
			if errors.Is(err, repository.ErrOrgNotFound) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "organization not found"})
			}
			if err != nil {
				return err
			}
			discordID, err := a.discordIDFor(ctx, p)
			if err != nil {
				return err
			}
			if discordID == "" {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "no linked discord account"})
			}
			ok, err = check(ctx, org, discordID)
			if errors.Is(err, discord.ErrNotReady) {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "authorization service starting"})
			}
			if err != nil {
				return err
			}
			if !ok {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "insufficient permissions"})
			}
			c.Set(orgKey, org)
			return next(c)
		}
	}
}

// RequireAnyMember admits principals who belong to at least one active
// organization's guild.
func (a *Authenticator) RequireAnyMember() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFrom(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "authentication required"})
			}
			ctx := c.Request().Context()
			discordID, err := a.discordIDFor(ctx, p)
			if err != nil {
				return err
			}
			if discordID == "" {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "no linked discord account"})
			}
			orgs, err := a.Orgs.List(ctx, true)
			if err != nil {
				return err
			}
			for _, org := range orgs {
				ok, err := a.Resolver.IsMember(ctx, org, discordID)
				if errors.Is(err, discord.ErrNotReady) {
					return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "authorization service starting"})
				}
				if err != nil {
					return err
				}
				if ok {
					return next(c)
				}
			}
			return c.JSON(http.StatusForbidden, map[string]string{"error": "insufficient permissions"})
		}
	}
}

// RequireSuperadmin gates platform administration.
func (a *Authenticator) RequireSuperadmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFrom(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "authentication required"})
			}
			ctx := c.Request().Context()
			discordID, err := a.discordIDFor(ctx, p)
			if err != nil {
				return err
			}
			ok, err = a.Resolver.IsSuperadmin(ctx, discordID)
			if errors.Is(err, discord.ErrNotReady) {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "authorization service starting"})
			}
			if err != nil {
				return err
			}
			if !ok {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "insufficient permissions"})
			}
			return next(c)
		}
	}
}

// RequireApp gates integration callbacks: the principal must be an app
// token, or a superadmin invoking the endpoint manually.
func (a *Authenticator) RequireApp() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFrom(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "authentication required"})
			}
			if p.Source == "app" {
				return next(c)
			}
			ctx := c.Request().Context()
			discordID, err := a.discordIDFor(ctx, p)
			if err != nil {
				return err
			}
			ok, err = a.Resolver.IsSuperadmin(ctx, discordID)
			if errors.Is(err, discord.ErrNotReady) {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "authorization service starting"})
			}
			if err != nil {
				return err
			}
			if !ok {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "insufficient permissions"})
			}
			return next(c)
		}
	}
}

// discordIDFor returns the principal's Discord id, consulting the user
// table for email-only principals and falling back to a display-name
// search for tokens from early deployments that carry neither.
func (a *Authenticator) discordIDFor(ctx context.Context, p Principal) (string, error) {
	if p.DiscordID != "" {
		return p.DiscordID, nil
	}
	if p.Email == "" {
		return a.findByDisplayName(ctx, p.Username), nil
	}
	u, err := a.Users.GetByEmail(ctx, p.Email)
	if errors.Is(err, repository.ErrUserNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if u.DiscordID == nil {
		return "", nil
	}
	return *u.DiscordID, nil
}

// findByDisplayName scans every active organization's guild for a
// member whose display name matches.  O(guilds x members), tolerable
// only because it runs for legacy tokens and guild counts are small.
// Unreachable guilds are skipped; ambiguity resolves to the first hit.
func (a *Authenticator) findByDisplayName(ctx context.Context, name string) string {
	if a.Members == nil || name == "" {
		return ""
	}
	orgs, err := a.Orgs.List(ctx, true)
	if err != nil {
		a.Log.Warn("organization listing failed during name lookup", zap.Error(err))
		return ""
	}
	for _, org := range orgs {
		members, err := a.Members.GuildMembers(ctx, org.GuildID)
		if err != nil {
			a.Log.Warn("guild member scan failed",
				zap.String("guild_id", org.GuildID), zap.Error(err))
			continue
		}
		for _, m := range members {
			if m.DisplayName() == name {
				a.Log.Info("legacy principal resolved by display name",
					zap.String("name", name), zap.String("guild_id", org.GuildID))
				return m.User.ID
			}
		}
	}
	return ""
}

func (a *Authenticator) sessionData(c echo.Context) (session.Data, error) {
	if a.Sessions == nil {
		return session.Data{}, session.ErrNoSession
	}
	return a.Sessions.Get(c.Request())
}

func bearerToken(c echo.Context) string {
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
