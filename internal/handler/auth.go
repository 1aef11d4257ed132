// Package handler contains the HTTP route handlers.  Each handler
// struct bundles its dependencies and is wired by the router; bodies
// and responses are JSON throughout.
package handler

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/clubsync/clubsync/internal/auth"
	"github.com/clubsync/clubsync/internal/authz"
	"github.com/clubsync/clubsync/internal/config"
	"github.com/clubsync/clubsync/internal/discord"
	"github.com/clubsync/clubsync/internal/middleware"
	"github.com/clubsync/clubsync/internal/repository"
	"github.com/clubsync/clubsync/internal/session"
)

const stateCookie = "oauth_state"

// AuthHandler owns the Discord OAuth flow and the token lifecycle
// endpoints.
type AuthHandler struct {
	Cfg      config.Config
	OAuth    *oauth2.Config
	Users    *repository.UserRepo
	Tokens   *auth.Manager
	Sessions *session.Store
	Resolver *authz.Resolver
	Log      *zap.Logger
}

func NewAuthHandler(cfg config.Config, oauthCfg *oauth2.Config, users *repository.UserRepo, tokens *auth.Manager, sessions *session.Store, resolver *authz.Resolver, log *zap.Logger) *AuthHandler {
	return &AuthHandler{Cfg: cfg, OAuth: oauthCfg, Users: users, Tokens: tokens, Sessions: sessions, Resolver: resolver, Log: log}
}

// Login redirects the browser to Discord's consent screen.  The CSRF
// state is parked in a short-lived cookie and checked in Callback.
func (h *AuthHandler) Login(c echo.Context) error {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return err
	}
	state := base64.RawURLEncoding.EncodeToString(buf)
	c.SetCookie(&http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return c.Redirect(http.StatusFound, h.OAuth.AuthCodeURL(state))
}

// Callback completes the OAuth exchange: resolves the Discord identity,
// upserts the local user, establishes a session and hands the token
// pair to the frontend via redirect query parameters (the frontend and
// API do not share a cookie domain).
func (h *AuthHandler) Callback(c echo.Context) error {
	state := c.QueryParam("state")
	cookie, err := c.Cookie(stateCookie)
	if err != nil || state == "" || cookie.Value != state {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "state mismatch"})
	}
	code := c.QueryParam("code")
	if code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	tok, err := h.OAuth.Exchange(ctx, code)
	if err != nil {
		h.Log.Warn("oauth exchange failed", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authorization failed"})
	}
	identity, err := discord.FetchIdentity(ctx, h.OAuth, tok)
	if err != nil {
		h.Log.Warn("identity fetch failed", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authorization failed"})
	}

	user, err := h.Users.UpsertFromDiscord(ctx, identity.ID, identity.DisplayName())
	if err != nil {
		return err
	}

	isOfficer, officerOrg, err := h.Resolver.IsOfficerAnywhere(ctx, identity.ID)
	if err != nil && !errors.Is(err, discord.ErrNotReady) {
		return err
	}

	pair, err := h.Tokens.GenerateTokenPair(ctx, user.Name, identity.ID)
	if err != nil {
		return err
	}
	if err := h.Sessions.Issue(ctx, c.Response(), session.Data{
		Username:  user.Name,
		DiscordID: identity.ID,
	}); err != nil {
		return err
	}

	q := url.Values{
		"access_token":  {pair.AccessToken},
		"refresh_token": {pair.RefreshToken},
	}
	if isOfficer && officerOrg != nil {
		q.Set("officer_org", officerOrg.Prefix)
	}
	return c.Redirect(http.StatusFound, h.Cfg.ClientURL+"/auth/callback?"+q.Encode())
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a refresh token for a new access token.  The
// refresh token itself is not rotated; it stays valid until its own
// expiry or revocation.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	access, expires, err := h.Tokens.RefreshAccessToken(ctx, req.RefreshToken)
	if errors.Is(err, auth.ErrNoToken) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"access_token": access,
		"expires_at":   expires.UTC().Format(time.RFC3339),
	})
}

type logoutReq struct {
	RefreshToken string `json:"refresh_token"`
}

// Logout revokes the presented credentials: the bearer access token
// joins the denylist, the refresh token row is deleted and the browser
// session is cleared.  Always 200; logging out twice is harmless.
func (h *AuthHandler) Logout(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	var req logoutReq
	_ = c.Bind(&req)
	if req.RefreshToken != "" {
		if _, err := h.Tokens.RevokeRefreshToken(ctx, req.RefreshToken); err != nil {
			h.Log.Warn("refresh token revoke failed", zap.Error(err))
		}
	}
	if raw := bearerToken(c); raw != "" {
		if err := h.Tokens.RevokeToken(ctx, raw); err != nil {
			h.Log.Warn("access token revoke failed", zap.Error(err))
		}
	}
	if err := h.Sessions.Clear(c.Response(), c.Request()); err != nil {
		h.Log.Warn("session clear failed", zap.Error(err))
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

// Validate reports the authenticated principal back to the caller.
func (h *AuthHandler) Validate(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)
	resp := echo.Map{
		"valid":    true,
		"username": p.Username,
		"source":   p.Source,
	}
	if p.DiscordID != "" {
		resp["discord_id"] = p.DiscordID
	}
	if p.Email != "" {
		resp["email"] = p.Email
	}
	return c.JSON(http.StatusOK, resp)
}

type appTokenReq struct {
	Name    string `json:"name"`
	AppName string `json:"app_name"`
}

// AppToken mints a long-lived integration token for a third-party
// application.  Superadmin only; the token has no Discord id binding.
func (h *AuthHandler) AppToken(c echo.Context) error {
	var req appTokenReq
	if err := c.Bind(&req); err != nil || req.Name == "" || req.AppName == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name and app_name required"})
	}
	token, err := h.Tokens.GenerateAppToken(req.Name, req.AppName)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"token": token})
}

func bearerToken(c echo.Context) string {
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(h) > 7 && (h[:7] == "Bearer " || h[:7] == "bearer ") {
		return h[7:]
	}
	return ""
}
