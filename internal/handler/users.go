package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/clubsync/clubsync/internal/discord"
	"github.com/clubsync/clubsync/internal/middleware"
	"github.com/clubsync/clubsync/internal/repository"
)

// UserHandler serves the caller's own profile.
type UserHandler struct {
	Users   *repository.UserRepo
	Orgs    *repository.OrgRepo
	Discord *discord.Client
	Log     *zap.Logger
}

func NewUserHandler(users *repository.UserRepo, orgs *repository.OrgRepo, dc *discord.Client, log *zap.Logger) *UserHandler {
	return &UserHandler{Users: users, Orgs: orgs, Discord: dc, Log: log}
}

// Me returns the caller's profile.  Tokens from early deployments carry
// no Discord id; for those the identity is recovered by display-name
// search across the bot's guilds.  That scan is O(guilds x members) and
// tolerable only because guild counts are small.
func (h *UserHandler) Me(c echo.Context) error {
	p, _ := middleware.PrincipalFrom(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	discordID := p.DiscordID
	if discordID == "" && p.Email == "" {
		discordID = h.findByDisplayName(ctx, p.Username)
	}

	user, err := h.Users.GetByEmailOrDiscordID(ctx, p.Email, discordID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}
	if err != nil {
		return err
	}
	resp := echo.Map{
		"uuid": user.UUID,
		"name": user.Name,
	}
	if user.Email != nil {
		resp["email"] = *user.Email
	}
	if user.DiscordID != nil {
		resp["discord_id"] = *user.DiscordID
	}
	return c.JSON(http.StatusOK, resp)
}

// ByDiscordID resolves another member's profile from a Discord id.  Used
// by the bot bridge to map chat users onto platform accounts.
func (h *UserHandler) ByDiscordID(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	user, err := h.Users.GetByDiscordID(ctx, c.Param("discordID"))
	if errors.Is(err, repository.ErrUserNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"uuid": user.UUID,
		"name": user.Name,
	})
}

// findByDisplayName scans every organization's guild for a member whose
// display name matches.  Returns the empty string when nothing matches;
// ambiguity resolves to the first hit.
func (h *UserHandler) findByDisplayName(ctx context.Context, name string) string {
	orgs, err := h.Orgs.List(ctx, true)
	if err != nil {
		h.Log.Warn("organization listing failed during name lookup", zap.Error(err))
		return ""
	}
	for _, org := range orgs {
		members, err := h.Discord.GuildMembers(ctx, org.GuildID)
		if err != nil {
			h.Log.Warn("guild member scan failed",
				zap.String("guild_id", org.GuildID), zap.Error(err))
			continue
		}
		for _, m := range members {
			if m.DisplayName() == name {
				return m.User.ID
			}
		}
	}
	return ""
}
