package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/clubsync/clubsync/internal/authz"
)

// BotHandler receives callbacks from the companion Discord bot.
type BotHandler struct {
	Resolver *authz.Resolver
	Log      *zap.Logger
}

func NewBotHandler(resolver *authz.Resolver, log *zap.Logger) *BotHandler {
	return &BotHandler{Resolver: resolver, Log: log}
}

type roleChangeReq struct {
	GuildID   string `json:"guild_id"`
	DiscordID string `json:"discord_id"`
}

// RoleChange drops cached authorization answers for a user whose roles
// just changed, so demotions bite before the cache TTL would expire.
// App-token gated.
func (h *BotHandler) RoleChange(c echo.Context) error {
	var req roleChangeReq
	if err := c.Bind(&req); err != nil || req.GuildID == "" || req.DiscordID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "guild_id and discord_id required"})
	}
	h.Resolver.Invalidate(c.Request().Context(), req.GuildID, req.DiscordID)
	h.Log.Info("authorization cache invalidated",
		zap.String("guild_id", req.GuildID), zap.String("discord_id", req.DiscordID))
	return c.JSON(http.StatusOK, echo.Map{"message": "invalidated"})
}
