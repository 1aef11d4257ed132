package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/clubsync/clubsync/internal/discord"
	"github.com/clubsync/clubsync/internal/model"
	"github.com/clubsync/clubsync/internal/repository"
)

// SuperadminHandler serves platform administration: onboarding guilds
// as organizations and toggling them.
type SuperadminHandler struct {
	Orgs    *repository.OrgRepo
	Discord *discord.Client
	Log     *zap.Logger
}

func NewSuperadminHandler(orgs *repository.OrgRepo, dc *discord.Client, log *zap.Logger) *SuperadminHandler {
	return &SuperadminHandler{Orgs: orgs, Discord: dc, Log: log}
}

// Check confirms superadmin access; the gate already did the work.
func (h *SuperadminHandler) Check(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"is_superadmin": true})
}

func adminOrgView(o model.Organization) echo.Map {
	v := echo.Map{
		"id":        o.ID,
		"guild_id":  o.GuildID,
		"prefix":    o.Prefix,
		"name":      o.Name,
		"is_active": o.IsActive,
	}
	if o.OfficerRoleID != nil {
		v["officer_role_id"] = *o.OfficerRoleID
	}
	return v
}

// Dashboard lists every organization (active and not) alongside the
// guilds the bot can see, so unonboarded guilds are easy to spot.
func (h *SuperadminHandler) Dashboard(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	orgs, err := h.Orgs.List(ctx, false)
	if err != nil {
		return err
	}
	orgViews := make([]echo.Map, 0, len(orgs))
	onboarded := map[string]bool{}
	for _, o := range orgs {
		orgViews = append(orgViews, adminOrgView(o))
		onboarded[o.GuildID] = true
	}

	resp := echo.Map{"organizations": orgViews}
	guilds, err := h.Discord.Guilds(ctx)
	if errors.Is(err, discord.ErrNotReady) {
		resp["guilds_unavailable"] = true
	} else if err != nil {
		h.Log.Warn("guild listing failed", zap.Error(err))
		resp["guilds_unavailable"] = true
	} else {
		guildViews := make([]echo.Map, 0, len(guilds))
		for _, g := range guilds {
			guildViews = append(guildViews, echo.Map{
				"id":        g.ID,
				"name":      g.Name,
				"onboarded": onboarded[g.ID],
			})
		}
		resp["guilds"] = guildViews
	}
	return c.JSON(http.StatusOK, resp)
}

type orgReq struct {
	GuildID       string  `json:"guild_id"`
	Prefix        string  `json:"prefix"`
	Name          string  `json:"name"`
	OfficerRoleID *string `json:"officer_role_id"`
}

// CreateOrg onboards a guild as an organization.
func (h *SuperadminHandler) CreateOrg(c echo.Context) error {
	var req orgReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.GuildID == "" || req.Prefix == "" || req.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "guild_id, prefix and name required"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	id, err := h.Orgs.Create(ctx, model.Organization{
		GuildID:       req.GuildID,
		Prefix:        req.Prefix,
		Name:          req.Name,
		OfficerRoleID: req.OfficerRoleID,
		IsActive:      true,
	})
	if errors.Is(err, repository.ErrPrefixTaken) {
		return c.JSON(http.StatusConflict, echo.Map{"error": "prefix already in use"})
	}
	if errors.Is(err, repository.ErrGuildTaken) {
		return c.JSON(http.StatusConflict, echo.Map{"error": "guild already onboarded"})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, echo.Map{"id": id})
}

// UpdateOrg edits an organization's name, prefix or officer role.
func (h *SuperadminHandler) UpdateOrg(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid organization id"})
	}
	var req orgReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	org, err := h.Orgs.GetByID(ctx, id)
	if errors.Is(err, repository.ErrOrgNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "organization not found"})
	}
	if err != nil {
		return err
	}
	if req.Name != "" {
		org.Name = req.Name
	}
	if req.Prefix != "" {
		org.Prefix = req.Prefix
	}
	if req.OfficerRoleID != nil {
		org.OfficerRoleID = req.OfficerRoleID
	}
	err = h.Orgs.Update(ctx, org)
	if errors.Is(err, repository.ErrPrefixTaken) {
		return c.JSON(http.StatusConflict, echo.Map{"error": "prefix already in use"})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, adminOrgView(org))
}

// DeleteOrg removes an organization that never accumulated data.  Any
// surviving ledger, catalog or membership rows block the delete; those
// tenants get deactivated instead.
func (h *SuperadminHandler) DeleteOrg(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid organization id"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	err = h.Orgs.Delete(ctx, id)
	if errors.Is(err, repository.ErrOrgNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "organization not found"})
	}
	if errors.Is(err, repository.ErrOrgHasData) {
		return c.JSON(http.StatusConflict, echo.Map{"error": "organization still has data; deactivate it instead"})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "deleted"})
}

type toggleReq struct {
	Active bool `json:"active"`
}

// ToggleOrg activates or deactivates an organization.  Deactivated
// organizations 404 on every tenant-scoped route.
func (h *SuperadminHandler) ToggleOrg(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid organization id"})
	}
	var req toggleReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	err = h.Orgs.SetActive(ctx, id, req.Active)
	if errors.Is(err, repository.ErrOrgNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "organization not found"})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "updated", "active": req.Active})
}
