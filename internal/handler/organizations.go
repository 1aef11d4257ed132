package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/clubsync/clubsync/internal/middleware"
	"github.com/clubsync/clubsync/internal/model"
	"github.com/clubsync/clubsync/internal/repository"
)

// OrgHandler serves organization metadata and the registration ledger.
type OrgHandler struct {
	Orgs        *repository.OrgRepo
	Users       *repository.UserRepo
	Memberships *repository.MembershipRepo
	Log         *zap.Logger
}

func NewOrgHandler(orgs *repository.OrgRepo, users *repository.UserRepo, memberships *repository.MembershipRepo, log *zap.Logger) *OrgHandler {
	return &OrgHandler{Orgs: orgs, Users: users, Memberships: memberships, Log: log}
}

func orgView(o model.Organization) echo.Map {
	v := echo.Map{
		"prefix": o.Prefix,
		"name":   o.Name,
	}
	if len(o.Config) > 0 {
		v["config"] = json.RawMessage(o.Config)
	}
	return v
}

// List returns every active organization.  Public.
func (h *OrgHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	orgs, err := h.Orgs.List(ctx, true)
	if err != nil {
		return err
	}
	out := make([]echo.Map, 0, len(orgs))
	for _, o := range orgs {
		out = append(out, orgView(o))
	}
	return c.JSON(http.StatusOK, echo.Map{"organizations": out})
}

// Get returns one active organization's public details.
func (h *OrgHandler) Get(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	org, err := h.Orgs.GetByPrefix(ctx, c.Param("prefix"))
	if errors.Is(err, repository.ErrOrgNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "organization not found"})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, orgView(org))
}

// Join records the caller in the registration ledger.  Live Discord
// membership was already verified by the member gate; this table only
// tracks who has interacted with the organization through the platform.
func (h *OrgHandler) Join(c echo.Context) error {
	org, _ := middleware.OrgFrom(c)
	p, _ := middleware.PrincipalFrom(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	user, err := h.Users.GetByEmailOrDiscordID(ctx, p.Email, p.DiscordID)
	if errors.Is(err, repository.ErrUserNotFound) {
		u := model.User{Name: p.Username}
		if p.DiscordID != "" {
			id := p.DiscordID
			u.DiscordID = &id
		}
		uid, cerr := h.Users.Create(ctx, u)
		if cerr != nil {
			return cerr
		}
		user, err = h.Users.GetByID(ctx, uid)
	}
	if err != nil {
		return err
	}
	if err := h.Memberships.Upsert(ctx, user.ID, org.ID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "registered"})
}

// Leave deactivates the caller's registration.  Ledger history stays.
func (h *OrgHandler) Leave(c echo.Context) error {
	org, _ := middleware.OrgFrom(c)
	p, _ := middleware.PrincipalFrom(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	user, err := h.Users.GetByEmailOrDiscordID(ctx, p.Email, p.DiscordID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return c.JSON(http.StatusOK, echo.Map{"message": "not registered"})
	}
	if err != nil {
		return err
	}
	if err := h.Memberships.Deactivate(ctx, user.ID, org.ID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "left"})
}

// Members lists registered users.  Officer only.
func (h *OrgHandler) Members(c echo.Context) error {
	org, _ := middleware.OrgFrom(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	users, err := h.Memberships.ListByOrg(ctx, org.ID)
	if err != nil {
		return err
	}
	out := make([]echo.Map, 0, len(users))
	for _, u := range users {
		v := echo.Map{"uuid": u.UUID, "name": u.Name}
		if u.Email != nil {
			v["email"] = *u.Email
		}
		out = append(out, v)
	}
	return c.JSON(http.StatusOK, echo.Map{"members": out})
}

type orgConfigReq struct {
	Config json.RawMessage `json:"config"`
}

// UpdateConfig replaces the organization's free-form configuration
// blob.  Officer only.
func (h *OrgHandler) UpdateConfig(c echo.Context) error {
	org, _ := middleware.OrgFrom(c)

	var req orgConfigReq
	if err := c.Bind(&req); err != nil || len(req.Config) == 0 || !json.Valid(req.Config) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "config must be a JSON object"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Orgs.UpdateConfig(ctx, org.ID, req.Config); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "updated"})
}
