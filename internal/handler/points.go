package handler

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/clubsync/clubsync/internal/middleware"
	"github.com/clubsync/clubsync/internal/model"
	"github.com/clubsync/clubsync/internal/queue"
	"github.com/clubsync/clubsync/internal/repository"
)

// PointsHandler serves the per-organization points ledger.
type PointsHandler struct {
	Users       *repository.UserRepo
	Memberships *repository.MembershipRepo
	Points      *repository.PointsRepo
	Events      *queue.Publisher
	Log         *zap.Logger
}

func NewPointsHandler(users *repository.UserRepo, memberships *repository.MembershipRepo, points *repository.PointsRepo, events *queue.Publisher, log *zap.Logger) *PointsHandler {
	return &PointsHandler{Users: users, Memberships: memberships, Points: points, Events: events, Log: log}
}

type awardReq struct {
	UserUUID string `json:"user_uuid"`
	Email    string `json:"email"`
	Points   int64  `json:"points"`
	Event    string `json:"event"`
}

// Award inserts one ledger entry for a member.  Officer only.  The
// target is named by UUID or email; negative deltas are allowed so
// officers can correct mistakes.
func (h *PointsHandler) Award(c echo.Context) error {
	var req awardReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Points == 0 || req.Event == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "points and event required"})
	}
	org, _ := middleware.OrgFrom(c)
	p, _ := middleware.PrincipalFrom(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	user, err := h.resolveUser(ctx, req.UserUUID, req.Email)
	if errors.Is(err, repository.ErrUserNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}
	if err != nil {
		return err
	}

	entry := model.PointsEntry{
		UserID:         user.ID,
		OrganizationID: org.ID,
		Points:         req.Points,
		Event:          req.Event,
		AwardedBy:      p.Username,
	}
	if _, err := h.Points.Insert(ctx, entry); err != nil {
		return err
	}
	// registration ledger: awarding points implies the user belongs here
	if err := h.Memberships.Upsert(ctx, user.ID, org.ID); err != nil {
		h.Log.Warn("membership upsert failed", zap.Uint64("user_id", user.ID), zap.Error(err))
	}

	_ = h.Events.PublishPointsAwarded(ctx, queue.PointsAwardedEvent{
		OrgPrefix: org.Prefix,
		UserUUID:  user.UUID,
		Points:    req.Points,
		Event:     req.Event,
		AwardedBy: p.Username,
		AwardedAt: time.Now().UTC().Format(time.RFC3339),
	})

	balance, err := h.Points.Balance(ctx, user.ID, org.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"user_uuid": user.UUID,
		"points":    req.Points,
		"balance":   balance,
	})
}

// Leaderboard returns per-user point totals for the organization.
// Authenticated callers see member emails; anonymous callers only get
// the opaque UUID.
func (h *PointsHandler) Leaderboard(c echo.Context) error {
	org, _ := middleware.OrgFrom(c)
	_, authenticated := middleware.PrincipalFrom(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	rows, err := h.Points.Leaderboard(ctx, org.ID)
	if err != nil {
		return err
	}
	out := make([]echo.Map, 0, len(rows))
	for _, row := range rows {
		entry := echo.Map{"name": row.Name, "points": row.Points}
		if authenticated && row.Email != nil {
			entry["identifier"] = *row.Email
		} else {
			entry["identifier"] = row.UUID
		}
		out = append(out, entry)
	}
	return c.JSON(http.StatusOK, echo.Map{"leaderboard": out})
}

// Me returns the caller's balance and history in the organization.
func (h *PointsHandler) Me(c echo.Context) error {
	org, _ := middleware.OrgFrom(c)
	p, _ := middleware.PrincipalFrom(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	user, err := h.Users.GetByEmailOrDiscordID(ctx, p.Email, p.DiscordID)
	if errors.Is(err, repository.ErrUserNotFound) {
		// member of the guild but never awarded anything
		return c.JSON(http.StatusOK, echo.Map{"balance": 0, "entries": []echo.Map{}})
	}
	if err != nil {
		return err
	}
	balance, err := h.Points.Balance(ctx, user.ID, org.ID)
	if err != nil {
		return err
	}
	entries, err := h.Points.ListByUser(ctx, user.ID, org.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"balance": balance,
		"entries": entryViews(entries),
	})
}

// Entries returns the organization's full ledger.  Officer only.
func (h *PointsHandler) Entries(c echo.Context) error {
	org, _ := middleware.OrgFrom(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	entries, err := h.Points.ListByOrg(ctx, org.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"entries": entryViews(entries)})
}

// BulkAward ingests a CSV of awards (identifier,points,event per line).
// Parsing is synchronous so malformed input fails fast; the inserts run
// in the background and the endpoint responds 202.
func (h *PointsHandler) BulkAward(c echo.Context) error {
	org, _ := middleware.OrgFrom(c)
	p, _ := middleware.PrincipalFrom(c)

	file, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "file required"})
	}
	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	type csvRow struct {
		identifier string
		points     int64
		event      string
	}
	var rows []csvRow
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = 3
	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed csv at line " + strconv.Itoa(line)})
		}
		pts, err := strconv.ParseInt(strings.TrimSpace(record[1]), 10, 64)
		if err != nil || pts == 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid points at line " + strconv.Itoa(line)})
		}
		rows = append(rows, csvRow{
			identifier: strings.TrimSpace(record[0]),
			points:     pts,
			event:      strings.TrimSpace(record[2]),
		})
	}
	if len(rows) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "empty csv"})
	}

	awardedBy := p.Username
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		var entries []model.PointsEntry
		skipped := 0
		for _, row := range rows {
			user, err := h.resolveUser(ctx, row.identifier, row.identifier)
			if err != nil {
				skipped++
				continue
			}
			entries = append(entries, model.PointsEntry{
				UserID:         user.ID,
				OrganizationID: org.ID,
				Points:         row.points,
				Event:          row.event,
				AwardedBy:      awardedBy,
			})
		}
		if len(entries) > 0 {
			if err := h.Points.BulkInsert(ctx, entries); err != nil {
				h.Log.Error("bulk award insert failed", zap.String("org", org.Prefix), zap.Error(err))
				return
			}
		}
		h.Log.Info("bulk award finished",
			zap.String("org", org.Prefix),
			zap.Int("inserted", len(entries)),
			zap.Int("skipped", skipped))
	}()

	return c.JSON(http.StatusAccepted, echo.Map{"message": "processing", "rows": len(rows)})
}

func (h *PointsHandler) resolveUser(ctx context.Context, uuid, email string) (model.User, error) {
	if uuid != "" {
		if u, err := h.Users.GetByUUID(ctx, uuid); err == nil {
			return u, nil
		} else if !errors.Is(err, repository.ErrUserNotFound) {
			return model.User{}, err
		}
	}
	if email != "" {
		return h.Users.GetByEmail(ctx, email)
	}
	return model.User{}, repository.ErrUserNotFound
}

func entryViews(entries []model.PointsEntry) []echo.Map {
	out := make([]echo.Map, 0, len(entries))
	for _, e := range entries {
		out = append(out, echo.Map{
			"points":     e.Points,
			"event":      e.Event,
			"awarded_by": e.AwardedBy,
			"awarded_at": e.AwardedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}
