package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/clubsync/clubsync/internal/calendar"
)

// CalendarHandler exposes the Notion to Google Calendar sync.  Syncer
// is nil when calendar credentials are not configured.
type CalendarHandler struct {
	Syncer *calendar.Syncer
	Log    *zap.Logger
}

func NewCalendarHandler(syncer *calendar.Syncer, log *zap.Logger) *CalendarHandler {
	return &CalendarHandler{Syncer: syncer, Log: log}
}

// Sync triggers a run in the background.  202 when started, 409 when a
// run is already in flight.
func (h *CalendarHandler) Sync(c echo.Context) error {
	if h.Syncer == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "calendar sync not configured"})
	}
	if h.Syncer.Status().Running {
		return c.JSON(http.StatusConflict, echo.Map{"error": "sync already running"})
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		started, err := h.Syncer.TryRun(ctx)
		if !started {
			return
		}
		if err != nil {
			h.Log.Error("manual calendar sync failed", zap.Error(err))
		}
	}()
	return c.JSON(http.StatusAccepted, echo.Map{"message": "sync started"})
}

// Status returns the last run's outcome.
func (h *CalendarHandler) Status(c echo.Context) error {
	if h.Syncer == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "calendar sync not configured"})
	}
	return c.JSON(http.StatusOK, h.Syncer.Status())
}
