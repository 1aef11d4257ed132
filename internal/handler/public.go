package handler

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/labstack/echo/v4"
)

// PublicHandler serves unauthenticated endpoints.
type PublicHandler struct {
	startedAt time.Time
	commit    string
}

func NewPublicHandler() *PublicHandler {
	return &PublicHandler{
		startedAt: time.Now().UTC(),
		commit:    vcsRevision(),
	}
}

// Health reports liveness.  Always 200 while the process is up; load
// balancers and uptime monitors key off it.
func (h *PublicHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"status":     "ok",
		"service":    "clubsync",
		"commit":     h.commit,
		"started_at": h.startedAt.Format(time.RFC3339),
	})
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return "unknown"
}
