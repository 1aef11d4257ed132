package middleware

import (
	"net/http"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// NewHTTPErrorHandler returns the outermost error handler.  Echo HTTP
// errors keep their status; everything else is logged, reported to
// Sentry when a hub is attached, and masked as a generic 500 so internal
// details never reach clients.
func NewHTTPErrorHandler(log *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		if he, ok := err.(*echo.HTTPError); ok {
			msg := he.Message
			if s, ok := msg.(string); ok {
				msg = map[string]string{"error": s}
			}
			if jerr := c.JSON(he.Code, msg); jerr != nil {
				log.Error("error response write failed", zap.Error(jerr))
			}
			return
		}

		log.Error("unhandled request error",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		if hub := sentryecho.GetHubFromContext(c); hub != nil {
			hub.WithScope(func(scope *sentry.Scope) {
				scope.SetTag("path", c.Path())
				hub.CaptureException(err)
			})
		}
		if jerr := c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"}); jerr != nil {
			log.Error("error response write failed", zap.Error(jerr))
		}
	}
}
