package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
)

// requestLogger scopes logger to the request: id, method, path, route and
// caller.
func requestLogger(logger zerolog.Logger, c echo.Context) zerolog.Logger {
	req := c.Request()
	rid, _ := c.Get("request_id").(string)
	return logger.With().
		Str("request_id", rid).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Str("route", c.Path()).
		Str("user_id", auth.UserIDFromContext(req.Context())).
		Logger()
}

func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			// Let echo render the error first so the logged status is final.
			if err != nil {
				c.Error(err)
			}

			l := requestLogger(logger, c)
			status := c.Response().Status
			evt := l.Info()
			switch {
			case status >= 500:
				evt = l.Error().Err(err)
			case status >= 400:
				evt = l.Warn().Err(err)
			}

			evt.
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return nil
		}
	}
}
