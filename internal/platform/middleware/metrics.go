package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/metrics"
)

// Metrics records request count and latency per route template. Errors are
// rendered before recording so the status matches what the client saw.
func Metrics(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.ObserveHTTP(c.Request().Method, route, c.Response().Status, time.Since(start))
			return nil
		}
	}
}
