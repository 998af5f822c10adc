package middleware

import (
	"time"

	"PickFlow/pkg/metrics"

	"github.com/labstack/echo/v4"
)

// Metrics records request metrics labelled by the route template (c.Path())
// rather than the raw URL so label cardinality stays bounded.
func Metrics(rec *metrics.Recorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method

			rec.HTTPStarted(route, method)
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			res := c.Response()
			rec.HTTPFinished(route, method, res.Status, time.Since(start).Seconds(), res.Size)
			return nil
		}
	}
}
