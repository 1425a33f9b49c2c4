package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/avatar-proxy/common/logger"
)

// RequestLogger logs every request through the service logger. Level follows
// the status code: INFO below 400, WARN for 4xx, ERROR for 5xx.
func RequestLogger(log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			req := c.Request()
			if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
				c.SetRequest(req.WithContext(logger.ContextWithRequestID(req.Context(), id)))
				req = c.Request()
			}

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			level := slog.LevelInfo
			if status >= 500 {
				level = slog.LevelError
			} else if status >= 400 {
				level = slog.LevelWarn
			}

			log.WithContext(req.Context()).LogAttrs(req.Context(), level, "http request",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("status", status),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", c.Response().Size),
				slog.String("remote_ip", c.RealIP()),
			)
			return nil
		}
	}
}
