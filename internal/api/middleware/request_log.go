package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"taskr/internal/session"
)

// RequestLogger logs HTTP request/response metadata.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if logger == nil {
			return
		}
		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.String("client_ip", c.ClientIP()),
			slog.String("latency", time.Since(start).String()),
		}
		if id, ok := session.FromContext(c.Request.Context()); ok {
			attrs = append(attrs, slog.Uint64("user_id", uint64(id.UserID)))
		}
		logger.Info("http request", attrs...)
	}
}
