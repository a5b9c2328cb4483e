package middleware

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gin-gonic/gin"

	"taskr/internal/session"
)

// TokenKey is the gin context key holding the raw session token.
const TokenKey = "sessionToken"

// Identifier resolves a session token into an identity.
type Identifier interface {
	Identify(ctx context.Context, token string) (session.Identity, error)
}

// Session reads the session cookie and, when it resolves, stores the identity
// in the request context. Requests without a valid session pass through
// anonymously.
func Session(auth Identifier, cookieName string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(cookieName)
		if err != nil || token == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		id, err := auth.Identify(ctx, token)
		switch {
		case err == nil:
			c.Request = c.Request.WithContext(session.WithIdentity(ctx, id))
			c.Set(TokenKey, token)
		case errors.Is(err, session.ErrNoSession):
		default:
			if logger != nil {
				logger.Warn("session lookup failed", slog.String("error", err.Error()))
			}
		}
		c.Next()
	}
}
