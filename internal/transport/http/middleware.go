package http

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/avdeev/cobrowse/internal/config"
)

// ClientTokenMiddleware hands every browser a stable token in the
// signed cookie session. The websocket path reuses it as the
// generated-identity id.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		token, _ := sess.Get("client_token").(string)
		if token == "" {
			token = uuid.NewString()
			sess.Set("client_token", token)
			sess.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
			if err := sess.Save(); err != nil {
				log.Warn().Str("module", "transport.http").Err(err).Msg("client token session save")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// RequireBearer extracts the caller's provisioning credential. The key
// is forwarded to the engine, never validated locally.
func RequireBearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				gin.H{"detail": "Invalid authorization header. Use 'Bearer <api_key>'"})
			return
		}
		c.Set("api_key", strings.TrimPrefix(auth, "Bearer "))
		c.Next()
	}
}

// RequireAdmin compares X-Admin-Token against configuration, exact
// match only. This credential is independent of the session bearer.
func RequireAdmin(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.AdminToken == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"detail": "Admin access not configured"})
			return
		}
		token := c.GetHeader("X-Admin-Token")
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Missing admin token"})
			return
		}
		if token != cfg.AdminToken {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "Invalid admin token"})
			return
		}
		c.Next()
	}
}
