package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// RequireAccessToken verifies an access token and injects the actor into the
// request context. It does not gate actor kinds; that belongs to internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tok := strings.TrimPrefix(raw, bearerPrefix)

		claims, err := m.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		actor := claims.Actor()
		c.Request = c.Request.WithContext(WithActor(c.Request.Context(), actor))

		// Also store on gin context for handler convenience.
		c.Set("actor_id", actor.ID)
		c.Set("actor_kind", string(actor.Kind))

		c.Next()
	}
}
