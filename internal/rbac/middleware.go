package rbac

import (
	"net/http"

	"callbridge/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireAnyKind allows access if the authenticated actor has any of the
// provided kinds.
// Rules:
// - admin bypasses all checks
// - actor identity must already be in context (use auth.RequireAccessToken
//   earlier in the chain)
func RequireAnyKind(allowed ...auth.ActorKind) gin.HandlerFunc {
	allowedSet := make(map[auth.ActorKind]struct{}, len(allowed))
	for _, k := range allowed {
		allowedSet[k] = struct{}{}
	}

	return func(c *gin.Context) {
		actor, err := auth.ActorFrom(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
			return
		}

		if IsAdmin(actor.Kind) {
			c.Next()
			return
		}

		if _, ok := allowedSet[actor.Kind]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
