package middleware

import (
	"net/http"
	"strings"
	"time"

	"campuscall/internal/core/domain"
	"campuscall/internal/core/services"
	"campuscall/pkg/cache"

	"github.com/gin-gonic/gin"
)

// IdentityKey is the gin context key under which AuthMiddleware stores the
// authenticated domain.Identity.
const IdentityKey = "identity"

// claimsCacheTTL bounds how long a validated token skips signature checks.
const claimsCacheTTL = time.Minute

// bearerToken pulls the token from the Authorization header or, for
// WebSocket upgrades where browsers cannot set headers, the token query
// parameter.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}

func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	// Chat clients hit the API with the same token on every message post;
	// validated identities are cached until close to token expiry.
	claimsCache := cache.New(claimsCacheTTL)

	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			c.Abort()
			return
		}

		if cached, ok := claimsCache.Get(token); ok {
			c.Set(IdentityKey, cached.(domain.Identity))
			c.Next()
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		identity := claims.Identity()

		ttl := claimsCacheTTL
		if claims.ExpiresAt != nil {
			if remaining := time.Until(claims.ExpiresAt.Time); remaining < ttl {
				ttl = remaining
			}
		}
		claimsCache.SetWithTTL(token, identity, ttl)

		c.Set(IdentityKey, identity)
		c.Next()
	}
}

// IdentityFrom returns the identity stored by AuthMiddleware.
func IdentityFrom(c *gin.Context) (domain.Identity, bool) {
	val, exists := c.Get(IdentityKey)
	if !exists {
		return domain.Identity{}, false
	}
	identity, ok := val.(domain.Identity)
	return identity, ok
}
