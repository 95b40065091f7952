package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/chat-realtime/internal/domain"
	"github.com/example/chat-realtime/internal/service/auth"
	"github.com/example/chat-realtime/pkg/httputil"
)

// IdentityKey is where AuthMiddleware stores the authenticated identity in
// the gin context.
const IdentityKey = "identity"

// AuthMiddleware validates the bearer credential (revocation list first,
// then signature and expiry) and aborts unauthenticated requests.
func AuthMiddleware(validator *auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := httputil.GetTokenFromRequest(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		identity, err := validator.Validate(c.Request.Context(), token)
		if err != nil {
			httputil.ClearAuthCookie(c.Writer)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(IdentityKey, *identity)
		c.Next()
	}
}

// IdentityFrom pulls the authenticated identity off the request context.
func IdentityFrom(c *gin.Context) (domain.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return domain.Identity{}, false
	}
	identity, ok := v.(domain.Identity)
	return identity, ok
}
