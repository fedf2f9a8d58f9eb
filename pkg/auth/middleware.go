package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	tokenHeader = "Authorization"
	tokenPrefix = "Bearer "

	// BidderIDKey is the gin context key holding the authenticated bidder ID.
	BidderIDKey = "bidder_id"
)

// Middleware returns a gin middleware that rejects requests without a valid
// bearer token and injects the bidder ID into the request context.
func Middleware(verifier *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(tokenHeader)
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "unauthenticated",
				"message": "missing authorization header",
			})
			return
		}

		if !strings.HasPrefix(authHeader, tokenPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "unauthenticated",
				"message": "invalid authorization header format",
			})
			return
		}

		claims, err := verifier.ValidateToken(strings.TrimPrefix(authHeader, tokenPrefix))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "unauthenticated",
				"message": "invalid or expired token",
			})
			return
		}

		c.Set(BidderIDKey, claims.Subject)
		c.Next()
	}
}

// BidderID retrieves the authenticated bidder ID from the gin context.
func BidderID(c *gin.Context) (string, bool) {
	id, ok := c.Get(BidderIDKey)
	if !ok {
		return "", false
	}
	s, ok := id.(string)
	return s, ok
}
