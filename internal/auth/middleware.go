package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/worship-room/pkg/jwt"
)

const cookieName = "auth_token"

// Middleware validates the session token and sets "user_id" on the context.
// The token is read from the Authorization header, the auth_token cookie or
// the token query parameter (for websockets), in that order.
func Middleware(signer *jwt.Signer) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := tokenFromRequest(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "No authorization token"})
			return
		}

		claims, err := signer.ValidateToken(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Next()
	}
}

func tokenFromRequest(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}
	return c.Query("token")
}
