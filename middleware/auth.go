package middleware

import (
	"net/http"
	"strings"

	"github.com/Skynet2005/MobileGame-sub001/config"
	"github.com/gin-gonic/gin"
)

const CharacterIDKey = "character_id"

// BearerToken extracts the token from the Authorization header, falling back
// to the "token" query parameter used by browser WebSocket clients.
func BearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}

// Auth validates the JWT and stores the character ID in the context.
func Auth(sec config.SecurityConfig) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenStr := BearerToken(ctx)
		if tokenStr == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := ParseToken(tokenStr, sec.JWTSecret)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ctx.Set(CharacterIDKey, claims.CharacterID)
		ctx.Next()
	}
}

// GetCharacterID retrieves the authenticated character ID from the Gin context.
func GetCharacterID(c *gin.Context) int64 {
	if v, exists := c.Get(CharacterIDKey); exists {
		return v.(int64)
	}
	return 0
}

// AdminKey guards operator endpoints with a shared key sent as X-Admin-Key.
// An empty key disables the endpoints entirely.
func AdminKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" || c.GetHeader("X-Admin-Key") != key {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
