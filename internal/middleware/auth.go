package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tangle-social/backend/internal/models"
	"github.com/tangle-social/backend/internal/util"
)

// TokenValidator checks a bearer token and resolves the current user.
// auth.Service implements it.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*models.User, error)
}

// AuthMiddleware validates the Authorization header and stores the current
// user in the gin context
func AuthMiddleware(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			util.AbortUnauthorized(c, "no token provided")
			return
		}

		user, err := validator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			util.AbortUnauthorized(c, "invalid token")
			return
		}

		c.Set("user_id", user.ID)
		c.Set("current_user", user)
		c.Next()
	}
}

// OptionalAuthMiddleware resolves the user when a token is present but lets
// anonymous requests through; read endpoints use it to personalize
// responses
func OptionalAuthMiddleware(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := bearerToken(c); token != "" {
			if user, err := validator.ValidateToken(c.Request.Context(), token); err == nil {
				c.Set("user_id", user.ID)
				c.Set("current_user", user)
			}
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return header
}
