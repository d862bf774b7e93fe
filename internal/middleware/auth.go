// Package middleware provides Gin HTTP middleware for authentication, rate limiting,
// security headers, request ids, metrics and audit logging.
//
// Middleware ordering matters and is enforced in router.go:
//
//	/api/auth/*:  Security → RateLimit → Handler
//	/api/*:       Security → Auth → RateLimit → Audit → Handler
//
// Security headers run first so they appear on all responses including errors.
// Account routes are limited per client IP before any database work. Authenticated
// routes are limited after Auth so the bucket key is the user id.
// Audit logging runs after Auth so the user id is known when the entry is written.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/FilipRus/boxItFindIt/internal/auth"
	"github.com/FilipRus/boxItFindIt/internal/db/models"
)

// Context keys set by AuthMiddleware.
const (
	UserKey       = "user"
	UserIDKey     = "user_id"
	AuthMethodKey = "auth_method"
)

// UserLookup loads the account behind a session token.
type UserLookup interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": msg,
		"code":  "unauthorized",
	})
}

// AuthMiddleware validates the Bearer session token and loads its user. Tokens of
// deleted accounts are rejected even while their signature is still valid.
func AuthMiddleware(tokens *auth.TokenManager, users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "Missing authorization header")
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			unauthorized(c, "Authorization header must start with 'Bearer '")
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			unauthorized(c, "Authorization token is empty")
			return
		}

		claims, err := tokens.Validate(token)
		if err != nil {
			unauthorized(c, "Invalid or expired token")
			return
		}

		user, err := users.GetUserByID(c.Request.Context(), claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load user",
				"code":  "internal",
			})
			return
		}
		if user == nil {
			unauthorized(c, "User not found")
			return
		}

		c.Set(UserKey, user)
		c.Set(UserIDKey, user.ID)
		c.Set(AuthMethodKey, "jwt")

		c.Next()
	}
}

// CurrentUserID returns the id set by AuthMiddleware, or "".
func CurrentUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// CurrentUser returns the user set by AuthMiddleware, or nil.
func CurrentUser(c *gin.Context) *models.User {
	if v, ok := c.Get(UserKey); ok {
		if u, ok := v.(*models.User); ok {
			return u
		}
	}
	return nil
}
