package middleware

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"hui-manager/internal/model"
	"hui-manager/internal/service"

	"github.com/gin-gonic/gin"
)

// Context keys set by JWTAuth.
const (
	KeyUserID   = "user_id"
	KeyRole     = "role"
	KeyUserName = "user_name"
)

// QueryTokenPaths lists the routes that also take the token from a "token"
// query parameter, for EventSource clients that cannot set headers.
var QueryTokenPaths = []string{"/api/notifications/stream"}

// JWTAuth accepts "Authorization: Bearer <token>" (or the query token on
// QueryTokenPaths) and loads the caller from the database on every request.
// Tokens that expire within renewWindow are renewed through the X-New-Token
// header.
func JWTAuth(auth *service.AuthService, renewWindow time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var raw string
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			raw = h[7:]
		} else if slices.Contains(QueryTokenPaths, c.FullPath()) {
			raw = c.Query("token")
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		u, claims, err := auth.Authenticate(c.Request.Context(), raw)
		if errors.Is(err, service.ErrInactiveUser) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(KeyUserID, u.ID)
		c.Set(KeyRole, string(u.Role))
		c.Set(KeyUserName, u.Name)

		if claims.ExpiresAt != nil && time.Until(claims.ExpiresAt.Time) < renewWindow {
			if token, err := auth.IssueToken(u); err == nil {
				c.Header("X-New-Token", token)
			}
		}

		c.Next()
	}
}

// RequireRole rejects callers whose role is not listed.
func RequireRole(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !slices.Contains(roles, model.Role(c.GetString(KeyRole))) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// Actor builds the service actor for the authenticated request.
func Actor(c *gin.Context) service.Actor {
	return service.Actor{
		UserID: c.GetString(KeyUserID),
		Role:   model.Role(c.GetString(KeyRole)),
		IP:     c.ClientIP(),
	}
}
