package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/connectsphere/server/cache"
	"github.com/connectsphere/server/config"
	"github.com/gin-gonic/gin"
)

const (
	UserIDKey = "user_id"
	TokenKey  = "auth_token"
)

// SessionKey is the cache key whose presence keeps token valid.
func SessionKey(token string) string { return "session:" + token }

// BannedKey marks a user whose sessions must be refused.
func BannedKey(userID int64) string { return "banned:" + strconv.FormatInt(userID, 10) }

// bearerToken returns the token from the Authorization header, or from the
// token query parameter when allowQuery is set (EventSource cannot send headers).
func bearerToken(c *gin.Context, allowQuery bool) string {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if allowQuery {
		return c.Query("token")
	}
	return ""
}

// Auth validates the Bearer JWT token and checks the session cache.
func Auth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return authenticate(sec, c, false)
}

// StreamAuth is Auth that also accepts ?token= for the notification stream.
func StreamAuth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return authenticate(sec, c, true)
}

func authenticate(sec config.SecurityConfig, c cache.Cache, allowQuery bool) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenStr := bearerToken(ctx, allowQuery)
		if tokenStr == "" {
			abortFail(ctx, http.StatusUnauthorized, "not authorized, no token")
			return
		}

		claims, err := ParseToken(tokenStr, sec.JWTSecret)
		if err != nil {
			abortFail(ctx, http.StatusUnauthorized, "not authorized, invalid token")
			return
		}

		cacheCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		exists, err := c.Exists(cacheCtx, SessionKey(tokenStr))
		if err != nil || !exists {
			abortFail(ctx, http.StatusUnauthorized, "session expired")
			return
		}
		if banned, err := c.Exists(cacheCtx, BannedKey(claims.UserID)); err == nil && banned {
			abortFail(ctx, http.StatusForbidden, "account suspended")
			return
		}

		ctx.Set(UserIDKey, claims.UserID)
		ctx.Set(TokenKey, tokenStr)
		ctx.Next()
	}
}

// GetUserID retrieves the authenticated user ID from the Gin context.
func GetUserID(c *gin.Context) int64 {
	if v, exists := c.Get(UserIDKey); exists {
		return v.(int64)
	}
	return 0
}

// GetToken retrieves the raw bearer token of the current request.
func GetToken(c *gin.Context) string {
	return c.GetString(TokenKey)
}
