package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"livetalk-economy/internal/apperrors"
	"livetalk-economy/internal/auth"
	"livetalk-economy/internal/config"
)

const (
	UserIDKey    = "user_id"
	UserNameKey  = "user_name"
	SessionIDKey = "session_id"
)

// RateLimiter counts requests per user and action inside a fixed window.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, userID, action string, limit int, window time.Duration) (bool, error)
}

func AuthMiddleware(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		var tokenString string

		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				abort(c, apperrors.New(apperrors.ErrUnauthorized, "invalid authorization format"))
				return
			}
			tokenString = parts[1]
		} else {
			// Browsers cannot set headers on a websocket upgrade.
			tokenString = c.Query("token")
			if tokenString == "" {
				abort(c, apperrors.New(apperrors.ErrUnauthorized, "authorization header required"))
				return
			}
		}

		claims, err := jwtService.ValidateToken(tokenString)
		if err != nil {
			abort(c, apperrors.New(apperrors.ErrUnauthorized, "invalid or expired token"))
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(UserNameKey, claims.Name)
		c.Set(SessionIDKey, claims.SessionID)

		c.Next()
	}
}

// RateLimitMiddleware limits the gift, combo and claim endpoints per user per minute.
// A limiter error lets the request through.
func RateLimitMiddleware(limiter RateLimiter, limits config.RateLimit, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(UserIDKey)
		if userID == "" {
			c.Next()
			return
		}

		path := c.Request.URL.Path

		var action string
		var limit int
		switch {
		case strings.HasSuffix(path, "/gifts") && c.Request.Method == http.MethodPost:
			action, limit = "gift", limits.Gifts
		case strings.HasSuffix(path, "/combo"):
			action, limit = "combo", limits.Combo
		case strings.HasSuffix(path, "/claim"):
			action, limit = "claim", limits.Claims
		default:
			c.Next()
			return
		}
		if limit <= 0 {
			c.Next()
			return
		}

		window := time.Minute
		allowed, err := limiter.CheckRateLimit(c.Request.Context(), userID, action, limit, window)
		if err != nil {
			logger.Warn().Err(err).Str("user_id", userID).Str("action", action).Msg("Rate limit check failed")
			c.Next()
			return
		}
		if !allowed {
			c.Header("Retry-After", "60")
			abort(c, apperrors.New(apperrors.ErrRateLimited, "rate limit exceeded"))
			return
		}

		c.Next()
	}
}

func abort(c *gin.Context, err *apperrors.AppError) {
	c.AbortWithStatusJSON(apperrors.HTTPStatusFromCode(err.Code), err.Response())
}
