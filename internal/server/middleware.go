package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/payables/internal/channel"
	obscontext "github.com/smallbiznis/payables/internal/observability/context"
	"github.com/smallbiznis/payables/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	HeaderChannel         = "X-Ledger-Channel"
	HeaderChannelGrant    = "X-Channel-Grant"
	HeaderChannelGrantExp = "X-Channel-Grant-Expires-At"
	HeaderUserID          = "X-User-ID"
	contextGrantKey       = "ledger_grant"
	contextUserIDKey      = "user_id"
)

// ChannelContext reads the channel grant and acting user from request headers.
// The grant is only parsed here; services resolve it against their clock.
func ChannelContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ch, err := channel.Parse(c.GetHeader(HeaderChannel))
		if err != nil {
			AbortWithError(c, err)
			return
		}

		grant := channel.FiscalGrant()
		if ch == channel.Internal {
			grant = channel.Grant{Channel: channel.Internal}
			if granted, _ := strconv.ParseBool(strings.TrimSpace(c.GetHeader(HeaderChannelGrant))); granted {
				grant.Granted = true
			}
			if raw := strings.TrimSpace(c.GetHeader(HeaderChannelGrantExp)); raw != "" {
				expiresAt, err := time.Parse(time.RFC3339, raw)
				if err != nil {
					AbortWithError(c, newValidationError("channel_grant_expires_at", "invalid_channel_grant_expires_at", "invalid channel grant expiry"))
					return
				}
				grant.ExpiresAt = expiresAt.UTC()
			}
		}

		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		c.Set(contextGrantKey, grant)
		c.Set(contextUserIDKey, userID)

		ctx := obscontext.WithChannel(c.Request.Context(), string(ch))
		ctx = obscontext.WithActor(ctx, userID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func grantFrom(c *gin.Context) channel.Grant {
	if value, ok := c.Get(contextGrantKey); ok {
		if grant, ok := value.(channel.Grant); ok {
			return grant
		}
	}
	return channel.FiscalGrant()
}

func actorFrom(c *gin.Context) string {
	return c.GetString(contextUserIDKey)
}

// WriteRateLimit throttles mutating requests per actor and channel.
func (s *Server) WriteRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.writeLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		ch := obscontext.ChannelFromContext(ctx)
		res, err := s.writeLimiter.Allow(ctx, actorFrom(c), ch)
		if err != nil {
			logger.FromContext(ctx).Warn("write rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			logger.FromContext(ctx).Warn("write rate limit exceeded",
				zap.String("channel", ch),
				zap.String("route", c.FullPath()),
			)
			c.Header("Retry-After", strconv.Itoa(res.RetryAfterSeconds()))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
