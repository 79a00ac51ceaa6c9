package middleware

import (
	"context"
	"strings"

	"ejsubmit/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// requestTag is an id carried in a header, the gin context and the request context.
type requestTag struct {
	header   string
	ginKey   string
	ctxKey   interface{}
	generate bool
}

var (
	traceTag     = requestTag{header: "X-Trace-Id", ginKey: "trace_id", ctxKey: contextkey.TraceID, generate: true}
	requestIDTag = requestTag{header: "X-Request-Id", ginKey: "request_id", ctxKey: contextkey.RequestID, generate: true}
	userTag      = requestTag{header: "X-User-Id", ginKey: "user_id", ctxKey: contextkey.UserID}
)

// TraceContextConfig selects which ids are taken from request headers.
type TraceContextConfig struct {
	// TrustUserIDHeader copies X-User-Id into the context and echoes it back.
	TrustUserIDHeader bool
}

// TraceContextMiddleware tags every request with trace and request ids,
// generating them when the caller sent none, and honours X-User-Id.
func TraceContextMiddleware() gin.HandlerFunc {
	return TraceContextMiddlewareWithConfig(TraceContextConfig{TrustUserIDHeader: true})
}

// TraceContextMiddlewareWithConfig is TraceContextMiddleware with explicit settings.
func TraceContextMiddlewareWithConfig(cfg TraceContextConfig) gin.HandlerFunc {
	tags := []requestTag{traceTag, requestIDTag}
	if cfg.TrustUserIDHeader {
		tags = append(tags, userTag)
	}
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		for _, tag := range tags {
			value := strings.TrimSpace(c.GetHeader(tag.header))
			if value == "" && tag.generate {
				value = uuid.NewString()
			}
			if value == "" {
				continue
			}
			c.Set(tag.ginKey, value)
			ctx = context.WithValue(ctx, tag.ctxKey, value)
			c.Writer.Header().Set(tag.header, value)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
