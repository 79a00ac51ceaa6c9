package middleware

import (
	"crypto/subtle"
	"strings"

	pkgerrors "ejsubmit/pkg/errors"
	"ejsubmit/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// InternalTokenMiddleware admits only requests carrying token as a Bearer
// credential. An empty token disables the check.
func InternalTokenMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := extractBearerToken(c.GetHeader("Authorization"))
		if got == "" {
			response.AbortWithErrorCode(c, pkgerrors.Unauthorized, "missing token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			response.AbortWithErrorCode(c, pkgerrors.Forbidden, "invalid token")
			return
		}
		c.Next()
	}
}

func extractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
