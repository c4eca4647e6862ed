package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/post-resolver/internal/identity"
	"github.com/d60-Lab/post-resolver/pkg/response"
)

// Identity 解析 Bearer token 并把调用方身份放进请求 context。
// 没带 token 视为匿名；带了但无效直接 401
func Identity(v *identity.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		id := identity.Anonymous(ip)

		if header := c.GetHeader("Authorization"); header != "" {
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				response.Unauthorized(c, "malformed authorization header")
				return
			}
			verified, err := v.Verify(strings.TrimSpace(token), ip)
			if err != nil {
				response.Unauthorized(c, "invalid token")
				return
			}
			id = verified
		}

		c.Request = c.Request.WithContext(identity.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}
