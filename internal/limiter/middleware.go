package limiter

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rotihouse/inventory-core/internal/resp"
)

// PathKeyGenerator 按请求方法与路径生成限流 Key。
func PathKeyGenerator(c *gin.Context) string {
	return fmt.Sprintf("path:%s:%s", c.Request.Method, c.FullPath())
}

// IPKeyGenerator 按客户端 IP 生成限流 Key。
func IPKeyGenerator(c *gin.Context) string {
	return fmt.Sprintf("ip:%s", c.ClientIP())
}

// RateLimitMiddleware 创建限流中间件。
// 限流器不可用时放行请求：限流是保护手段，不应成为单点。
func RateLimitMiddleware(l Limiter, keyGen func(*gin.Context) string) gin.HandlerFunc {
	if keyGen == nil {
		keyGen = PathKeyGenerator
	}

	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		result, err := l.Allow(ctx, keyGen(c))
		if err != nil {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		if result.RetryAfter > 0 {
			c.Header("Retry-After", strconv.FormatInt(int64(result.RetryAfter.Seconds()), 10))
		}

		if !result.Allowed {
			resp.Error(c.Writer, http.StatusTooManyRequests, resp.CodeRateLimited,
				"too many requests, try again later", c.GetString("request_id"), "")
			c.Abort()
			return
		}

		c.Next()
	}
}
