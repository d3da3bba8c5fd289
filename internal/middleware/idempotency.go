package middleware

import (
	"net/http"
	"strings"
)

const (
	HeaderIdempotencyKey = "X-Idempotency-Key"
)

// IdempotencyKey 读取请求头中的幂等键并写入上下文。
// 这里只负责透传：真正的幂等判定由变更引擎基于关联 ID
// （采购单/订单 ID）在存储层以唯一约束完成。
func IdempotencyKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
		if key != "" {
			r = r.WithContext(withIdempotencyKey(r.Context(), key))
		}
		next.ServeHTTP(w, r)
	})
}
