// Package limiter 提供基于 Redis 的限流能力。
// 估值修复接口需要回放采购台账，开销较大，由限流器保护。
package limiter

import (
	"context"
	"time"
)

// LimitResult 限流结果。
type LimitResult struct {
	Allowed    bool          `json:"allowed"`     // 是否允许通过
	Remaining  int64         `json:"remaining"`   // 剩余配额
	RetryAfter time.Duration `json:"retry_after"` // 建议重试时间
}

// Limiter 限流器接口。
type Limiter interface {
	// Allow 检查是否允许单次请求通过。
	Allow(ctx context.Context, key string) (*LimitResult, error)

	// AllowN 检查是否允许 N 次请求通过。
	AllowN(ctx context.Context, key string, n int64) (*LimitResult, error)

	// Reset 重置限流状态。
	Reset(ctx context.Context, key string) error
}

// Config 限流配置。
type Config struct {
	Rate      int64         `json:"rate"`       // 速率（请求数/时间窗口）
	Window    time.Duration `json:"window"`     // 时间窗口
	Burst     int64         `json:"burst"`      // 突发容量（令牌桶）
	KeyPrefix string        `json:"key_prefix"` // Key 前缀
}
