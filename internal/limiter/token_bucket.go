package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBucketLimiter 令牌桶限流器，状态保存在 Redis 中，
// 补充与扣减以 Lua 脚本原子执行。
type TokenBucketLimiter struct {
	client    redis.Cmdable
	config    *Config
	keyPrefix string
}

// NewTokenBucketLimiter 创建令牌桶限流器。
func NewTokenBucketLimiter(client redis.Cmdable, config *Config) (*TokenBucketLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.Rate <= 0 || config.Window <= 0 {
		return nil, fmt.Errorf("rate and window must be positive")
	}
	if config.Burst <= 0 {
		config.Burst = config.Rate
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "limiter:tb"
	}

	return &TokenBucketLimiter{
		client:    client,
		config:    config,
		keyPrefix: config.KeyPrefix,
	}, nil
}

// Redis Lua 脚本：令牌桶算法。
const tokenBucketScript = `
-- KEYS[1]: 令牌桶key
-- ARGV[1]: 容量(burst)
-- ARGV[2]: 补充速率(rate)
-- ARGV[3]: 时间窗口(秒)
-- ARGV[4]: 请求令牌数
-- ARGV[5]: 当前时间戳

local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local window = tonumber(ARGV[3])
local tokens_requested = tonumber(ARGV[4])
local now = tonumber(ARGV[5])

local bucket = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(bucket[1]) or capacity
local last_refill = tonumber(bucket[2]) or now

local time_passed = math.max(0, now - last_refill)
local tokens_to_add = math.floor(time_passed * rate / window)
tokens = math.min(capacity, tokens + tokens_to_add)
last_refill = now

if tokens >= tokens_requested then
    tokens = tokens - tokens_requested
    redis.call('HMSET', key, 'tokens', tokens, 'last_refill', last_refill)
    redis.call('EXPIRE', key, window * 2)
    return {1, tokens, 0}
else
    local tokens_needed = tokens_requested - tokens
    local retry_after = math.ceil(tokens_needed * window / rate)
    redis.call('HMSET', key, 'tokens', tokens, 'last_refill', last_refill)
    redis.call('EXPIRE', key, window * 2)
    return {0, tokens, retry_after}
end
`

func (tb *TokenBucketLimiter) getKey(key string) string {
	return fmt.Sprintf("%s:%s", tb.keyPrefix, key)
}

// Allow 检查是否允许单次请求通过。
func (tb *TokenBucketLimiter) Allow(ctx context.Context, key string) (*LimitResult, error) {
	return tb.AllowN(ctx, key, 1)
}

// AllowN 检查是否允许 N 次请求通过。
func (tb *TokenBucketLimiter) AllowN(ctx context.Context, key string, n int64) (*LimitResult, error) {
	result := tb.client.Eval(ctx, tokenBucketScript,
		[]string{tb.getKey(key)},
		tb.config.Burst,
		tb.config.Rate,
		int64(tb.config.Window.Seconds()),
		n,
		time.Now().Unix(),
	)
	if result.Err() != nil {
		return nil, fmt.Errorf("failed to execute token bucket script: %w", result.Err())
	}

	values, ok := result.Val().([]interface{})
	if !ok || len(values) != 3 {
		return nil, fmt.Errorf("unexpected script result format")
	}

	allowed, _ := values[0].(int64)
	remaining, _ := values[1].(int64)
	retryAfter, _ := values[2].(int64)

	return &LimitResult{
		Allowed:    allowed == 1,
		Remaining:  remaining,
		RetryAfter: time.Duration(retryAfter) * time.Second,
	}, nil
}

// Reset 重置令牌桶。
func (tb *TokenBucketLimiter) Reset(ctx context.Context, key string) error {
	if err := tb.client.Del(ctx, tb.getKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to reset token bucket: %w", err)
	}
	return nil
}
