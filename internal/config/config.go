// Package config 提供基于环境变量的应用配置加载与校验。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// AppConfig 应用基本信息。
type AppConfig struct {
	Name            string
	Env             string // dev | test | prod
	Version         string
	Port            int
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// LogConfig 日志配置。
type LogConfig struct {
	Level    string // debug | info | warn | error
	Encoding string // json | console
}

// DatabaseConfig Postgres 连接配置。
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// MigrationsConfig 迁移文件配置。
type MigrationsConfig struct {
	Dir string
}

// CacheConfig 缓存配置。
type CacheConfig struct {
	Enabled bool
	Type    string // redis | memory
	TTL     time.Duration
}

// RedisConfig Redis 连接配置。
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// LimiterConfig 修复接口的限流配置（台账回放开销较大）。
type LimiterConfig struct {
	Enabled bool
	Rate    int64
	Window  time.Duration
	Burst   int64
}

// CORSConfig 跨域配置。
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// RepairConfig 估值修复配置。
// 分类默认价格是业务兜底值，属于配置而非契约，只在条目
// 完全没有定价历史时使用。
type RepairConfig struct {
	DefaultPrices map[string]decimal.Decimal
	FallbackPrice decimal.Decimal
}

// Config 聚合全部配置项。
type Config struct {
	App        AppConfig
	Log        LogConfig
	Database   DatabaseConfig
	Migrations MigrationsConfig
	Cache      CacheConfig
	Redis      RedisConfig
	Limiter    LimiterConfig
	CORS       CORSConfig
	Repair     RepairConfig
}

// Load 从环境变量加载配置。存在 .env 文件时先行载入（本地开发用），
// 缺失项取默认值，非法项返回错误。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		App: AppConfig{
			Name:            getEnv("APP_NAME", "inventory-core"),
			Env:             getEnv("APP_ENV", "dev"),
			Version:         getEnv("APP_VERSION", "0.1.0"),
			Port:            getEnvInt("APP_PORT", 8080),
			RequestTimeout:  getEnvDuration("APP_REQUEST_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvDuration("APP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Log: LogConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Encoding: getEnv("LOG_ENCODING", "json"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "inventory"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "inventory"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Migrations: MigrationsConfig{
			Dir: getEnv("MIGRATIONS_DIR", "migrations"),
		},
		Cache: CacheConfig{
			Enabled: getEnvBool("CACHE_ENABLED", false),
			Type:    getEnv("CACHE_TYPE", "memory"),
			TTL:     getEnvDuration("CACHE_TTL", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Limiter: LimiterConfig{
			Enabled: getEnvBool("LIMITER_ENABLED", false),
			Rate:    int64(getEnvInt("LIMITER_RATE", 5)),
			Window:  getEnvDuration("LIMITER_WINDOW", time.Minute),
			Burst:   int64(getEnvInt("LIMITER_BURST", 5)),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvList("CORS_ALLOWED_HEADERS", []string{"Content-Type", "X-Request-ID", "X-Idempotency-Key"}),
		},
	}

	prices, err := parsePriceTable(getEnv("REPAIR_DEFAULT_PRICES", "Daging=50000,Sayuran=15000,Bumbu=10000"))
	if err != nil {
		return nil, fmt.Errorf("parse REPAIR_DEFAULT_PRICES: %w", err)
	}
	fallback, err := decimal.NewFromString(getEnv("REPAIR_FALLBACK_PRICE", "5000"))
	if err != nil {
		return nil, fmt.Errorf("parse REPAIR_FALLBACK_PRICE: %w", err)
	}
	cfg.Repair = RepairConfig{DefaultPrices: prices, FallbackPrice: fallback}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.App.Env {
	case "dev", "test", "prod":
	default:
		return fmt.Errorf("invalid APP_ENV %q", c.App.Env)
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("invalid APP_PORT %d", c.App.Port)
	}
	if c.Database.Host == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host and name are required")
	}
	if c.Cache.Enabled && c.Cache.Type != "redis" && c.Cache.Type != "memory" {
		return fmt.Errorf("invalid CACHE_TYPE %q", c.Cache.Type)
	}
	if c.Repair.FallbackPrice.IsNegative() {
		return fmt.Errorf("repair fallback price must not be negative")
	}
	return nil
}

// parsePriceTable 解析 "分类=价格,分类=价格" 形式的默认价格表。
func parsePriceTable(s string) (map[string]decimal.Decimal, error) {
	table := make(map[string]decimal.Decimal)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid entry %q", pair)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("invalid price in %q: %w", pair, err)
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("negative price in %q", pair)
		}
		table[strings.TrimSpace(k)] = price
	}
	return table, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
