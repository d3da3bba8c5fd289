// Package logger 基于 zap 构建结构化日志器。
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New 按环境构建日志器：prod 使用生产配置（JSON、Info 起步），
// 其他环境使用开发配置；service/version 作为公共字段附加到每条日志。
func New(env, level, encoding, service, version string) (*zap.Logger, error) {
	var cfg zap.Config
	if env == "prod" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	switch encoding {
	case "", "json":
		cfg.Encoding = "json"
	case "console":
		cfg.Encoding = "console"
	default:
		return nil, fmt.Errorf("unsupported log encoding %q", encoding)
	}

	lg, err := cfg.Build(zap.Fields(
		zap.String("service", service),
		zap.String("version", version),
	))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return lg, nil
}
