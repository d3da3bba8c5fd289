// Package main 为库存估值服务的入口，协调各个组件的初始化和启动。
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"github.com/rotihouse/inventory-core/internal/api"
	"github.com/rotihouse/inventory-core/internal/cache"
	"github.com/rotihouse/inventory-core/internal/config"
	"github.com/rotihouse/inventory-core/internal/database"
	"github.com/rotihouse/inventory-core/internal/limiter"
	"github.com/rotihouse/inventory-core/internal/logger"
	mw "github.com/rotihouse/inventory-core/internal/middleware"
	"github.com/rotihouse/inventory-core/internal/repo"
	"github.com/rotihouse/inventory-core/internal/router"
	"github.com/rotihouse/inventory-core/internal/service"
)

// initConfigAndLogger 初始化配置和日志器
func initConfigAndLogger() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %v", err)
	}

	lg, err := logger.New(cfg.App.Env, cfg.Log.Level, cfg.Log.Encoding, cfg.App.Name, cfg.App.Version)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %v", err)
	}

	return cfg, lg, nil
}

// initDatabase 初始化数据库连接并执行迁移
func initDatabase(cfg *config.Config, lg *zap.Logger) (*database.DB, error) {
	db, err := database.New(cfg, lg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %v", err)
	}

	// 在 HTTP 服务器启动前执行迁移，确保处理请求时表结构已就绪
	migrationsDir := cfg.Migrations.Dir
	lg.Sugar().Infow("using migrations directory", "path", migrationsDir)

	if err := db.RunMigrations(migrationsDir); err != nil {
		return nil, fmt.Errorf("failed to run database migrations: %v", err)
	}

	return db, nil
}

// initCache 初始化缓存实例
func initCache(cfg *config.Config, lg *zap.Logger) cache.Cache {
	if !cfg.Cache.Enabled {
		lg.Sugar().Infow("cache disabled")
		return cache.NewNullCache()
	}

	switch cfg.Cache.Type {
	case "redis":
		redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
		redisCache, err := cache.NewRedisCache(redisAddr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			lg.Sugar().Warnw("failed to connect to Redis, falling back to memory cache", "error", err)
			lg.Sugar().Infow("cache enabled", "type", "memory (fallback)", "ttl", cfg.Cache.TTL)
			return cache.NewMemoryCache()
		}
		lg.Sugar().Infow("cache enabled", "type", "redis", "addr", redisAddr, "ttl", cfg.Cache.TTL)
		return redisCache
	case "memory":
		lg.Sugar().Infow("cache enabled", "type", "memory", "ttl", cfg.Cache.TTL)
		return cache.NewMemoryCache()
	default:
		lg.Sugar().Warnw("unknown cache type, using memory cache", "type", cfg.Cache.Type)
		lg.Sugar().Infow("cache enabled", "type", "memory (default)", "ttl", cfg.Cache.TTL)
		return cache.NewMemoryCache()
	}
}

// initRepairLimiter 初始化修复接口的限流器。
// 台账回放开销较大，Redis 可用时用令牌桶限制调用频率。
func initRepairLimiter(cfg *config.Config, cacheInstance cache.Cache, lg *zap.Logger) limiter.Limiter {
	if !cfg.Limiter.Enabled {
		return nil
	}

	redisCache, ok := cacheInstance.(*cache.RedisCache)
	if !ok {
		lg.Sugar().Warnw("rate limiter requires redis cache, repair endpoints will not be limited")
		return nil
	}

	l, err := limiter.NewTokenBucketLimiter(redisCache.Client(), &limiter.Config{
		Rate:      cfg.Limiter.Rate,
		Window:    cfg.Limiter.Window,
		Burst:     cfg.Limiter.Burst,
		KeyPrefix: "limiter:repair",
	})
	if err != nil {
		lg.Sugar().Warnw("failed to create rate limiter", "error", err)
		return nil
	}
	lg.Sugar().Infow("repair rate limiter enabled",
		"rate", cfg.Limiter.Rate, "window", cfg.Limiter.Window, "burst", cfg.Limiter.Burst)
	return l
}

// initDependencies 初始化应用依赖（仓储、服务、处理器）
func initDependencies(cfg *config.Config, db *database.DB, cacheInstance cache.Cache, lg *zap.Logger) *router.Dependencies {
	// 依赖注入链：仓储 -> 服务 -> API处理器
	baseItemRepo := repo.NewInventoryItemRepository(db.DB)
	purchaseRepo := repo.NewPurchaseRepository(db.DB)
	uow := repo.NewUnitOfWork(db.DB)

	// 可选缓存装饰器；变更引擎绕过读缓存直写数据库，
	// 因此需要把失效器单独交给服务层
	var itemRepo repo.InventoryItemRepository
	var invalidator repo.ItemCacheInvalidator
	if cfg.Cache.Enabled {
		cached := repo.NewCachedInventoryItemRepository(baseItemRepo, cacheInstance, cfg.Cache.TTL)
		itemRepo = cached
		invalidator = cached
	} else {
		itemRepo = baseItemRepo
	}

	itemService := service.NewInventoryItemService(itemRepo)
	purchaseService := service.NewPurchaseService(purchaseRepo, itemRepo)
	mutationService := service.NewStockMutationService(uow, itemRepo, purchaseRepo, invalidator, nil, lg)
	repairService := service.NewValuationRepairService(itemRepo, purchaseRepo, invalidator, &service.RepairServiceConfig{
		DefaultPrices: cfg.Repair.DefaultPrices,
		FallbackPrice: cfg.Repair.FallbackPrice,
	}, lg)

	return &router.Dependencies{
		ItemHandler:     api.NewItemHandler(itemService, mutationService, lg),
		PurchaseHandler: api.NewPurchaseHandler(purchaseService, mutationService, lg),
		OrderHandler:    api.NewOrderHandler(mutationService, lg),
		RepairHandler:   api.NewRepairHandler(repairService, lg),
		RepairLimiter:   initRepairLimiter(cfg, cacheInstance, lg),
	}
}

// setupHandler 组装路由与外层中间件链。
// 请求进入时执行顺序为 access log → CORS → timeout → recovery →
// idempotency key → request ID → gin 路由。
func setupHandler(cfg *config.Config, deps *router.Dependencies, lg *zap.Logger) http.Handler {
	engine := router.New().Setup(cfg, deps, lg)

	handler := mw.RequestID(engine)
	handler = mw.IdempotencyKey(handler)
	handler = mw.Recovery(lg)(handler)
	handler = mw.Timeout(cfg.App.RequestTimeout)(handler)
	handler = mw.CORS(mw.CORSConfig{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: cfg.CORS.AllowedMethods,
		AllowedHeaders: cfg.CORS.AllowedHeaders,
	})(handler)
	handler = mw.AccessLog(lg)(handler)

	return handler
}

// startServer 启动服务器并处理优雅关闭
func startServer(cfg *config.Config, handler http.Handler, lg *zap.Logger) {
	addr := fmt.Sprintf(":%d", cfg.App.Port)
	lg.Sugar().Infow("server starting", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	select {
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			lg.Sugar().Fatalw("server error", "err", err)
		}
	case <-quit:
		lg.Sugar().Infow("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		lg.Sugar().Errorw("server shutdown error", "err", err)
	}
	lg.Sugar().Infow("server exited")
}

func main() {
	// 1) 加载配置和初始化日志
	cfg, lg, err := initConfigAndLogger()
	if err != nil {
		log.Fatalf("failed to initialize config and logger: %v", err)
	}

	// 2) 初始化数据库连接并执行迁移
	db, err := initDatabase(cfg, lg)
	if err != nil {
		lg.Sugar().Fatalw("failed to initialize database", "err", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			lg.Sugar().Errorw("failed to close database connection", "err", err)
		}
	}()

	// 3) 初始化缓存
	cacheInstance := initCache(cfg, lg)

	// 4) 初始化应用依赖（仓储、服务、处理器）
	deps := initDependencies(cfg, db, cacheInstance, lg)

	// 5) 组装路由和中间件
	handler := setupHandler(cfg, deps, lg)

	// 6) 启动 HTTP 服务器
	startServer(cfg, handler, lg)
}
