// Package router 提供 HTTP 路由设置和中间件配置功能
package router

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rotihouse/inventory-core/internal/api"
	"github.com/rotihouse/inventory-core/internal/config"
	"github.com/rotihouse/inventory-core/internal/limiter"
)

// Dependencies 包含路由设置所需的所有依赖
type Dependencies struct {
	ItemHandler     *api.ItemHandler
	PurchaseHandler *api.PurchaseHandler
	OrderHandler    *api.OrderHandler
	RepairHandler   *api.RepairHandler

	// RepairLimiter 限制修复接口的调用频率（台账回放开销较大）。
	// 为 nil 时不限流。
	RepairLimiter limiter.Limiter
}

// Router 路由器接口
type Router interface {
	Setup(cfg *config.Config, deps *Dependencies, lg *zap.Logger) http.Handler
}

// GinRouter Gin路由器实现
type GinRouter struct {
	engine *gin.Engine
	deps   *Dependencies
	logger *zap.Logger
	cfg    *config.Config
}

// New 创建新的路由器实例
func New() Router {
	return &GinRouter{}
}

// Setup 设置路由和中间件
func (r *GinRouter) Setup(cfg *config.Config, deps *Dependencies, lg *zap.Logger) http.Handler {
	// 根据环境设置 Gin 模式
	if cfg.App.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	r.engine = gin.New()
	r.deps = deps
	r.logger = lg
	r.cfg = cfg

	r.setupMiddleware()
	r.setupRoutes()

	return r.engine
}

// setupMiddleware 设置 Gin 中间件。
// 请求ID、访问日志、超时等横切中间件在外层标准库链上，
// 这里只挂恢复与 Gin 自身的请求日志。
func (r *GinRouter) setupMiddleware() {
	r.engine.Use(gin.Recovery())
	r.engine.Use(r.ginLogger())
}

// setupRoutes 设置所有路由
func (r *GinRouter) setupRoutes() {
	// 健康检查
	r.engine.GET("/healthz", r.healthCheck)

	// API v1 路由组
	v1 := r.engine.Group("/api/v1")
	{
		// 库存条目
		items := v1.Group("/items")
		{
			items.POST("", r.wrapHandler(r.deps.ItemHandler.CreateItem))
			items.GET("", r.wrapHandler(r.deps.ItemHandler.ListItems))
			items.GET("/:id", r.wrapHandler(r.deps.ItemHandler.GetItem))
			items.GET("/:id/reconcile", r.wrapHandler(r.deps.ItemHandler.ReconcileStock))
		}

		// 采购
		purchases := v1.Group("/purchases")
		{
			purchases.POST("", r.wrapHandler(r.deps.PurchaseHandler.CreatePurchase))
			purchases.GET("/:id", r.wrapHandler(r.deps.PurchaseHandler.GetPurchase))
			purchases.POST("/:id/complete", r.wrapHandler(r.deps.PurchaseHandler.CompletePurchase))
		}

		// 订单库存扣减
		orders := v1.Group("/orders")
		{
			orders.POST("/complete", r.wrapHandler(r.deps.OrderHandler.CompleteOrder))
			orders.POST("/check", r.wrapHandler(r.deps.OrderHandler.CheckOrder))
		}

		// 估值诊断与修复（限流保护）
		repair := v1.Group("/repair")
		if r.deps.RepairLimiter != nil {
			repair.Use(limiter.RateLimitMiddleware(r.deps.RepairLimiter, limiter.PathKeyGenerator))
		}
		{
			repair.GET("/diagnose", r.wrapHandler(r.deps.RepairHandler.Diagnose))
			repair.POST("/fix", r.wrapHandler(r.deps.RepairHandler.Fix))
			repair.POST("/quick", r.wrapHandler(r.deps.RepairHandler.QuickFix))
		}
	}
}

// healthCheck 健康检查处理器
func (r *GinRouter) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": r.cfg.App.Version,
	})
}

// wrapHandler 将标准的 http.HandlerFunc 包装为 gin.HandlerFunc
func (r *GinRouter) wrapHandler(handler func(http.ResponseWriter, *http.Request)) gin.HandlerFunc {
	return gin.WrapF(handler)
}

// ginLogger 自定义 Gin 日志中间件
func (r *GinRouter) ginLogger() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.ClientIP,
			param.TimeStamp.Format("02/Jan/2006:15:04:05 -0700"),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	})
}
