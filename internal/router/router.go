package router

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/dujiao-next/flashsale/internal/config"
	adminhandlers "github.com/dujiao-next/flashsale/internal/http/handlers/admin"
	publichandlers "github.com/dujiao-next/flashsale/internal/http/handlers/public"
	"github.com/dujiao-next/flashsale/internal/http/response"
	"github.com/dujiao-next/flashsale/internal/logger"
	"github.com/dujiao-next/flashsale/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	r := gin.New()

	publicHandler := publichandlers.New(c)
	adminHandler := adminhandlers.New(c)
	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = "fs"
	}
	couponIssueRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:coupon_issue", redisPrefix),
		WindowSeconds: cfg.RateLimit.CouponIssue.WindowSeconds,
		MaxRequests:   cfg.RateLimit.CouponIssue.MaxRequests,
		BlockSeconds:  cfg.RateLimit.CouponIssue.BlockSeconds,
		Message:       "coupon issue too frequent, please retry later",
	}

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	metricsPath := strings.TrimSpace(cfg.Metrics.Path)
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.Use(LoggerMiddleware(logger.Z(), c.Metrics, "/health", metricsPath))

	apiV1 := r.Group("/api/v1")
	{
		apiV1.POST("/coupons/:id/issue", RateLimitMiddleware(c.Redis, couponIssueRule, KeyByJSONField("user_id")), publicHandler.IssueCoupon)

		apiV1.GET("/cart", publicHandler.GetCart)
		apiV1.POST("/cart/items", publicHandler.UpsertCartItem)
		apiV1.DELETE("/cart/items/:product_id", publicHandler.RemoveCartItem)

		apiV1.GET("/orders", publicHandler.ListOrders)
		apiV1.POST("/orders", publicHandler.CreateOrder)
		apiV1.POST("/orders/cart", publicHandler.CreateCartOrder)
		apiV1.GET("/orders/:id", publicHandler.GetOrder)
		apiV1.POST("/orders/:id/cancel", publicHandler.CancelOrder)
		apiV1.POST("/orders/:id/paid", publicHandler.MarkOrderPaid)
		apiV1.POST("/orders/:id/complete", publicHandler.CompleteOrder)
		apiV1.POST("/orders/:id/payment-failed", publicHandler.OrderPaymentFailed)
		apiV1.GET("/sagas/:saga_id", publicHandler.GetSaga)

		// 管理员接口（鉴权由网关负责）
		admin := apiV1.Group("/admin")
		{
			admin.POST("/coupons", adminHandler.CreateCoupon)
			admin.GET("/coupons/:id", adminHandler.GetCoupon)
			admin.PUT("/coupons/:id", adminHandler.UpdateCoupon)
			admin.POST("/coupons/:id/activate", adminHandler.ActivateCoupon)
			admin.POST("/coupons/:id/deactivate", adminHandler.DeactivateCoupon)

			admin.GET("/compensation-failures", adminHandler.ListCompensationFailures)
			admin.POST("/compensation-failures/:id/resolve", adminHandler.ResolveCompensationFailure)
		}
	}

	if cfg.Metrics.Enabled && c.Metrics != nil {
		r.GET(metricsPath, gin.WrapH(c.Metrics.Handler()))
	}

	// 健康检查
	r.GET("/health", func(ctx *gin.Context) {
		if c.Store != nil {
			if err := c.Store.Ping(ctx.Request.Context()); err != nil {
				logger.Warnw("health_redis_unavailable", "error", err)
				ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": "down"})
				return
			}
		}
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.NoRoute(func(ctx *gin.Context) {
		response.NotFound(ctx, "route not found")
	})

	return r
}
