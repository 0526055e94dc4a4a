package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"economy/internal/service"
)

// HealthFunc 健康检查附带的状态
type HealthFunc func() gin.H

// SetupRouter 配置路由；gatherer 为空时不暴露 /metrics
func SetupRouter(economyService *service.EconomyService, gatherer prometheus.Gatherer, health HealthFunc, logger *zap.Logger) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	h := NewHandler(economyService)

	api := r.Group("/api/v1")
	{
		session := api.Group("/session")
		{
			session.POST("/login", h.Login)
			session.POST("/logout", h.Logout)
		}

		account := api.Group("/account")
		{
			account.GET("/balance", h.GetBalance)
			account.POST("/balance/set", h.SetBalance)
			account.POST("/earn", h.Earn)
			account.POST("/give", h.Give)
		}

		api.GET("/queue", h.ListPending)
		api.GET("/dead-letters", h.ListDeadLetters)
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if health != nil {
			for k, v := range health() {
				body[k] = v
			}
		}
		c.JSON(http.StatusOK, body)
	})

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return r
}
