package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware(log))
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		// 用户接口，身份来自网关注入的 X-User-ID
		credits := api.Group("/credits")
		{
			credits.GET("/packages", h.ListPackages)
			credits.GET("/packages/:id", h.GetPackage)

			user := credits.Group("", UserIdentityMiddleware())
			user.POST("/purchase", h.Purchase)
			user.POST("/deduct", h.Deduct)
			user.GET("/balance", h.GetBalance)
			user.GET("/ledger", h.ListLedger)
			user.GET("/transactions", h.ListTransactions)
		}

		// 管理接口，权限在网关校验
		admin := api.Group("/admin/credits")
		{
			admin.POST("/packages", h.CreatePackage)
			admin.PUT("/packages/:id", h.UpdatePackage)
			admin.DELETE("/packages/:id", h.DeletePackage)
			admin.POST("/adjust", h.Adjust)
			admin.POST("/expire", h.RunExpiration)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
