package handler

import (
	"walletpay/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, cfg)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 账户相关
		account := api.Group("/account")
		{
			account.GET("/balance", h.GetBalance)
			account.POST("/credit", h.Credit)
			account.GET("/transactions", h.ListTransactions)
		}

		// 提现相关
		withdraw := api.Group("/withdraw")
		{
			withdraw.POST("/submit", h.SubmitWithdrawal)
			withdraw.GET("/detail", h.GetPayout)
			withdraw.GET("/list", h.ListPayouts)
			withdraw.GET("/limits", h.CheckLimits)
		}

		// 人工审核相关
		review := api.Group("/review")
		{
			review.GET("/queue", h.ListReviewQueue)
			review.POST("/claim", h.ClaimReview)
			review.POST("/resolve", h.ResolveReview)
		}
	}

	// 网关回调不走 API 前缀，路径和网关侧配置保持一致
	r.POST("/webhook/:gateway", h.HandleWebhook)

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
