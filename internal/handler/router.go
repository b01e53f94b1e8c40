package handler

import (
	"banksim/internal/config"
	"banksim/internal/notify"
	"banksim/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config, notifier notify.Notifier) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(db, rdb, cfg, notifier)

	api := r.Group("/api/v1")
	{
		api.POST("/accounts/register", h.Register)

		auth := api.Group("/auth")
		{
			auth.POST("/login", h.Login)
			auth.POST("/logout", h.Logout)
			auth.POST("/forgot", h.Forgot)
		}

		// 网银
		account := api.Group("/account", SessionMiddleware(h.sessions, session.ChannelWeb, cfg.Session.WebCookieName))
		{
			account.GET("/dashboard", h.Dashboard)
			account.GET("/balance", h.Balance)
			account.POST("/deposit", h.Deposit)
			account.POST("/withdraw", h.Withdraw)
			account.POST("/transfer", h.Transfer)
			account.POST("/pin", h.ChangePIN)
		}

		// ATM
		api.POST("/atm/login", h.KioskLogin)
		api.POST("/atm/logout", h.KioskLogout)
		atm := api.Group("/atm", SessionMiddleware(h.sessions, session.ChannelATM, cfg.Session.ATMCookieName))
		{
			atm.GET("/balance", h.Balance)
			atm.POST("/deposit", h.Deposit)
			atm.POST("/withdraw", h.Withdraw)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
