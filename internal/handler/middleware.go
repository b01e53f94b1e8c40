package handler

import (
	"errors"
	"log"
	"time"

	"banksim/internal/session"
	"banksim/pkg/logger"
	"banksim/pkg/response"

	"github.com/gin-gonic/gin"
)

const ctxAccountNumber = "account_number"

// LoggerMiddleware 访问日志，不记录 query 以外的请求内容
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		if query != "" {
			path = path + "?" + query
		}

		log.Printf("[HTTP] %d | %13v | %15s | %-7s %s",
			c.Writer.Status(),
			time.Since(start),
			c.ClientIP(),
			c.Request.Method,
			path,
		)
	}
}

// RecoveryMiddleware 单个请求 panic 不影响整个进程
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[PANIC] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
				c.AbortWithStatusJSON(500, response.Response{
					Code:    response.CodeServerError,
					Level:   response.LevelDanger,
					Message: "服务器内部错误",
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// SessionMiddleware 校验指定渠道的会话，把账号放进上下文
func SessionMiddleware(store *session.Store, channel session.Channel, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := requestToken(c, cookieName)
		if token == "" {
			response.Unauthorized(c, "请先登录")
			return
		}

		sess, err := store.Get(c.Request.Context(), token, channel)
		if err != nil {
			if !errors.Is(err, session.ErrSessionNotFound) {
				logger.Error("load session failed", err, logger.Fields{"channel": channel})
			}
			response.Unauthorized(c, "会话已过期，请重新登录")
			return
		}

		c.Set(ctxAccountNumber, sess.AccountNumber)
		c.Next()
	}
}

// currentAccount 只能在 SessionMiddleware 之后调用
func currentAccount(c *gin.Context) int64 {
	return c.GetInt64(ctxAccountNumber)
}
