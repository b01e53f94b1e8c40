package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess      = 0
	CodeParamError   = 400
	CodeUnauthorized = 401
	CodeNotFound     = 404
	CodeServerError  = 500
)

const (
	CodeConflict          = 1001
	CodeInsufficientFunds = 1002
	CodeInvalidCredential = 1003
)

// 提示级别，与页面 flash 消息的样式一一对应
const (
	LevelSuccess = "success"
	LevelDanger  = "danger"
	LevelWarning = "warning"
	LevelInfo    = "info"
)

type Response struct {
	Code    int         `json:"code"`
	Level   string      `json:"level"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Level:   LevelSuccess,
		Message: message,
		Data:    data,
	})
}

// Info 成功但以提示形式展示，例如余额查询
func Info(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Level:   LevelInfo,
		Message: message,
		Data:    data,
	})
}

func Error(c *gin.Context, code int, level, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Level:   level,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, LevelDanger, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, LevelDanger, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, LevelDanger, message)
}

// Unauthorized 未登录或会话过期，中断后续处理
func Unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusOK, Response{
		Code:    CodeUnauthorized,
		Level:   LevelWarning,
		Message: message,
	})
}
