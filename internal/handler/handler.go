package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"banksim/internal/config"
	"banksim/internal/infrastructure/lock"
	"banksim/internal/notify"
	"banksim/internal/service"
	"banksim/internal/session"
	"banksim/pkg/logger"
	"banksim/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Handler 统一处理器，网银与 ATM 两个渠道共用同一套资金引擎
type Handler struct {
	accountService *service.AccountService
	moneyService   *service.MoneyService
	sessions       *session.Store
	sessionCfg     config.SessionConfig
}

// NewHandler 创建处理器实例；notifier 为 nil 时不发送短信
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config, notifier notify.Notifier) *Handler {
	pins := service.NewPINHasher(cfg.Business.BcryptCost)

	var locker service.Locker
	if cfg.Business.AccountLock {
		locker = lock.NewAccountLocker(rdb, cfg.Business.AccountLockTTL)
	}

	return &Handler{
		accountService: service.NewAccountService(db, pins, notifier),
		moneyService:   service.NewMoneyService(db, locker, pins, notifier),
		sessions:       session.NewStore(rdb, cfg.Session.TTL),
		sessionCfg:     cfg.Session,
	}
}

// fail 把业务错误映射成统一响应
func (h *Handler) fail(c *gin.Context, op string, err error) {
	msg := service.UserMessage(err)
	switch {
	case errors.Is(err, service.ErrValidation):
		response.ParamError(c, msg)
	case errors.Is(err, service.ErrConflict):
		response.BusinessError(c, response.CodeConflict, msg)
	case errors.Is(err, service.ErrInsufficientFunds):
		response.BusinessError(c, response.CodeInsufficientFunds, msg)
	case errors.Is(err, service.ErrNotFound):
		response.Error(c, response.CodeNotFound, response.LevelWarning, msg)
	default:
		logger.Error("request failed", err, logger.Fields{"op": op, "path": c.FullPath()})
		response.ServerError(c, msg)
	}
}

// ============================================================
// 开户 / 登录
// ============================================================

type RegisterRequest struct {
	Name           string          `json:"name" binding:"required"`
	DOB            string          `json:"dob" binding:"required"`
	Phone          string          `json:"phone" binding:"required"`
	Aadhar         string          `json:"aadhar" binding:"required"`
	PAN            string          `json:"pan" binding:"required"`
	PIN            string          `json:"pin" binding:"required"`
	OpeningDeposit decimal.Decimal `json:"opening_deposit"`
}

// Register 开户
// POST /api/v1/accounts/register
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.accountService.Register(c.Request.Context(), &service.RegisterRequest{
		Name:           req.Name,
		DOB:            req.DOB,
		Phone:          req.Phone,
		Aadhar:         req.Aadhar,
		PAN:            req.PAN,
		PIN:            req.PIN,
		OpeningDeposit: req.OpeningDeposit,
	})
	if err != nil {
		h.fail(c, "register", err)
		return
	}

	response.Success(c, fmt.Sprintf("开户成功，您的账号为 %d", account.AccountNumber), gin.H{
		"account_number": account.AccountNumber,
		"balance":        account.Balance,
	})
}

type LoginRequest struct {
	Identifier string `json:"identifier" binding:"required"` // 账号或手机号
	PIN        string `json:"pin" binding:"required"`
}

// Login 网银登录
// POST /api/v1/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	accountNumber, err := h.accountService.Authenticate(c.Request.Context(), req.Identifier, req.PIN)
	if err != nil {
		h.loginFailed(c, "login", err)
		return
	}
	h.startSession(c, accountNumber, session.ChannelWeb, h.sessionCfg.WebCookieName)
}

type KioskLoginRequest struct {
	CardNumber string `json:"card_number" binding:"required"`
	PIN        string `json:"pin" binding:"required"`
}

// KioskLogin ATM 登录，卡号 + PIN
// POST /api/v1/atm/login
func (h *Handler) KioskLogin(c *gin.Context) {
	var req KioskLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	accountNumber, err := h.accountService.AuthenticateKiosk(c.Request.Context(), req.CardNumber, req.PIN)
	if err != nil {
		h.loginFailed(c, "atm login", err)
		return
	}
	h.startSession(c, accountNumber, session.ChannelATM, h.sessionCfg.ATMCookieName)
}

func (h *Handler) loginFailed(c *gin.Context, op string, err error) {
	if errors.Is(err, service.ErrNotFound) {
		response.BusinessError(c, response.CodeInvalidCredential, service.UserMessage(err))
		return
	}
	h.fail(c, op, err)
}

func (h *Handler) startSession(c *gin.Context, accountNumber int64, channel session.Channel, cookieName string) {
	sess, err := h.sessions.Create(c.Request.Context(), accountNumber, channel)
	if err != nil {
		logger.Error("create session failed", err, logger.Fields{"channel": channel})
		response.ServerError(c, "系统繁忙，请稍后重试")
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cookieName, sess.Token, int(h.sessions.TTL().Seconds()), "/", "", h.sessionCfg.SecureCookie, true)

	logger.Info("session started", logger.Fields{"account_number": accountNumber, "channel": channel})
	response.Success(c, "登录成功", gin.H{
		"account_number": accountNumber,
		"token":          sess.Token,
		"expires_at":     sess.ExpiresAt,
	})
}

// Logout 网银登出
// POST /api/v1/auth/logout
func (h *Handler) Logout(c *gin.Context) {
	h.endSession(c, h.sessionCfg.WebCookieName)
}

// KioskLogout ATM 退卡
// POST /api/v1/atm/logout
func (h *Handler) KioskLogout(c *gin.Context) {
	h.endSession(c, h.sessionCfg.ATMCookieName)
}

func (h *Handler) endSession(c *gin.Context, cookieName string) {
	if token := requestToken(c, cookieName); token != "" {
		if err := h.sessions.Delete(c.Request.Context(), token); err != nil {
			logger.Error("delete session failed", err, nil)
		}
	}
	c.SetCookie(cookieName, "", -1, "/", "", h.sessionCfg.SecureCookie, true)
	response.Success(c, "已安全退出", nil)
}

type ForgotRequest struct {
	Phone string `json:"phone" binding:"required"`
}

// Forgot 通过手机号找回账号
// POST /api/v1/auth/forgot
func (h *Handler) Forgot(c *gin.Context) {
	var req ForgotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	accountNumber, err := h.accountService.RecoverAccountNumber(c.Request.Context(), req.Phone)
	if err != nil {
		h.fail(c, "forgot", err)
		return
	}
	response.Info(c, fmt.Sprintf("您的账号为 %d", accountNumber), gin.H{"account_number": accountNumber})
}

// ============================================================
// 账户查询与资金操作（需要会话）
// ============================================================

// Dashboard 首页：户名、账号、余额
// GET /api/v1/account/dashboard
func (h *Handler) Dashboard(c *gin.Context) {
	account, err := h.accountService.GetProfile(c.Request.Context(), currentAccount(c))
	if err != nil {
		h.fail(c, "dashboard", err)
		return
	}
	response.Success(c, "", gin.H{
		"name":           account.Name,
		"account_number": account.AccountNumber,
		"balance":        account.Balance,
	})
}

// Balance 余额查询
// GET /api/v1/account/balance, /api/v1/atm/balance
func (h *Handler) Balance(c *gin.Context) {
	accountNumber := currentAccount(c)
	balance, err := h.accountService.GetBalance(c.Request.Context(), accountNumber)
	if err != nil {
		h.fail(c, "balance", err)
		return
	}
	response.Info(c, "当前余额 ₹"+balance.StringFixed(2), gin.H{
		"account_number": accountNumber,
		"balance":        balance,
	})
}

type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Deposit 存款
// POST /api/v1/account/deposit, /api/v1/atm/deposit
func (h *Handler) Deposit(c *gin.Context) {
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.moneyService.Deposit(c.Request.Context(), currentAccount(c), req.Amount)
	if err != nil {
		h.fail(c, "deposit", err)
		return
	}
	response.Success(c, fmt.Sprintf("存款成功，当前余额 ₹%s", result.Balance.StringFixed(2)), result)
}

// Withdraw 取款
// POST /api/v1/account/withdraw, /api/v1/atm/withdraw
func (h *Handler) Withdraw(c *gin.Context) {
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.moneyService.Withdraw(c.Request.Context(), currentAccount(c), req.Amount)
	if err != nil {
		h.fail(c, "withdraw", err)
		return
	}
	response.Success(c, fmt.Sprintf("取款成功，当前余额 ₹%s", result.Balance.StringFixed(2)), result)
}

type TransferRequest struct {
	ToAccount int64           `json:"to_account" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
}

// Transfer 转账
// POST /api/v1/account/transfer
func (h *Handler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.moneyService.Transfer(c.Request.Context(), currentAccount(c), req.ToAccount, req.Amount)
	if err != nil {
		h.fail(c, "transfer", err)
		return
	}
	response.Success(c, fmt.Sprintf("转账成功，当前余额 ₹%s", result.Balance.StringFixed(2)), result)
}

type ChangePINRequest struct {
	NewPIN     string `json:"new_pin" binding:"required"`
	ConfirmPIN string `json:"confirm_pin" binding:"required"`
}

// ChangePIN 修改 PIN
// POST /api/v1/account/pin
func (h *Handler) ChangePIN(c *gin.Context) {
	var req ChangePINRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误")
		return
	}

	if err := h.moneyService.ChangePIN(c.Request.Context(), currentAccount(c), req.NewPIN, req.ConfirmPIN); err != nil {
		h.fail(c, "change pin", err)
		return
	}
	response.Success(c, "PIN 修改成功", nil)
}

// requestToken 优先取 Authorization: Bearer，其次取渠道 cookie
func requestToken(c *gin.Context, cookieName string) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	token, err := c.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return token
}
