package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"banksim/internal/model"
	"banksim/internal/notify"
	"banksim/internal/repository"
	"banksim/pkg/idgen"
	"banksim/pkg/logger"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AccountService 开户、登录、查询
type AccountService struct {
	db              *gorm.DB
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	pins            *PINHasher
	notifier        notify.Notifier

	nextAccountNumber func() int64
	now               func() time.Time
}

func NewAccountService(db *gorm.DB, pins *PINHasher, notifier notify.Notifier) *AccountService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &AccountService{
		db:                db,
		accountRepo:       repository.NewAccountRepository(db),
		transactionRepo:   repository.NewTransactionRepository(db),
		pins:              pins,
		notifier:          notifier,
		nextAccountNumber: NewAccountNumberGenerator().Next,
		now:               time.Now,
	}
}

type RegisterRequest struct {
	Name           string
	DOB            string // YYYY-MM-DD
	Phone          string
	Aadhar         string
	PAN            string
	PIN            string
	OpeningDeposit decimal.Decimal
}

// Register 开户
//
// 账户行与 ACCOUNT_CREATE 流水在同一事务内写入；账号主键冲突时换号重试，
// aadhar / pan 冲突直接返回 ErrConflict
func (s *AccountService) Register(ctx context.Context, req *RegisterRequest) (*model.Account, error) {
	name := strings.TrimSpace(req.Name)
	phone := strings.TrimSpace(req.Phone)
	aadhar := strings.TrimSpace(req.Aadhar)
	pan := strings.ToUpper(strings.TrimSpace(req.PAN))
	pin := strings.TrimSpace(req.PIN)

	if name == "" || phone == "" || aadhar == "" || pan == "" {
		return nil, validationError("姓名、手机号、Aadhar、PAN 均不能为空")
	}

	dob, err := time.ParseInLocation(model.DateLayout, strings.TrimSpace(req.DOB), time.Local)
	if err != nil {
		return nil, validationError("出生日期格式错误（YYYY-MM-DD）")
	}
	if ageOn(dob, s.now()) < model.MinAge {
		return nil, validationError("仅限年满 %d 周岁开户", model.MinAge)
	}
	if !validPIN(pin) {
		return nil, validationError("PIN 必须为 %d 位数字", model.PINLength)
	}
	if !twoDecimals(req.OpeningDeposit) {
		return nil, validationError("金额最多保留两位小数")
	}
	if req.OpeningDeposit.LessThan(model.MinOpeningDeposit) {
		return nil, validationError("开户最低存款为 ₹%s", model.MinOpeningDeposit.String())
	}

	pinHash, err := s.pins.Hash(pin)
	if err != nil {
		return nil, storeError("hash pin", err)
	}

	var account *model.Account
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, storeError("register", err)
		}

		account = &model.Account{
			AccountNumber: s.nextAccountNumber(),
			Name:          name,
			DOB:           dob,
			Phone:         phone,
			Aadhar:        aadhar,
			PAN:           pan,
			PINHash:       pinHash,
			Balance:       req.OpeningDeposit,
		}

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.accountRepo.Create(ctx, tx, account); err != nil {
				return err
			}
			return s.transactionRepo.Create(ctx, tx, &model.Transaction{
				TransactionNo: idgen.GenerateTransactionNo(),
				AccountNumber: account.AccountNumber,
				Type:          model.TransactionTypeAccountCreate,
				Amount:        req.OpeningDeposit,
				BalanceBefore: decimal.Zero,
				BalanceAfter:  req.OpeningDeposit,
				Note:          "Initial deposit",
			})
		})
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrDuplicateAccountNumber) {
			logger.Warn("account number collision, redrawing", logger.Fields{
				"account_number": account.AccountNumber,
				"attempt":        attempt,
			})
			continue
		}
		return nil, translate("register", err)
	}

	logger.Info("account registered", logger.Fields{
		"account_number": account.AccountNumber,
		"opening":        req.OpeningDeposit.String(),
	})

	s.notifier.Notify(ctx, account.Phone, fmt.Sprintf(
		"尊敬的 %s，您的账户已开立，账号 %d，当前余额 ₹%s。",
		account.Name, account.AccountNumber, account.Balance.StringFixed(2)))

	return account, nil
}

// Authenticate 网银登录：账号或手机号 + PIN
//
// 任何失败都返回同一个错误，不暴露是账号不存在还是 PIN 不对
func (s *AccountService) Authenticate(ctx context.Context, identifier, pin string) (int64, error) {
	identifier = strings.TrimSpace(identifier)
	pin = strings.TrimSpace(pin)
	if identifier == "" || !validPIN(pin) {
		return 0, invalidCredentialError()
	}

	accounts, err := s.accountRepo.ListByIdentifier(ctx, identifier)
	if err != nil {
		return 0, storeError("authenticate", err)
	}
	for _, account := range accounts {
		if s.pins.Matches(account.PINHash, pin) {
			return account.AccountNumber, nil
		}
	}
	return 0, invalidCredentialError()
}

// AuthenticateKiosk ATM 登录：卡号（账号）+ PIN，不允许只凭 PIN 识别账户
func (s *AccountService) AuthenticateKiosk(ctx context.Context, cardNumber, pin string) (int64, error) {
	accountNumber, err := strconv.ParseInt(strings.TrimSpace(cardNumber), 10, 64)
	if err != nil || !model.ValidAccountNumber(accountNumber) || !validPIN(strings.TrimSpace(pin)) {
		return 0, invalidCredentialError()
	}

	account, err := s.accountRepo.GetByAccountNumber(ctx, accountNumber)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return 0, invalidCredentialError()
		}
		return 0, storeError("authenticate kiosk", err)
	}
	if !s.pins.Matches(account.PINHash, strings.TrimSpace(pin)) {
		return 0, invalidCredentialError()
	}
	return account.AccountNumber, nil
}

func (s *AccountService) GetProfile(ctx context.Context, accountNumber int64) (*model.Account, error) {
	account, err := s.accountRepo.GetByAccountNumber(ctx, accountNumber)
	if err != nil {
		return nil, translate("get profile", err)
	}
	return account, nil
}

func (s *AccountService) GetBalance(ctx context.Context, accountNumber int64) (decimal.Decimal, error) {
	account, err := s.GetProfile(ctx, accountNumber)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}

// RecoverAccountNumber 找回账号：返回该手机号下最早开立的账户
func (s *AccountService) RecoverAccountNumber(ctx context.Context, phone string) (int64, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return 0, validationError("手机号不能为空")
	}

	account, err := s.accountRepo.FirstByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return 0, notFoundError("该手机号下没有账户")
		}
		return 0, storeError("recover account number", err)
	}
	return account.AccountNumber, nil
}

// ageOn 计算周岁
func ageOn(dob, today time.Time) int {
	age := today.Year() - dob.Year()
	if today.Month() < dob.Month() || (today.Month() == dob.Month() && today.Day() < dob.Day()) {
		age--
	}
	return age
}

func twoDecimals(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(2))
}
