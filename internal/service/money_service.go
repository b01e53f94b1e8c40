package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"banksim/internal/model"
	"banksim/internal/notify"
	"banksim/internal/repository"
	"banksim/pkg/idgen"
	"banksim/pkg/logger"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Locker 跨实例的账户锁，多个账号必须按升序加锁
type Locker interface {
	LockAccounts(ctx context.Context, accountNumbers ...int64) (func(), error)
}

// MoneyService 资金操作：存款、取款、转账、修改 PIN
//
// 【关键点】每个操作都满足：
// 1. 原子性：余额变更与流水在同一个数据库事务里，要么都提交要么都回滚
// 2. 并发安全：先 SELECT ... FOR UPDATE 锁住账户行，再判断余额，杜绝"查完再扣"的竞态
// 3. 通知解耦：短信在事务提交后异步派发，失败不影响已提交的交易
type MoneyService struct {
	db              *gorm.DB
	locker          Locker
	pins            *PINHasher
	notifier        notify.Notifier
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
}

// NewMoneyService locker 可以为 nil，此时只依赖数据库行锁
func NewMoneyService(db *gorm.DB, locker Locker, pins *PINHasher, notifier notify.Notifier) *MoneyService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &MoneyService{
		db:              db,
		locker:          locker,
		pins:            pins,
		notifier:        notifier,
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

// MovementResult 单账户资金变动结果
type MovementResult struct {
	TransactionNo string          `json:"transaction_no"`
	AccountNumber int64           `json:"account_number"`
	Amount        decimal.Decimal `json:"amount"`
	Balance       decimal.Decimal `json:"balance"`
}

// TransferResult 转账结果，Balance 为转出方余额
type TransferResult struct {
	TransactionNo string          `json:"transaction_no"`
	FromAccount   int64           `json:"from_account"`
	ToAccount     int64           `json:"to_account"`
	Amount        decimal.Decimal `json:"amount"`
	Balance       decimal.Decimal `json:"balance"`
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return validationError("金额必须大于 0")
	}
	if !twoDecimals(amount) {
		return validationError("金额最多保留两位小数")
	}
	return nil
}

func (s *MoneyService) lockAccounts(ctx context.Context, accountNumbers ...int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := s.locker.LockAccounts(ctx, accountNumbers...)
	if err != nil {
		return nil, storeError("lock accounts", err)
	}
	return release, nil
}

// Deposit 存款
func (s *MoneyService) Deposit(ctx context.Context, accountNumber int64, amount decimal.Decimal) (*MovementResult, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	release, err := s.lockAccounts(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	defer release()

	result := &MovementResult{AccountNumber: accountNumber, Amount: amount}
	var phone string

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetForUpdate(ctx, tx, accountNumber)
		if err != nil {
			return err
		}

		after := account.Balance.Add(amount)
		if err := s.accountRepo.UpdateBalance(ctx, tx, accountNumber, after); err != nil {
			return err
		}

		trans := &model.Transaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			AccountNumber: accountNumber,
			Type:          model.TransactionTypeDeposit,
			Amount:        amount,
			BalanceBefore: account.Balance,
			BalanceAfter:  after,
			Note:          "Online deposit",
		}
		if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
			return err
		}

		result.TransactionNo = trans.TransactionNo
		result.Balance = after
		phone = account.Phone
		return nil
	})
	if err != nil {
		return nil, s.fail("deposit", accountNumber, err)
	}

	logger.Info("deposit committed", logger.Fields{
		"account_number": accountNumber,
		"amount":         amount.String(),
		"transaction_no": result.TransactionNo,
	})
	s.notifier.Notify(ctx, phone, fmt.Sprintf("账户 %s 存入 ₹%s，当前余额 ₹%s。流水号 %s",
		maskAccount(accountNumber), amount.StringFixed(2), result.Balance.StringFixed(2), result.TransactionNo))

	return result, nil
}

// Withdraw 取款
//
// 余额判断必须在行锁之内完成；余额不足时不做任何修改、不写流水
func (s *MoneyService) Withdraw(ctx context.Context, accountNumber int64, amount decimal.Decimal) (*MovementResult, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	release, err := s.lockAccounts(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	defer release()

	result := &MovementResult{AccountNumber: accountNumber, Amount: amount}
	var phone string

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetForUpdate(ctx, tx, accountNumber)
		if err != nil {
			return err
		}
		if account.Balance.LessThan(amount) {
			return insufficientFundsError()
		}

		after := account.Balance.Sub(amount)
		if err := s.accountRepo.UpdateBalance(ctx, tx, accountNumber, after); err != nil {
			return err
		}

		trans := &model.Transaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			AccountNumber: accountNumber,
			Type:          model.TransactionTypeWithdraw,
			Amount:        amount,
			BalanceBefore: account.Balance,
			BalanceAfter:  after,
			Note:          "Online withdrawal",
		}
		if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
			return err
		}

		result.TransactionNo = trans.TransactionNo
		result.Balance = after
		phone = account.Phone
		return nil
	})
	if err != nil {
		return nil, s.fail("withdraw", accountNumber, err)
	}

	logger.Info("withdraw committed", logger.Fields{
		"account_number": accountNumber,
		"amount":         amount.String(),
		"transaction_no": result.TransactionNo,
	})
	s.notifier.Notify(ctx, phone, fmt.Sprintf("账户 %s 支取 ₹%s，当前余额 ₹%s。流水号 %s",
		maskAccount(accountNumber), amount.StringFixed(2), result.Balance.StringFixed(2), result.TransactionNo))

	return result, nil
}

// Transfer 转账
//
// 【关键点】两个账户行按账号升序加锁，再判断余额和对方账户是否存在。
// A->B 与 B->A 并发时两边取锁顺序一致，不会死锁。
// 成功时写入成对流水：转出方 TRANSFER_OUT、转入方 TRANSFER_IN，互相记录对手方账号
func (s *MoneyService) Transfer(ctx context.Context, from, to int64, amount decimal.Decimal) (*TransferResult, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if from == to {
		return nil, validationError("不能向本账户转账")
	}

	release, err := s.lockAccounts(ctx, from, to)
	if err != nil {
		return nil, err
	}
	defer release()

	result := &TransferResult{FromAccount: from, ToAccount: to, Amount: amount}
	var fromPhone, toPhone string
	var toBalance decimal.Decimal

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		first, second := from, to
		if second < first {
			first, second = second, first
		}
		locked := make(map[int64]*model.Account, 2)
		for _, n := range []int64{first, second} {
			account, err := s.accountRepo.GetForUpdate(ctx, tx, n)
			if err != nil {
				if n == to && errors.Is(err, repository.ErrAccountNotFound) {
					return notFoundError("收款账户不存在")
				}
				return err
			}
			locked[n] = account
		}

		src, dst := locked[from], locked[to]
		if src.Balance.LessThan(amount) {
			return insufficientFundsError()
		}

		srcAfter := src.Balance.Sub(amount)
		dstAfter := dst.Balance.Add(amount)
		if err := s.accountRepo.UpdateBalance(ctx, tx, from, srcAfter); err != nil {
			return err
		}
		if err := s.accountRepo.UpdateBalance(ctx, tx, to, dstAfter); err != nil {
			return err
		}

		out := &model.Transaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			AccountNumber: from,
			Type:          model.TransactionTypeTransferOut,
			Amount:        amount,
			BalanceBefore: src.Balance,
			BalanceAfter:  srcAfter,
			Note:          fmt.Sprintf("Transfer to %d", to),
			Counterparty:  &to,
		}
		in := &model.Transaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			AccountNumber: to,
			Type:          model.TransactionTypeTransferIn,
			Amount:        amount,
			BalanceBefore: dst.Balance,
			BalanceAfter:  dstAfter,
			Note:          fmt.Sprintf("Received from %d", from),
			Counterparty:  &from,
		}
		if err := s.transactionRepo.Create(ctx, tx, out); err != nil {
			return err
		}
		if err := s.transactionRepo.Create(ctx, tx, in); err != nil {
			return err
		}

		result.TransactionNo = out.TransactionNo
		result.Balance = srcAfter
		toBalance = dstAfter
		fromPhone, toPhone = src.Phone, dst.Phone
		return nil
	})
	if err != nil {
		return nil, s.fail("transfer", from, err)
	}

	logger.Info("transfer committed", logger.Fields{
		"from":           from,
		"to":             to,
		"amount":         amount.String(),
		"transaction_no": result.TransactionNo,
	})
	s.notifier.Notify(ctx, fromPhone, fmt.Sprintf("账户 %s 向 %s 转出 ₹%s，当前余额 ₹%s。",
		maskAccount(from), maskAccount(to), amount.StringFixed(2), result.Balance.StringFixed(2)))
	s.notifier.Notify(ctx, toPhone, fmt.Sprintf("账户 %s 收到 %s 转入 ₹%s，当前余额 ₹%s。",
		maskAccount(to), maskAccount(from), amount.StringFixed(2), toBalance.StringFixed(2)))

	return result, nil
}

// ChangePIN 修改 PIN，写一条金额为 0 的 PIN_CHANGE 流水
func (s *MoneyService) ChangePIN(ctx context.Context, accountNumber int64, newPIN, confirmPIN string) error {
	newPIN = strings.TrimSpace(newPIN)
	confirmPIN = strings.TrimSpace(confirmPIN)
	if newPIN != confirmPIN {
		return validationError("两次输入的 PIN 不一致")
	}
	if !validPIN(newPIN) {
		return validationError("PIN 必须为 %d 位数字", model.PINLength)
	}

	pinHash, err := s.pins.Hash(newPIN)
	if err != nil {
		return storeError("hash pin", err)
	}

	var phone string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetForUpdate(ctx, tx, accountNumber)
		if err != nil {
			return err
		}
		if err := s.accountRepo.UpdatePINHash(ctx, tx, accountNumber, pinHash); err != nil {
			return err
		}
		phone = account.Phone
		return s.transactionRepo.Create(ctx, tx, &model.Transaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			AccountNumber: accountNumber,
			Type:          model.TransactionTypePINChange,
			Amount:        decimal.Zero,
			BalanceBefore: account.Balance,
			BalanceAfter:  account.Balance,
			Note:          "PIN Changed",
		})
	})
	if err != nil {
		return s.fail("change pin", accountNumber, err)
	}

	logger.Info("pin changed", logger.Fields{"account_number": accountNumber})
	s.notifier.Notify(ctx, phone, fmt.Sprintf("账户 %s 的 PIN 已修改，如非本人操作请立即联系银行。", maskAccount(accountNumber)))
	return nil
}

// fail 记录失败原因并转换成业务错误；业务拒绝只记 info，存储异常记 error
func (s *MoneyService) fail(op string, accountNumber int64, err error) error {
	err = translate(op, err)
	fields := logger.Fields{"op": op, "account_number": accountNumber}
	if errors.Is(err, ErrStore) {
		logger.Error("money operation failed", err, fields)
	} else {
		fields["reason"] = UserMessage(err)
		logger.Info("money operation rejected", fields)
	}
	return err
}

// maskAccount 短信中只展示账号后四位
func maskAccount(accountNumber int64) string {
	s := fmt.Sprintf("%d", accountNumber)
	if len(s) <= 4 {
		return s
	}
	return "XXXXXX" + s[len(s)-4:]
}
