package repository

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"banksim/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound        = errors.New("账户不存在")
	ErrDuplicateAadhar        = errors.New("Aadhar 已被登记")
	ErrDuplicatePAN           = errors.New("PAN 已被登记")
	ErrDuplicateAccountNumber = errors.New("账号已被占用")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create 插入账户
//
// 唯一性完全由数据库约束保证：主键冲突返回 ErrDuplicateAccountNumber（调用方换号重试），
// aadhar / pan 冲突分别返回对应错误
func (r *AccountRepository) Create(ctx context.Context, tx *gorm.DB, account *model.Account) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Omit(clause.Associations).Create(account).Error
	if err != nil {
		return translateDuplicate(err)
	}
	return nil
}

func (r *AccountRepository) GetByAccountNumber(ctx context.Context, accountNumber int64) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("account_number = ?", accountNumber).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetForUpdate 在事务内读取并锁定账户行
func (r *AccountRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, accountNumber int64) (*model.Account, error) {
	var account model.Account
	err := forUpdate(tx.WithContext(ctx)).
		Where("account_number = ?", accountNumber).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// ListByIdentifier 按账号或手机号查找；手机号不唯一，可能返回多条
func (r *AccountRepository) ListByIdentifier(ctx context.Context, identifier string) ([]*model.Account, error) {
	var accounts []*model.Account

	query := r.db.WithContext(ctx)
	if n, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		query = query.Where("account_number = ? OR phone = ?", n, identifier)
	} else {
		query = query.Where("phone = ?", identifier)
	}

	err := query.Order("created_at ASC, account_number ASC").Find(&accounts).Error
	return accounts, err
}

// FirstByPhone 返回该手机号下最早开立的账户
func (r *AccountRepository) FirstByPhone(ctx context.Context, phone string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).
		Where("phone = ?", phone).
		Order("created_at ASC, account_number ASC").
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// UpdateBalance 写入新余额，只能在已持有行锁的事务内调用
func (r *AccountRepository) UpdateBalance(ctx context.Context, tx *gorm.DB, accountNumber int64, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return errors.New("余额不能为负")
	}

	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("account_number = ?", accountNumber).
		Update("balance", balance)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *AccountRepository) UpdatePINHash(ctx context.Context, tx *gorm.DB, accountNumber int64, pinHash string) error {
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("account_number = ?", accountNumber).
		Update("pin_hash", pinHash)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ListAfter 按账号游标分页，供对账任务遍历全部账户
func (r *AccountRepository) ListAfter(ctx context.Context, afterAccountNumber int64, limit int) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).
		Where("account_number > ?", afterAccountNumber).
		Order("account_number ASC").
		Limit(limit).
		Find(&accounts).Error
	return accounts, err
}

// forUpdate 追加 FOR UPDATE
// sqlite 没有行锁，写事务本身已经整库串行，直接跳过
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// translateDuplicate 把唯一约束冲突翻译成具体的业务错误
//
// MySQL: Error 1062 (23000): Duplicate entry '...' for key 'accounts.uk_accounts_aadhar'
// SQLite: UNIQUE constraint failed: accounts.aadhar
func translateDuplicate(err error) error {
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "duplicate entry") && !strings.Contains(msg, "unique constraint") &&
		!errors.Is(err, gorm.ErrDuplicatedKey) {
		return err
	}

	// 只看约束名部分，避免被冲突值本身干扰
	if i := strings.LastIndex(msg, "for key"); i >= 0 {
		msg = msg[i:]
	} else if i := strings.LastIndex(msg, "unique constraint failed"); i >= 0 {
		msg = msg[i:]
	}

	switch {
	case strings.Contains(msg, "aadhar"):
		return ErrDuplicateAadhar
	case strings.Contains(msg, "primary"), strings.Contains(msg, "account_number"):
		return ErrDuplicateAccountNumber
	case strings.Contains(msg, "pan"):
		return ErrDuplicatePAN
	default:
		return err
	}
}
