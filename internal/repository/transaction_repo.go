package repository

import (
	"context"

	"banksim/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create 追加流水，流水只插入不更新
func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.Transaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

func (r *TransactionRepository) ListByAccountNumber(ctx context.Context, accountNumber int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	var transactions []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("account_number = ?", accountNumber)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if page < 1 {
		page = 1
	}
	err := query.
		Order("id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

type typeTotal struct {
	Type  string
	Total decimal.Decimal
}

// SignedSum 按流水还原账户余额：入账类型取正，出账类型取负
// tx 非空时在该事务内读取
func (r *TransactionRepository) SignedSum(ctx context.Context, tx *gorm.DB, accountNumber int64) (decimal.Decimal, error) {
	if tx == nil {
		tx = r.db
	}
	var rows []typeTotal
	err := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Select("type, SUM(amount) AS total").
		Where("account_number = ?", accountNumber).
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return decimal.Zero, err
	}

	sum := decimal.Zero
	for _, row := range rows {
		sum = sum.Add(model.SignedAmount(row.Type, row.Total))
	}
	return sum, nil
}
