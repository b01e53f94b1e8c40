package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 交易类型常量
// ============================================================================

const (
	TransactionTypeDeposit       = "DEPOSIT"        // 存款
	TransactionTypeWithdraw      = "WITHDRAW"       // 取款
	TransactionTypeTransferOut   = "TRANSFER_OUT"   // 转出
	TransactionTypeTransferIn    = "TRANSFER_IN"    // 转入
	TransactionTypeAccountCreate = "ACCOUNT_CREATE" // 开户（含首笔存款）
	TransactionTypePINChange     = "PIN_CHANGE"     // 修改 PIN，金额为 0
)

// ============================================================================
// 账户流水实体
// ============================================================================

// Transaction 账户流水表
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除
// 2. 金额恒为非负数，方向由 Type 决定
// 3. 转账必然成对出现：转出方一条 TRANSFER_OUT，转入方一条 TRANSFER_IN，互为对手方
type Transaction struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"` // 流水号（回执号）
	AccountNumber int64           `gorm:"index;not null" json:"account_number"` // 外键 -> accounts.account_number
	Type          string          `gorm:"type:varchar(20);not null" json:"type"`
	Amount        decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amount"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"balance_after"`
	Note          string          `gorm:"type:varchar(255)" json:"note"`
	Counterparty  *int64          `json:"counterparty,omitempty"` // 仅 TRANSFER_* 有值
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// SignedAmount 按交易类型还原带符号金额
func SignedAmount(txnType string, amount decimal.Decimal) decimal.Decimal {
	switch txnType {
	case TransactionTypeDeposit, TransactionTypeTransferIn, TransactionTypeAccountCreate:
		return amount
	case TransactionTypeWithdraw, TransactionTypeTransferOut:
		return amount.Neg()
	default:
		return decimal.Zero
	}
}
