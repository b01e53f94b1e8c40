package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 业务常量
const (
	AccountNumberMin  int64 = 2000000000 // 账号下限（10位）
	AccountNumberMax  int64 = 9999999999 // 账号上限
	PINLength               = 4          // PIN 固定 4 位数字
	MinAge                  = 18         // 开户最低年龄
	DateLayout              = "2006-01-02"
)

// MinOpeningDeposit 开户最低存款
var MinOpeningDeposit = decimal.NewFromInt(1000)

// Account 银行账户表
// 账号一经分配不可修改；余额在任何操作之后都不能为负
type Account struct {
	AccountNumber int64           `gorm:"primaryKey;autoIncrement:false" json:"account_number"`
	Name          string          `gorm:"type:varchar(80);not null" json:"name"`
	DOB           time.Time       `gorm:"column:dob;type:date;not null" json:"dob"`
	Phone         string          `gorm:"type:varchar(15);index;not null" json:"phone"`
	Aadhar        string          `gorm:"type:varchar(12);uniqueIndex:uk_accounts_aadhar;not null" json:"aadhar"`
	PAN           string          `gorm:"column:pan;type:varchar(10);uniqueIndex:uk_accounts_pan;not null" json:"pan"`
	PINHash       string          `gorm:"column:pin_hash;type:varchar(72);not null" json:"-"` // bcrypt 哈希，明文 PIN 不落库
	Balance       decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"balance"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Transactions []Transaction `gorm:"foreignKey:AccountNumber;references:AccountNumber" json:"-"`
}

func (Account) TableName() string {
	return "accounts"
}

// ValidAccountNumber 判断是否落在账号区间内
func ValidAccountNumber(n int64) bool {
	return n >= AccountNumberMin && n <= AccountNumberMax
}
