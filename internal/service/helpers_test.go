package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"banksim/internal/model"
	"banksim/internal/repository"
	"banksim/internal/testutil"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// recordingNotifier 记录所有短信，线程安全
type recordingNotifier struct {
	mu   sync.Mutex
	msgs []model.SMSPayload
}

func (n *recordingNotifier) Notify(_ context.Context, phone, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, model.SMSPayload{Phone: phone, Message: message})
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

type fixture struct {
	db       *gorm.DB
	accounts *AccountService
	money    *MoneyService
	notifier *recordingNotifier
	seq      int
}

var testToday = time.Date(2026, 10, 15, 12, 0, 0, 0, time.Local)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	pins := NewPINHasher(bcrypt.MinCost)
	n := &recordingNotifier{}

	accounts := NewAccountService(db, pins, n)
	accounts.now = func() time.Time { return testToday }

	return &fixture{
		db:       db,
		accounts: accounts,
		money:    NewMoneyService(db, nil, pins, n),
		notifier: n,
	}
}

// open 开一个新账户，aadhar / pan 自动递增保证唯一
func (f *fixture) open(t *testing.T, deposit int64, pin string) *model.Account {
	t.Helper()
	f.seq++
	account, err := f.accounts.Register(context.Background(), &RegisterRequest{
		Name:           "Holder",
		DOB:            "1990-01-01",
		Phone:          "98765" + pad5(f.seq),
		Aadhar:         "1000000" + pad5(f.seq),
		PAN:            "ABCDE" + pad5(f.seq)[1:] + "F",
		PIN:            pin,
		OpeningDeposit: decimal.NewFromInt(deposit),
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return account
}

func pad5(n int) string {
	return fmt.Sprintf("%05d", n)
}

func (f *fixture) balance(t *testing.T, accountNumber int64) decimal.Decimal {
	t.Helper()
	var account model.Account
	if err := f.db.Where("account_number = ?", accountNumber).First(&account).Error; err != nil {
		t.Fatalf("load account %d: %v", accountNumber, err)
	}
	return account.Balance
}

func (f *fixture) rows(t *testing.T, accountNumber int64) []*model.Transaction {
	t.Helper()
	rows, _, err := repository.NewTransactionRepository(f.db).ListByAccountNumber(context.Background(), accountNumber, 1, 1000)
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func (f *fixture) countRows(t *testing.T, m interface{}) int64 {
	t.Helper()
	var n int64
	if err := f.db.Model(m).Count(&n).Error; err != nil {
		t.Fatal(err)
	}
	return n
}

// assertLedger 余额必须等于流水带符号金额之和，且非负
func (f *fixture) assertLedger(t *testing.T, accountNumber int64) {
	t.Helper()
	sum, err := repository.NewTransactionRepository(f.db).SignedSum(context.Background(), nil, accountNumber)
	if err != nil {
		t.Fatal(err)
	}
	bal := f.balance(t, accountNumber)
	if !sum.Equal(bal) {
		t.Fatalf("account %d: balance=%s ledger=%s", accountNumber, bal, sum)
	}
	if bal.IsNegative() {
		t.Fatalf("account %d: negative balance %s", accountNumber, bal)
	}
}

func amt(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}
