package service

import (
	"context"
	"database/sql/driver"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"banksim/internal/infrastructure/lock"
	"banksim/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func TestDepositAndWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.open(t, 5000, "1234")

	res, err := f.money.Withdraw(ctx, a.AccountNumber, amt(3000))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Balance.Equal(amt(2000)) {
		t.Fatalf("balance=%s want=2000", res.Balance)
	}

	// 余额不足：余额不变，不写流水
	before := f.countRows(t, &model.Transaction{})
	if _, err := f.money.Withdraw(ctx, a.AccountNumber, amt(3000)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}
	if !f.balance(t, a.AccountNumber).Equal(amt(2000)) {
		t.Fatalf("balance changed after rejected withdraw: %s", f.balance(t, a.AccountNumber))
	}
	if n := f.countRows(t, &model.Transaction{}); n != before {
		t.Fatalf("transactions=%d want=%d", n, before)
	}

	res, err = f.money.Deposit(ctx, a.AccountNumber, decimal.RequireFromString("250.50"))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Balance.Equal(decimal.RequireFromString("2250.50")) {
		t.Fatalf("balance=%s want=2250.50", res.Balance)
	}

	// 恰好取完
	if _, err := f.money.Withdraw(ctx, a.AccountNumber, decimal.RequireFromString("2250.50")); err != nil {
		t.Fatalf("withdraw whole balance: %v", err)
	}
	if !f.balance(t, a.AccountNumber).IsZero() {
		t.Fatalf("balance=%s want=0", f.balance(t, a.AccountNumber))
	}

	rows := f.rows(t, a.AccountNumber)
	wantTypes := []string{
		model.TransactionTypeAccountCreate,
		model.TransactionTypeWithdraw,
		model.TransactionTypeDeposit,
		model.TransactionTypeWithdraw,
	}
	if len(rows) != len(wantTypes) {
		t.Fatalf("rows=%d want=%d", len(rows), len(wantTypes))
	}
	for i, typ := range wantTypes {
		if rows[i].Type != typ {
			t.Errorf("row %d type=%s want=%s", i, rows[i].Type, typ)
		}
	}
	f.assertLedger(t, a.AccountNumber)
}

func TestAmountValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.open(t, 1000, "1234")
	b := f.open(t, 1000, "1234")

	bad := []decimal.Decimal{
		decimal.Zero,
		amt(-5),
		decimal.RequireFromString("10.001"),
	}
	for _, v := range bad {
		if _, err := f.money.Deposit(ctx, a.AccountNumber, v); !errors.Is(err, ErrValidation) {
			t.Errorf("Deposit(%s) err=%v", v, err)
		}
		if _, err := f.money.Withdraw(ctx, a.AccountNumber, v); !errors.Is(err, ErrValidation) {
			t.Errorf("Withdraw(%s) err=%v", v, err)
		}
		if _, err := f.money.Transfer(ctx, a.AccountNumber, b.AccountNumber, v); !errors.Is(err, ErrValidation) {
			t.Errorf("Transfer(%s) err=%v", v, err)
		}
	}
	if n := f.countRows(t, &model.Transaction{}); n != 2 {
		t.Fatalf("transactions=%d want=2", n)
	}
}

func TestDepositUnknownAccount(t *testing.T) {
	f := newFixture(t)
	if _, err := f.money.Deposit(context.Background(), 2000000000, amt(10)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

// TestTransfer X=2000, Y=500，X 向 Y 转 1500
func TestTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.open(t, 2000, "1111")
	y := f.open(t, 1000, "2222")
	if _, err := f.money.Withdraw(ctx, y.AccountNumber, amt(500)); err != nil {
		t.Fatal(err)
	}
	sent := f.notifier.count()

	res, err := f.money.Transfer(ctx, x.AccountNumber, y.AccountNumber, amt(1500))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Balance.Equal(amt(500)) {
		t.Fatalf("source balance=%s want=500", res.Balance)
	}
	if !f.balance(t, x.AccountNumber).Equal(amt(500)) || !f.balance(t, y.AccountNumber).Equal(amt(2000)) {
		t.Fatalf("x=%s y=%s", f.balance(t, x.AccountNumber), f.balance(t, y.AccountNumber))
	}

	xRows := f.rows(t, x.AccountNumber)
	out := xRows[len(xRows)-1]
	if out.Type != model.TransactionTypeTransferOut || !out.Amount.Equal(amt(1500)) ||
		out.Counterparty == nil || *out.Counterparty != y.AccountNumber {
		t.Fatalf("unexpected out row %+v", out)
	}
	yRows := f.rows(t, y.AccountNumber)
	in := yRows[len(yRows)-1]
	if in.Type != model.TransactionTypeTransferIn || !in.Amount.Equal(amt(1500)) ||
		in.Counterparty == nil || *in.Counterparty != x.AccountNumber {
		t.Fatalf("unexpected in row %+v", in)
	}

	// 双方各收到一条短信
	if got := f.notifier.count() - sent; got != 2 {
		t.Fatalf("notifications=%d want=2", got)
	}
	f.assertLedger(t, x.AccountNumber)
	f.assertLedger(t, y.AccountNumber)
}

func TestTransferRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.open(t, 1000, "1111")
	y := f.open(t, 1000, "2222")
	sent := f.notifier.count()
	rows := f.countRows(t, &model.Transaction{})

	if _, err := f.money.Transfer(ctx, x.AccountNumber, x.AccountNumber, amt(10)); !errors.Is(err, ErrValidation) {
		t.Fatalf("self transfer: want ErrValidation, got %v", err)
	}
	if _, err := f.money.Transfer(ctx, x.AccountNumber, 2000000000, amt(10)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing destination: want ErrNotFound, got %v", err)
	}
	if _, err := f.money.Transfer(ctx, x.AccountNumber, y.AccountNumber, amt(1001)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("overdraw: want ErrInsufficientFunds, got %v", err)
	}

	if !f.balance(t, x.AccountNumber).Equal(amt(1000)) || !f.balance(t, y.AccountNumber).Equal(amt(1000)) {
		t.Fatal("balances changed after rejected transfers")
	}
	if n := f.countRows(t, &model.Transaction{}); n != rows {
		t.Fatalf("transactions=%d want=%d", n, rows)
	}
	if f.notifier.count() != sent {
		t.Fatal("rejected operations must not notify")
	}
}

// TestConcurrentWithdrawals 5000 元账户并发取两次 3000，只能成功一次
func TestConcurrentWithdrawals(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, 5000, "1234")

	var ok, insufficient int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.money.Withdraw(context.Background(), a.AccountNumber, amt(3000))
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, ErrInsufficientFunds):
				atomic.AddInt32(&insufficient, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || insufficient != 1 {
		t.Fatalf("ok=%d insufficient=%d", ok, insufficient)
	}
	if !f.balance(t, a.AccountNumber).Equal(amt(2000)) {
		t.Fatalf("balance=%s want=2000", f.balance(t, a.AccountNumber))
	}
	f.assertLedger(t, a.AccountNumber)
}

// TestConcurrentOppositeTransfers A->B 与 B->A 并发，总额守恒且不死锁
func TestConcurrentOppositeTransfers(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, 3000, "1111")
	b := f.open(t, 3000, "2222")

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, _ = f.money.Transfer(context.Background(), a.AccountNumber, b.AccountNumber, amt(100))
			}()
			go func() {
				defer wg.Done()
				_, _ = f.money.Transfer(context.Background(), b.AccountNumber, a.AccountNumber, amt(70))
			}()
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("transfers did not finish, possible deadlock")
	}

	total := f.balance(t, a.AccountNumber).Add(f.balance(t, b.AccountNumber))
	if !total.Equal(amt(6000)) {
		t.Fatalf("total=%s want=6000", total)
	}
	f.assertLedger(t, a.AccountNumber)
	f.assertLedger(t, b.AccountNumber)
}

// TestMoneyServiceWithRedisLocker 叠加 Redis 账户锁后行为不变
func TestMoneyServiceWithRedisLocker(t *testing.T) {
	f := newFixture(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f.money = NewMoneyService(f.db, lock.NewAccountLocker(client, 5*time.Second), f.accounts.pins, f.notifier)

	a := f.open(t, 2000, "1111")
	b := f.open(t, 2000, "2222")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.money.Transfer(context.Background(), a.AccountNumber, b.AccountNumber, amt(50))
		}()
		go func() {
			defer wg.Done()
			_, _ = f.money.Withdraw(context.Background(), b.AccountNumber, amt(10))
		}()
	}
	wg.Wait()

	if !f.balance(t, a.AccountNumber).Equal(amt(1750)) {
		t.Fatalf("a=%s want=1750", f.balance(t, a.AccountNumber))
	}
	if !f.balance(t, b.AccountNumber).Equal(amt(2200)) {
		t.Fatalf("b=%s want=2200", f.balance(t, b.AccountNumber))
	}
	// 所有锁都已释放
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("leftover lock keys: %v", keys)
	}
	f.assertLedger(t, a.AccountNumber)
	f.assertLedger(t, b.AccountNumber)
}

func TestChangePIN(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.open(t, 1000, "1234")
	id := a.Phone
	rows := f.countRows(t, &model.Transaction{})

	// 两次输入不一致 / 格式错误：PIN 不变，不写流水
	if err := f.money.ChangePIN(ctx, a.AccountNumber, "5678", "5679"); !errors.Is(err, ErrValidation) {
		t.Fatalf("mismatch: want ErrValidation, got %v", err)
	}
	if err := f.money.ChangePIN(ctx, a.AccountNumber, "56a8", "56a8"); !errors.Is(err, ErrValidation) {
		t.Fatalf("malformed: want ErrValidation, got %v", err)
	}
	if n := f.countRows(t, &model.Transaction{}); n != rows {
		t.Fatalf("transactions=%d want=%d", n, rows)
	}
	if _, err := f.accounts.Authenticate(ctx, id, "1234"); err != nil {
		t.Fatalf("old pin should still work: %v", err)
	}

	if err := f.money.ChangePIN(ctx, a.AccountNumber, "5678", "5678"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.accounts.Authenticate(ctx, id, "1234"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old pin should be rejected, got %v", err)
	}
	if _, err := f.accounts.Authenticate(ctx, id, "5678"); err != nil {
		t.Fatalf("new pin: %v", err)
	}

	all := f.rows(t, a.AccountNumber)
	last := all[len(all)-1]
	if last.Type != model.TransactionTypePINChange || !last.Amount.IsZero() || !last.BalanceAfter.Equal(amt(1000)) {
		t.Fatalf("unexpected pin change row %+v", last)
	}
	f.assertLedger(t, a.AccountNumber)
}

func TestMaskAccount(t *testing.T) {
	if got := maskAccount(2345678901); got != "XXXXXX8901" {
		t.Fatalf("got %q", got)
	}
}

// accountNumbersIn 取出查询参数中的账号
func accountNumbersIn(tx *gorm.DB) []int64 {
	var out []int64
	for _, v := range tx.Statement.Vars {
		if n, ok := v.(int64); ok && model.ValidAccountNumber(n) {
			out = append(out, n)
		}
	}
	return out
}

// TestTransferDestinationStoreFailure 查收款账户时存储出错，按系统错误处理而不是"账户不存在"
func TestTransferDestinationStoreFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.open(t, 2000, "1111")
	y := f.open(t, 1000, "2222")
	rows := f.countRows(t, &model.Transaction{})

	failing := false
	err := f.db.Callback().Query().After("gorm:query").Register("test:fail_destination", func(tx *gorm.DB) {
		if !failing || tx.Statement.Table != "accounts" {
			return
		}
		for _, n := range accountNumbersIn(tx) {
			if n == y.AccountNumber {
				tx.AddError(driver.ErrBadConn)
			}
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	failing = true
	_, err = f.money.Transfer(ctx, x.AccountNumber, y.AccountNumber, amt(100))
	failing = false

	if !errors.Is(err, ErrStore) || errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrStore, got %v", err)
	}
	if UserMessage(err) != "系统繁忙，请稍后重试" {
		t.Fatalf("message=%q", UserMessage(err))
	}
	if !f.balance(t, x.AccountNumber).Equal(amt(2000)) || !f.balance(t, y.AccountNumber).Equal(amt(1000)) {
		t.Fatal("balances changed after failed transfer")
	}
	if n := f.countRows(t, &model.Transaction{}); n != rows {
		t.Fatalf("transactions=%d want=%d", n, rows)
	}
}

// TestTransferLocksInAscendingOrder 无论转账方向，账户行都按账号升序加锁
func TestTransferLocksInAscendingOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	nums := []int64{3000000001, 8000000001}
	i := 0
	f.accounts.nextAccountNumber = func() int64 {
		n := nums[i]
		i++
		return n
	}
	low := f.open(t, 1000, "1111")
	high := f.open(t, 1000, "2222")

	recording := false
	var locked []int64
	err := f.db.Callback().Query().After("gorm:query").Register("test:record_locks", func(tx *gorm.DB) {
		if recording && tx.Statement.Table == "accounts" {
			locked = append(locked, accountNumbersIn(tx)...)
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, dir := range [][2]int64{
		{high.AccountNumber, low.AccountNumber},
		{low.AccountNumber, high.AccountNumber},
	} {
		locked = nil
		recording = true
		_, err := f.money.Transfer(ctx, dir[0], dir[1], amt(10))
		recording = false
		if err != nil {
			t.Fatal(err)
		}
		if len(locked) != 2 || locked[0] != low.AccountNumber || locked[1] != high.AccountNumber {
			t.Fatalf("transfer %d->%d locked %v", dir[0], dir[1], locked)
		}
	}
}
