package job

import (
	"context"
	"log"
	"time"

	"banksim/internal/config"
	"banksim/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Mismatch 账户余额与流水不一致
type Mismatch struct {
	AccountNumber int64
	Balance       decimal.Decimal
	Ledger        decimal.Decimal
}

// BalanceAuditJob 定期对账：逐批核对账户余额与流水带符号金额之和
//
// 只记录不修复，出现不一致需要人工介入
type BalanceAuditJob struct {
	db              *gorm.DB
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	stopCh          chan struct{}
	interval        time.Duration
	batchSize       int
}

func NewBalanceAuditJob(db *gorm.DB, cfg *config.BusinessConfig) *BalanceAuditJob {
	interval := cfg.AuditInterval
	if interval <= 0 {
		interval = time.Hour
	}
	batchSize := cfg.AuditBatchSize
	if batchSize <= 0 {
		batchSize = 200
	}
	return &BalanceAuditJob{
		db:              db,
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		stopCh:          make(chan struct{}),
		interval:        interval,
		batchSize:       batchSize,
	}
}

func (j *BalanceAuditJob) Start(ctx context.Context) {
	log.Println("[BalanceAuditJob] 对账任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[BalanceAuditJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[BalanceAuditJob] 任务停止")
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				log.Printf("[BalanceAuditJob] 对账中断: %v", err)
			}
		}
	}
}

func (j *BalanceAuditJob) Stop() {
	close(j.stopCh)
}

// RunOnce 完整扫描一遍所有账户，返回不一致的账户
func (j *BalanceAuditJob) RunOnce(ctx context.Context) ([]Mismatch, error) {
	var mismatches []Mismatch
	var after int64
	checked := 0

	for {
		accounts, err := j.accountRepo.ListAfter(ctx, after, j.batchSize)
		if err != nil {
			return mismatches, err
		}
		if len(accounts) == 0 {
			break
		}

		for _, account := range accounts {
			ledger, err := j.transactionRepo.SignedSum(ctx, nil, account.AccountNumber)
			if err != nil {
				return mismatches, err
			}
			checked++
			if ledger.Equal(account.Balance) && !account.Balance.IsNegative() {
				continue
			}

			// 两次读取之间可能有交易提交，持行锁复核后才算数
			m, confirmed, err := j.confirm(ctx, account.AccountNumber)
			if err != nil {
				return mismatches, err
			}
			if !confirmed {
				continue
			}
			log.Printf("[BalanceAuditJob] 余额不一致: account=%d, balance=%s, ledger=%s",
				m.AccountNumber, m.Balance.StringFixed(2), m.Ledger.StringFixed(2))
			mismatches = append(mismatches, m)
		}
		after = accounts[len(accounts)-1].AccountNumber
	}

	log.Printf("[BalanceAuditJob] 本次核对 %d 个账户，不一致 %d 个", checked, len(mismatches))
	return mismatches, nil
}

// confirm 在同一事务内锁住账户行再汇总流水；资金操作都先锁该行，
// 所以这里读到的余额与流水一定来自同一时刻
func (j *BalanceAuditJob) confirm(ctx context.Context, accountNumber int64) (Mismatch, bool, error) {
	m := Mismatch{AccountNumber: accountNumber}
	err := j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := j.accountRepo.GetForUpdate(ctx, tx, accountNumber)
		if err != nil {
			return err
		}
		ledger, err := j.transactionRepo.SignedSum(ctx, tx, accountNumber)
		if err != nil {
			return err
		}
		m.Balance = account.Balance
		m.Ledger = ledger
		return nil
	})
	if err != nil {
		return m, false, err
	}
	return m, !m.Ledger.Equal(m.Balance) || m.Balance.IsNegative(), nil
}
