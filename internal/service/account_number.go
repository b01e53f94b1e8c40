package service

import (
	"math/rand"
	"sync"
	"time"

	"banksim/internal/model"
)

// AccountNumberGenerator 在 [2000000000, 9999999999] 内均匀抽取候选账号
//
// 生成器只负责"抽号"，不做存在性预检：候选号直接拿去插入，
// 主键冲突时由调用方换号重试，插入成功即视为该号码已被占用
type AccountNumberGenerator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewAccountNumberGenerator() *AccountNumberGenerator {
	return &AccountNumberGenerator{
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next 抽取一个候选账号，并发安全
func (g *AccountNumberGenerator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return model.AccountNumberMin + g.rnd.Int63n(model.AccountNumberMax-model.AccountNumberMin+1)
}
