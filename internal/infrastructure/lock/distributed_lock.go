package lock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 多实例部署时，同一账户的资金操作先在 Redis 上串行，再进入数据库事务加行锁。
// 行锁是正确性的最终保证，Redis 锁只负责把冲突挡在事务之外，减少锁等待。
//
// 加锁：SET key value NX PX timeout
// 释放：Lua 脚本校验 value 后删除，防止误删别人的锁
//
// ============================================================================

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁持有者标识
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁，只删除自己持有的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}

// ============================================================================
// 账户锁
// ============================================================================

// AccountLocker 按账号维度加锁
//
// 涉及多个账号时（转账）按账号升序依次加锁，
// A->B 与 B->A 两笔并发转账永远以相同顺序取锁，不会互相等待
type AccountLocker struct {
	client        *redis.Client
	expiration    time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewAccountLocker(client *redis.Client, expiration time.Duration) *AccountLocker {
	return &AccountLocker{
		client:        client,
		expiration:    expiration,
		retryInterval: 50 * time.Millisecond,
		maxRetries:    100,
	}
}

func accountLockKey(accountNumber int64) string {
	return fmt.Sprintf("bank:lock:account:%d", accountNumber)
}

// LockAccounts 依次锁定给定账号，返回的 release 按相反顺序释放
func (l *AccountLocker) LockAccounts(ctx context.Context, accountNumbers ...int64) (func(), error) {
	ordered := sortedUnique(accountNumbers)
	owner := uuid.NewString()

	held := make([]*DistributedLock, 0, len(ordered))
	release := func() {
		// 释放不受请求 ctx 取消影响
		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Unlock(unlockCtx); err != nil {
				log.Printf("[AccountLocker] 释放锁失败: key=%s, err=%v", held[i].key, err)
			}
		}
	}

	for _, n := range ordered {
		dl := NewDistributedLock(l.client, accountLockKey(n), owner, l.expiration)
		if err := dl.Lock(ctx, l.retryInterval, l.maxRetries); err != nil {
			release()
			return nil, fmt.Errorf("锁定账户 %d: %w", n, err)
		}
		held = append(held, dl)
	}

	return release, nil
}

func sortedUnique(nums []int64) []int64 {
	out := make([]int64, 0, len(nums))
	seen := make(map[int64]struct{}, len(nums))
	for _, n := range nums {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
