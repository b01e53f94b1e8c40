package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"banksim/internal/config"

	"github.com/go-redis/redis/v8"
)

// NewClient 按配置创建客户端，不做连通性检查
//
// 会话校验在每个已登录请求上都会访问 Redis，账户锁加锁失败时会按固定间隔重试，
// 连接池大小需要覆盖这两类并发
func NewClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}

// InitRedis 初始化 Redis 连接（会话存储、账户锁共用），连不上直接退出
func InitRedis(cfg *config.RedisConfig) *redis.Client {
	client := NewClient(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("连接 Redis 失败: %v", err)
	}

	log.Printf("Redis 连接成功: addr=%s, pool=%d", client.Options().Addr, client.Options().PoolSize)
	return client
}
