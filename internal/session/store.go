// Package session 会话存储
//
// 会话令牌是不透明的随机 UUID，服务端在 Redis 中保存 令牌 -> 账号 的映射，
// 带固定过期时间；登出时删除，令牌立即失效
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Channel 会话渠道：网银 / ATM
type Channel string

const (
	ChannelWeb Channel = "web"
	ChannelATM Channel = "atm"
)

var ErrSessionNotFound = errors.New("会话不存在或已过期")

// Session 服务端保存的会话内容
type Session struct {
	Token         string    `json:"-"`
	AccountNumber int64     `json:"account_number"`
	Channel       Channel   `json:"channel"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func sessionKey(token string) string {
	return fmt.Sprintf("bank:session:%s", token)
}

// Create 为已认证账号签发新会话
func (s *Store) Create(ctx context.Context, accountNumber int64, channel Channel) (*Session, error) {
	now := time.Now()
	sess := &Session{
		Token:         uuid.NewString(),
		AccountNumber: accountNumber,
		Channel:       channel,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.ttl),
	}

	payload, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}
	if err := s.client.Set(ctx, sessionKey(sess.Token), payload, s.ttl).Err(); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get 校验令牌；渠道不匹配视同不存在，网银令牌不能在 ATM 上使用，反之亦然
func (s *Store) Get(ctx context.Context, token string, channel Channel) (*Session, error) {
	if _, err := uuid.Parse(token); err != nil {
		return nil, ErrSessionNotFound
	}

	raw, err := s.client.Get(ctx, sessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}
	if sess.Channel != channel {
		return nil, ErrSessionNotFound
	}
	sess.Token = token
	return &sess, nil
}

// Delete 登出，令牌立即失效
func (s *Store) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, sessionKey(token)).Err()
}

func (s *Store) TTL() time.Duration {
	return s.ttl
}
