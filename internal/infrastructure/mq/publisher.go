package mq

import (
	"context"
	"fmt"
	"log"

	"banksim/internal/config"
)

// Publisher 把通知消息投递到短信网关所在的消息通道
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
	Close() error
}

// NewPublisher 按配置选择投递通道
func NewPublisher(cfg *config.Config) (Publisher, error) {
	switch cfg.Notify.Driver {
	case "kafka":
		return NewKafkaPublisher(&cfg.Kafka)
	case "rabbitmq":
		return NewRabbitPublisher(&cfg.RabbitMQ)
	case "log", "":
		return LogPublisher{}, nil
	default:
		return nil, fmt.Errorf("未知的通知通道: %s", cfg.Notify.Driver)
	}
}

// LogPublisher 本地开发用，只打日志
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, topic, key string, payload []byte) error {
	log.Printf("[LogPublisher] topic=%s key=%s payload=%s", topic, key, payload)
	return nil
}

func (LogPublisher) Close() error { return nil }
