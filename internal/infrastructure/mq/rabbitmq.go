package mq

import (
	"context"
	"errors"
	"log"
	"net/url"
	"strings"
	"sync"

	"banksim/internal/config"

	"github.com/rabbitmq/amqp091-go"
)

// RabbitPublisher 通过 topic exchange 投递，routing key 即 topic
type RabbitPublisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP 地址必须以 amqp:// 或 amqps:// 开头")
	}
	return clean, nil
}

func NewRabbitPublisher(cfg *config.RabbitMQConfig) (*RabbitPublisher, error) {
	cleanURL, err := sanitizeAMQPURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.Dial(cleanURL)
	if err != nil {
		return nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	err = channel.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}

	log.Println("RabbitMQ 生产者创建成功")
	return &RabbitPublisher{conn: conn, channel: channel, exchange: cfg.Exchange}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	// amqp channel 不是并发安全的
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.channel.PublishWithContext(ctx,
		p.exchange,
		topic,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    key,
			Body:         payload,
		})
}

func (p *RabbitPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
