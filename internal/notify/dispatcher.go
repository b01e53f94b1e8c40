// Package notify 短信通知的异步派发
//
// 资金操作提交之后调用 Notify，只做一次非阻塞入队；后台协程把消息写入 outbox，
// 再由 job.OutboxSender 投递给短信网关。通知失败只记日志，不影响已提交的交易
package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"banksim/internal/model"
	"banksim/internal/repository"
	"banksim/pkg/idgen"

	"gorm.io/gorm"
)

// Notifier 由资金引擎在事务提交后调用
type Notifier interface {
	Notify(ctx context.Context, phone, message string)
}

// Nop 不发送任何通知
type Nop struct{}

func (Nop) Notify(context.Context, string, string) {}

type Dispatcher struct {
	outboxRepo *repository.OutboxRepository
	topic      string
	queue      chan model.SMSPayload
}

func NewDispatcher(db *gorm.DB, topic string, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Dispatcher{
		outboxRepo: repository.NewOutboxRepository(db),
		topic:      topic,
		queue:      make(chan model.SMSPayload, queueSize),
	}
}

// Notify 非阻塞入队，队列满时丢弃并记录日志
func (d *Dispatcher) Notify(_ context.Context, phone, message string) {
	if phone == "" {
		return
	}

	select {
	case d.queue <- model.SMSPayload{Phone: phone, Message: message}:
	default:
		log.Printf("[Notify] 队列已满，丢弃短信: phone=%s", maskPhone(phone))
	}
}

// Start 后台消费队列，ctx 取消后把队列里剩余的消息落库再退出
func (d *Dispatcher) Start(ctx context.Context) {
	log.Println("[Notify] 短信派发任务启动")

	for {
		select {
		case <-ctx.Done():
			d.drain()
			log.Println("[Notify] 收到停止信号，任务退出")
			return
		case sms := <-d.queue:
			d.persist(sms)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case sms := <-d.queue:
			d.persist(sms)
		default:
			return
		}
	}
}

func (d *Dispatcher) persist(sms model.SMSPayload) {
	payload, err := json.Marshal(sms)
	if err != nil {
		log.Printf("[Notify] 序列化短信失败: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	msg := &model.OutboxMessage{
		MessageKey: idgen.GenerateMessageNo(),
		Topic:      d.topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := d.outboxRepo.Create(ctx, msg); err != nil {
		log.Printf("[Notify] 写入 outbox 失败: phone=%s, err=%v", maskPhone(sms.Phone), err)
	}
}

// maskPhone 日志中只保留后四位
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "****" + phone[len(phone)-4:]
}
