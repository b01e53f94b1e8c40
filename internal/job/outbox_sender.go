package job

import (
	"context"
	"log"
	"time"

	"banksim/internal/config"
	"banksim/internal/infrastructure/mq"
	"banksim/internal/model"
	"banksim/internal/repository"

	"gorm.io/gorm"
)

// OutboxSender 轮询 outbox 表，把待发送的短信投递到消息通道
//
// 投递成功置为 SENT；失败累加重试次数，达到上限后置为 FAILED 不再重试
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  mq.Publisher
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
	maxRetry   int
}

func NewOutboxSender(db *gorm.DB, publisher mq.Publisher, cfg *config.NotifyConfig) *OutboxSender {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	maxRetry := cfg.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 1
	}
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		stopCh:     make(chan struct{}),
		interval:   interval,
		batchSize:  100,
		maxRetry:   maxRetry,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	log.Println("[OutboxSender] 短信投递任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[OutboxSender] 收到停止信号，任务退出")
			return
		case <-s.stopCh:
			log.Println("[OutboxSender] 任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		log.Printf("[OutboxSender] 查询消息失败: %v", err)
		return
	}

	for _, msg := range messages {
		if ctx.Err() != nil {
			return
		}
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	err := s.publisher.Publish(ctx, msg.Topic, msg.MessageKey, []byte(msg.Payload))
	if err == nil {
		if err := s.outboxRepo.MarkAsSent(ctx, msg.ID); err != nil {
			log.Printf("[OutboxSender] 更新消息状态失败: id=%d, err=%v", msg.ID, err)
		}
		return
	}

	giveUp := msg.RetryCount+1 >= s.maxRetry
	log.Printf("[OutboxSender] 消息投递失败: id=%d, retry=%d, err=%v", msg.ID, msg.RetryCount+1, err)

	if err := s.outboxRepo.RecordFailure(ctx, msg.ID, giveUp); err != nil {
		log.Printf("[OutboxSender] 记录失败次数出错: id=%d, err=%v", msg.ID, err)
		return
	}
	if giveUp {
		log.Printf("[OutboxSender] 消息超过最大重试次数，标记为失败: id=%d", msg.ID)
	}
}
