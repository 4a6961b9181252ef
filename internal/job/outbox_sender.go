package job

import (
	"context"
	"time"

	"creditsystem/internal/config"
	"creditsystem/internal/infrastructure/mq"
	"creditsystem/internal/metrics"
	"creditsystem/internal/model"
	"creditsystem/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OutboxSender 把本地消息表里的积分事件投递到 Kafka
// 投递至少一次，消费方按 event_key 去重
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	producer   mq.Producer
	cfg        *config.Config
	log        *zap.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, producer mq.Producer, cfg *config.Config, log *zap.Logger) *OutboxSender {
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		producer:   producer,
		cfg:        cfg,
		log:        log.Named("outbox_sender"),
		stopCh:     make(chan struct{}),
		interval:   cfg.Business.OutboxInterval,
		batchSize:  cfg.Business.OutboxBatchSize,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("消息发送任务启动", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("收到停止信号，任务退出")
			return
		case <-s.stopCh:
			s.log.Info("任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// processPendingMessages 返回本轮成功投递的条数
func (s *OutboxSender) processPendingMessages(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.Error("查询待发送消息失败", zap.Error(err))
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.producer.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		metrics.OutboxMessages.WithLabelValues(metrics.ResultSuccess).Inc()
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID); updateErr != nil {
			// 下一轮会重复投递
			s.log.Error("更新消息状态失败", zap.Int64("id", msg.ID), zap.Error(updateErr))
			return false
		}
		s.log.Debug("消息发送成功",
			zap.Int64("id", msg.ID),
			zap.String("topic", msg.Topic),
			zap.String("key", msg.MessageKey),
		)
		return true
	}

	metrics.OutboxMessages.WithLabelValues(metrics.ResultError).Inc()
	s.log.Warn("消息发送失败", zap.Int64("id", msg.ID), zap.Int("retry_count", msg.RetryCount), zap.Error(err))

	giveUp, recErr := s.outboxRepo.RecordFailure(ctx, msg, s.cfg.Business.MaxRetryCount)
	if recErr != nil {
		s.log.Error("记录发送失败次数失败", zap.Int64("id", msg.ID), zap.Error(recErr))
		return false
	}
	if giveUp {
		s.log.Error("消息超过最大重试次数，标记为失败", zap.Int64("id", msg.ID), zap.String("key", msg.MessageKey))
	}
	return false
}
