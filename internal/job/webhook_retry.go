package job

import (
	"context"
	"log"
	"time"

	"walletpay/internal/config"
	"walletpay/internal/service"

	"gorm.io/gorm"
)

// WebhookRetryJob 重试处理失败的回调事件，重试超限的转人工审核
type WebhookRetryJob struct {
	db        *gorm.DB
	webhooks  *service.WebhookService
	cfg       *config.Config
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewWebhookRetryJob(db *gorm.DB, cfg *config.Config) *WebhookRetryJob {
	return &WebhookRetryJob{
		db:        db,
		webhooks:  service.NewWebhookService(db, cfg),
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		interval:  30 * time.Second,
		batchSize: 100,
	}
}

func (j *WebhookRetryJob) Start(ctx context.Context) {
	log.Println("[WebhookRetryJob] 回调重试任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[WebhookRetryJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[WebhookRetryJob] 任务停止")
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *WebhookRetryJob) Stop() {
	close(j.stopCh)
}

func (j *WebhookRetryJob) runOnce(ctx context.Context) {
	processed, err := j.webhooks.RetryUnprocessed(ctx, j.batchSize)
	if err != nil {
		log.Printf("[WebhookRetryJob] 重试回调事件失败: %v", err)
	} else if processed > 0 {
		log.Printf("[WebhookRetryJob] 重试成功处理 %d 条回调事件", processed)
	}

	escalated, err := j.webhooks.EscalateExhausted(ctx, j.batchSize)
	if err != nil {
		log.Printf("[WebhookRetryJob] 超限事件转人工失败: %v", err)
	} else if escalated > 0 {
		log.Printf("[WebhookRetryJob] %d 条超限回调事件已转人工", escalated)
	}
}
