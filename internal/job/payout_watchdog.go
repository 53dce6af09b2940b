package job

import (
	"context"
	"log"
	"time"

	"walletpay/internal/config"
	"walletpay/internal/service"

	"gorm.io/gorm"
)

// PayoutWatchdog 巡检卡在 PROCESSING 超时的提现单
//
// 【关键点】超时单只转人工审核，绝不自动置为失败：
// 网关可能已经真实打款，自动释放资金会造成双倍支出
type PayoutWatchdog struct {
	db        *gorm.DB
	payouts   *service.PayoutService
	cfg       *config.Config
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewPayoutWatchdog(db *gorm.DB, cfg *config.Config) *PayoutWatchdog {
	return &PayoutWatchdog{
		db:        db,
		payouts:   service.NewPayoutService(db, cfg),
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		interval:  time.Minute,
		batchSize: 100,
	}
}

func (j *PayoutWatchdog) Start(ctx context.Context) {
	log.Println("[PayoutWatchdog] 提现单巡检任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[PayoutWatchdog] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[PayoutWatchdog] 任务停止")
			return
		case <-ticker.C:
			j.escalateStuckPayouts(ctx)
		}
	}
}

func (j *PayoutWatchdog) Stop() {
	close(j.stopCh)
}

func (j *PayoutWatchdog) escalateStuckPayouts(ctx context.Context) {
	payouts, err := j.payouts.GetStuckProcessing(ctx, j.batchSize)
	if err != nil {
		log.Printf("[PayoutWatchdog] 查询超时提现单失败: %v", err)
		return
	}

	if len(payouts) == 0 {
		return
	}

	log.Printf("[PayoutWatchdog] 发现 %d 个超时提现单", len(payouts))

	for _, payout := range payouts {
		// 审核队列的 payout_no 唯一约束保证重复巡检不会重复建单
		if err := j.payouts.EscalateStuck(ctx, payout); err != nil {
			log.Printf("[PayoutWatchdog] 转人工失败: payoutNo=%s, err=%v", payout.PayoutNo, err)
			continue
		}
		log.Printf("[PayoutWatchdog] 超时提现单已转人工: payoutNo=%s, userID=%d, submittedAt=%v",
			payout.PayoutNo, payout.UserID, payout.SubmittedAt)
	}
}
