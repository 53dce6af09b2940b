package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"walletpay/internal/config"
	"walletpay/internal/model"
	"walletpay/internal/repository"
	"walletpay/pkg/idgen"

	"gorm.io/gorm"
)

// ============================================================================
// 提现单状态机服务
// ============================================================================
//
// 【状态机】
//
//	PENDING ──→ PROCESSING ──→ COMPLETED (资金结算，pending 扣减)
//	   │             │
//	   │             └───────→ FAILED    (资金释放，回到 available)
//	   └─────────────────────→ FAILED
//
// 【关键点】状态流转和资金动作在同一个数据库事务里：
// COMPLETED 必须伴随 Commit，FAILED 必须伴随 Release，
// 二者缺一不可，否则 pending 余额和提现单状态会对不上。
//
// 【设计思考】卡在 PROCESSING 的单子只能转人工，绝不自动置为失败：
// 网关可能已经真实打款，自动释放资金会造成双倍支出。
//
// ============================================================================

// PayoutService 提现单状态机服务
type PayoutService struct {
	db         *gorm.DB
	cfg        *config.Config
	payoutRepo *repository.PayoutRepository
	reviewRepo *repository.ReviewRepository
	outboxRepo *repository.OutboxRepository
	ledger     *LedgerService
	now        func() time.Time
}

func NewPayoutService(db *gorm.DB, cfg *config.Config) *PayoutService {
	return &PayoutService{
		db:         db,
		cfg:        cfg,
		payoutRepo: repository.NewPayoutRepository(db),
		reviewRepo: repository.NewReviewRepository(db),
		outboxRepo: repository.NewOutboxRepository(db),
		ledger:     NewLedgerService(db),
		now:        time.Now,
	}
}

// MarkProcessing 提现单提交到网关：PENDING -> PROCESSING
func (s *PayoutService) MarkProcessing(ctx context.Context, payoutNo string) error {
	err := s.payoutRepo.UpdateStatus(ctx, nil, payoutNo,
		model.PayoutStatusPending, model.PayoutStatusProcessing, "")
	if err != nil {
		return err
	}
	log.Printf("[PayoutService] 提现单进入处理中: payoutNo=%s", payoutNo)
	return nil
}

// Complete 提现成功：PROCESSING -> COMPLETED，同事务结算预留资金
func (s *PayoutService) Complete(ctx context.Context, payoutNo string) error {
	payout, err := s.payoutRepo.GetByPayoutNo(ctx, payoutNo)
	if err != nil {
		return err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.payoutRepo.UpdateStatus(ctx, tx, payoutNo,
			model.PayoutStatusProcessing, model.PayoutStatusCompleted, ""); err != nil {
			return err
		}
		if err := s.ledger.Commit(ctx, tx, payout.UserID, payout.Currency, payout.Amount,
			payout.PayoutNo, map[string]interface{}{
				"gateway":            payout.Gateway,
				"transfer_reference": payout.TransferReference,
			}); err != nil {
			return err
		}
		return s.writeLifecycleOutbox(ctx, tx, payout, model.PayoutStatusCompleted, "")
	})
	if err != nil {
		return err
	}

	log.Printf("[PayoutService] 提现完成: payoutNo=%s, userID=%d", payoutNo, payout.UserID)
	return nil
}

// Fail 提现失败：-> FAILED，同事务释放预留资金回可用余额
func (s *PayoutService) Fail(ctx context.Context, payoutNo string, reason string) error {
	payout, err := s.payoutRepo.GetByPayoutNo(ctx, payoutNo)
	if err != nil {
		return err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.payoutRepo.UpdateStatus(ctx, tx, payoutNo,
			payout.Status, model.PayoutStatusFailed, reason); err != nil {
			return err
		}
		if err := s.ledger.Release(ctx, tx, payout.UserID, payout.Currency, payout.Amount,
			payout.PayoutNo, map[string]interface{}{
				"gateway":        payout.Gateway,
				"failure_reason": reason,
			}); err != nil {
			return err
		}
		return s.writeLifecycleOutbox(ctx, tx, payout, model.PayoutStatusFailed, reason)
	})
	if err != nil {
		return err
	}

	log.Printf("[PayoutService] 提现失败已释放资金: payoutNo=%s, reason=%s", payoutNo, reason)
	return nil
}

// EscalateStuck 处理超时未回调的提现单：转人工审核，不改变提现单状态
func (s *PayoutService) EscalateStuck(ctx context.Context, payout *model.Payout) error {
	// payout_no 唯一约束保证未结的单子只进一次审核队列；
	// 审核单已结又再次卡死时，仓储层会把原单重新打开
	item := &model.ManualReviewItem{
		ReviewNo: idgen.GenerateReviewNo(),
		PayoutNo: payout.PayoutNo,
		UserID:   payout.UserID,
		Priority: model.ReviewPriorityHigh,
		Status:   model.ReviewStatusPending,
		Reason:   model.ReviewReasonStuckPayout,
	}
	if err := s.reviewRepo.Create(ctx, nil, item); err != nil {
		return fmt.Errorf("创建审核单失败: %w", err)
	}
	return nil
}

// GetStuckProcessing 查询超过处理时限仍未回调的提现单
func (s *PayoutService) GetStuckProcessing(ctx context.Context, limit int) ([]*model.Payout, error) {
	timeout := time.Duration(s.cfg.Business.ProcessingTimeoutMin) * time.Minute
	before := s.now().Add(-timeout)
	return s.payoutRepo.GetStuckProcessing(ctx, before, limit)
}

func (s *PayoutService) writeLifecycleOutbox(ctx context.Context, tx *gorm.DB, payout *model.Payout, status, reason string) error {
	msgPayload := map[string]interface{}{
		"event_type":         "payout." + statusEventSuffix(status),
		"payout_no":          payout.PayoutNo,
		"user_id":            payout.UserID,
		"amount":             payout.Amount,
		"net_amount":         payout.NetAmount,
		"currency":           payout.Currency,
		"gateway":            payout.Gateway,
		"transfer_reference": payout.TransferReference,
		"status":             status,
		"failure_reason":     reason,
		"occurred_at":        s.now().Format(time.RFC3339),
	}
	payloadBytes, _ := json.Marshal(msgPayload)

	outboxMsg := &model.OutboxMessage{
		MessageKey: payout.PayoutNo,
		Topic:      s.cfg.Kafka.Topic.PayoutResult,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, outboxMsg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}

func statusEventSuffix(status string) string {
	switch status {
	case model.PayoutStatusCompleted:
		return "completed"
	case model.PayoutStatusFailed:
		return "failed"
	default:
		return "updated"
	}
}
