package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"walletpay/internal/config"
	"walletpay/internal/infrastructure/lock"
	"walletpay/internal/model"
	"walletpay/internal/repository"
	"walletpay/pkg/idgen"
	"walletpay/pkg/money"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// ============================================================================
// 提现服务（编排层）
// ============================================================================
//
// 【提现链路】
//
//	校验 -> 限额检查 -> 风控评估 -> [事务: 预留资金 + 创建提现单
//	                               + 告警/审核单 + 发件箱消息]
//
// 【关键点】提现是整个系统最核心的写路径，需要保证：
// 1. 幂等性：相同的 request_id 只会产生一个提现单
// 2. 原子性：资金预留、提现单、流水、告警、消息同事务落库
// 3. 并发安全：分布式锁 + 数据库条件更新双保险，
//    即使锁失效也不会把 balance_available 扣成负数
//
// ============================================================================

const withdrawMaxRetries = 3

// WithdrawalService 提现服务
type WithdrawalService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	payoutRepo  *repository.PayoutRepository
	reviewRepo  *repository.ReviewRepository
	outboxRepo  *repository.OutboxRepository
	ledger      *LedgerService
	limits      *LimitService
	fraud       *FraudService
	now         func() time.Time
}

func NewWithdrawalService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *WithdrawalService {
	return &WithdrawalService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		payoutRepo:  repository.NewPayoutRepository(db),
		reviewRepo:  repository.NewReviewRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		ledger:      NewLedgerServiceWithLock(db, redisClient),
		limits:      NewLimitService(db, cfg),
		fraud:       NewFraudService(db),
		now:         time.Now,
	}
}

// WithdrawRequest 提现请求
type WithdrawRequest struct {
	RequestID     string `json:"request_id" binding:"required"` // 幂等ID，客户端生成
	UserID        int64  `json:"user_id" binding:"required"`
	Amount        int64  `json:"amount" binding:"required,gt=0"` // 最小货币单位
	Currency      string `json:"currency" binding:"required"`
	Gateway       string `json:"gateway"`
	BankName      string `json:"bank_name"`
	BankCode      string `json:"bank_code" binding:"required"`
	AccountNumber string `json:"account_number" binding:"required"`
	AccountName   string `json:"account_name"`
}

// WithdrawResponse 提现响应
type WithdrawResponse struct {
	PayoutNo          string            `json:"payout_no"`
	Status            string            `json:"status"`
	Amount            int64             `json:"amount"`
	PlatformFee       int64             `json:"platform_fee"`
	GatewayFee        int64             `json:"gateway_fee"`
	NetAmount         int64             `json:"net_amount"`
	Currency          string            `json:"currency"`
	TransferReference string            `json:"transfer_reference"`
	ReviewRequired    bool              `json:"review_required"` // 风控转人工，资金已预留，等待审核
	Limits            *LimitCheckResult `json:"limits,omitempty"`
	Message           string            `json:"message,omitempty"`
}

// Submit 发起提现
func (s *WithdrawalService) Submit(ctx context.Context, req *WithdrawRequest) (*WithdrawResponse, error) {
	if err := money.Validate(req.Amount, req.Currency); err != nil {
		return nil, err
	}
	if req.BankCode == "" || req.AccountNumber == "" {
		return nil, ErrBankInfoIncomplete
	}

	gateway := req.Gateway
	if gateway == "" {
		gateway = s.cfg.Business.DefaultGateway
	}

	// 幂等校验：同一 request_id 直接返回已有提现单
	existing, err := s.payoutRepo.GetByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("查询提现单失败: %w", err)
	}
	if existing != nil {
		return s.buildResponse(existing, "提现单已存在"), nil
	}

	// 同一用户的提现提交串行化；Redis 不可用时降级，
	// 由账本的条件更新兜底保证不超扣
	if s.redisClient != nil {
		withdrawLock := lock.NewWithdrawLock(s.redisClient, req.UserID, req.RequestID)
		if err := withdrawLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
			return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
		}
		defer withdrawLock.Unlock(ctx)

		// 获取锁后再次检查幂等
		existing, err = s.payoutRepo.GetByRequestID(ctx, req.RequestID)
		if err != nil {
			return nil, fmt.Errorf("查询提现单失败: %w", err)
		}
		if existing != nil {
			return s.buildResponse(existing, "提现单已存在"), nil
		}
	}

	// 限额检查（只读，不预留）
	limitResult, err := s.limits.CheckWithdrawalLimits(ctx, req.UserID, req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	if !limitResult.Allowed {
		return nil, &LimitExceededError{Result: limitResult}
	}

	// 手续费
	feeCfg := s.cfg.Business.PayoutFees[req.Currency]
	platformFee := money.PercentFee(req.Amount, feeCfg.PlatformFeeBasisPoints)
	gatewayFee := feeCfg.GatewayFlatFee
	netAmount := req.Amount - platformFee - gatewayFee
	if netAmount <= 0 {
		return nil, ErrAmountTooSmall
	}

	payoutNo := idgen.GeneratePayoutNo()

	// 风控评估（纯函数，无副作用；告警稍后随业务事务落库）
	attempt := &WithdrawalAttempt{
		UserID:        req.UserID,
		PayoutNo:      payoutNo,
		Amount:        req.Amount,
		Currency:      req.Currency,
		AccountNumber: req.AccountNumber,
		RequestedAt:   s.now(),
	}
	decision, err := s.fraud.Evaluate(ctx, attempt)
	if err != nil {
		return nil, err
	}

	payout := &model.Payout{
		PayoutNo:          payoutNo,
		RequestID:         req.RequestID,
		UserID:            req.UserID,
		Amount:            req.Amount,
		PlatformFee:       platformFee,
		GatewayFee:        gatewayFee,
		NetAmount:         netAmount,
		Currency:          req.Currency,
		Gateway:           gateway,
		BankName:          req.BankName,
		BankCode:          req.BankCode,
		AccountNumber:     req.AccountNumber,
		AccountName:       req.AccountName,
		TransferReference: idgen.GenerateTransferReference(gateway),
		Status:            model.PayoutStatusPending,
	}

	// 执行提现事务；乐观锁冲突时整体重试
	var txErr error
	for i := 0; i < withdrawMaxRetries; i++ {
		txErr = s.db.Transaction(func(tx *gorm.DB) error {
			return s.submitTx(ctx, tx, payout, attempt, decision)
		})
		if txErr == nil || !errors.Is(txErr, repository.ErrOptimisticLock) {
			break
		}
	}
	if txErr != nil {
		return nil, txErr
	}

	if decision.RequiresReview() {
		log.Printf("[WithdrawalService] 提现转人工审核: payoutNo=%s, userID=%d, amount=%s, riskScore=%.2f",
			payout.PayoutNo, payout.UserID, money.Format(payout.Amount, payout.Currency), decision.MaxRiskScore())
	} else {
		log.Printf("[WithdrawalService] 提现已受理: payoutNo=%s, userID=%d, amount=%s",
			payout.PayoutNo, payout.UserID, money.Format(payout.Amount, payout.Currency))
	}

	resp := s.buildResponse(payout, "提现已受理")
	resp.ReviewRequired = decision.RequiresReview()
	if resp.ReviewRequired {
		resp.Message = "提现已受理，需人工审核"
	}
	resp.Limits = limitResult
	return resp, nil
}

// submitTx 提现事务体：资金预留 + 提现单 + 告警/审核单 + 发件箱
func (s *WithdrawalService) submitTx(ctx context.Context, tx *gorm.DB, payout *model.Payout, attempt *WithdrawalAttempt, decision *FraudDecision) error {
	// 预留资金（同事务写入预留流水）
	if err := s.ledger.Reserve(ctx, tx, payout.UserID, payout.Currency, payout.Amount,
		payout.PayoutNo, map[string]interface{}{
			"gateway":            payout.Gateway,
			"transfer_reference": payout.TransferReference,
		}); err != nil {
		return err
	}

	if err := s.payoutRepo.Create(ctx, tx, payout); err != nil {
		return fmt.Errorf("创建提现单失败: %w", err)
	}

	if err := s.fraud.RecordAlerts(ctx, tx, attempt, decision); err != nil {
		return err
	}

	// 命中 require_manual_review：提现单停在 PENDING，入人工审核队列
	// 资金保持预留，审核结论决定放行还是释放
	if decision.RequiresReview() {
		item := &model.ManualReviewItem{
			ReviewNo: idgen.GenerateReviewNo(),
			PayoutNo: payout.PayoutNo,
			UserID:   payout.UserID,
			Priority: reviewPriorityForScore(decision.MaxRiskScore()),
			Status:   model.ReviewStatusPending,
			Reason:   model.ReviewReasonFraudRule,
		}
		if err := s.reviewRepo.Create(ctx, tx, item); err != nil {
			return fmt.Errorf("创建审核单失败: %w", err)
		}
	}

	return s.writeOutbox(ctx, tx, payout, "payout.created")
}

// writeOutbox 提现生命周期事件进发件箱，和业务数据同事务
func (s *WithdrawalService) writeOutbox(ctx context.Context, tx *gorm.DB, payout *model.Payout, eventType string) error {
	msgPayload := map[string]interface{}{
		"event_type":         eventType,
		"payout_no":          payout.PayoutNo,
		"user_id":            payout.UserID,
		"amount":             payout.Amount,
		"net_amount":         payout.NetAmount,
		"currency":           payout.Currency,
		"gateway":            payout.Gateway,
		"transfer_reference": payout.TransferReference,
		"status":             payout.Status,
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

// GetPayout 按提现单号查询
func (s *WithdrawalService) GetPayout(ctx context.Context, payoutNo string) (*model.Payout, error) {
	return s.payoutRepo.GetByPayoutNo(ctx, payoutNo)
}

// GetPayoutByRequestID 按幂等ID查询
func (s *WithdrawalService) GetPayoutByRequestID(ctx context.Context, requestID string) (*model.Payout, error) {
	return s.payoutRepo.GetByRequestID(ctx, requestID)
}

// ListUserPayouts 分页查询用户提现单
func (s *WithdrawalService) ListUserPayouts(ctx context.Context, userID int64, page, pageSize int) ([]*model.Payout, int64, error) {
	return s.payoutRepo.ListByUserID(ctx, userID, page, pageSize)
}

func (s *WithdrawalService) buildResponse(payout *model.Payout, message string) *WithdrawResponse {
	return &WithdrawResponse{
		PayoutNo:          payout.PayoutNo,
		Status:            payout.Status,
		Amount:            payout.Amount,
		PlatformFee:       payout.PlatformFee,
		GatewayFee:        payout.GatewayFee,
		NetAmount:         payout.NetAmount,
		Currency:          payout.Currency,
		TransferReference: payout.TransferReference,
		Message:           message,
	}
}

func reviewPriorityForScore(score float64) int {
	if score >= riskScoreReview {
		return model.ReviewPriorityHigh
	}
	return model.ReviewPriorityNormal
}
