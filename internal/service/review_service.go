package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"walletpay/internal/config"
	"walletpay/internal/model"
	"walletpay/internal/repository"

	"gorm.io/gorm"
)

// ============================================================================
// 人工审核服务
// ============================================================================
//
// 【审核动作和提现单的联动】
//
//	approve:  PENDING 单放行 -> PROCESSING（走网关）
//	          PROCESSING 超时单确认已打款 -> COMPLETED（结算）
//	reject:   -> FAILED，释放预留资金
//	escalate: 仅提升优先级，提现单状态不变
//
// ============================================================================

// ReviewDecision 审核结论
const (
	ReviewDecisionApprove  = "approve"
	ReviewDecisionReject   = "reject"
	ReviewDecisionEscalate = "escalate"
)

var ErrUnknownReviewDecision = errors.New("未知的审核结论")

// ReviewService 人工审核服务
type ReviewService struct {
	db         *gorm.DB
	reviewRepo *repository.ReviewRepository
	payoutRepo *repository.PayoutRepository
	payouts    *PayoutService
}

func NewReviewService(db *gorm.DB, cfg *config.Config) *ReviewService {
	return &ReviewService{
		db:         db,
		reviewRepo: repository.NewReviewRepository(db),
		payoutRepo: repository.NewPayoutRepository(db),
		payouts:    NewPayoutService(db, cfg),
	}
}

// ListPending 按优先级查询待审核队列
func (s *ReviewService) ListPending(ctx context.Context, limit int) ([]*model.ManualReviewItem, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.reviewRepo.ListPending(ctx, limit)
}

// Get 按审核单号查询
func (s *ReviewService) Get(ctx context.Context, reviewNo string) (*model.ManualReviewItem, error) {
	return s.reviewRepo.GetByReviewNo(ctx, reviewNo)
}

// Claim 审核员认领审核单
func (s *ReviewService) Claim(ctx context.Context, reviewNo, assignee string) error {
	if assignee == "" {
		return errors.New("审核员不能为空")
	}
	return s.reviewRepo.Claim(ctx, reviewNo, assignee)
}

// Resolve 审核结论驱动提现单流转
func (s *ReviewService) Resolve(ctx context.Context, reviewNo, decision, resolution string) error {
	item, err := s.reviewRepo.GetByReviewNo(ctx, reviewNo)
	if err != nil {
		return err
	}

	switch decision {
	case ReviewDecisionApprove:
		return s.approve(ctx, item, resolution)
	case ReviewDecisionReject:
		return s.reject(ctx, item, resolution)
	case ReviewDecisionEscalate:
		return s.escalate(ctx, item, resolution)
	default:
		return ErrUnknownReviewDecision
	}
}

func (s *ReviewService) approve(ctx context.Context, item *model.ManualReviewItem, resolution string) error {
	payout, err := s.payoutRepo.GetByPayoutNo(ctx, item.PayoutNo)
	if err != nil {
		return err
	}

	// 先结案审核单再驱动提现单；审核单状态守卫防止重复处理
	if err := s.reviewRepo.Resolve(ctx, nil, item.ReviewNo, model.ReviewStatusApproved, resolution); err != nil {
		return err
	}

	switch payout.Status {
	case model.PayoutStatusPending:
		// 风控拦截单放行，进入网关处理流程
		if err := s.payouts.MarkProcessing(ctx, payout.PayoutNo); err != nil {
			return err
		}
	case model.PayoutStatusProcessing:
		// 超时单人工核实网关已打款
		if err := s.payouts.Complete(ctx, payout.PayoutNo); err != nil {
			return err
		}
	default:
		return fmt.Errorf("提现单状态 %s 不支持放行: %w", payout.Status, repository.ErrPayoutStatusInvalid)
	}

	log.Printf("[ReviewService] 审核放行: reviewNo=%s, payoutNo=%s", item.ReviewNo, item.PayoutNo)
	return nil
}

func (s *ReviewService) reject(ctx context.Context, item *model.ManualReviewItem, resolution string) error {
	if err := s.reviewRepo.Resolve(ctx, nil, item.ReviewNo, model.ReviewStatusRejected, resolution); err != nil {
		return err
	}
	if err := s.payouts.Fail(ctx, item.PayoutNo, "人工审核拒绝: "+resolution); err != nil {
		return err
	}
	log.Printf("[ReviewService] 审核拒绝: reviewNo=%s, payoutNo=%s", item.ReviewNo, item.PayoutNo)
	return nil
}

func (s *ReviewService) escalate(ctx context.Context, item *model.ManualReviewItem, resolution string) error {
	priority := item.Priority
	switch {
	case priority < model.ReviewPriorityHigh:
		priority = model.ReviewPriorityHigh
	default:
		priority = model.ReviewPriorityUrgent
	}
	if err := s.reviewRepo.Escalate(ctx, item.ReviewNo, priority); err != nil {
		return err
	}
	log.Printf("[ReviewService] 审核升级: reviewNo=%s, priority=%d", item.ReviewNo, priority)
	return nil
}
