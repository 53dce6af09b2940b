package repository

import (
	"context"
	"errors"
	"time"

	"walletpay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrReviewNotFound      = errors.New("审核单不存在")
	ErrReviewStatusInvalid = errors.New("审核单状态不合法")
)

type ReviewRepository struct {
	db *gorm.DB
}

func NewReviewRepository(db *gorm.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// Create 创建审核单
//
// payout_no 上有唯一索引：同一提现单被多个来源（风控、看门狗、回调重试）
// 同时升级时只会入队一次，未结的审核单重复入队无操作。
//
// 【关键点】审核单已结（approved/rejected）时不能一吞了之：
// 结论给出之后异常可能再次发生——比如风控放行后提现单又卡在
// PROCESSING 超时——这时把原单重新打开回到待审队列，带上新的
// 原因和优先级，保证后发的异常不会消失在旧结论后面
func (r *ReviewRepository) Create(ctx context.Context, tx *gorm.DB, item *model.ManualReviewItem) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payout_no"}},
			DoNothing: true,
		}).
		Create(item)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	return tx.WithContext(ctx).
		Model(&model.ManualReviewItem{}).
		Where("payout_no = ? AND status IN ?", item.PayoutNo,
			[]string{model.ReviewStatusApproved, model.ReviewStatusRejected}).
		Updates(map[string]interface{}{
			"status":      model.ReviewStatusPending,
			"reason":      item.Reason,
			"priority":    item.Priority,
			"assigned_to": "",
			"resolution":  "",
			"resolved_at": nil,
		}).Error
}

func (r *ReviewRepository) GetByReviewNo(ctx context.Context, reviewNo string) (*model.ManualReviewItem, error) {
	var item model.ManualReviewItem
	err := r.db.WithContext(ctx).Where("review_no = ?", reviewNo).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReviewNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (r *ReviewRepository) GetByPayoutNo(ctx context.Context, payoutNo string) (*model.ManualReviewItem, error) {
	var item model.ManualReviewItem
	err := r.db.WithContext(ctx).Where("payout_no = ?", payoutNo).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// ListPending 按优先级拉取待审核队列
func (r *ReviewRepository) ListPending(ctx context.Context, limit int) ([]*model.ManualReviewItem, error) {
	var items []*model.ManualReviewItem
	err := r.db.WithContext(ctx).
		Where("status IN ?", []string{model.ReviewStatusPending, model.ReviewStatusEscalated}).
		Order("priority DESC, created_at ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// Claim 领取审核单（pending/escalated -> in_review）
// WHERE 带上当前状态，两个审核员抢同一单时只有一个成功
func (r *ReviewRepository) Claim(ctx context.Context, reviewNo, assignee string) error {
	result := r.db.WithContext(ctx).
		Model(&model.ManualReviewItem{}).
		Where("review_no = ? AND status IN ?", reviewNo,
			[]string{model.ReviewStatusPending, model.ReviewStatusEscalated}).
		Updates(map[string]interface{}{
			"status":      model.ReviewStatusInReview,
			"assigned_to": assignee,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrReviewStatusInvalid
	}
	return nil
}

// Resolve 记录审核结论（in_review -> approved/rejected，pending 直接处置也允许）
func (r *ReviewRepository) Resolve(ctx context.Context, tx *gorm.DB, reviewNo, toStatus, resolution string) error {
	if tx == nil {
		tx = r.db
	}

	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.ManualReviewItem{}).
		Where("review_no = ? AND status IN ?", reviewNo,
			[]string{model.ReviewStatusPending, model.ReviewStatusInReview, model.ReviewStatusEscalated}).
		Updates(map[string]interface{}{
			"status":      toStatus,
			"resolution":  resolution,
			"resolved_at": &now,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrReviewStatusInvalid
	}
	return nil
}

// Escalate 升级审核单优先级
func (r *ReviewRepository) Escalate(ctx context.Context, reviewNo string, priority int) error {
	result := r.db.WithContext(ctx).
		Model(&model.ManualReviewItem{}).
		Where("review_no = ? AND status IN ?", reviewNo,
			[]string{model.ReviewStatusPending, model.ReviewStatusInReview}).
		Updates(map[string]interface{}{
			"status":   model.ReviewStatusEscalated,
			"priority": priority,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrReviewStatusInvalid
	}
	return nil
}
