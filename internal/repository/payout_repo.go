package repository

import (
	"context"
	"errors"
	"time"

	"walletpay/internal/model"

	"gorm.io/gorm"
)

var (
	ErrPayoutNotFound      = errors.New("提现单不存在")
	ErrPayoutStatusInvalid = errors.New("提现单状态不合法")
)

type PayoutRepository struct {
	db *gorm.DB
}

func NewPayoutRepository(db *gorm.DB) *PayoutRepository {
	return &PayoutRepository{db: db}
}

func (r *PayoutRepository) Create(ctx context.Context, tx *gorm.DB, payout *model.Payout) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(payout).Error
}

func (r *PayoutRepository) GetByPayoutNo(ctx context.Context, payoutNo string) (*model.Payout, error) {
	var payout model.Payout
	err := r.db.WithContext(ctx).Where("payout_no = ?", payoutNo).First(&payout).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}
	return &payout, nil
}

// GetByRequestID 按幂等ID查提现单，不存在返回 nil 而非错误
func (r *PayoutRepository) GetByRequestID(ctx context.Context, requestID string) (*model.Payout, error) {
	var payout model.Payout
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&payout).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payout, nil
}

// GetByTransferReference 按网关转账引用号查提现单（回调入口）
func (r *PayoutRepository) GetByTransferReference(ctx context.Context, transferReference string) (*model.Payout, error) {
	var payout model.Payout
	err := r.db.WithContext(ctx).Where("transfer_reference = ?", transferReference).First(&payout).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}
	return &payout, nil
}

// UpdateStatus 状态流转
//
// 【关键点】两道防线：
// 1. 代码层先查状态机转移表（CanTransitionTo）
// 2. SQL 带上 WHERE status = fromStatus，并发流转时只有一个请求生效，
//    RowsAffected == 0 说明状态已被别人改走，按非法流转处理
func (r *PayoutRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, payoutNo string, fromStatus, toStatus, failureReason string) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrPayoutStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}

	now := time.Now()
	switch toStatus {
	case model.PayoutStatusProcessing:
		updates["submitted_at"] = &now
	case model.PayoutStatusCompleted:
		updates["completed_at"] = &now
	case model.PayoutStatusFailed:
		updates["completed_at"] = &now
		updates["failure_reason"] = failureReason
	}

	result := tx.WithContext(ctx).
		Model(&model.Payout{}).
		Where("payout_no = ? AND status = ?", payoutNo, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrPayoutStatusInvalid
	}

	return nil
}

// GetStuckProcessing 查卡在 PROCESSING 超过时限的提现单
// 这些单不会被自动流转（网关可能已实际打款），只能转人工审核
func (r *PayoutRepository) GetStuckProcessing(ctx context.Context, beforeTime time.Time, limit int) ([]*model.Payout, error) {
	var payouts []*model.Payout
	err := r.db.WithContext(ctx).
		Where("status = ? AND submitted_at < ?", model.PayoutStatusProcessing, beforeTime).
		Limit(limit).
		Find(&payouts).Error
	return payouts, err
}

// CountToDestinationBefore 统计该用户在某时间点之前向指定收款账户发起过的提现笔数
// 失败单不算：向一个账户只有失败记录，不能证明这个账户可信
func (r *PayoutRepository) CountToDestinationBefore(ctx context.Context, userID int64, accountNumber string, before time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Payout{}).
		Where("user_id = ? AND account_number = ? AND created_at < ? AND status <> ?",
			userID, accountNumber, before, model.PayoutStatusFailed).
		Count(&count).Error
	return count, err
}

func (r *PayoutRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Payout, int64, error) {
	var payouts []*model.Payout
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Payout{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&payouts).Error

	return payouts, total, err
}
