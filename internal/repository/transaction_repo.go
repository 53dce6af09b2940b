package repository

import (
	"context"
	"time"

	"walletpay/internal/model"

	"gorm.io/gorm"
)

// TransactionRepository 账户流水仓储
// 流水只追加，这里没有任何 Update/Delete 方法
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.Transaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

// SumWithdrawalUsage 统计窗口内的提现占用额（最小货币单位，>= 0）
//
// 【设计】限额用量不落独立计数器，每次直接对流水求和：
//   预留流水（withdrawal）记负数，失败冲正（withdrawal_reversal）记正数，
//   两者相加再取负即为窗口内真实占用；结算流水（withdrawal_settlement）
//   只动 pending，不参与限额统计
// 计数器与流水永远不会漂移，代价是一次索引区间扫描（idx_limit_window）
func (r *TransactionRepository) SumWithdrawalUsage(ctx context.Context, userID int64, currency string, since time.Time) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ? AND transaction_type = ? AND currency = ? AND created_at >= ?",
			userID, model.TransactionTypePayout, currency, since).
		Where("reference_type IN ?", []string{
			model.ReferenceTypeWithdrawal,
			model.ReferenceTypeWithdrawalReversal,
		}).
		Scan(&sum).Error
	if err != nil {
		return 0, err
	}

	usage := -sum
	if usage < 0 {
		usage = 0
	}
	return usage, nil
}

// CountWithdrawals 统计窗口内的提现笔数（跨币种，用于频次规则）
func (r *TransactionRepository) CountWithdrawals(ctx context.Context, userID int64, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("user_id = ? AND transaction_type = ? AND reference_type = ? AND created_at >= ?",
			userID, model.TransactionTypePayout, model.ReferenceTypeWithdrawal, since).
		Count(&count).Error
	return count, err
}

func (r *TransactionRepository) GetByTransactionNo(ctx context.Context, transactionNo string) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.db.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&trans).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// GetByReference 查某个领域事件产生的流水
func (r *TransactionRepository) GetByReference(ctx context.Context, referenceType, referenceID string) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.db.WithContext(ctx).
		Where("reference_type = ? AND reference_id = ?", referenceType, referenceID).
		First(&trans).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	var transactions []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}
