package repository

import (
	"context"
	"errors"

	"walletpay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound   = errors.New("账户不存在")
	ErrInsufficientFunds = errors.New("可用余额不足")
	ErrPendingNotEnough  = errors.New("冻结余额不足")
	ErrOptimisticLock    = errors.New("乐观锁冲突，请重试")
)

// AccountRepository 钱包账户仓储
//
// 【关键点】四个资金操作全部用条件更新实现：
// WHERE 里带上余额下限和 version，更新行数为 0 就说明余额不足或并发冲突，
// 数据库层面保证 balance_available / balance_pending 永远不会变成负数，
// 即使上层的锁失效也不会超扣
type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetByUserID 查询账户
// tx 非 nil 时在调用方事务内读取，保证读到的 version 与后续条件更新在同一事务
func (r *AccountRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID int64, currency string) (*model.WalletAccount, error) {
	if tx == nil {
		tx = r.db
	}
	var account model.WalletAccount
	err := tx.WithContext(ctx).
		Where("user_id = ? AND currency = ?", userID, currency).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetOrCreate 获取账户，不存在则懒创建（首次入账）
// OnConflict DoNothing + 重查，并发创建时两边都能拿到同一条记录
func (r *AccountRepository) GetOrCreate(ctx context.Context, userID int64, currency string) (*model.WalletAccount, error) {
	account, err := r.GetByUserID(ctx, nil, userID, currency)
	if err == nil {
		return account, nil
	}

	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	newAccount := &model.WalletAccount{
		UserID:   userID,
		Currency: currency,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "currency"}},
			DoNothing: true,
		}).
		Create(newAccount).Error

	if err != nil {
		return nil, err
	}

	return r.GetByUserID(ctx, nil, userID, currency)
}

// Reserve 预留提现资金：available -> pending
// 条件更新保证 available 不会被扣成负数
func (r *AccountRepository) Reserve(ctx context.Context, tx *gorm.DB, userID int64, currency string, amount int64, version int) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.WalletAccount{}).
		Where("user_id = ? AND currency = ? AND balance_available >= ? AND version = ?",
			userID, currency, amount, version).
		Updates(map[string]interface{}{
			"balance_available": gorm.Expr("balance_available - ?", amount),
			"balance_pending":   gorm.Expr("balance_pending + ?", amount),
			"version":           gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return r.explainReserveFailure(ctx, tx, userID, currency, amount)
	}

	return nil
}

// explainReserveFailure 区分"余额不足"和"乐观锁冲突"
func (r *AccountRepository) explainReserveFailure(ctx context.Context, tx *gorm.DB, userID int64, currency string, amount int64) error {
	account, err := r.GetByUserID(ctx, tx, userID, currency)
	if err != nil {
		return err
	}
	if account.BalanceAvailable < amount {
		return ErrInsufficientFunds
	}
	return ErrOptimisticLock
}

// Commit 结算提现：pending 出账（提现成功，资金已离开平台）
func (r *AccountRepository) Commit(ctx context.Context, tx *gorm.DB, userID int64, currency string, amount int64, version int) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.WalletAccount{}).
		Where("user_id = ? AND currency = ? AND balance_pending >= ? AND version = ?",
			userID, currency, amount, version).
		Updates(map[string]interface{}{
			"balance_pending": gorm.Expr("balance_pending - ?", amount),
			"version":         gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return r.explainPendingFailure(ctx, tx, userID, currency, amount)
	}

	return nil
}

// Release 释放预留：pending -> available（提现失败/被拒绝）
func (r *AccountRepository) Release(ctx context.Context, tx *gorm.DB, userID int64, currency string, amount int64, version int) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.WalletAccount{}).
		Where("user_id = ? AND currency = ? AND balance_pending >= ? AND version = ?",
			userID, currency, amount, version).
		Updates(map[string]interface{}{
			"balance_available": gorm.Expr("balance_available + ?", amount),
			"balance_pending":   gorm.Expr("balance_pending - ?", amount),
			"version":           gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return r.explainPendingFailure(ctx, tx, userID, currency, amount)
	}

	return nil
}

func (r *AccountRepository) explainPendingFailure(ctx context.Context, tx *gorm.DB, userID int64, currency string, amount int64) error {
	account, err := r.GetByUserID(ctx, tx, userID, currency)
	if err != nil {
		return err
	}
	if account.BalancePending < amount {
		return ErrPendingNotEnough
	}
	return ErrOptimisticLock
}

// Credit 入账：available 增加（售课收入、退款）
func (r *AccountRepository) Credit(ctx context.Context, tx *gorm.DB, userID int64, currency string, amount int64, version int) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.WalletAccount{}).
		Where("user_id = ? AND currency = ? AND version = ?", userID, currency, version).
		Updates(map[string]interface{}{
			"balance_available": gorm.Expr("balance_available + ?", amount),
			"version":           gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByUserID(ctx, tx, userID, currency); err != nil {
			return err
		}
		return ErrOptimisticLock
	}

	return nil
}
