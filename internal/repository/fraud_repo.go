package repository

import (
	"context"

	"walletpay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type FraudRepository struct {
	db *gorm.DB
}

func NewFraudRepository(db *gorm.DB) *FraudRepository {
	return &FraudRepository{db: db}
}

// GetActiveRules 加载所有启用的规则
// 固定按 id 排序，保证同一套规则下评估产生的告警顺序可复现
func (r *FraudRepository) GetActiveRules(ctx context.Context) ([]*model.FraudRule, error) {
	var rules []*model.FraudRule
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&rules).Error
	return rules, err
}

// UpsertRule 写入规则（按 rule_name 幂等，用于初始化内置规则）
func (r *FraudRepository) UpsertRule(ctx context.Context, rule *model.FraudRule) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "rule_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"rule_type", "conditions", "action", "is_active"}),
		}).
		Create(rule).Error
}

func (r *FraudRepository) CreateAlert(ctx context.Context, tx *gorm.DB, alert *model.FraudAlert) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(alert).Error
}

func (r *FraudRepository) ListAlertsByPayoutNo(ctx context.Context, payoutNo string) ([]*model.FraudAlert, error) {
	var alerts []*model.FraudAlert
	err := r.db.WithContext(ctx).
		Where("payout_no = ?", payoutNo).
		Order("id ASC").
		Find(&alerts).Error
	return alerts, err
}

// UpdateAlertStatus 更新告警处置状态（open -> investigating/resolved/false_positive）
func (r *FraudRepository) UpdateAlertStatus(ctx context.Context, alertID int64, status string) error {
	return r.db.WithContext(ctx).
		Model(&model.FraudAlert{}).
		Where("id = ?", alertID).
		Update("status", status).Error
}
