package repository

import (
	"context"
	"errors"
	"time"

	"walletpay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrWebhookEventNotFound = errors.New("回调事件不存在")

type WebhookRepository struct {
	db *gorm.DB
}

func NewWebhookRepository(db *gorm.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

// InsertIfAbsent 事件准入：首次到达插入成功，重复投递返回已存在的记录
//
// 【关键点】(gateway, event_id) 唯一索引就是并发控制：
// 同一事件的两次并发投递竞争插入，OnConflict DoNothing 让输家的
// RowsAffected 为 0，查出赢家写入的那条记录返回 admitted=false
func (r *WebhookRepository) InsertIfAbsent(ctx context.Context, event *model.WebhookEvent) (bool, *model.WebhookEvent, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "gateway"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(event)

	if result.Error != nil {
		return false, nil, result.Error
	}

	if result.RowsAffected > 0 {
		return true, event, nil
	}

	existing, err := r.GetByGatewayEventID(ctx, event.Gateway, event.EventID)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (r *WebhookRepository) GetByGatewayEventID(ctx context.Context, gateway, eventID string) (*model.WebhookEvent, error) {
	var event model.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("gateway = ? AND event_id = ?", gateway, eventID).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWebhookEventNotFound
		}
		return nil, err
	}
	return &event, nil
}

// MarkProcessed 标记事件处理完成
// WHERE processed = false：并发处理同一事件时只有一个成功，
// RowsAffected == 0 表示别人已经处理过，调用方按"无事发生"处理
func (r *WebhookRepository) MarkProcessed(ctx context.Context, tx *gorm.DB, id int64) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("id = ? AND processed = ?", id, false).
		Updates(map[string]interface{}{
			"processed":    true,
			"processed_at": &now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// RecordFailure 记录一次处理失败，递增尝试次数
func (r *WebhookRepository) RecordFailure(ctx context.Context, id int64, errMsg string) error {
	if len(errMsg) > 500 {
		errMsg = errMsg[:500]
	}
	return r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processing_attempts": gorm.Expr("processing_attempts + 1"),
			"last_error":          errMsg,
		}).Error
}

// ListUnprocessed 拉取待重试的事件（签名合法、未处理、尝试次数未超限）
// processing_attempts = 0 是受理后同步处理前进程崩溃留下的事件，
// 只要受理时间早于 freshBefore 同样要被捞起来，不能永远躺在表里
func (r *WebhookRepository) ListUnprocessed(ctx context.Context, maxAttempts int, freshBefore time.Time, limit int) ([]*model.WebhookEvent, error) {
	var events []*model.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("processed = ? AND signature_valid = ? AND processing_attempts < ? AND (processing_attempts > 0 OR created_at <= ?)",
			false, true, maxAttempts, freshBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// ListExhausted 拉取重试已超限、仍未处理的事件（转人工审核）
func (r *WebhookRepository) ListExhausted(ctx context.Context, maxAttempts, limit int) ([]*model.WebhookEvent, error) {
	var events []*model.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("processed = ? AND signature_valid = ? AND processing_attempts >= ?",
			false, true, maxAttempts).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
