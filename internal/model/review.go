package model

import (
	"time"
)

const (
	ReviewStatusPending   = "pending"
	ReviewStatusInReview  = "in_review"
	ReviewStatusApproved  = "approved"
	ReviewStatusRejected  = "rejected"
	ReviewStatusEscalated = "escalated"
)

// 审核优先级，数值越大越优先
const (
	ReviewPriorityNormal = 0
	ReviewPriorityHigh   = 10
	ReviewPriorityUrgent = 20
)

// 审核单来源
const (
	ReviewReasonFraudRule      = "fraud_rule"      // 风控规则要求人工审核
	ReviewReasonStuckPayout    = "stuck_payout"    // 提现单卡在 PROCESSING 超时
	ReviewReasonWebhookFailure = "webhook_failure" // 回调处理重试超限
	ReviewReasonLedgerMismatch = "ledger_mismatch" // 资金状态不确定，保守转人工
)

// ManualReviewItem 人工审核队列表
// 审核结论驱动提现状态机：approve 放行，reject 失败并释放资金，
// escalate 只提升优先级，不触碰资金
type ManualReviewItem struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ReviewNo   string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"review_no"`
	PayoutNo   string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"payout_no"` // 唯一索引：同一提现单只进一次队列
	UserID     int64      `gorm:"index;not null" json:"user_id"`
	Priority   int        `gorm:"not null;default:0;index" json:"priority"`
	AssignedTo string     `gorm:"type:varchar(64)" json:"assigned_to"`
	Status     string     `gorm:"type:varchar(20);index;not null;default:'pending'" json:"status"`
	Reason     string     `gorm:"type:varchar(64);not null" json:"reason"`
	Resolution string     `gorm:"type:varchar(256)" json:"resolution"`
	ResolvedAt *time.Time `json:"resolved_at"`
	CreatedAt  time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ManualReviewItem) TableName() string {
	return "manual_review_queue"
}
