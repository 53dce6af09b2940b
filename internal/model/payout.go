package model

import (
	"time"
)

const (
	PayoutStatusPending    = "PENDING"    // 已创建，资金已预留，等待提交网关
	PayoutStatusProcessing = "PROCESSING" // 已提交网关，等待回调
	PayoutStatusCompleted  = "COMPLETED"  // 网关确认到账（终态）
	PayoutStatusFailed     = "FAILED"     // 网关失败或被拒绝（终态）
)

// ValidStatusTransitions 提现单状态机
// 状态只能单向流转，终态之后不允许任何变更
//
//	PENDING -> PROCESSING -> COMPLETED
//	PENDING -> PROCESSING -> FAILED
//	PENDING -> FAILED（提交前被拒绝）
var ValidStatusTransitions = map[string][]string{
	PayoutStatusPending:    {PayoutStatusProcessing, PayoutStatusFailed},
	PayoutStatusProcessing: {PayoutStatusCompleted, PayoutStatusFailed},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Payout 提现单表
// 一笔提现从创建到终态的唯一载体，状态只允许由状态机流转
//
// 【不变量】处于 PROCESSING/COMPLETED 的提现单，账本中必然存在对应的
// 资金预留（balance_pending >= amount 的那部分就是它），绝不允许出现
// 已提交网关但没有冻结资金的提现单
type Payout struct {
	ID                int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	PayoutNo          string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"payout_no"`
	RequestID         string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"` // 幂等ID，客户端生成
	UserID            int64      `gorm:"index;not null" json:"user_id"`
	Amount            int64      `gorm:"not null" json:"amount"`       // 提现总额（预留金额，最小货币单位）
	PlatformFee       int64      `gorm:"not null" json:"platform_fee"` // 平台手续费
	GatewayFee        int64      `gorm:"not null" json:"gateway_fee"`  // 网关手续费
	NetAmount         int64      `gorm:"not null" json:"net_amount"`   // 实际到账金额 = amount - platform_fee - gateway_fee
	Currency          string     `gorm:"type:varchar(3);not null" json:"currency"`
	Gateway           string     `gorm:"type:varchar(32);not null" json:"gateway"` // 支付网关标识，如 paystack
	BankName          string     `gorm:"type:varchar(128)" json:"bank_name"`
	BankCode          string     `gorm:"type:varchar(16)" json:"bank_code"`
	AccountNumber     string     `gorm:"type:varchar(32);index;not null" json:"account_number"`
	AccountName       string     `gorm:"type:varchar(128)" json:"account_name"`
	TransferReference string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"transfer_reference"` // 网关侧幂等键
	Status            string     `gorm:"type:varchar(20);index;not null" json:"status"`
	FailureReason     string     `gorm:"type:varchar(256)" json:"failure_reason"`
	SubmittedAt       *time.Time `json:"submitted_at"` // 提交网关时间（进入 PROCESSING）
	CompletedAt       *time.Time `json:"completed_at"` // 终态时间
	CreatedAt         time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Payout) TableName() string {
	return "payouts"
}

// IsTerminal 是否已到终态
func (p *Payout) IsTerminal() bool {
	return p.Status == PayoutStatusCompleted || p.Status == PayoutStatusFailed
}
