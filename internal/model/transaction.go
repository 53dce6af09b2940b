package model

import (
	"time"
)

// ============================================================================
// 交易类型常量
// ============================================================================

const (
	TransactionTypePurchase = "purchase" // 售课入账（收入）
	TransactionTypePayout   = "payout"   // 提现（出账及其冲正/结算）
	TransactionTypeFee      = "fee"      // 手续费
)

// 流水的引用类型，标记这笔流水由哪个领域事件产生
const (
	ReferenceTypeWithdrawal           = "withdrawal"            // 提现预留（available -> pending）
	ReferenceTypeWithdrawalReversal   = "withdrawal_reversal"   // 提现失败冲正（pending -> available）
	ReferenceTypeWithdrawalSettlement = "withdrawal_settlement" // 提现结算（pending 出账）
	ReferenceTypePurchase             = "purchase"              // 售课收入
	ReferenceTypeRefund               = "refund"                // 退款入账
)

// ============================================================================
// 账户流水实体
// ============================================================================

// Transaction 账户流水表
// 记录账户的每一笔资金变动，是对账的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. 每笔流水与余额变更在同一个数据库事务内写入 —— 余额永远可由流水重放还原
// 3. 记录变更后的两个余额字段 —— 便于校验余额一致性
// 4. 限额统计直接对流水求和，不维护独立计数器 —— 杜绝计数器与流水漂移
type Transaction struct {
	ID                    int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo         string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"` // 流水号（全局唯一）
	UserID                int64     `gorm:"index:idx_limit_window,priority:1;not null" json:"user_id"`
	TransactionType       string    `gorm:"type:varchar(20);index:idx_limit_window,priority:2;not null" json:"transaction_type"`
	Currency              string    `gorm:"type:varchar(3);index:idx_limit_window,priority:3;not null" json:"currency"`
	Amount                int64     `gorm:"not null" json:"amount"`                                        // 金额（正数入账，负数出账，最小货币单位）
	ReferenceType         string    `gorm:"type:varchar(32);index;not null" json:"reference_type"`         // 来源事件类型
	ReferenceID           string    `gorm:"type:varchar(64);index;not null" json:"reference_id"`           // 来源事件ID（提现单号/订单号）
	Metadata              string    `gorm:"type:text" json:"metadata"`                                     // 附加信息（JSON）
	BalanceAvailableAfter int64     `gorm:"not null" json:"balance_available_after"`                       // 变更后可用余额
	BalancePendingAfter   int64     `gorm:"not null" json:"balance_pending_after"`                         // 变更后冻结余额
	CreatedAt             time.Time `gorm:"autoCreateTime;index:idx_limit_window,priority:4" json:"created_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}
