package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// 风控规则
// ============================================================================

// 规则类型：封闭枚举，新增类型需要同时扩展 DecodeConditions 和引擎的断言逻辑
const (
	RuleTypeVelocity        = "velocity"         // 提现频次
	RuleTypeAmountThreshold = "amount_threshold" // 大额提现
	RuleTypeNewDestination  = "new_destination"  // 新收款账户
	RuleTypeTimePattern     = "time_pattern"     // 异常时段
)

// 规则动作，按严格程度排序
const (
	RuleActionIncreaseMonitoring  = "increase_monitoring"   // 仅加强监控，放行
	RuleActionFlagForReview       = "flag_for_review"       // 标记告警，放行
	RuleActionRequireManualReview = "require_manual_review" // 拦截，转人工审核
)

// FraudRule 风控规则表
// 规则是数据不是代码：conditions 按 rule_type 持有类型化参数（JSON），
// 加载时解码一次，新增一条规则不需要改动引擎主循环
type FraudRule struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RuleName   string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"rule_name"`
	RuleType   string    `gorm:"type:varchar(32);not null" json:"rule_type"`
	Conditions string    `gorm:"type:text;not null" json:"conditions"` // 类型化参数（JSON）
	Action     string    `gorm:"type:varchar(32);not null" json:"action"`
	IsActive   bool      `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (FraudRule) TableName() string {
	return "fraud_rules"
}

// ============================================================================
// 类型化规则参数
// ============================================================================
//
// 【设计】conditions 列里是松散的 JSON，但引擎内部只跟类型化的变体打交道：
// 每种 rule_type 对应一个参数结构体，在规则加载时解码一次，
// 评估阶段不再做任何 map[string]interface{} 的临场取值

// RuleConditions 规则参数的封闭变体集合
type RuleConditions interface {
	RuleKind() string
}

// VelocityConditions 频次规则：窗口内提现笔数超过阈值
type VelocityConditions struct {
	WindowHours int `json:"window_hours"` // 统计窗口（小时）
	MaxCount    int `json:"max_count"`    // 窗口内允许的最大提现笔数
}

func (VelocityConditions) RuleKind() string { return RuleTypeVelocity }

// AmountThresholdConditions 大额规则：单笔金额达到阈值
type AmountThresholdConditions struct {
	Currency  string `json:"currency"`
	Threshold int64  `json:"threshold"` // 最小货币单位
}

func (AmountThresholdConditions) RuleKind() string { return RuleTypeAmountThreshold }

// NewDestinationConditions 新收款账户规则：该用户在宽限期之前从未向此账户提现
type NewDestinationConditions struct {
	GracePeriodHours int `json:"grace_period_hours"` // 收款账户需要"老"于该时长才视为可信
}

func (NewDestinationConditions) RuleKind() string { return RuleTypeNewDestination }

// TimePatternConditions 异常时段规则：本地小时落在配置的异常集合内
type TimePatternConditions struct {
	UTCOffsetMinutes int   `json:"utc_offset_minutes"` // 本地时区相对 UTC 的偏移（分钟）
	UnusualHours     []int `json:"unusual_hours"`      // 异常小时集合（0-23）
}

func (TimePatternConditions) RuleKind() string { return RuleTypeTimePattern }

// DecodeConditions 按 rule_type 解码类型化参数
// 未知的 rule_type 视为配置错误，加载阶段即报错，不会漏到评估阶段
func (r *FraudRule) DecodeConditions() (RuleConditions, error) {
	switch r.RuleType {
	case RuleTypeVelocity:
		var c VelocityConditions
		if err := json.Unmarshal([]byte(r.Conditions), &c); err != nil {
			return nil, fmt.Errorf("规则 %s 参数解码失败: %w", r.RuleName, err)
		}
		return c, nil
	case RuleTypeAmountThreshold:
		var c AmountThresholdConditions
		if err := json.Unmarshal([]byte(r.Conditions), &c); err != nil {
			return nil, fmt.Errorf("规则 %s 参数解码失败: %w", r.RuleName, err)
		}
		return c, nil
	case RuleTypeNewDestination:
		var c NewDestinationConditions
		if err := json.Unmarshal([]byte(r.Conditions), &c); err != nil {
			return nil, fmt.Errorf("规则 %s 参数解码失败: %w", r.RuleName, err)
		}
		return c, nil
	case RuleTypeTimePattern:
		var c TimePatternConditions
		if err := json.Unmarshal([]byte(r.Conditions), &c); err != nil {
			return nil, fmt.Errorf("规则 %s 参数解码失败: %w", r.RuleName, err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("未知的规则类型: %s", r.RuleType)
	}
}

// ============================================================================
// 风控告警
// ============================================================================

const (
	AlertStatusOpen          = "open"
	AlertStatusInvestigating = "investigating"
	AlertStatusResolved      = "resolved"
	AlertStatusFalsePositive = "false_positive"
)

// FraudAlert 风控告警表
// 每条命中的规则产生一条告警，关联触发它的提现单与规则
type FraudAlert struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"index;not null" json:"user_id"`
	PayoutNo  string    `gorm:"type:varchar(64);index;not null" json:"payout_no"`
	RuleID    int64     `gorm:"index;not null" json:"rule_id"`
	RuleName  string    `gorm:"type:varchar(128);not null" json:"rule_name"`
	RiskScore float64   `gorm:"not null" json:"risk_score"`
	Status    string    `gorm:"type:varchar(20);index;not null;default:'open'" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (FraudAlert) TableName() string {
	return "fraud_alerts"
}
