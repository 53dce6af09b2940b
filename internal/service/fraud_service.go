package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"walletpay/internal/model"
	"walletpay/internal/repository"

	"gorm.io/gorm"
)

// ============================================================================
// 风控规则引擎
// ============================================================================
//
// 【设计】规则是数据不是代码：
// 引擎从 fraud_rules 表加载启用的规则，按 rule_type 解码出类型化参数，
// 逐条断言。新增一条规则只需要插一行数据，引擎主循环不用改。
//
// 【决策合成】规则彼此独立，求值顺序无关，最严者胜：
//   任何一条 require_manual_review 命中  -> review（拦截转人工）
//   否则有 flag_for_review / increase_monitoring 命中 -> flag（放行但告警）
//   否则 -> allow
//
// 【确定性】Evaluate 本身无副作用：同样的提现尝试 + 同样的规则集，
// 结论和命中集永远一致。告警落库由 RecordAlerts 单独完成，
// 调用方把它放进业务事务里。
//
// ============================================================================

// 决策结论
const (
	FraudDecisionAllow  = "allow"
	FraudDecisionFlag   = "flag"
	FraudDecisionReview = "review"
)

// 风险分：按动作严格程度赋基础分
const (
	riskScoreReview  = 0.9
	riskScoreFlag    = 0.6
	riskScoreMonitor = 0.3
)

// WithdrawalAttempt 一次提现尝试（规则断言的输入）
type WithdrawalAttempt struct {
	UserID        int64
	PayoutNo      string
	Amount        int64
	Currency      string
	AccountNumber string
	RequestedAt   time.Time
}

// FiredRule 一条命中的规则
type FiredRule struct {
	Rule      *model.FraudRule
	RiskScore float64
}

// FraudDecision 引擎决策
type FraudDecision struct {
	Outcome    string // allow / flag / review
	FiredRules []FiredRule
}

// RequiresReview 是否需要人工审核
func (d *FraudDecision) RequiresReview() bool {
	return d.Outcome == FraudDecisionReview
}

// MaxRiskScore 命中规则中的最高风险分
func (d *FraudDecision) MaxRiskScore() float64 {
	max := 0.0
	for _, f := range d.FiredRules {
		if f.RiskScore > max {
			max = f.RiskScore
		}
	}
	return max
}

// FraudService 风控规则引擎
type FraudService struct {
	fraudRepo       *repository.FraudRepository
	transactionRepo *repository.TransactionRepository
	payoutRepo      *repository.PayoutRepository
	now             func() time.Time
}

func NewFraudService(db *gorm.DB) *FraudService {
	return &FraudService{
		fraudRepo:       repository.NewFraudRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		payoutRepo:      repository.NewPayoutRepository(db),
		now:             time.Now,
	}
}

// Evaluate 对一次提现尝试评估所有启用规则
func (s *FraudService) Evaluate(ctx context.Context, attempt *WithdrawalAttempt) (*FraudDecision, error) {
	rules, err := s.fraudRepo.GetActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("加载风控规则失败: %w", err)
	}

	decision := &FraudDecision{Outcome: FraudDecisionAllow}

	for _, rule := range rules {
		conditions, err := rule.DecodeConditions()
		if err != nil {
			// 配置坏掉的规则跳过并记日志，不能因为一条脏数据拦死全部提现
			log.Printf("[FraudService] 规则参数非法，已跳过: rule=%s, err=%v", rule.RuleName, err)
			continue
		}

		fired, err := s.assert(ctx, attempt, conditions)
		if err != nil {
			return nil, fmt.Errorf("评估规则 %s 失败: %w", rule.RuleName, err)
		}
		if !fired {
			continue
		}

		decision.FiredRules = append(decision.FiredRules, FiredRule{
			Rule:      rule,
			RiskScore: riskScoreFor(rule.Action),
		})

		// 最严者胜
		switch rule.Action {
		case model.RuleActionRequireManualReview:
			decision.Outcome = FraudDecisionReview
		case model.RuleActionFlagForReview, model.RuleActionIncreaseMonitoring:
			if decision.Outcome != FraudDecisionReview {
				decision.Outcome = FraudDecisionFlag
			}
		}
	}

	return decision, nil
}

// assert 断言单条规则是否命中
// rule_type 是封闭枚举，每种类型在这里有且只有一个分支
func (s *FraudService) assert(ctx context.Context, attempt *WithdrawalAttempt, conditions model.RuleConditions) (bool, error) {
	switch c := conditions.(type) {
	case model.VelocityConditions:
		since := attempt.RequestedAt.Add(-time.Duration(c.WindowHours) * time.Hour)
		count, err := s.transactionRepo.CountWithdrawals(ctx, attempt.UserID, since)
		if err != nil {
			return false, err
		}
		// count 是已落库的提现笔数，加上当前这笔再比较
		return count+1 > int64(c.MaxCount), nil

	case model.AmountThresholdConditions:
		if c.Currency != "" && c.Currency != attempt.Currency {
			return false, nil
		}
		return attempt.Amount >= c.Threshold, nil

	case model.NewDestinationConditions:
		cutoff := attempt.RequestedAt.Add(-time.Duration(c.GracePeriodHours) * time.Hour)
		count, err := s.payoutRepo.CountToDestinationBefore(ctx, attempt.UserID, attempt.AccountNumber, cutoff)
		if err != nil {
			return false, err
		}
		// 宽限期之前从未向该账户成功提现过 -> 新收款账户
		return count == 0, nil

	case model.TimePatternConditions:
		localHour := attempt.RequestedAt.UTC().
			Add(time.Duration(c.UTCOffsetMinutes) * time.Minute).Hour()
		for _, h := range c.UnusualHours {
			if h == localHour {
				return true, nil
			}
		}
		return false, nil

	default:
		return false, fmt.Errorf("未知的规则参数类型: %T", conditions)
	}
}

// RecordAlerts 为命中的规则落告警
// 放在调用方的业务事务里，与提现单/资金预留同生共死
func (s *FraudService) RecordAlerts(ctx context.Context, tx *gorm.DB, attempt *WithdrawalAttempt, decision *FraudDecision) error {
	for _, fired := range decision.FiredRules {
		alert := &model.FraudAlert{
			UserID:    attempt.UserID,
			PayoutNo:  attempt.PayoutNo,
			RuleID:    fired.Rule.ID,
			RuleName:  fired.Rule.RuleName,
			RiskScore: fired.RiskScore,
			Status:    model.AlertStatusOpen,
		}
		if err := s.fraudRepo.CreateAlert(ctx, tx, alert); err != nil {
			return fmt.Errorf("记录风控告警失败: %w", err)
		}
	}
	return nil
}

func riskScoreFor(action string) float64 {
	switch action {
	case model.RuleActionRequireManualReview:
		return riskScoreReview
	case model.RuleActionFlagForReview:
		return riskScoreFlag
	case model.RuleActionIncreaseMonitoring:
		return riskScoreMonitor
	default:
		return riskScoreMonitor
	}
}

// ============================================================================
// 内置规则
// ============================================================================

// SeedDefaultRules 初始化内置规则（按 rule_name 幂等，可重复执行）
func (s *FraudService) SeedDefaultRules(ctx context.Context) error {
	rules := []*model.FraudRule{
		{
			RuleName:   "Large Amount Withdrawal",
			RuleType:   model.RuleTypeAmountThreshold,
			Conditions: `{"currency":"NGN","threshold":100000000}`,
			Action:     model.RuleActionRequireManualReview,
			IsActive:   true,
		},
		{
			RuleName:   "Withdrawal Velocity",
			RuleType:   model.RuleTypeVelocity,
			Conditions: `{"window_hours":24,"max_count":5}`,
			Action:     model.RuleActionFlagForReview,
			IsActive:   true,
		},
		{
			RuleName:   "New Destination Account",
			RuleType:   model.RuleTypeNewDestination,
			Conditions: `{"grace_period_hours":72}`,
			Action:     model.RuleActionFlagForReview,
			IsActive:   true,
		},
		{
			RuleName:   "Unusual Hour Withdrawal",
			RuleType:   model.RuleTypeTimePattern,
			Conditions: `{"utc_offset_minutes":60,"unusual_hours":[0,1,2,3,4]}`,
			Action:     model.RuleActionIncreaseMonitoring,
			IsActive:   true,
		},
	}

	for _, rule := range rules {
		if err := s.fraudRepo.UpsertRule(ctx, rule); err != nil {
			return fmt.Errorf("初始化规则 %s 失败: %w", rule.RuleName, err)
		}
	}
	return nil
}
