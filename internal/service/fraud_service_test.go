package service

import (
	"context"
	"testing"
	"time"

	"walletpay/internal/model"
	"walletpay/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertRule(t *testing.T, repo *repository.FraudRepository, rule *model.FraudRule) {
	t.Helper()
	require.NoError(t, repo.UpsertRule(context.Background(), rule))
}

func newAttempt(amount int64) *WithdrawalAttempt {
	return &WithdrawalAttempt{
		UserID:        1,
		PayoutNo:      "PYT_TEST",
		Amount:        amount,
		Currency:      "NGN",
		AccountNumber: "0123456789",
		RequestedAt:   time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), // 本地 13 点，非异常时段
	}
}

func TestFraudNoRulesAllows(t *testing.T) {
	db := setupTestDB(t)
	fraud := NewFraudService(db)

	decision, err := fraud.Evaluate(context.Background(), newAttempt(5000000))
	require.NoError(t, err)
	assert.Equal(t, FraudDecisionAllow, decision.Outcome)
	assert.Empty(t, decision.FiredRules)
}

// 大额提现触发人工审核：200000000 kobo >= 阈值 100000000
func TestFraudLargeAmountRequiresReview(t *testing.T) {
	db := setupTestDB(t)
	fraud := NewFraudService(db)
	ctx := context.Background()
	require.NoError(t, fraud.SeedDefaultRules(ctx))

	decision, err := fraud.Evaluate(ctx, newAttempt(200000000))
	require.NoError(t, err)
	assert.Equal(t, FraudDecisionReview, decision.Outcome)
	assert.True(t, decision.RequiresReview())

	var names []string
	for _, fired := range decision.FiredRules {
		names = append(names, fired.Rule.RuleName)
	}
	assert.Contains(t, names, "Large Amount Withdrawal")
}

func TestFraudAmountBelowThresholdAllowed(t *testing.T) {
	db := setupTestDB(t)
	fraud := NewFraudService(db)
	ctx := context.Background()

	insertRule(t, repository.NewFraudRepository(db), &model.FraudRule{
		RuleName:   "Large Amount Withdrawal",
		RuleType:   model.RuleTypeAmountThreshold,
		Conditions: `{"currency":"NGN","threshold":100000000}`,
		Action:     model.RuleActionRequireManualReview,
		IsActive:   true,
	})

	// 阈值以下放行，刚好等于阈值命中（>= 比较）
	decision, err := fraud.Evaluate(ctx, newAttempt(99999999))
	require.NoError(t, err)
	assert.Equal(t, FraudDecisionAllow, decision.Outcome)

	decision, err = fraud.Evaluate(ctx, newAttempt(100000000))
	require.NoError(t, err)
	assert.Equal(t, FraudDecisionReview, decision.Outcome)
}

// 币种不匹配的大额规则不参与断言
func TestFraudAmountThresholdCurrencyScoped(t *testing.T) {
	db := setupTestDB(t)
	fraud := NewFraudService(db)
	ctx := context.Background()

	insertRule(t, repository.NewFraudRepository(db), &model.FraudRule{
		RuleName:   "Large USD Withdrawal",
		RuleType:   model.RuleTypeAmountThreshold,
		Conditions: `{"currency":"USD","threshold":1000}`,
		Action:     model.RuleActionRequireManualReview,
		IsActive:   true,
	})

	decision, err := fraud.Evaluate(ctx, newAttempt(200000000)) // NGN
	require.NoError(t, err)
	assert.Equal(t, FraudDecisionAllow, decision.Outcome)
}

func TestFraudVelocityRule(t *testing.T) {
	db := setupTestDB(t)
	fraud := NewFraudService(db)
	ledger := NewLedgerService(db)
	ctx := context.Background()

	insertRule(t, repository.NewFraudRepository(db), &model.FraudRule{
		RuleName:   "Withdrawal Velocity",
		RuleType:   model.RuleTypeVelocity,
		Conditions: `{"window_hours":24,"max_count":3}`,
		Action:     model.RuleActionFlagForReview,
		IsActive:   true,
	})

	creditAccount(t, ledger, 1, "NGN", 100000000)
	for _, ref := range []string{"PYT1", "PYT2", "PYT3"} {
		require.NoError(t, ledger.Reserve(ctx, nil, 1, "NGN", 1000000, ref, nil))
	}

	// 已有 3 笔，第 4 笔越过 max_count=3
	attempt := newAttempt(1000000)
	attempt.RequestedAt = time.Now()
	decision, err := fraud.Evaluate(ctx, attempt)
	require.NoError(t, err)
	assert.Equal(t, FraudDecisionFlag, decision.Outcome)
}

func TestFraudTimePatternRule(t *testing.T) {
	db := setupTestDB(t)
	fraud := NewFraudService(db)
	ctx := context.Background()

	insertRule(t, repository.NewFraudRepository(db), &model.FraudRule{
		RuleName:   "Unusual Hour Withdrawal",
		RuleType:   model.RuleTypeTimePattern,
		Conditions: `{"utc_offset_minutes":60,"unusual_hours":[0,1,2,3,4]}`,
		Action:     model.RuleActionIncreaseMonitoring,
		IsActive:   true,
	})

	// UTC 02:30 -> 本地（UTC+1）03:30，异常时段
	attempt := newAttempt(1000000)
	attempt.RequestedAt = time.Date(2026, 3, 10, 2, 30, 0, 0, time.UTC)
	decision, err := fraud.Evaluate(ctx, attempt)
	require.NoError(t, err)
	assert.Equal(t, FraudDecisionFlag, decision.Outcome)

	// UTC 12:00 -> 本地 13:00，正常时段
	attempt.RequestedAt = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	decision, err = fraud.Evaluate(ctx, attempt)
	require.NoError(t, err)
	assert.Equal(t, FraudDecisionAllow, decision.Outcome)
}

// 多条规则命中时最严者胜，风险分取最高
func TestFraudStrictestOutcomeWins(t *testing.T) {
	db := setupTestDB(t)
	fraud := NewFraudService(db)
	ctx := context.Background()
	repo := repository.NewFraudRepository(db)

	insertRule(t, repo, &model.FraudRule{
		RuleName:   "Unusual Hour Withdrawal",
		RuleType:   model.RuleTypeTimePattern,
		Conditions: `{"utc_offset_minutes":0,"unusual_hours":[2]}`,
		Action:     model.RuleActionIncreaseMonitoring,
		IsActive:   true,
	})
	insertRule(t, repo, &model.FraudRule{
		RuleName:   "Large Amount Withdrawal",
		RuleType:   model.RuleTypeAmountThreshold,
		Conditions: `{"currency":"NGN","threshold":100000000}`,
		Action:     model.RuleActionRequireManualReview,
		IsActive:   true,
	})

	attempt := newAttempt(200000000)
	attempt.RequestedAt = time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	decision, err := fraud.Evaluate(ctx, attempt)
	require.NoError(t, err)
	assert.Equal(t, FraudDecisionReview, decision.Outcome)
	assert.Len(t, decision.FiredRules, 2)
	assert.Equal(t, riskScoreReview, decision.MaxRiskScore())
}

// 相同输入多次评估，结论与命中集必须一致
func TestFraudDeterministic(t *testing.T) {
	db := setupTestDB(t)
	fraud := NewFraudService(db)
	ctx := context.Background()
	require.NoError(t, fraud.SeedDefaultRules(ctx))

	attempt := newAttempt(200000000)
	first, err := fraud.Evaluate(ctx, attempt)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := fraud.Evaluate(ctx, attempt)
		require.NoError(t, err)
		assert.Equal(t, first.Outcome, again.Outcome)
		require.Len(t, again.FiredRules, len(first.FiredRules))
		for j := range first.FiredRules {
			assert.Equal(t, first.FiredRules[j].Rule.RuleName, again.FiredRules[j].Rule.RuleName)
		}
	}
}

// 停用的规则不参与评估
func TestFraudInactiveRuleSkipped(t *testing.T) {
	db := setupTestDB(t)
	fraud := NewFraudService(db)
	ctx := context.Background()

	insertRule(t, repository.NewFraudRepository(db), &model.FraudRule{
		RuleName:   "Large Amount Withdrawal",
		RuleType:   model.RuleTypeAmountThreshold,
		Conditions: `{"currency":"NGN","threshold":100000000}`,
		Action:     model.RuleActionRequireManualReview,
		IsActive:   false,
	})

	decision, err := fraud.Evaluate(ctx, newAttempt(200000000))
	require.NoError(t, err)
	assert.Equal(t, FraudDecisionAllow, decision.Outcome)
}

// 参数坏掉的规则跳过，不拦死其他规则
func TestFraudBrokenRuleSkipped(t *testing.T) {
	db := setupTestDB(t)
	fraud := NewFraudService(db)
	ctx := context.Background()
	repo := repository.NewFraudRepository(db)

	insertRule(t, repo, &model.FraudRule{
		RuleName:   "Broken Rule",
		RuleType:   "geo_fence",
		Conditions: `{}`,
		Action:     model.RuleActionRequireManualReview,
		IsActive:   true,
	})
	insertRule(t, repo, &model.FraudRule{
		RuleName:   "Large Amount Withdrawal",
		RuleType:   model.RuleTypeAmountThreshold,
		Conditions: `{"currency":"NGN","threshold":100000000}`,
		Action:     model.RuleActionRequireManualReview,
		IsActive:   true,
	})

	decision, err := fraud.Evaluate(ctx, newAttempt(200000000))
	require.NoError(t, err)
	assert.Equal(t, FraudDecisionReview, decision.Outcome)
	assert.Len(t, decision.FiredRules, 1)
}

func TestFraudRecordAlerts(t *testing.T) {
	db := setupTestDB(t)
	fraud := NewFraudService(db)
	ctx := context.Background()
	require.NoError(t, fraud.SeedDefaultRules(ctx))

	attempt := newAttempt(200000000)
	decision, err := fraud.Evaluate(ctx, attempt)
	require.NoError(t, err)
	require.NotEmpty(t, decision.FiredRules)

	require.NoError(t, fraud.RecordAlerts(ctx, nil, attempt, decision))

	alerts, err := repository.NewFraudRepository(db).ListAlertsByPayoutNo(ctx, attempt.PayoutNo)
	require.NoError(t, err)
	require.Len(t, alerts, len(decision.FiredRules))
	assert.Equal(t, model.AlertStatusOpen, alerts[0].Status)
	assert.Equal(t, riskScoreReview, alerts[0].RiskScore)
}
