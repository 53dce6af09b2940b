package service

import (
	"context"
	"fmt"
	"time"

	"walletpay/internal/config"
	"walletpay/internal/repository"

	"gorm.io/gorm"
)

// ============================================================================
// 提现限额服务
// ============================================================================
//
// 【设计】用量不落独立计数器，每次检查直接对流水求和：
//   日窗口 = 滚动 24 小时，月窗口 = 自然月
// 计数器与账本之间不存在漂移的可能，代价是每次检查一趟索引区间扫描。
//
// 本服务只读，不预留资金 —— 限额检查通过只代表"额度够"，
// 钱够不够仍由账本的 Reserve 说了算。
//
// ============================================================================

const (
	LimitWindowDaily   = "daily"
	LimitWindowMonthly = "monthly"
)

// LimitCheckResult 限额检查结果
// 拒绝时带上限额/用量/剩余明细，让用户知道为什么被拦
type LimitCheckResult struct {
	Allowed          bool   `json:"allowed"`
	ExceededWindow   string `json:"exceeded_window,omitempty"` // daily / monthly
	Currency         string `json:"currency"`
	DailyLimit       int64  `json:"daily_limit"`
	MonthlyLimit     int64  `json:"monthly_limit"`
	DailyUsage       int64  `json:"daily_usage"`
	MonthlyUsage     int64  `json:"monthly_usage"`
	DailyRemaining   int64  `json:"daily_remaining"`
	MonthlyRemaining int64  `json:"monthly_remaining"`
}

// LimitService 提现限额服务
type LimitService struct {
	cfg             *config.Config
	transactionRepo *repository.TransactionRepository
	ledger          *LedgerService
	now             func() time.Time // 注入时钟，便于测试固定窗口
}

func NewLimitService(db *gorm.DB, cfg *config.Config) *LimitService {
	return &LimitService{
		cfg:             cfg,
		transactionRepo: repository.NewTransactionRepository(db),
		ledger:          NewLedgerService(db),
		now:             time.Now,
	}
}

// RecordWithdrawal 记录一笔提现占用
// 纯透传：流水由账本的 Reserve 落库，本服务不维护任何可变计数器，
// 下次 CheckWithdrawalLimits 求和时自然统计到这笔
func (s *LimitService) RecordWithdrawal(ctx context.Context, userID int64, amount int64, currency, reference string) error {
	return s.ledger.Reserve(ctx, nil, userID, currency, amount, reference, nil)
}

// CheckWithdrawalLimits 检查一笔提现是否超出日/月限额
// 对 usage + amount 与配置上限比较；上限配置为 0 表示该窗口不设限
func (s *LimitService) CheckWithdrawalLimits(ctx context.Context, userID int64, amount int64, currency string) (*LimitCheckResult, error) {
	limits := s.cfg.Business.WithdrawalLimits[currency]
	now := s.now()

	dailySince := now.Add(-24 * time.Hour)
	monthSince := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	dailyUsage, err := s.transactionRepo.SumWithdrawalUsage(ctx, userID, currency, dailySince)
	if err != nil {
		return nil, fmt.Errorf("统计日窗口用量失败: %w", err)
	}

	monthlyUsage, err := s.transactionRepo.SumWithdrawalUsage(ctx, userID, currency, monthSince)
	if err != nil {
		return nil, fmt.Errorf("统计月窗口用量失败: %w", err)
	}

	result := &LimitCheckResult{
		Allowed:          true,
		Currency:         currency,
		DailyLimit:       limits.DailyLimit,
		MonthlyLimit:     limits.MonthlyLimit,
		DailyUsage:       dailyUsage,
		MonthlyUsage:     monthlyUsage,
		DailyRemaining:   remaining(limits.DailyLimit, dailyUsage),
		MonthlyRemaining: remaining(limits.MonthlyLimit, monthlyUsage),
	}

	// 先判日限再判月限：两个都超时报更短的窗口，用户更早能重试
	if limits.DailyLimit > 0 && dailyUsage+amount > limits.DailyLimit {
		result.Allowed = false
		result.ExceededWindow = LimitWindowDaily
		return result, nil
	}

	if limits.MonthlyLimit > 0 && monthlyUsage+amount > limits.MonthlyLimit {
		result.Allowed = false
		result.ExceededWindow = LimitWindowMonthly
		return result, nil
	}

	return result, nil
}

func remaining(limit, usage int64) int64 {
	if limit <= 0 {
		return 0 // 不设限
	}
	r := limit - usage
	if r < 0 {
		return 0
	}
	return r
}
