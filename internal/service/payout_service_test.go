package service

import (
	"context"
	"testing"
	"time"

	"walletpay/internal/model"
	"walletpay/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func submitPayout(t *testing.T, db *gorm.DB, requestID string, amount int64) *WithdrawResponse {
	t.Helper()
	ws := NewWithdrawalService(db, nil, testConfig())
	resp, err := ws.Submit(context.Background(), validRequest(requestID, amount))
	require.NoError(t, err)
	return resp
}

func TestPayoutLifecycleCompleted(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig()
	ledger := NewLedgerService(db)
	payouts := NewPayoutService(db, cfg)
	ctx := context.Background()

	creditAccount(t, ledger, 1, "NGN", 10000000)
	resp := submitPayout(t, db, "req-1", 1000000)

	require.NoError(t, payouts.MarkProcessing(ctx, resp.PayoutNo))

	got, err := repository.NewPayoutRepository(db).GetByPayoutNo(ctx, resp.PayoutNo)
	require.NoError(t, err)
	assert.Equal(t, model.PayoutStatusProcessing, got.Status)
	require.NotNil(t, got.SubmittedAt)

	require.NoError(t, payouts.Complete(ctx, resp.PayoutNo))

	got, err = repository.NewPayoutRepository(db).GetByPayoutNo(ctx, resp.PayoutNo)
	require.NoError(t, err)
	assert.Equal(t, model.PayoutStatusCompleted, got.Status)

	account, err := ledger.GetAccount(ctx, 1, "NGN")
	require.NoError(t, err)
	assert.Equal(t, int64(9000000), account.BalanceAvailable)
	assert.Equal(t, int64(0), account.BalancePending)
}

func TestPayoutLifecycleFailed(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig()
	ledger := NewLedgerService(db)
	payouts := NewPayoutService(db, cfg)
	ctx := context.Background()

	creditAccount(t, ledger, 1, "NGN", 10000000)
	resp := submitPayout(t, db, "req-1", 1000000)

	require.NoError(t, payouts.MarkProcessing(ctx, resp.PayoutNo))
	require.NoError(t, payouts.Fail(ctx, resp.PayoutNo, "gateway declined"))

	got, err := repository.NewPayoutRepository(db).GetByPayoutNo(ctx, resp.PayoutNo)
	require.NoError(t, err)
	assert.Equal(t, model.PayoutStatusFailed, got.Status)
	assert.Equal(t, "gateway declined", got.FailureReason)

	// 失败释放预留，余额复原
	account, err := ledger.GetAccount(ctx, 1, "NGN")
	require.NoError(t, err)
	assert.Equal(t, int64(10000000), account.BalanceAvailable)
	assert.Equal(t, int64(0), account.BalancePending)
}

func TestPayoutInvalidTransitionRejected(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig()
	ledger := NewLedgerService(db)
	payouts := NewPayoutService(db, cfg)
	ctx := context.Background()

	creditAccount(t, ledger, 1, "NGN", 10000000)
	resp := submitPayout(t, db, "req-1", 1000000)

	// PENDING 不能直接 COMPLETED
	err := payouts.Complete(ctx, resp.PayoutNo)
	assert.ErrorIs(t, err, repository.ErrPayoutStatusInvalid)

	// 重复 MarkProcessing 第二次失败
	require.NoError(t, payouts.MarkProcessing(ctx, resp.PayoutNo))
	err = payouts.MarkProcessing(ctx, resp.PayoutNo)
	assert.ErrorIs(t, err, repository.ErrPayoutStatusInvalid)

	// 终态后不可再流转
	require.NoError(t, payouts.Complete(ctx, resp.PayoutNo))
	err = payouts.Fail(ctx, resp.PayoutNo, "too late")
	assert.ErrorIs(t, err, repository.ErrPayoutStatusInvalid)
}

// 卡在 PROCESSING 超时的单子进入巡检结果并转人工，但状态不变
func TestPayoutStuckProcessingEscalation(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig()
	ledger := NewLedgerService(db)
	payouts := NewPayoutService(db, cfg)
	ctx := context.Background()

	creditAccount(t, ledger, 1, "NGN", 10000000)
	resp := submitPayout(t, db, "req-1", 1000000)
	require.NoError(t, payouts.MarkProcessing(ctx, resp.PayoutNo))

	// 时钟拨到超时之后
	payouts.now = func() time.Time {
		return time.Now().Add(time.Duration(cfg.Business.ProcessingTimeoutMin+5) * time.Minute)
	}

	stuck, err := payouts.GetStuckProcessing(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stuck, 1)

	require.NoError(t, payouts.EscalateStuck(ctx, stuck[0]))
	// 重复巡检不会重复建单
	require.NoError(t, payouts.EscalateStuck(ctx, stuck[0]))

	item, err := repository.NewReviewRepository(db).GetByPayoutNo(ctx, resp.PayoutNo)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, model.ReviewReasonStuckPayout, item.Reason)

	// 绝不自动置失败，资金保持预留
	got, err := repository.NewPayoutRepository(db).GetByPayoutNo(ctx, resp.PayoutNo)
	require.NoError(t, err)
	assert.Equal(t, model.PayoutStatusProcessing, got.Status)

	account, err := ledger.GetAccount(ctx, 1, "NGN")
	require.NoError(t, err)
	assert.Equal(t, int64(1000000), account.BalancePending)
}

// 审核放行后的提现单又卡在 PROCESSING 超时：
// 已结的审核单被重新打开，异常回到待审队列，不能消失在旧结论后面
func TestPayoutStuckAfterResolvedReviewReopensItem(t *testing.T) {
	db, reviews, _, item, payoutNo := setupReviewCase(t)
	cfg := testConfig()
	payouts := NewPayoutService(db, cfg)
	ctx := context.Background()

	require.NoError(t, reviews.Claim(ctx, item.ReviewNo, "ops-ada"))
	require.NoError(t, reviews.Resolve(ctx, item.ReviewNo, ReviewDecisionApprove, "identity verified"))

	// 放行把提现单推进到 PROCESSING，之后网关一直没有回调
	payouts.now = func() time.Time {
		return time.Now().Add(time.Duration(cfg.Business.ProcessingTimeoutMin+5) * time.Minute)
	}
	stuck, err := payouts.GetStuckProcessing(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	require.NoError(t, payouts.EscalateStuck(ctx, stuck[0]))

	pending, err := repository.NewReviewRepository(db).ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, payoutNo, pending[0].PayoutNo)
	assert.Equal(t, model.ReviewReasonStuckPayout, pending[0].Reason)
	assert.Equal(t, model.ReviewPriorityHigh, pending[0].Priority)
	assert.Empty(t, pending[0].AssignedTo)
	assert.Nil(t, pending[0].ResolvedAt)
}
