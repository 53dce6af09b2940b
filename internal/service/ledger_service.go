package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"walletpay/internal/infrastructure/lock"
	"walletpay/internal/model"
	"walletpay/internal/repository"
	"walletpay/pkg/idgen"
	"walletpay/pkg/money"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// ============================================================================
// 钱包账本服务
// ============================================================================
//
// 【账本四操作】
//
//	Credit  入账    available += amount（售课收入、退款）
//	Reserve 预留    available -> pending（提现发起）
//	Commit  结算    pending 出账（提现成功，资金离开平台）
//	Release 释放    pending -> available（提现失败/被拒绝）
//
// 【不变量】
// 1. 两个余额字段恒 >= 0（数据库条件更新保证）
// 2. 每次资金变动与一条流水在同一个数据库事务内落库，
//    余额永远可以由流水重放还原
// 3. 同一 (user_id, currency) 账户上的变动通过 version 乐观锁串行化，
//    冲突方在事务外重试；不同账户完全并行
// 4. 配了 Redis 时自管事务先抢账户锁，把同一账户的变动在锁上排队，
//    减少乐观锁冲突；抢锁失败只降级不拒绝，条件更新才是不变量的保证
//
// ============================================================================

const ledgerMaxRetries = 3

// LedgerService 钱包账本
type LedgerService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return NewLedgerServiceWithLock(db, nil)
}

// NewLedgerServiceWithLock 创建带账户分布式锁的账本
// redisClient 为 nil 时退化为纯乐观锁重试
func NewLedgerServiceWithLock(db *gorm.DB, redisClient *redis.Client) *LedgerService {
	return &LedgerService{
		db:              db,
		redisClient:     redisClient,
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

// GetAccount 查询账户（不存在则懒创建）
func (s *LedgerService) GetAccount(ctx context.Context, userID int64, currency string) (*model.WalletAccount, error) {
	return s.accountRepo.GetOrCreate(ctx, userID, currency)
}

// Credit 入账
// tx 为 nil 时自管事务并在乐观锁冲突时重试；非 nil 时在调用方事务内执行
func (s *LedgerService) Credit(ctx context.Context, tx *gorm.DB, userID int64, currency string, amount int64, transactionType, referenceType, referenceID string, metadata map[string]interface{}) error {
	if err := money.Validate(amount, currency); err != nil {
		return err
	}

	// 首次入账时懒创建账户
	if _, err := s.accountRepo.GetOrCreate(ctx, userID, currency); err != nil {
		return err
	}

	op := func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetByUserID(ctx, tx, userID, currency)
		if err != nil {
			return err
		}

		if err := s.accountRepo.Credit(ctx, tx, userID, currency, amount, account.Version); err != nil {
			return err
		}

		return s.writeJournal(ctx, tx, account, transactionType, amount,
			referenceType, referenceID, metadata,
			account.BalanceAvailable+amount, account.BalancePending)
	}

	return s.run(ctx, tx, userID, currency, op)
}

// Reserve 预留提现资金：available -> pending
// 可用余额不足返回 repository.ErrInsufficientFunds
func (s *LedgerService) Reserve(ctx context.Context, tx *gorm.DB, userID int64, currency string, amount int64, referenceID string, metadata map[string]interface{}) error {
	if err := money.Validate(amount, currency); err != nil {
		return err
	}

	op := func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetByUserID(ctx, tx, userID, currency)
		if err != nil {
			return err
		}

		if err := s.accountRepo.Reserve(ctx, tx, userID, currency, amount, account.Version); err != nil {
			return err
		}

		return s.writeJournal(ctx, tx, account, model.TransactionTypePayout, -amount,
			model.ReferenceTypeWithdrawal, referenceID, metadata,
			account.BalanceAvailable-amount, account.BalancePending+amount)
	}

	return s.run(ctx, tx, userID, currency, op)
}

// Commit 结算提现：pending 出账
// 只能由提现状态机在进入 COMPLETED 时调用
func (s *LedgerService) Commit(ctx context.Context, tx *gorm.DB, userID int64, currency string, amount int64, referenceID string, metadata map[string]interface{}) error {
	op := func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetByUserID(ctx, tx, userID, currency)
		if err != nil {
			return err
		}

		if err := s.accountRepo.Commit(ctx, tx, userID, currency, amount, account.Version); err != nil {
			return err
		}

		return s.writeJournal(ctx, tx, account, model.TransactionTypePayout, -amount,
			model.ReferenceTypeWithdrawalSettlement, referenceID, metadata,
			account.BalanceAvailable, account.BalancePending-amount)
	}

	return s.run(ctx, tx, userID, currency, op)
}

// Release 释放预留：pending -> available
// 只能由提现状态机在进入 FAILED 时调用；冲正流水记正数，
// 限额统计求和时自动抵消预留流水，失败的提现不占限额
func (s *LedgerService) Release(ctx context.Context, tx *gorm.DB, userID int64, currency string, amount int64, referenceID string, metadata map[string]interface{}) error {
	op := func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetByUserID(ctx, tx, userID, currency)
		if err != nil {
			return err
		}

		if err := s.accountRepo.Release(ctx, tx, userID, currency, amount, account.Version); err != nil {
			return err
		}

		return s.writeJournal(ctx, tx, account, model.TransactionTypePayout, amount,
			model.ReferenceTypeWithdrawalReversal, referenceID, metadata,
			account.BalanceAvailable+amount, account.BalancePending-amount)
	}

	return s.run(ctx, tx, userID, currency, op)
}

// ListTransactions 分页查询用户流水
func (s *LedgerService) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	return s.transactionRepo.ListByUserID(ctx, userID, page, pageSize)
}

// run 执行一次账本操作
// tx 非 nil：在调用方事务内执行一次，冲突直接上抛（由调用方整体重试）
// tx 为 nil：自管事务，先抢账户锁（有 Redis 时），乐观锁冲突时有界重试
func (s *LedgerService) run(ctx context.Context, tx *gorm.DB, userID int64, currency string, op func(tx *gorm.DB) error) error {
	if tx != nil {
		return op(tx)
	}

	if s.redisClient != nil {
		holder := strconv.FormatInt(idgen.NextID(), 10)
		accountLock := lock.NewAccountLock(s.redisClient, userID, currency, holder)
		if err := accountLock.Lock(ctx, 50*time.Millisecond, 20); err != nil {
			// 锁失效只会退化为乐观锁冲突重试，不会出现负余额
			log.Printf("[LedgerService] 获取账户锁失败，降级为乐观锁重试: userID=%d, currency=%s, err=%v",
				userID, currency, err)
		} else {
			defer accountLock.Unlock(ctx)
		}
	}

	var lastErr error
	for i := 0; i < ledgerMaxRetries; i++ {
		lastErr = s.db.Transaction(func(tx *gorm.DB) error {
			return op(tx)
		})
		if lastErr == nil || !errors.Is(lastErr, repository.ErrOptimisticLock) {
			return lastErr
		}
	}
	return lastErr
}

// writeJournal 写一条流水，记录变更后的两个余额
func (s *LedgerService) writeJournal(ctx context.Context, tx *gorm.DB, account *model.WalletAccount, transactionType string, amount int64, referenceType, referenceID string, metadata map[string]interface{}, availableAfter, pendingAfter int64) error {
	metadataJSON := ""
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("序列化流水附加信息失败: %w", err)
		}
		metadataJSON = string(b)
	}

	trans := &model.Transaction{
		TransactionNo:         idgen.GenerateTransactionNo(),
		UserID:                account.UserID,
		TransactionType:       transactionType,
		Currency:              account.Currency,
		Amount:                amount,
		ReferenceType:         referenceType,
		ReferenceID:           referenceID,
		Metadata:              metadataJSON,
		BalanceAvailableAfter: availableAfter,
		BalancePendingAfter:   pendingAfter,
	}

	if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
		return fmt.Errorf("记录流水失败: %w", err)
	}
	return nil
}
