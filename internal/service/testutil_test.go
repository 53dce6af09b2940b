package service

import (
	"fmt"
	"strings"
	"testing"

	"walletpay/internal/config"
	"walletpay/internal/model"
	"walletpay/pkg/idgen"

	"github.com/stretchr/testify/require"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	idgen.Init(1)
}

// setupTestDB 每个测试一个独立的内存库
// 单连接串行化所有访问，避免 sqlite 的写锁争用
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&model.WalletAccount{},
		&model.Transaction{},
		&model.Payout{},
		&model.FraudRule{},
		&model.FraudAlert{},
		&model.ManualReviewItem{},
		&model.WebhookEvent{},
		&model.OutboxMessage{},
	))

	return db
}

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{
				PayoutResult: "walletpay.payout.result",
				FraudAlert:   "walletpay.fraud.alert",
			},
		},
		Business: config.BusinessConfig{
			DefaultGateway: "paystack",
			WithdrawalLimits: map[string]config.CurrencyLimitConfig{
				"NGN": {DailyLimit: 50000000, MonthlyLimit: 500000000},
				"USD": {DailyLimit: 500000, MonthlyLimit: 5000000},
			},
			PayoutFees: map[string]config.PayoutFeeConfig{
				"NGN": {PlatformFeeBasisPoints: 50, GatewayFlatFee: 5000},
				"USD": {PlatformFeeBasisPoints: 50, GatewayFlatFee: 100},
			},
			GatewaySecrets: map[string]string{
				"paystack": "test-secret",
			},
			ProcessingTimeoutMin: 30,
			WebhookMaxAttempts:   3,
			MaxRetryCount:        5,
		},
	}
}
