package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"walletpay/internal/config"
	"walletpay/internal/model"
	"walletpay/internal/repository"
	"walletpay/internal/service"
	"walletpay/pkg/idgen"
	"walletpay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	idgen.Init(1)
}

func setupTestRouter(t *testing.T) (*gin.Engine, *gorm.DB, *config.Config) {
	t.Helper()

	dsn := fmt.Sprintf("file:handler_%s?mode=memory&cache=shared", t.Name())
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

	cfg := &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{PayoutResult: "walletpay.payout.result"},
		},
		Business: config.BusinessConfig{
			DefaultGateway: "paystack",
			WithdrawalLimits: map[string]config.CurrencyLimitConfig{
				"NGN": {DailyLimit: 50000000, MonthlyLimit: 500000000},
			},
			PayoutFees: map[string]config.PayoutFeeConfig{
				"NGN": {PlatformFeeBasisPoints: 50, GatewayFlatFee: 5000},
			},
			GatewaySecrets:       map[string]string{"paystack": "test-secret"},
			ProcessingTimeoutMin: 30,
			WebhookMaxAttempts:   3,
			MaxRetryCount:        5,
		},
	}

	return SetupRouter(db, nil, cfg), db, cfg
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, *response.Response) {
	t.Helper()

	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req := httptest.NewRequest(method, path, &reqBody)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, &resp
}

func creditViaAPI(t *testing.T, router *gin.Engine, userID int64, amount int64) {
	t.Helper()
	_, resp := doJSON(t, router, http.MethodPost, "/api/v1/account/credit", gin.H{
		"user_id":   userID,
		"currency":  "NGN",
		"amount":    amount,
		"reference": "seed",
	})
	require.Equal(t, response.CodeSuccess, resp.Code)
}

func TestHandlerWithdrawFlow(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	creditViaAPI(t, router, 1, 10000000)

	_, resp := doJSON(t, router, http.MethodGet, "/api/v1/account/balance?user_id=1&currency=NGN", nil)
	require.Equal(t, response.CodeSuccess, resp.Code)

	_, resp = doJSON(t, router, http.MethodPost, "/api/v1/withdraw/submit", gin.H{
		"request_id":     "req-1",
		"user_id":        1,
		"amount":         1000000,
		"currency":       "NGN",
		"bank_code":      "058",
		"account_number": "0123456789",
	})
	require.Equal(t, response.CodeSuccess, resp.Code)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, model.PayoutStatusPending, data["status"])
	assert.NotEmpty(t, data["payout_no"])
}

func TestHandlerInsufficientFundsCode(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	creditViaAPI(t, router, 1, 10000)

	w, resp := doJSON(t, router, http.MethodPost, "/api/v1/withdraw/submit", gin.H{
		"request_id":     "req-1",
		"user_id":        1,
		"amount":         2000000,
		"currency":       "NGN",
		"bank_code":      "058",
		"account_number": "0123456789",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, response.CodeInsufficientFunds, resp.Code)
}

func TestHandlerLimitExceededCode(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	creditViaAPI(t, router, 1, 200000000)

	_, resp := doJSON(t, router, http.MethodPost, "/api/v1/withdraw/submit", gin.H{
		"request_id":     "req-1",
		"user_id":        1,
		"amount":         60000000, // 超过 50000000 日限
		"currency":       "NGN",
		"bank_code":      "058",
		"account_number": "0123456789",
	})
	assert.Equal(t, response.CodeDailyLimitExceeded, resp.Code)

	// 拒绝响应附带限额明细
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "daily", data["exceeded_window"])
}

func TestHandlerDuplicateWebhookReturnsSuccess(t *testing.T) {
	router, db, cfg := setupTestRouter(t)
	ctx := context.Background()

	creditViaAPI(t, router, 1, 10000000)
	_, resp := doJSON(t, router, http.MethodPost, "/api/v1/withdraw/submit", gin.H{
		"request_id":     "req-1",
		"user_id":        1,
		"amount":         1000000,
		"currency":       "NGN",
		"bank_code":      "058",
		"account_number": "0123456789",
	})
	require.Equal(t, response.CodeSuccess, resp.Code)
	payoutNo := resp.Data.(map[string]interface{})["payout_no"].(string)

	require.NoError(t, service.NewPayoutService(db, cfg).MarkProcessing(ctx, payoutNo))

	payout, err := repository.NewPayoutRepository(db).GetByPayoutNo(ctx, payoutNo)
	require.NoError(t, err)

	payload := []byte(fmt.Sprintf(
		`{"id":"evt_1","event":"transfer.success","data":{"reference":"%s","status":"success"}}`,
		payout.TransferReference))
	mac := hmac.New(sha512.New, []byte("test-secret"))
	mac.Write(payload)
	signature := hex.EncodeToString(mac.Sum(nil))

	send := func() *response.Response {
		req := httptest.NewRequest(http.MethodPost, "/webhook/paystack", bytes.NewReader(payload))
		req.Header.Set("X-Paystack-Signature", signature)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		var r response.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r))
		return &r
	}

	first := send()
	assert.Equal(t, response.CodeSuccess, first.Code)

	// 重复投递同一 event_id：依然成功，提现单不会二次流转
	second := send()
	assert.Equal(t, response.CodeSuccess, second.Code)

	got, err := repository.NewPayoutRepository(db).GetByPayoutNo(ctx, payoutNo)
	require.NoError(t, err)
	assert.Equal(t, model.PayoutStatusCompleted, got.Status)
}

// 触发风控转人工的提现：已受理但用业务码标明被拦在审核
func TestHandlerReviewRequiredCode(t *testing.T) {
	router, db, _ := setupTestRouter(t)

	require.NoError(t, repository.NewFraudRepository(db).UpsertRule(context.Background(), &model.FraudRule{
		RuleName:   "Large Amount Withdrawal",
		RuleType:   model.RuleTypeAmountThreshold,
		Conditions: `{"currency":"NGN","threshold":30000000}`,
		Action:     model.RuleActionRequireManualReview,
		IsActive:   true,
	}))

	creditViaAPI(t, router, 1, 100000000)

	w, resp := doJSON(t, router, http.MethodPost, "/api/v1/withdraw/submit", gin.H{
		"request_id":     "req-1",
		"user_id":        1,
		"amount":         40000000,
		"currency":       "NGN",
		"bank_code":      "058",
		"account_number": "0123456789",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, response.CodeManualReviewRequired, resp.Code)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, data["review_required"])
	assert.Equal(t, model.PayoutStatusPending, data["status"])
}

// 未配置的网关投递回调：参数类错误，不是服务端故障
func TestHandlerUnknownGatewayCode(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	payload := []byte(`{"id":"evt_1","event":"transfer.success","data":{"reference":"TRF_X"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", bytes.NewReader(payload))
	req.Header.Set("X-Webhook-Signature", "whatever")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, response.CodeParamError, resp.Code)
}

func TestHandlerWebhookBadSignatureCode(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	payload := []byte(`{"id":"evt_1","event":"transfer.success","data":{"reference":"TRF_X"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/paystack", bytes.NewReader(payload))
	req.Header.Set("X-Paystack-Signature", "forged")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, response.CodeSignatureInvalid, resp.Code)
}
