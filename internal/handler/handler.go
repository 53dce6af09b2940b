package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"strconv"

	"walletpay/internal/config"
	"walletpay/internal/model"
	"walletpay/internal/repository"
	"walletpay/internal/service"
	"walletpay/pkg/money"
	"walletpay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	ledgerService   *service.LedgerService
	limitService    *service.LimitService
	withdrawService *service.WithdrawalService
	reviewService   *service.ReviewService
	webhookService  *service.WebhookService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	return &Handler{
		ledgerService:   service.NewLedgerServiceWithLock(db, rdb),
		limitService:    service.NewLimitService(db, cfg),
		withdrawService: service.NewWithdrawalService(db, rdb, cfg),
		reviewService:   service.NewReviewService(db, cfg),
		webhookService:  service.NewWebhookService(db, cfg),
	}
}

// writeError 业务错误统一映射为响应码
func writeError(c *gin.Context, err error) {
	var limitErr *service.LimitExceededError
	switch {
	case errors.As(err, &limitErr):
		code := response.CodeDailyLimitExceeded
		if limitErr.Result.ExceededWindow == service.LimitWindowMonthly {
			code = response.CodeMonthlyLimitExceeded
		}
		response.ErrorWithData(c, code, err.Error(), limitErr.Result)
	case errors.Is(err, repository.ErrInsufficientFunds):
		response.BusinessError(c, response.CodeInsufficientFunds, err.Error())
	case errors.Is(err, repository.ErrAccountNotFound):
		response.BusinessError(c, response.CodeAccountNotFound, err.Error())
	case errors.Is(err, repository.ErrPayoutNotFound):
		response.BusinessError(c, response.CodePayoutNotFound, err.Error())
	case errors.Is(err, repository.ErrPayoutStatusInvalid):
		response.BusinessError(c, response.CodePayoutStatusInvalid, err.Error())
	case errors.Is(err, repository.ErrReviewNotFound):
		response.BusinessError(c, response.CodeReviewNotFound, err.Error())
	case errors.Is(err, repository.ErrReviewStatusInvalid):
		response.BusinessError(c, response.CodePayoutStatusInvalid, err.Error())
	case errors.Is(err, service.ErrSignatureInvalid):
		response.BusinessError(c, response.CodeSignatureInvalid, err.Error())
	case errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, money.ErrUnsupportedCurrency),
		errors.Is(err, service.ErrAmountTooSmall),
		errors.Is(err, service.ErrBankInfoIncomplete),
		errors.Is(err, service.ErrUnknownReviewDecision),
		// 未配置的网关是接入方/配置问题，不是服务端故障
		errors.Is(err, service.ErrUnknownGateway):
		response.ParamError(c, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

func parseUserID(c *gin.Context) (int64, bool) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		response.ParamError(c, "user_id 参数错误")
		return 0, false
	}
	return userID, true
}

func parsePage(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	return page, pageSize
}

// ============================================================
// 账户相关接口
// ============================================================

// GetBalance 查询用户钱包余额
// GET /api/v1/account/balance?user_id=xxx&currency=NGN
func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	currency := c.Query("currency")
	if !money.IsSupported(currency) {
		response.ParamError(c, "currency 参数错误")
		return
	}

	account, err := h.ledgerService.GetAccount(c.Request.Context(), userID, currency)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id":           account.UserID,
		"currency":          account.Currency,
		"balance_available": account.BalanceAvailable,
		"balance_pending":   account.BalancePending,
	})
}

// CreditRequest 入账请求
type CreditRequest struct {
	UserID    int64  `json:"user_id" binding:"required"`
	Currency  string `json:"currency" binding:"required"`
	Amount    int64  `json:"amount" binding:"required,gt=0"`
	Reference string `json:"reference" binding:"required"`
	Reason    string `json:"reason"`
}

// Credit 钱包入账（销售分成、退款等上游结算调用）
// POST /api/v1/account/credit
func (h *Handler) Credit(c *gin.Context) {
	var req CreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	err := h.ledgerService.Credit(c.Request.Context(), nil, req.UserID, req.Currency, req.Amount,
		model.TransactionTypePurchase, model.ReferenceTypePurchase, req.Reference,
		map[string]interface{}{"reason": req.Reason})
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"message": "入账成功",
	})
}

// ListTransactions 查询用户资金流水
// GET /api/v1/account/transactions?user_id=xxx&page=1&page_size=10
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	page, pageSize := parsePage(c)

	transactions, total, err := h.ledgerService.ListTransactions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      transactions,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 提现相关接口
// ============================================================

// SubmitWithdrawal 发起提现
// POST /api/v1/withdraw/submit
//
// 【关键点】提现是整个系统最核心的操作，需要保证：
// 1. 幂等性：相同的 request_id 只会执行一次
// 2. 原子性：资金预留、提现单、流水记录必须同时成功或同时失败
// 3. 风控前置：限额和风控规则在资金动账前评估
func (h *Handler) SubmitWithdrawal(c *gin.Context) {
	var req service.WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.withdrawService.Submit(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	// 触发风控的提现已受理、资金已预留，但被拦在人工审核，
	// 用业务码告知调用方不要把它当作普通的处理中
	if result.ReviewRequired {
		response.ErrorWithData(c, response.CodeManualReviewRequired, result.Message, result)
		return
	}
	response.Success(c, result)
}

// GetPayout 查询提现单详情
// GET /api/v1/withdraw/detail?payout_no=xxx
func (h *Handler) GetPayout(c *gin.Context) {
	payoutNo := c.Query("payout_no")
	if payoutNo == "" {
		response.ParamError(c, "payout_no 参数不能为空")
		return
	}

	payout, err := h.withdrawService.GetPayout(c.Request.Context(), payoutNo)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, payout)
}

// ListPayouts 查询用户提现单列表
// GET /api/v1/withdraw/list?user_id=xxx&page=1&page_size=10
func (h *Handler) ListPayouts(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	page, pageSize := parsePage(c)

	payouts, total, err := h.withdrawService.ListUserPayouts(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      payouts,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// CheckLimits 查询提现限额使用情况
// GET /api/v1/withdraw/limits?user_id=xxx&currency=NGN&amount=0
func (h *Handler) CheckLimits(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}
	currency := c.Query("currency")
	if !money.IsSupported(currency) {
		response.ParamError(c, "currency 参数错误")
		return
	}
	amount, _ := strconv.ParseInt(c.DefaultQuery("amount", "0"), 10, 64)

	result, err := h.limitService.CheckWithdrawalLimits(c.Request.Context(), userID, amount, currency)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, result)
}

// ============================================================
// 人工审核相关接口
// ============================================================

// ListReviewQueue 查询待审核队列（按优先级排序）
// GET /api/v1/review/queue?limit=50
func (h *Handler) ListReviewQueue(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	items, err := h.reviewService.ListPending(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":  items,
		"total": len(items),
	})
}

// ClaimReviewRequest 认领审核单请求
type ClaimReviewRequest struct {
	ReviewNo string `json:"review_no" binding:"required"`
	Assignee string `json:"assignee" binding:"required"`
}

// ClaimReview 审核员认领审核单
// POST /api/v1/review/claim
func (h *Handler) ClaimReview(c *gin.Context) {
	var req ClaimReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.reviewService.Claim(c.Request.Context(), req.ReviewNo, req.Assignee); err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"message": "认领成功",
	})
}

// ResolveReviewRequest 审核结论请求
type ResolveReviewRequest struct {
	ReviewNo   string `json:"review_no" binding:"required"`
	Decision   string `json:"decision" binding:"required"` // approve / reject / escalate
	Resolution string `json:"resolution"`
}

// ResolveReview 提交审核结论，驱动提现单流转
// POST /api/v1/review/resolve
func (h *Handler) ResolveReview(c *gin.Context) {
	var req ResolveReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.reviewService.Resolve(c.Request.Context(), req.ReviewNo, req.Decision, req.Resolution); err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"message": "审核完成",
	})
}

// ============================================================
// 网关回调接口
// ============================================================

// webhookEnvelope 回调报文外层，只取去重和路由需要的字段
type webhookEnvelope struct {
	ID    string `json:"id"`
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
	} `json:"data"`
}

// HandleWebhook 接收网关转账结果回调
// POST /webhook/:gateway
//
// 【关键点】重复投递必须返回成功，否则网关会无限重推；
// 去重依赖 (gateway, event_id) 唯一索引，不依赖任何内存状态
func (h *Handler) HandleWebhook(c *gin.Context) {
	gateway := c.Param("gateway")
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.ParamError(c, "读取报文失败")
		return
	}

	signature := c.GetHeader("X-Webhook-Signature")
	if gateway == "paystack" && signature == "" {
		signature = c.GetHeader("X-Paystack-Signature")
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Event == "" {
		response.ParamError(c, "报文格式错误")
		return
	}
	eventID := envelope.ID
	if eventID == "" {
		// 网关不带事件ID时退化为按转账引用+事件类型去重
		eventID = envelope.Event + ":" + envelope.Data.Reference
	}

	result, err := h.webhookService.Admit(c.Request.Context(), gateway, envelope.Event, eventID, body, signature)
	if err != nil {
		writeError(c, err)
		return
	}
	if result.Duplicate {
		response.Success(c, gin.H{
			"message": "事件已受理",
		})
		return
	}

	// 同步处理失败不影响受理结果，事件留给重试任务
	if err := h.webhookService.Process(c.Request.Context(), result.Event); err != nil {
		log.Printf("[Handler] 回调事件延迟处理: gateway=%s, eventID=%s, err=%v", gateway, eventID, err)
	}

	response.Success(c, gin.H{
		"message": "事件已受理",
	})
}
