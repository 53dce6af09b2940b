package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"walletpay/internal/config"
	"walletpay/internal/model"
	"walletpay/internal/repository"
	"walletpay/pkg/idgen"

	"gorm.io/gorm"
)

// ============================================================================
// 网关回调服务
// ============================================================================
//
// 【回调处理两阶段】
//
//	1. Admit：验签 -> 按 (gateway, event_id) 唯一键插入。
//	   重复投递返回"已受理"，网关视角永远成功，不会无限重推。
//	2. Process：解析报文 -> 找到提现单 -> 驱动状态机。
//	   处理失败只记 last_error 和 attempts，事件留在表里等重试任务，
//	   超过重试上限转人工。
//
// 【关键点】验签失败的事件照样落库（signature_valid=false），
// 但绝不进入处理流程，也不参与重试
//
// ============================================================================

var (
	ErrSignatureInvalid = errors.New("回调签名校验失败")
	ErrUnknownGateway   = errors.New("未配置的网关")
)

// webhookRetryGrace 受理后从未处理过的事件（attempts=0，进程在同步处理前
// 崩溃留下的），过了这个宽限期才交给重试任务，避免和同步路径抢同一条事件
const webhookRetryGrace = time.Minute

// WebhookService 网关回调服务
type WebhookService struct {
	db          *gorm.DB
	cfg         *config.Config
	webhookRepo *repository.WebhookRepository
	payoutRepo  *repository.PayoutRepository
	reviewRepo  *repository.ReviewRepository
	payouts     *PayoutService
	now         func() time.Time
}

func NewWebhookService(db *gorm.DB, cfg *config.Config) *WebhookService {
	return &WebhookService{
		db:          db,
		cfg:         cfg,
		webhookRepo: repository.NewWebhookRepository(db),
		payoutRepo:  repository.NewPayoutRepository(db),
		reviewRepo:  repository.NewReviewRepository(db),
		payouts:     NewPayoutService(db, cfg),
		now:         time.Now,
	}
}

// transferEventPayload 网关转账回调报文
type transferEventPayload struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"` // 发起转账时传给网关的 transfer_reference
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		Reason    string `json:"reason"`
	} `json:"data"`
}

// VerifySignature 校验网关回调签名（HMAC-SHA512，十六进制编码）
func (s *WebhookService) VerifySignature(gateway string, payload []byte, signature string) (bool, error) {
	secret, ok := s.cfg.Business.GatewaySecrets[gateway]
	if !ok {
		return false, ErrUnknownGateway
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature)), nil
}

// AdmitResult 回调受理结果
type AdmitResult struct {
	Admitted  bool // 首次受理；false 表示重复投递
	Duplicate bool
	Event     *model.WebhookEvent
}

// Admit 受理一次回调投递：验签后按唯一键去重落库
func (s *WebhookService) Admit(ctx context.Context, gateway, eventType, eventID string, payload []byte, signature string) (*AdmitResult, error) {
	valid, err := s.VerifySignature(gateway, payload, signature)
	if err != nil {
		return nil, err
	}

	event := &model.WebhookEvent{
		Gateway:        gateway,
		EventType:      eventType,
		EventID:        eventID,
		Payload:        string(payload),
		Signature:      signature,
		SignatureValid: valid,
	}
	if !valid {
		event.LastError = "签名校验失败"
	}

	admitted, stored, err := s.webhookRepo.InsertIfAbsent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("回调事件落库失败: %w", err)
	}

	if !admitted {
		log.Printf("[WebhookService] 重复投递: gateway=%s, eventID=%s", gateway, eventID)
		return &AdmitResult{Admitted: false, Duplicate: true, Event: stored}, nil
	}
	if !valid {
		log.Printf("[WebhookService] 签名校验失败: gateway=%s, eventID=%s", gateway, eventID)
		return &AdmitResult{Admitted: true, Event: stored}, ErrSignatureInvalid
	}
	return &AdmitResult{Admitted: true, Event: stored}, nil
}

// Process 处理一条已受理的回调事件，驱动提现单状态机
func (s *WebhookService) Process(ctx context.Context, event *model.WebhookEvent) error {
	if !event.SignatureValid {
		return ErrSignatureInvalid
	}
	if event.Processed {
		return nil
	}

	if err := s.processEvent(ctx, event); err != nil {
		if recErr := s.webhookRepo.RecordFailure(ctx, event.ID, err.Error()); recErr != nil {
			log.Printf("[WebhookService] 记录失败状态出错: eventID=%d, err=%v", event.ID, recErr)
		}
		if event.ProcessingAttempts+1 >= s.cfg.Business.WebhookMaxAttempts {
			s.escalateExhausted(ctx, event, err)
		}
		return err
	}

	marked, err := s.webhookRepo.MarkProcessed(ctx, nil, event.ID)
	if err != nil {
		return err
	}
	if !marked {
		// 另一个消费者已经处理完了这条事件
		log.Printf("[WebhookService] 事件已被处理: eventID=%d", event.ID)
	}
	return nil
}

func (s *WebhookService) processEvent(ctx context.Context, event *model.WebhookEvent) error {
	var payload transferEventPayload
	if err := json.Unmarshal([]byte(event.Payload), &payload); err != nil {
		return fmt.Errorf("报文解析失败: %w", err)
	}
	if payload.Data.Reference == "" {
		return errors.New("报文缺少转账引用")
	}

	payout, err := s.payoutRepo.GetByTransferReference(ctx, payload.Data.Reference)
	if err != nil {
		return fmt.Errorf("未找到转账引用对应的提现单 %s: %w", payload.Data.Reference, err)
	}
	if payout.IsTerminal() {
		// 终态后的迟到回调，不再流转
		log.Printf("[WebhookService] 提现单已终态，忽略回调: payoutNo=%s, status=%s, event=%s",
			payout.PayoutNo, payout.Status, event.EventType)
		return nil
	}

	switch event.EventType {
	case model.WebhookEventTransferSuccess:
		// 成功回调先于网关受理确认到达时，补一步 PROCESSING
		if payout.Status == model.PayoutStatusPending {
			if err := s.payouts.MarkProcessing(ctx, payout.PayoutNo); err != nil {
				return err
			}
		}
		return s.payouts.Complete(ctx, payout.PayoutNo)
	case model.WebhookEventTransferFailed, model.WebhookEventTransferReversed:
		reason := payload.Data.Reason
		if reason == "" {
			reason = "网关回调: " + event.EventType
		}
		return s.payouts.Fail(ctx, payout.PayoutNo, reason)
	default:
		return fmt.Errorf("未知回调事件类型: %s", event.EventType)
	}
}

// escalateExhausted 重试超限的事件转人工审核
func (s *WebhookService) escalateExhausted(ctx context.Context, event *model.WebhookEvent, cause error) {
	var payload transferEventPayload
	var payoutNo string
	var userID int64
	if json.Unmarshal([]byte(event.Payload), &payload) == nil && payload.Data.Reference != "" {
		if payout, err := s.payoutRepo.GetByTransferReference(ctx, payload.Data.Reference); err == nil {
			payoutNo = payout.PayoutNo
			userID = payout.UserID
		}
	}
	if payoutNo == "" {
		// 报文都解析不出提现单，留给运维从事件表排查
		log.Printf("[WebhookService] 回调重试超限且无法定位提现单: eventID=%d, err=%v", event.ID, cause)
		return
	}

	item := &model.ManualReviewItem{
		ReviewNo: idgen.GenerateReviewNo(),
		PayoutNo: payoutNo,
		UserID:   userID,
		Priority: model.ReviewPriorityUrgent,
		Status:   model.ReviewStatusPending,
		Reason:   model.ReviewReasonWebhookFailure,
	}
	if err := s.reviewRepo.Create(ctx, nil, item); err != nil {
		log.Printf("[WebhookService] 创建审核单失败: payoutNo=%s, err=%v", payoutNo, err)
		return
	}
	log.Printf("[WebhookService] 回调重试超限转人工: eventID=%d, payoutNo=%s", event.ID, payoutNo)
}

// RetryUnprocessed 重试未处理完成的回调事件，返回成功处理的条数
func (s *WebhookService) RetryUnprocessed(ctx context.Context, limit int) (int, error) {
	events, err := s.webhookRepo.ListUnprocessed(ctx, s.cfg.Business.WebhookMaxAttempts,
		s.now().Add(-webhookRetryGrace), limit)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, event := range events {
		if err := s.Process(ctx, event); err != nil {
			log.Printf("[WebhookService] 重试处理失败: eventID=%d, attempts=%d, err=%v",
				event.ID, event.ProcessingAttempts, err)
			continue
		}
		processed++
	}
	return processed, nil
}

// EscalateExhausted 把重试超限的事件逐个转人工，返回处理条数
func (s *WebhookService) EscalateExhausted(ctx context.Context, limit int) (int, error) {
	events, err := s.webhookRepo.ListExhausted(ctx, s.cfg.Business.WebhookMaxAttempts, limit)
	if err != nil {
		return 0, err
	}
	for _, event := range events {
		s.escalateExhausted(ctx, event, errors.New("重试次数已用尽"))
	}
	return len(events), nil
}
