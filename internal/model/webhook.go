package model

import (
	"time"
)

// 网关回调事件类型
const (
	WebhookEventTransferSuccess  = "transfer.success"
	WebhookEventTransferFailed   = "transfer.failed"
	WebhookEventTransferReversed = "transfer.reversed"
)

// WebhookEvent 网关回调事件表
//
// 【关键点】(gateway, event_id) 上的唯一索引就是幂等的并发原语：
// 同一事件被网关重复投递（网络重试、重复推送）时，两个请求竞争插入，
// 有且只有一个成功，输掉的那个把唯一键冲突当作"已受理"处理
//
// 签名校验失败的事件也会落库（last_error 记录原因），
// 防止伪造的 payload 借着重试通道被反复尝试
type WebhookEvent struct {
	ID                 int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Gateway            string     `gorm:"type:varchar(32);uniqueIndex:uk_gateway_event;not null" json:"gateway"`
	EventType          string     `gorm:"type:varchar(64);not null" json:"event_type"`
	EventID            string     `gorm:"type:varchar(128);uniqueIndex:uk_gateway_event;not null" json:"event_id"`
	Payload            string     `gorm:"type:text;not null" json:"payload"`   // 原始报文（JSON）
	Signature          string     `gorm:"type:varchar(256)" json:"signature"`  // 网关 HMAC 签名头
	SignatureValid     bool       `gorm:"not null;default:false" json:"signature_valid"`
	Processed          bool       `gorm:"not null;default:false;index" json:"processed"`
	ProcessingAttempts int        `gorm:"not null;default:0" json:"processing_attempts"`
	LastError          string     `gorm:"type:varchar(512)" json:"last_error"`
	ProcessedAt        *time.Time `json:"processed_at"`
	CreatedAt          time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}
