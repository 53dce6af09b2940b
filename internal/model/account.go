package model

import (
	"time"
)

// WalletAccount 钱包账户表
// 每个 (user_id, currency) 一条记录，首次入账时懒创建
// 是整个提现系统的核心数据
type WalletAccount struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           int64     `gorm:"uniqueIndex:uk_user_currency;not null" json:"user_id"`                   // 用户ID，业务方传入
	Currency         string    `gorm:"type:varchar(3);uniqueIndex:uk_user_currency;not null" json:"currency"`  // 币种（ISO 4217）
	BalanceAvailable int64     `gorm:"not null;default:0" json:"balance_available"`                            // 可用余额（最小货币单位），恒 >= 0
	BalancePending   int64     `gorm:"not null;default:0" json:"balance_pending"`                              // 在途冻结金额（提现预留），恒 >= 0
	Version          int       `gorm:"not null;default:0" json:"version"`                                      // 乐观锁版本号
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WalletAccount) TableName() string {
	return "wallet_accounts"
}
