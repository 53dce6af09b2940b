package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	PayoutResult string `mapstructure:"payout_result"`
	FraudAlert   string `mapstructure:"fraud_alert"`
}

// CurrencyLimitConfig 单币种提现限额（最小货币单位）
type CurrencyLimitConfig struct {
	DailyLimit   int64 `mapstructure:"daily_limit"`
	MonthlyLimit int64 `mapstructure:"monthly_limit"`
}

// PayoutFeeConfig 提现手续费
type PayoutFeeConfig struct {
	PlatformFeeBasisPoints int64 `mapstructure:"platform_fee_basis_points"` // 平台费率（基点，万分之一）
	GatewayFlatFee         int64 `mapstructure:"gateway_flat_fee"`          // 网关固定费（最小货币单位）
}

type BusinessConfig struct {
	DefaultGateway          string                         `mapstructure:"default_gateway"`
	WithdrawalLimits        map[string]CurrencyLimitConfig `mapstructure:"withdrawal_limits"` // 币种 -> 限额
	PayoutFees              map[string]PayoutFeeConfig     `mapstructure:"payout_fees"`       // 币种 -> 手续费
	GatewaySecrets          map[string]string              `mapstructure:"gateway_secrets"`   // 网关 -> 回调签名密钥
	ProcessingTimeoutMin    int                            `mapstructure:"processing_timeout_minutes"`   // PROCESSING 超时（转人工审核）
	WebhookMaxAttempts      int                            `mapstructure:"webhook_max_attempts"`         // 回调处理重试上限
	MaxRetryCount           int                            `mapstructure:"max_retry_count"`              // 发件箱投递重试上限
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}
