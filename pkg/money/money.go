package money

import (
	"errors"
	"fmt"
)

// ============================================================================
// 金额表示
// ============================================================================
//
// 【为什么用整数最小单位？】
//
// 金额一律使用 int64 的最小货币单位（kobo/分）表示，禁止浮点数：
//   float64 下 0.1 + 0.2 != 0.3，对账时会出现一分钱都对不上的灾难
//   整数加减法精确无误，数据库条件更新（balance >= ?）也不会有精度问题
//
// 展示层需要主单位时再做一次格式化，核心链路全程只传最小单位。
//
// ============================================================================

var (
	ErrInvalidAmount       = errors.New("金额必须为正整数（最小货币单位）")
	ErrUnsupportedCurrency = errors.New("不支持的币种")
)

// Amount 金额，单位为该币种的最小货币单位（kobo/分）
type Amount = int64

// currencyExponents 支持的币种及其最小单位指数（主单位 = 最小单位 / 10^exponent）
var currencyExponents = map[string]int{
	"NGN": 2, // kobo
	"USD": 2, // cent
	"GHS": 2, // pesewa
	"KES": 2, // cent
	"ZAR": 2, // cent
}

// IsSupported 币种是否受支持
func IsSupported(currency string) bool {
	_, ok := currencyExponents[currency]
	return ok
}

// Validate 校验一笔交易金额：必须为正、币种受支持
func Validate(amount Amount, currency string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if !IsSupported(currency) {
		return ErrUnsupportedCurrency
	}
	return nil
}

// Format 格式化为主单位字符串，仅用于日志和展示
// 例如 Format(1234567, "NGN") => "NGN 12345.67"
func Format(amount Amount, currency string) string {
	exp, ok := currencyExponents[currency]
	if !ok {
		return fmt.Sprintf("%s %d", currency, amount)
	}

	unit := int64(1)
	for i := 0; i < exp; i++ {
		unit *= 10
	}

	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}

	return fmt.Sprintf("%s%s %d.%0*d", sign, currency, amount/unit, exp, amount%unit)
}

// PercentFee 按费率计算手续费，向下取整
// 费率用基点（bp，万分之一）表示，避免在配置里出现浮点数
func PercentFee(amount Amount, rateBasisPoints int64) Amount {
	if amount <= 0 || rateBasisPoints <= 0 {
		return 0
	}
	return amount * rateBasisPoints / 10000
}
