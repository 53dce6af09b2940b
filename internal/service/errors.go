package service

import (
	"errors"
	"fmt"
)

// 校验类错误：在任何副作用之前拒绝
var (
	ErrAmountTooSmall     = errors.New("提现金额扣除手续费后不为正")
	ErrBankInfoIncomplete = errors.New("收款银行信息不完整")
)

// LimitExceededError 限额拒绝
// 携带完整的限额/用量/剩余明细，让调用方把"为什么被拦"原样透出给用户
type LimitExceededError struct {
	Result *LimitCheckResult
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("超出%s提现限额", windowLabel(e.Result.ExceededWindow))
}

func windowLabel(window string) string {
	switch window {
	case LimitWindowDaily:
		return "单日"
	case LimitWindowMonthly:
		return "单月"
	default:
		return ""
	}
}
