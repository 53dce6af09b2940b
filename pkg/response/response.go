package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess      = 0
	CodeParamError   = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
	CodeServerError  = 500
)

// 业务错误码（1000 段）
const (
	CodeInsufficientFunds    = 1001 // 可用余额不足
	CodeDailyLimitExceeded   = 1002 // 超出单日提现限额
	CodeMonthlyLimitExceeded = 1003 // 超出单月提现限额
	CodeManualReviewRequired = 1005 // 已受理，需人工审核放行
	CodeAccountNotFound      = 1006 // 账户不存在
	CodePayoutNotFound       = 1007 // 提现单不存在
	CodePayoutStatusInvalid  = 1008 // 提现单状态不合法
	CodeSignatureInvalid     = 1009 // 回调签名校验失败
	CodeReviewNotFound       = 1010 // 审核单不存在
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

// ErrorWithData 带数据的业务错误，用于返回限额明细等机器可读信息
func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
