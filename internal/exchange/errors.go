package exchange

import (
	"encoding/json"
	"errors"
	"fmt"

	sdkhttp "github.com/betbot/blackpanther/pkg/sdk/http"
)

// ErrInsufficientLiquidity 盘口深度或价差不满足要求
var ErrInsufficientLiquidity = errors.New("exchange: insufficient liquidity")

// ErrInvalidQuantity 数量按交易规则取整后为 0 或低于最小值
var ErrInvalidQuantity = errors.New("exchange: invalid order quantity")

// APIError 交易所调用失败（网络错误或非 2xx）
type APIError struct {
	Venue  string
	Op     string
	Status int    // HTTP 状态码，网络错误为 0
	Code   int    // 交易所业务错误码（Binance code / Gate label 无法解析时为 0）
	Msg    string // 交易所错误信息
	Err    error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s %s: %v", e.Venue, e.Op, e.Err)
	}
	if e.Msg != "" {
		return fmt.Sprintf("%s %s: status=%d code=%d msg=%s", e.Venue, e.Op, e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("%s %s: status=%d: %v", e.Venue, e.Op, e.Status, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// Temporary 网络错误、429、5xx 视为可重试
func (e *APIError) Temporary() bool {
	return e.Status == 0 || e.Status == 429 || e.Status >= 500
}

// wrapErr 把 sdk/http 错误转换为 *APIError，并尽量解析交易所错误体
func wrapErr(venue, op string, err error) error {
	if err == nil {
		return nil
	}
	apiErr := &APIError{Venue: venue, Op: op, Err: err}
	var he *sdkhttp.HTTPError
	if errors.As(err, &he) {
		apiErr.Status = he.StatusCode
		var body struct {
			Code    int    `json:"code"`
			Msg     string `json:"msg"`
			Label   string `json:"label"`
			Message string `json:"message"`
		}
		if json.Unmarshal([]byte(he.Body), &body) == nil {
			apiErr.Code = body.Code
			apiErr.Msg = body.Msg
			if apiErr.Msg == "" && body.Label != "" {
				apiErr.Msg = body.Label + ": " + body.Message
			}
		}
	}
	return apiErr
}
