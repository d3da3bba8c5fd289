// Package resp 提供统一的 HTTP 响应封装与业务错误码。
package resp

import (
	"encoding/json"
	"net/http"
)

// Code 业务错误码。0 表示成功，非 0 按 HTTP 语义分段。
type Code int

const (
	CodeOK                Code = 0
	CodeInvalidParam      Code = 40001
	CodeNotFound          Code = 40401
	CodeConflict          Code = 40901
	CodeInsufficientStock Code = 40902
	CodeRateLimited       Code = 42901
	CodeInternalError     Code = 50001
	CodeTimeout           Code = 50401
)

// HTTPStatusFromCode 将业务错误码映射为 HTTP 状态码。
func HTTPStatusFromCode(c Code) int {
	switch c {
	case CodeOK:
		return http.StatusOK
	case CodeInvalidParam:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeInsufficientStock:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Body 统一响应体。
type Body struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// OK 写入成功响应。
func OK(w http.ResponseWriter, data any, requestID, traceID string) {
	write(w, http.StatusOK, &Body{
		Code:      CodeOK,
		Message:   "ok",
		Data:      data,
		RequestID: requestID,
		TraceID:   traceID,
	})
}

// Error 写入错误响应。
func Error(w http.ResponseWriter, status int, code Code, message, requestID, traceID string) {
	write(w, status, &Body{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		TraceID:   traceID,
	})
}

// ErrorWithData 写入带结构化明细的错误响应，
// 例如库存不足时的逐条缺口列表。
func ErrorWithData(w http.ResponseWriter, status int, code Code, message string, data any, requestID, traceID string) {
	write(w, status, &Body{
		Code:      code,
		Message:   message,
		Data:      data,
		RequestID: requestID,
		TraceID:   traceID,
	})
}

func write(w http.ResponseWriter, status int, body *Body) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
