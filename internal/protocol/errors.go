package protocol

import "errors"

// 协议层错误分类。解码与验证错误终止单次调用并反映在设备应答中；
// 记录级与下发错误不向设备暴露。
var (
	// ErrEmptyPayload 原始数据为空（nil 或全空白）
	ErrEmptyPayload = errors.New("empty payload")
	// ErrMalformedFrame 帧结构不满足最小要求（字段数/协议头）
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrValidationFailed 解码成功但缺少必要字段
	ErrValidationFailed = errors.New("validation failed")
	// ErrRecordResolutionFailed 批内单条记录解析/补全失败（如卡号无法换取用户）
	ErrRecordResolutionFailed = errors.New("record resolution failed")
	// ErrDispatchFailed 队列下发失败（仅计数与记录，不回传设备）
	ErrDispatchFailed = errors.New("dispatch failed")
)

// 错误码（写入消息与设备应答）
const (
	CodeInvalidData      = "1001"
	CodeMalformedFrame   = "1002"
	CodeValidateFailed   = "1003"
	CodeProcessError     = "1004"
	CodeChecksumMismatch = "1005"
)
