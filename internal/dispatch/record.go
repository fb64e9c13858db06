// Package dispatch 负责把解码后的规整记录投递到下游队列。
// 投递语义是 fire-and-forget：失败仅计数、记录死信，绝不回传设备。
package dispatch

import (
	"github.com/google/uuid"
)

// 下游逻辑队列名（按事件族划分）
const (
	TopicAccessRecord     = "protocol.access.record"
	TopicAttendanceRecord = "protocol.attendance.record"
	TopicConsumeRecord    = "protocol.consume.record"
	TopicDeviceStatus     = "protocol.device.status"
	TopicAlarmEvent       = "protocol.alarm.event"
	TopicBiometricEvent   = "protocol.biometric.event"
)

// NormalizedRecord 规整记录：解码器产出、与厂商线格式无关的统一形态。
// 发布后不再有生命周期。
type NormalizedRecord struct {
	RecordID     string         `json:"record_id"`
	Topic        string         `json:"topic"`
	ProtocolType string         `json:"protocol_type"`
	DeviceID     int64          `json:"device_id"`
	DeviceCode   string         `json:"device_code"`
	// Timestamp 事件时间（Unix 秒），非接收时间
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewRecord 创建带唯一ID的规整记录
func NewRecord(topic, protocolType string, deviceID int64, deviceCode string, ts int64, data map[string]any) *NormalizedRecord {
	if data == nil {
		data = make(map[string]any)
	}
	return &NormalizedRecord{
		RecordID:     uuid.New().String(),
		Topic:        topic,
		ProtocolType: protocolType,
		DeviceID:     deviceID,
		DeviceCode:   deviceCode,
		Timestamp:    ts,
		Data:         data,
	}
}
