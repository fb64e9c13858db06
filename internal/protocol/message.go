package protocol

import (
	"time"
)

// MessageKind 消息类别（解码后的语义分类）
type MessageKind string

const (
	KindAccessRecord      MessageKind = "ACCESS_RECORD"
	KindAlarmEvent        MessageKind = "ALARM_EVENT"
	KindAttendanceRecord  MessageKind = "ATTENDANCE_RECORD"
	KindConsumeRecord     MessageKind = "CONSUME_RECORD"
	KindDeviceStatus      MessageKind = "DEVICE_STATUS"
	KindBiometricVerify   MessageKind = "BIOMETRIC_VERIFY"
	KindBiometricRegister MessageKind = "BIOMETRIC_REGISTER"
	KindBiometricDelete   MessageKind = "BIOMETRIC_DELETE"
	KindBiometricUpdate   MessageKind = "BIOMETRIC_UPDATE"
	KindUnknown           MessageKind = "UNKNOWN"
)

// Status 消息生命周期状态
type Status string

const (
	StatusReceived  Status = "RECEIVED"
	StatusParsed    Status = "PARSED"
	StatusValidated Status = "VALIDATED"
	StatusProcessed Status = "PROCESSED"
	StatusFailed    Status = "FAILED"
)

// Message 协议消息：一次设备推送解码后的统一信封。
// 生命周期仅限单次 HTTP 推送，状态到达 PROCESSED/FAILED 后不再复用。
type Message struct {
	ProtocolType string
	DeviceCode   string
	DeviceID     int64
	Kind         MessageKind
	// Payload 解码后的字段（值保持字符串，由消费方按需转型）
	Payload *FieldBag
	// Records 批量推送时的逐条记录（考勤/消费）
	Records []*FieldBag
	// SeqNo 帧序列号（生物识别二进制协议）
	SeqNo int
	// UserID 生物识别协议头中的用户ID
	UserID    int64
	Timestamp time.Time
	Status    Status

	ErrorCode    string
	ErrorMessage string
}

// NewMessage 创建处于 RECEIVED 状态的空消息
func NewMessage(protocolType string) *Message {
	return &Message{
		ProtocolType: protocolType,
		Payload:      NewFieldBag(),
		Timestamp:    time.Now(),
		Status:       StatusReceived,
	}
}

// Fail 标记消息失败并记录错误信息
func (m *Message) Fail(code, msg string) {
	m.Status = StatusFailed
	m.ErrorCode = code
	m.ErrorMessage = msg
}
