// Package access 门禁PUSH协议处理器（熵基科技 V4.8）。
// 线格式：HTTP POST 文本，单行制表符分隔的 key=value 对。
// 实时事件示例：
// time=...\tpin=...\tcardno=...\teventaddr=...\tevent=...\tinoutstatus=...\tverifytype=...
package access

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/ioedream/device-comm-server/internal/dispatch"
	"github.com/ioedream/device-comm-server/internal/metrics"
	"github.com/ioedream/device-comm-server/internal/protocol"
	"github.com/ioedream/device-comm-server/internal/protocol/codes"
)

// 协议静态元信息
const (
	ProtocolType = "ACCESS_ENTROPY_V4_8"
	Manufacturer = "熵基科技"
	Version      = "V4.8"
)

// 应答帧：协议头 + 定长24字节
var ackHeader = []byte{0xAA, 0x55}

const ackSize = 24

// Decoder 门禁协议解码器
type Decoder struct {
	table      *codes.EventTable
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.AppMetrics
	logger     *zap.Logger
	statusSink protocol.DeviceStatusSink
}

// New 创建门禁解码器；table 为 nil 时使用内置码表
func New(table *codes.EventTable, d *dispatch.Dispatcher, m *metrics.AppMetrics, logger *zap.Logger) *Decoder {
	if table == nil {
		table = codes.DefaultEventTable()
	}
	return &Decoder{table: table, dispatcher: d, metrics: m, logger: logger}
}

// SetStatusSink 设置设备状态回写目标，nil 表示只下发不回写
func (d *Decoder) SetStatusSink(sink protocol.DeviceStatusSink) {
	d.statusSink = sink
}

// Identify 协议元信息
func (d *Decoder) Identify() (string, string, string) {
	return ProtocolType, Manufacturer, Version
}

// Decode 二进制入口：按 UTF-8 转文本后委托 DecodeText
func (d *Decoder) Decode(raw []byte) (*protocol.Message, error) {
	if len(raw) == 0 {
		return nil, protocol.ErrEmptyPayload
	}
	return d.DecodeText(string(raw))
}

// DecodeText 解析 key=value 文本为统一消息
func (d *Decoder) DecodeText(raw string) (*protocol.Message, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, protocol.ErrEmptyPayload
	}

	msg := protocol.NewMessage(ProtocolType)

	for _, pair := range strings.Split(raw, "\t") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		eq := strings.IndexByte(pair, '=')
		if eq <= 0 || eq >= len(pair)-1 {
			continue
		}
		key := strings.TrimSpace(pair[:eq])
		value := strings.TrimSpace(pair[eq+1:])
		msg.Payload.Set(key, value)
	}

	if msg.Payload.Len() == 0 {
		return nil, protocol.ErrMalformedFrame
	}

	msg.Kind = classify(msg.Payload)
	msg.DeviceCode = extractDeviceCode(msg.Payload)
	msg.Status = protocol.StatusParsed

	d.logger.Debug("access message parsed",
		zap.String("kind", string(msg.Kind)),
		zap.String("device_code", msg.DeviceCode),
		zap.Int("fields", msg.Payload.Len()))
	return msg, nil
}

// classify 依据字段确定消息类别：
// 含 event 为实时事件，事件码落在 [5000,7000) 则升级为报警；
// 含 sensor/relay/alarm（且无 event）为实时状态。
func classify(payload *protocol.FieldBag) protocol.MessageKind {
	if payload.Has("event") {
		if code, ok := payload.GetInt("event"); ok && codes.IsAlarmWindow(code) {
			return protocol.KindAlarmEvent
		}
		return protocol.KindAccessRecord
	}
	if payload.Has("sensor") || payload.Has("relay") || payload.Has("alarm") {
		return protocol.KindDeviceStatus
	}
	return protocol.KindUnknown
}

// extractDeviceCode 优先 eventaddr（事件点，默认为门编号），缺失时回落
func extractDeviceCode(payload *protocol.FieldBag) string {
	if v, ok := payload.Get("eventaddr"); ok {
		return v
	}
	if v, ok := payload.Get("deviceCode"); ok {
		return v
	}
	return "UNKNOWN"
}

// Validate 校验必要字段，通过时推进到 VALIDATED
func (d *Decoder) Validate(msg *protocol.Message) bool {
	if msg == nil {
		d.logger.Warn("access validate failed: nil message")
		return false
	}
	if msg.Kind == "" {
		d.logger.Warn("access validate failed: empty kind")
		return false
	}
	if msg.DeviceCode == "" {
		d.logger.Warn("access validate failed: empty device code")
		return false
	}
	if msg.Payload == nil || msg.Payload.Len() == 0 {
		d.logger.Warn("access validate failed: empty payload")
		return false
	}
	msg.Status = protocol.StatusValidated
	return true
}

// Process 赋值设备ID、复验并按类别下发规整记录
func (d *Decoder) Process(ctx context.Context, msg *protocol.Message, deviceID int64) error {
	msg.DeviceID = deviceID

	if !d.Validate(msg) {
		msg.Fail(protocol.CodeValidateFailed, "message validation failed")
		d.countError("VALIDATE_FAILED")
		return protocol.ErrValidationFailed
	}

	switch msg.Kind {
	case protocol.KindAccessRecord:
		d.processAccessEvent(ctx, msg)
	case protocol.KindAlarmEvent:
		d.processAlarmEvent(ctx, msg)
	case protocol.KindDeviceStatus:
		d.processDeviceStatus(ctx, msg)
	default:
		d.logger.Warn("access unknown message kind", zap.String("kind", string(msg.Kind)))
	}

	msg.Status = protocol.StatusProcessed
	return nil
}

// processAccessEvent 映射协议字段为通行记录并下发。
// 协议字段：time, pin, cardno, eventaddr, event, inoutstatus, verifytype, index, maskflag, temperature
func (d *Decoder) processAccessEvent(ctx context.Context, msg *protocol.Message) {
	payload := msg.Payload
	data := make(map[string]any)

	if userID, ok := payload.GetInt64("pin"); ok {
		data["userId"] = userID
	} else if payload.Has("pin") {
		d.logger.Warn("access pin field not numeric", zap.String("pin", payload.GetString("pin")))
	}

	passTime := msg.Timestamp.Unix()
	if v, ok := payload.Get("time"); ok {
		if ts, err := protocol.ParseDeviceTime(v); err == nil {
			passTime = ts
		} else {
			d.logger.Warn("access time field unparsable", zap.String("time", v))
		}
	}
	data["passTime"] = passTime

	// 通行类型：0-进入，1-离开
	passType := 0
	if v, ok := payload.GetInt("inoutstatus"); ok {
		passType = v
	}
	data["passType"] = passType

	if doorNo, ok := payload.GetInt("eventaddr"); ok {
		data["doorNo"] = doorNo
	}

	passMethod := codes.PassMethodCard
	if v, ok := payload.Get("verifytype"); ok {
		passMethod = codes.ParseVerifyType(v)
		if code, numeric := payload.GetInt("verifytype"); numeric {
			if vt := codes.VerifyTypeByCode(code); vt != codes.VerifyTypeUnknown {
				data["verifyTypeName"] = vt.Name
				data["verifyTypeCode"] = vt.Code
			}
		}
	}
	data["passMethod"] = passMethod

	if temp, ok := payload.GetDecimal("temperature"); ok {
		data["temperature"] = temp
	}

	// 通行结果由事件类别决定，而非原始事件码
	accessResult := 1
	if code, ok := payload.GetInt("event"); ok {
		event := d.table.ByCode(code)
		accessResult = d.table.AccessResult(code)
		data["eventCode"] = code
		data["eventTypeName"] = event.Name
		data["eventCategory"] = string(event.Category)
	}
	data["accessResult"] = accessResult

	if v, ok := payload.Get("maskflag"); ok {
		data["maskFlag"] = v == "1" || strings.EqualFold(v, "true")
	}

	rec := dispatch.NewRecord(dispatch.TopicAccessRecord, ProtocolType, msg.DeviceID, msg.DeviceCode, passTime, data)
	d.send(ctx, rec)
}

// processDeviceStatus 设备状态：statusCode 1-在线，2-维护，其余离线
func (d *Decoder) processDeviceStatus(ctx context.Context, msg *protocol.Message) {
	status := "OFFLINE"
	if code, ok := msg.Payload.GetInt("statusCode"); ok {
		switch code {
		case 1:
			status = "ONLINE"
		case 2:
			status = "MAINTAIN"
		}
	}
	data := map[string]any{
		"deviceStatus":   status,
		"lastOnlineTime": msg.Timestamp.Unix(),
	}
	rec := dispatch.NewRecord(dispatch.TopicDeviceStatus, ProtocolType, msg.DeviceID, msg.DeviceCode, msg.Timestamp.Unix(), data)
	d.send(ctx, rec)

	if d.statusSink != nil {
		d.statusSink.UpdateStatus(ctx, msg.DeviceCode, status)
	}
}

// processAlarmEvent 报警事件下发到报警队列
func (d *Decoder) processAlarmEvent(ctx context.Context, msg *protocol.Message) {
	data := map[string]any{
		"alarmTime": msg.Timestamp.Unix(),
	}
	if code, ok := msg.Payload.GetInt("event"); ok {
		event := d.table.ByCode(code)
		data["alarmType"] = code
		data["alarmName"] = event.Name
		data["alarmCategory"] = string(event.Category)
	}
	rec := dispatch.NewRecord(dispatch.TopicAlarmEvent, ProtocolType, msg.DeviceID, msg.DeviceCode, msg.Timestamp.Unix(), data)
	d.send(ctx, rec)
}

func (d *Decoder) send(ctx context.Context, rec *dispatch.NormalizedRecord) {
	if err := d.dispatcher.Dispatch(ctx, rec); err != nil {
		d.countError("DISPATCH_ERROR")
		return
	}
	if d.metrics != nil {
		d.metrics.ProcessTotal.WithLabelValues(ProtocolType, "success").Inc()
	}
}

func (d *Decoder) countError(errType string) {
	if d.metrics != nil {
		d.metrics.ProcessErrors.WithLabelValues(ProtocolType, errType).Inc()
	}
}

// BuildResponse 构造24字节定长应答帧；错误码非数字时返回空帧
func (d *Decoder) BuildResponse(_ *protocol.Message, success bool, errCode, _ string) []byte {
	frame := protocol.BinaryAck(ackHeader, ackSize, success, errCode)
	if len(frame) == 0 {
		d.logger.Error("access ack build failed", zap.String("err_code", errCode))
	}
	return frame
}
