// Package attendance 考勤PUSH协议处理器（熵基科技 V4.0）。
// 线格式：HTTP POST 文本，每行一条 ATTLOG 记录，字段按固定顺序以制表符分隔：
// {Pin}\t{Time}\t{Status}\t{Verify}\t{Workcode}\t{Reserved1}\t{Reserved2}\t{MaskFlag}\t{Temperature}\t{ConvTemperature}
// 末三个字段可选，缺失时不写入记录，不做零值填充。
package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ioedream/device-comm-server/internal/dispatch"
	"github.com/ioedream/device-comm-server/internal/metrics"
	"github.com/ioedream/device-comm-server/internal/protocol"
)

const (
	ProtocolType = "ATTENDANCE_ENTROPY_V4_0"
	Manufacturer = "熵基科技"
	Version      = "V4.0"
)

var ackHeader = []byte{0x55, 0xAA}

const ackSize = 20

// 记录字段按协议文档的固定位置顺序
var fieldNames = []string{
	"pin", "time", "status", "verify", "workcode",
	"reserved1", "reserved2", "maskFlag", "temperature", "convTemperature",
}

// Decoder 考勤协议解码器
type Decoder struct {
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.AppMetrics
	logger     *zap.Logger
}

func New(d *dispatch.Dispatcher, m *metrics.AppMetrics, logger *zap.Logger) *Decoder {
	return &Decoder{dispatcher: d, metrics: m, logger: logger}
}

func (d *Decoder) Identify() (string, string, string) {
	return ProtocolType, Manufacturer, Version
}

func (d *Decoder) Decode(raw []byte) (*protocol.Message, error) {
	if len(raw) == 0 {
		return nil, protocol.ErrEmptyPayload
	}
	return d.DecodeText(string(raw))
}

// DecodeText 按行拆分批量记录。首条记录的字段同时平铺到顶层 Payload，
// 兼容只读单条的下游消费方。
// 注意：deviceCode 取首条记录的 pin，这是设备固件的既有行为，
// 上游按此口径对账，保持原样。
func (d *Decoder) DecodeText(raw string) (*protocol.Message, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, protocol.ErrEmptyPayload
	}

	msg := protocol.NewMessage(ProtocolType)

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rec := protocol.NewFieldBag()
		for i, field := range strings.Split(line, "\t") {
			if i >= len(fieldNames) {
				break
			}
			rec.Set(fieldNames[i], strings.TrimSpace(field))
		}
		msg.Records = append(msg.Records, rec)
	}

	if len(msg.Records) == 0 {
		return nil, protocol.ErrMalformedFrame
	}

	first := msg.Records[0]
	for _, k := range first.Keys() {
		msg.Payload.Set(k, first.GetString(k))
	}

	msg.Kind = protocol.KindAttendanceRecord
	msg.DeviceCode = first.GetString("pin")
	if msg.DeviceCode == "" {
		msg.DeviceCode = "UNKNOWN"
	}
	msg.Status = protocol.StatusParsed

	d.logger.Info("attendance message parsed",
		zap.Int("record_count", len(msg.Records)),
		zap.String("first_pin", first.GetString("pin")))
	return msg, nil
}

func (d *Decoder) Validate(msg *protocol.Message) bool {
	if msg == nil {
		d.logger.Warn("attendance validate failed: nil message")
		return false
	}
	if msg.Kind == "" {
		d.logger.Warn("attendance validate failed: empty kind")
		return false
	}
	if msg.DeviceCode == "" {
		d.logger.Warn("attendance validate failed: empty device code")
		return false
	}
	if msg.Payload == nil || msg.Payload.Len() == 0 {
		d.logger.Warn("attendance validate failed: empty payload")
		return false
	}
	msg.Status = protocol.StatusValidated
	return true
}

// Process 逐条下发考勤记录。单条失败只计数，全部失败才返回错误。
func (d *Decoder) Process(ctx context.Context, msg *protocol.Message, deviceID int64) error {
	msg.DeviceID = deviceID

	if !d.Validate(msg) {
		msg.Fail(protocol.CodeValidateFailed, "message validation failed")
		d.countError("VALIDATE_FAILED")
		return protocol.ErrValidationFailed
	}

	switch msg.Kind {
	case protocol.KindAttendanceRecord:
		if err := d.processRecords(ctx, msg); err != nil {
			msg.Fail(protocol.CodeProcessError, err.Error())
			return err
		}
	default:
		d.logger.Warn("attendance unknown message kind", zap.String("kind", string(msg.Kind)))
	}

	msg.Status = protocol.StatusProcessed
	return nil
}

func (d *Decoder) processRecords(ctx context.Context, msg *protocol.Message) error {
	start := time.Now()
	var successCount, failCount int

	for i, rec := range msg.Records {
		if d.processSingleRecord(ctx, rec, msg.DeviceID, msg.DeviceCode) {
			successCount++
		} else {
			failCount++
			d.logger.Error("attendance record process failed",
				zap.Int("index", i),
				zap.String("pin", rec.GetString("pin")))
		}
	}

	d.logger.Info("attendance batch processed",
		zap.Int("success", successCount),
		zap.Int("fail", failCount),
		zap.Int("total", len(msg.Records)),
		zap.Duration("duration", time.Since(start)))

	if successCount == 0 && failCount > 0 {
		d.countError("PROCESS_ERROR")
		return fmt.Errorf("all %d attendance records failed", failCount)
	}
	if d.metrics != nil {
		d.metrics.ProcessTotal.WithLabelValues(ProtocolType, "success").Inc()
	}
	return nil
}

// processSingleRecord 映射协议字段为考勤记录并下发。
// 协议字段：pin, time, status, verify, workcode, maskFlag, temperature
func (d *Decoder) processSingleRecord(ctx context.Context, rec *protocol.FieldBag, deviceID int64, deviceCode string) bool {
	data := make(map[string]any)
	data["deviceId"] = deviceID
	data["deviceCode"] = deviceCode

	if userID, ok := rec.GetInt64("pin"); ok {
		data["userId"] = userID
		data["userName"] = rec.GetString("pin")
	} else if rec.Has("pin") {
		d.logger.Warn("attendance pin field not numeric", zap.String("pin", rec.GetString("pin")))
	}

	punchTime := time.Now().Unix()
	if v, ok := rec.Get("time"); ok {
		if ts, err := protocol.ParseDeviceTime(v); err == nil {
			punchTime = ts
		} else {
			d.logger.Warn("attendance time field unparsable", zap.String("time", v))
		}
	}
	data["punchTime"] = punchTime

	// punchType: 0-上班，1-下班；设备不区分时默认上班
	punchType := 0
	attendanceStatus := 0
	if v, ok := rec.GetInt("status"); ok {
		attendanceStatus = v
	} else if rec.Has("status") {
		d.logger.Warn("attendance status field not numeric", zap.String("status", rec.GetString("status")))
	}
	data["punchType"] = punchType
	data["attendanceStatus"] = attendanceStatus

	if v, ok := rec.GetInt("verify"); ok {
		data["verifyType"] = v
	}
	if v, ok := rec.Get("maskFlag"); ok {
		data["maskFlag"] = v == "1" || strings.EqualFold(v, "true")
	}
	if v, ok := rec.GetDecimal("temperature"); ok {
		data["temperature"] = v
	}

	record := dispatch.NewRecord(dispatch.TopicAttendanceRecord, ProtocolType, deviceID, deviceCode, punchTime, data)
	if err := d.dispatcher.Dispatch(ctx, record); err != nil {
		return false
	}
	return true
}

func (d *Decoder) countError(errType string) {
	if d.metrics != nil {
		d.metrics.ProcessErrors.WithLabelValues(ProtocolType, errType).Inc()
	}
}

// BuildResponse 构造20字节定长应答帧
func (d *Decoder) BuildResponse(_ *protocol.Message, success bool, errCode, _ string) []byte {
	frame := protocol.BinaryAck(ackHeader, ackSize, success, errCode)
	if len(frame) == 0 {
		d.logger.Error("attendance ack build failed", zap.String("err_code", errCode))
	}
	return frame
}
