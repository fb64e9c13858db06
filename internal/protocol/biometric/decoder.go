// Package biometric 生物识别PUSH协议处理器（熵基科技 V4.8）。
// 同一端点接收三种线格式，按优先级尝试：
//  1. 二进制帧：魔数头 "PUSH"（4字节）或 "ZK_PUSH"（7字节），
//     其后依次为 deviceID(4B) msgType(1B) seq(2B) dataLength(2B)
//     userID(4B) verifyType(1B) verifyResult(1B) timestamp(4B)
//     bioDataLength(2B) bioData[n] checksum(2B) endMarker(2B)，
//     多字节字段按大端逐字节移位累加解码；
//  2. JSON 对象（首一个非空白字符为 '{'）；
//  3. 逗号分隔字段列表（≥6个字段：deviceId,msgType,seq,userId,verifyType,verifyResult）。
package biometric

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ioedream/device-comm-server/internal/dispatch"
	"github.com/ioedream/device-comm-server/internal/metrics"
	"github.com/ioedream/device-comm-server/internal/protocol"
	"github.com/ioedream/device-comm-server/internal/protocol/codes"
)

const (
	ProtocolType = "BIOMETRIC_ENTROPY_V4_8"
	Manufacturer = "熵基科技"
	Version      = "V4.8"
)

// 二进制帧魔数头
var (
	headerEntropy = []byte("PUSH")
	headerZKTeco  = []byte("ZK_PUSH")
)

// 魔数头之后的定长部分：deviceID(4)+msgType(1)+seq(2)+dataLength(2)+
// userID(4)+verifyType(1)+verifyResult(1)+timestamp(4)+bioDataLength(2)
const fixedBodyLength = 21

// 响应帧 msgType
const (
	respMsgTypeOK   = "0x80"
	respMsgTypeFail = "0x81"
)

// 构帧内部失败时的哨兵响应
var errorFrame = []byte("ERROR:BUILD_RESPONSE_FAILED")

// 时间戳最大允许超前量
const maxClockSkew = 5 * time.Minute

// msgType 字节 → 消息类别
var msgKinds = map[int]protocol.MessageKind{
	0x01: protocol.KindBiometricVerify,
	0x02: protocol.KindBiometricRegister,
	0x03: protocol.KindBiometricDelete,
	0x04: protocol.KindBiometricUpdate,
}

// Decoder 生物识别协议解码器
type Decoder struct {
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.AppMetrics
	logger     *zap.Logger
	// now 可替换的时钟，时间戳校验用
	now func() time.Time
}

func New(d *dispatch.Dispatcher, m *metrics.AppMetrics, logger *zap.Logger) *Decoder {
	return &Decoder{dispatcher: d, metrics: m, logger: logger, now: time.Now}
}

func (d *Decoder) Identify() (string, string, string) {
	return ProtocolType, Manufacturer, Version
}

// Decode 二进制入口：命中魔数头走二进制解析，否则按文本处理
func (d *Decoder) Decode(raw []byte) (*protocol.Message, error) {
	if len(raw) == 0 {
		return nil, protocol.ErrEmptyPayload
	}
	if matchHeader(raw) > 0 {
		return d.decodeBinary(raw)
	}
	return d.DecodeText(string(raw))
}

// DecodeText 文本入口：二进制 → JSON → 逗号分隔，按序降级。
// 魔数头最先比对：二进制帧体可能含 0x2C 字节，不能先按逗号分流。
func (d *Decoder) DecodeText(raw string) (*protocol.Message, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, protocol.ErrEmptyPayload
	}
	if matchHeader([]byte(raw)) > 0 {
		return d.decodeBinary([]byte(raw))
	}
	if strings.HasPrefix(trimmed, "{") {
		return d.decodeJSON(trimmed)
	}
	if strings.Contains(trimmed, ",") {
		return d.decodeCSV(trimmed)
	}
	return nil, protocol.ErrMalformedFrame
}

// matchHeader 返回命中的魔数头长度，未命中返回0。
// ZK_PUSH 以 PUSH 开头之外的前缀区分，先比长头。
func matchHeader(data []byte) int {
	if bytes.HasPrefix(data, headerZKTeco) {
		return len(headerZKTeco)
	}
	if bytes.HasPrefix(data, headerEntropy) {
		return len(headerEntropy)
	}
	return 0
}

// bytesToUint 大端移位累加；帧截断时由调用方负责边界检查
func bytesToUint(data []byte, offset, length int) uint64 {
	var v uint64
	for i := 0; i < length; i++ {
		v = v<<8 | uint64(data[offset+i])
	}
	return v
}

func (d *Decoder) decodeBinary(raw []byte) (*protocol.Message, error) {
	headerLen := matchHeader(raw)
	if headerLen == 0 {
		return nil, protocol.ErrMalformedFrame
	}
	if len(raw) < headerLen+fixedBodyLength {
		return nil, fmt.Errorf("%w: binary frame truncated at %d bytes", protocol.ErrMalformedFrame, len(raw))
	}

	msg := protocol.NewMessage(ProtocolType)
	offset := headerLen

	deviceID := int64(bytesToUint(raw, offset, 4))
	offset += 4
	msgType := int(bytesToUint(raw, offset, 1))
	offset++
	seq := int(bytesToUint(raw, offset, 2))
	offset += 2
	dataLength := int(bytesToUint(raw, offset, 2))
	offset += 2
	userID := int64(bytesToUint(raw, offset, 4))
	offset += 4
	verifyType := int(bytesToUint(raw, offset, 1))
	offset++
	verifyResult := int(bytesToUint(raw, offset, 1))
	offset++
	timestamp := int64(bytesToUint(raw, offset, 4))
	offset += 4
	bioDataLength := int(bytesToUint(raw, offset, 2))
	offset += 2

	msg.DeviceID = deviceID
	msg.DeviceCode = strconv.FormatInt(deviceID, 10)
	msg.SeqNo = seq
	msg.UserID = userID
	msg.Kind = kindOf(msgType)

	msg.Payload.Set("deviceId", strconv.FormatInt(deviceID, 10))
	msg.Payload.Set("msgType", strconv.Itoa(msgType))
	msg.Payload.Set("seq", strconv.Itoa(seq))
	msg.Payload.Set("dataLength", strconv.Itoa(dataLength))
	msg.Payload.Set("userId", strconv.FormatInt(userID, 10))
	msg.Payload.Set("verifyType", strconv.Itoa(verifyType))
	msg.Payload.Set("verifyResult", strconv.Itoa(verifyResult))
	msg.Payload.Set("timestamp", strconv.FormatInt(timestamp, 10))

	if bioDataLength > 0 && offset+bioDataLength <= len(raw) {
		msg.Payload.Set("bioData", base64.StdEncoding.EncodeToString(raw[offset:offset+bioDataLength]))
		msg.Payload.Set("bioDataLength", strconv.Itoa(bioDataLength))
		offset += bioDataLength
	}

	if offset+2 <= len(raw) {
		checksum := int(bytesToUint(raw, offset, 2))
		msg.Payload.Set("checksum", fmt.Sprintf("%04X", checksum))
	}
	if offset+4 <= len(raw) {
		msg.Payload.Set("endMarker", string(raw[offset+2:offset+4]))
	}

	msg.Status = protocol.StatusParsed
	d.logger.Debug("biometric binary frame parsed",
		zap.Int64("device_id", deviceID),
		zap.Int("msg_type", msgType),
		zap.Int("seq", seq),
		zap.Int64("user_id", userID))
	return msg, nil
}

// decodeJSON 解析 JSON 负载，所有字段可选，缺失字段不写入
func (d *Decoder) decodeJSON(raw string) (*protocol.Message, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", protocol.ErrMalformedFrame, err)
	}

	msg := protocol.NewMessage(ProtocolType)
	msg.Kind = protocol.KindBiometricVerify
	msg.DeviceCode = "UNKNOWN"

	if v, ok := fields["deviceId"]; ok {
		s := jsonScalar(v)
		msg.Payload.Set("deviceId", s)
		msg.DeviceCode = s
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			msg.DeviceID = id
		}
	}
	if v, ok := fields["userId"]; ok {
		s := jsonScalar(v)
		msg.Payload.Set("userId", s)
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			msg.UserID = id
		}
	}
	if v, ok := fields["verifyType"]; ok {
		msg.Payload.Set("verifyType", jsonScalar(v))
	}
	if v, ok := fields["verifyResult"]; ok {
		msg.Payload.Set("verifyResult", jsonScalar(v))
	}
	if v, ok := fields["score"]; ok {
		msg.Payload.Set("score", jsonScalar(v))
	}
	if v, ok := fields["featureData"]; ok {
		msg.Payload.Set("featureData", jsonScalar(v))
	}

	if msg.Payload.Len() == 0 {
		return nil, protocol.ErrMalformedFrame
	}
	msg.Status = protocol.StatusParsed
	return msg, nil
}

// jsonScalar JSON 标量转字符串，整数不带小数点
func jsonScalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// decodeCSV 解析逗号分隔格式，前6个字段必须为数字
func (d *Decoder) decodeCSV(raw string) (*protocol.Message, error) {
	fields := strings.Split(raw, ",")
	if len(fields) < 6 {
		return nil, fmt.Errorf("%w: csv needs at least 6 fields, got %d", protocol.ErrMalformedFrame, len(fields))
	}

	deviceID, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: csv deviceId not numeric", protocol.ErrMalformedFrame)
	}
	msgType, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return nil, fmt.Errorf("%w: csv msgType not numeric", protocol.ErrMalformedFrame)
	}
	seq, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil {
		return nil, fmt.Errorf("%w: csv seq not numeric", protocol.ErrMalformedFrame)
	}
	userID, err := strconv.ParseInt(strings.TrimSpace(fields[3]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: csv userId not numeric", protocol.ErrMalformedFrame)
	}
	verifyType, err := strconv.Atoi(strings.TrimSpace(fields[4]))
	if err != nil {
		return nil, fmt.Errorf("%w: csv verifyType not numeric", protocol.ErrMalformedFrame)
	}
	verifyResult, err := strconv.Atoi(strings.TrimSpace(fields[5]))
	if err != nil {
		return nil, fmt.Errorf("%w: csv verifyResult not numeric", protocol.ErrMalformedFrame)
	}

	msg := protocol.NewMessage(ProtocolType)
	msg.DeviceID = deviceID
	msg.DeviceCode = strconv.FormatInt(deviceID, 10)
	msg.SeqNo = seq
	msg.UserID = userID
	msg.Kind = kindOf(msgType)

	msg.Payload.Set("deviceId", strconv.FormatInt(deviceID, 10))
	msg.Payload.Set("msgType", strconv.Itoa(msgType))
	msg.Payload.Set("seq", strconv.Itoa(seq))
	msg.Payload.Set("userId", strconv.FormatInt(userID, 10))
	msg.Payload.Set("verifyType", strconv.Itoa(verifyType))
	msg.Payload.Set("verifyResult", strconv.Itoa(verifyResult))
	msg.Payload.Set("timestamp", strconv.FormatInt(d.now().Unix(), 10))

	msg.Status = protocol.StatusParsed
	return msg, nil
}

func kindOf(msgType int) protocol.MessageKind {
	if kind, ok := msgKinds[msgType]; ok {
		return kind
	}
	return protocol.KindUnknown
}

// Validate 基础字段校验之外：拒绝超前5分钟以上的时间戳；
// 帧中带校验和时重算比对，不匹配即拒绝。
func (d *Decoder) Validate(msg *protocol.Message) bool {
	if msg == nil {
		d.logger.Warn("biometric validate failed: nil message")
		return false
	}
	if msg.Kind == "" {
		d.logger.Warn("biometric validate failed: empty kind")
		return false
	}
	if msg.DeviceCode == "" {
		d.logger.Warn("biometric validate failed: empty device code")
		return false
	}
	if msg.Payload == nil || msg.Payload.Len() == 0 {
		d.logger.Warn("biometric validate failed: empty payload")
		return false
	}

	if ts, ok := msg.Payload.GetInt64("timestamp"); ok {
		if ts > d.now().Add(maxClockSkew).Unix() {
			d.logger.Warn("biometric validate failed: timestamp too far in future", zap.Int64("timestamp", ts))
			return false
		}
	}

	if received, ok := msg.Payload.Get("checksum"); ok {
		calculated := d.checksumOf(msg)
		if calculated != received {
			d.logger.Warn("biometric validate failed: checksum mismatch",
				zap.String("calculated", calculated),
				zap.String("received", received))
			return false
		}
	}

	msg.Status = protocol.StatusValidated
	return true
}

// checksumOf 加和校验：deviceId + msgType + seq + userId，低16位十六进制。
// 只读帧原始字段：msg.DeviceID 在处理阶段会被目录内部ID覆盖，
// 不参与复算。非数字字段按0计入。
func (d *Decoder) checksumOf(msg *protocol.Message) string {
	var sum int64
	if v, ok := msg.Payload.GetInt64("deviceId"); ok {
		sum += v
	}
	if v, ok := msg.Payload.GetInt64("msgType"); ok {
		sum += v
	}
	if v, ok := msg.Payload.GetInt64("seq"); ok {
		sum += v
	}
	if v, ok := msg.Payload.GetInt64("userId"); ok {
		sum += v
	}
	return fmt.Sprintf("%04X", sum&0xFFFF)
}

// Process 按消息类别下发生物识别事件
func (d *Decoder) Process(ctx context.Context, msg *protocol.Message, deviceID int64) error {
	if deviceID > 0 {
		msg.DeviceID = deviceID
	}

	if !d.Validate(msg) {
		msg.Fail(protocol.CodeValidateFailed, "message validation failed")
		d.countError("VALIDATE_FAILED")
		return protocol.ErrValidationFailed
	}

	switch msg.Kind {
	case protocol.KindBiometricVerify,
		protocol.KindBiometricRegister,
		protocol.KindBiometricDelete,
		protocol.KindBiometricUpdate:
		d.dispatchEvent(ctx, msg)
	default:
		d.logger.Warn("biometric unknown message kind", zap.String("kind", string(msg.Kind)))
	}

	msg.Status = protocol.StatusProcessed
	return nil
}

// dispatchEvent 映射协议字段为生物识别事件并下发。
// 验证方式字段同时带上码表名称，便于下游免查表。
func (d *Decoder) dispatchEvent(ctx context.Context, msg *protocol.Message) {
	data := make(map[string]any)
	data["operation"] = string(msg.Kind)
	data["userId"] = msg.UserID
	data["seq"] = msg.SeqNo

	if v, ok := msg.Payload.Get("verifyType"); ok {
		data["verifyType"] = codes.ParseVerifyType(v)
		if code, numeric := msg.Payload.GetInt("verifyType"); numeric {
			if vt := codes.VerifyTypeByCode(code); vt != codes.VerifyTypeUnknown {
				data["verifyTypeName"] = vt.Name
			}
		}
	}
	if v, ok := msg.Payload.GetInt("verifyResult"); ok {
		data["verifyResult"] = v
	}
	if v, ok := msg.Payload.GetDecimal("score"); ok {
		data["score"] = v
	}
	if v, ok := msg.Payload.Get("bioData"); ok {
		data["bioData"] = v
		if n, ok := msg.Payload.GetInt("bioDataLength"); ok {
			data["bioDataLength"] = n
		}
	}
	if v, ok := msg.Payload.Get("featureData"); ok {
		data["featureData"] = v
	}

	eventTime := msg.Timestamp.Unix()
	if ts, ok := msg.Payload.GetInt64("timestamp"); ok {
		eventTime = ts
	}

	rec := dispatch.NewRecord(dispatch.TopicBiometricEvent, ProtocolType, msg.DeviceID, msg.DeviceCode, eventTime, data)
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

// BuildResponse 构造逗号分隔文本应答：
// RESP,deviceId,msgType,seq,success,errorCode,errorMessage,timestamp,checksum
func (d *Decoder) BuildResponse(reqMsg *protocol.Message, success bool, errCode, errMsg string) []byte {
	if reqMsg == nil {
		d.logger.Error("biometric ack build failed: nil request message")
		return errorFrame
	}

	msgType := respMsgTypeOK
	if !success {
		msgType = respMsgTypeFail
	}

	// 响应校验和：msgType 非数字计0，与解析侧口径一致
	sum := (reqMsg.DeviceID + int64(reqMsg.SeqNo)) & 0xFFFF
	checksum := fmt.Sprintf("%04X", sum)

	frame := fmt.Sprintf("RESP,%d,%s,%d,%t,%s,%s,%d,%s",
		reqMsg.DeviceID, msgType, reqMsg.SeqNo, success,
		errCode, errMsg, d.now().UnixMilli(), checksum)
	return []byte(frame)
}
