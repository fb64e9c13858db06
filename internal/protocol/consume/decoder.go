// Package consume 消费PUSH协议处理器（中控智慧 V1.0）。
// 线格式：HTTP POST 文本，每行一条消费流水，字段按固定顺序以制表符分隔：
// {SysID}\t{CARDNO}\t{PosTime}\t{PosMoney}\t{Balance}\t{CardRecID}\t{State}\t{MealType}\t{MealDate}\t{RecNo}\t{OPID}
// 双钱包设备追加 {SubPosMoney}\t{SubBalance}\t{User_PIN} 三个字段（共14个）。
// 金额字段单位为分，下发前转换为元并保留两位小数。
package consume

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ioedream/device-comm-server/internal/directory"
	"github.com/ioedream/device-comm-server/internal/dispatch"
	"github.com/ioedream/device-comm-server/internal/metrics"
	"github.com/ioedream/device-comm-server/internal/protocol"
)

const (
	ProtocolType = "CONSUME_ZKTECO_V1_0"
	Manufacturer = "中控智慧"
	Version      = "V1.0"
)

var ackHeader = []byte{0x7E, 0x81}

const ackSize = 28

// 钱包类型标记
const (
	WalletSingle = "SINGLE"
	WalletDual   = "DUAL"
)

// 基础11个字段的固定位置顺序
var fieldNames = []string{
	"sysID", "cardNo", "posTime", "posMoney", "balance",
	"cardRecID", "state", "mealType", "mealDate", "recNo", "opid",
}

// 双钱包追加字段（位置 11-13）
var dualFieldNames = []string{"subPosMoney", "subBalance", "userPIN"}

// 双钱包记录的完整字段数
const dualFieldCount = 14

// Decoder 消费协议解码器
type Decoder struct {
	resolver   directory.CardResolver
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.AppMetrics
	logger     *zap.Logger
}

func New(resolver directory.CardResolver, d *dispatch.Dispatcher, m *metrics.AppMetrics, logger *zap.Logger) *Decoder {
	return &Decoder{resolver: resolver, dispatcher: d, metrics: m, logger: logger}
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

// DecodeText 按行拆分批量流水，14字段为双钱包记录，否则为单钱包。
// 注意：deviceCode 取首条记录的 cardNo，这是设备固件的既有口径，保持原样。
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
		fields := strings.Split(line, "\t")
		rec := protocol.NewFieldBag()
		for i, name := range fieldNames {
			if i >= len(fields) {
				break
			}
			rec.Set(name, strings.TrimSpace(fields[i]))
		}
		if len(fields) >= dualFieldCount {
			for i, name := range dualFieldNames {
				rec.Set(name, strings.TrimSpace(fields[len(fieldNames)+i]))
			}
			rec.Set("walletType", WalletDual)
		} else {
			rec.Set("walletType", WalletSingle)
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

	msg.Kind = protocol.KindConsumeRecord
	msg.DeviceCode = first.GetString("cardNo")
	if msg.DeviceCode == "" {
		msg.DeviceCode = "UNKNOWN"
	}
	msg.Status = protocol.StatusParsed

	d.logger.Info("consume message parsed",
		zap.Int("record_count", len(msg.Records)),
		zap.String("first_card", first.GetString("cardNo")))
	return msg, nil
}

func (d *Decoder) Validate(msg *protocol.Message) bool {
	if msg == nil {
		d.logger.Warn("consume validate failed: nil message")
		return false
	}
	if msg.Kind == "" {
		d.logger.Warn("consume validate failed: empty kind")
		return false
	}
	if msg.DeviceCode == "" {
		d.logger.Warn("consume validate failed: empty device code")
		return false
	}
	if msg.Payload == nil || msg.Payload.Len() == 0 {
		d.logger.Warn("consume validate failed: empty payload")
		return false
	}
	msg.Status = protocol.StatusValidated
	return true
}

// Process 逐条下发消费流水。卡号无法解析为用户的记录丢弃并计数，
// 不影响批次内其他记录；全部失败才返回错误。
func (d *Decoder) Process(ctx context.Context, msg *protocol.Message, deviceID int64) error {
	msg.DeviceID = deviceID

	if !d.Validate(msg) {
		msg.Fail(protocol.CodeValidateFailed, "message validation failed")
		d.countError("VALIDATE_FAILED")
		return protocol.ErrValidationFailed
	}

	start := time.Now()
	var successCount, failCount int

	for i, rec := range msg.Records {
		if d.processSingleRecord(ctx, rec, msg.DeviceID, msg.DeviceCode) {
			successCount++
		} else {
			failCount++
			d.logger.Error("consume record process failed",
				zap.Int("index", i),
				zap.String("card_no", rec.GetString("cardNo")))
		}
	}

	d.logger.Info("consume batch processed",
		zap.Int("success", successCount),
		zap.Int("fail", failCount),
		zap.Int("total", len(msg.Records)),
		zap.Duration("duration", time.Since(start)))

	if successCount == 0 && failCount > 0 {
		d.countError("PROCESS_ERROR")
		msg.Fail(protocol.CodeProcessError, "all consume records failed")
		return fmt.Errorf("all %d consume records failed", failCount)
	}

	if d.metrics != nil {
		d.metrics.ProcessTotal.WithLabelValues(ProtocolType, "success").Inc()
	}
	msg.Status = protocol.StatusProcessed
	return nil
}

// processSingleRecord 映射协议字段为消费记录并下发。
// 协议字段：cardNo, posTime, posMoney, balance, state, mealType, mealDate, recNo
func (d *Decoder) processSingleRecord(ctx context.Context, rec *protocol.FieldBag, deviceID int64, deviceCode string) bool {
	cardNo, ok := rec.Get("cardNo")
	if !ok || cardNo == "" {
		d.logger.Warn("consume record missing card number")
		return false
	}

	userID, found := d.resolver.ResolveUserIDByCard(ctx, cardNo)
	if !found {
		d.logger.Warn("consume card not resolvable, record dropped", zap.String("card_no", cardNo))
		d.countError("CARD_RESOLVE_FAILED")
		return false
	}

	data := make(map[string]any)
	data["deviceId"] = deviceID
	data["deviceCode"] = deviceCode
	data["userId"] = userID
	data["cardNo"] = cardNo

	consumeTime := time.Now().Unix()
	if ts, ok := rec.GetInt64("posTime"); ok {
		consumeTime = ts
	} else if rec.Has("posTime") {
		d.logger.Warn("consume posTime field not numeric", zap.String("pos_time", rec.GetString("posTime")))
	}
	data["consumeTime"] = consumeTime

	cents, ok := rec.GetInt64("posMoney")
	if !ok {
		d.logger.Warn("consume posMoney field missing or not numeric", zap.String("pos_money", rec.GetString("posMoney")))
		return false
	}
	data["amount"] = protocol.CentsToAmount(cents)

	if balanceCents, ok := rec.GetInt64("balance"); ok {
		data["balance"] = protocol.CentsToAmount(balanceCents)
	}
	if v, ok := rec.Get("state"); ok {
		data["consumeType"] = v
	}
	if v, ok := rec.Get("mealType"); ok {
		data["mealType"] = v
	}
	if v, ok := rec.Get("mealDate"); ok {
		data["mealDate"] = v
	}
	if v, ok := rec.Get("recNo"); ok {
		data["transactionNo"] = v
	}

	walletType := rec.GetString("walletType")
	data["walletType"] = walletType
	if walletType == WalletDual {
		if subCents, ok := rec.GetInt64("subPosMoney"); ok {
			data["subAmount"] = protocol.CentsToAmount(subCents)
		}
		if subBalanceCents, ok := rec.GetInt64("subBalance"); ok {
			data["subBalance"] = protocol.CentsToAmount(subBalanceCents)
		}
		if pin, ok := rec.Get("userPIN"); ok {
			data["userPin"] = pin
		}
	}

	record := dispatch.NewRecord(dispatch.TopicConsumeRecord, ProtocolType, deviceID, deviceCode, consumeTime, data)
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

// BuildResponse 构造28字节定长应答帧
func (d *Decoder) BuildResponse(_ *protocol.Message, success bool, errCode, _ string) []byte {
	frame := protocol.BinaryAck(ackHeader, ackSize, success, errCode)
	if len(frame) == 0 {
		d.logger.Error("consume ack build failed", zap.String("err_code", errCode))
	}
	return frame
}
