package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/ioedream/device-comm-server/internal/metrics"
	"github.com/ioedream/device-comm-server/internal/protocol"
)

// Dispatcher 统一下发入口：发布 + 指标计数 + 失败死信。
// 发布失败不向上游传播为请求错误，设备应答与后端持久化解耦。
type Dispatcher struct {
	publisher Publisher
	dlq       *DeadLetterStore
	metrics   *metrics.AppMetrics
	logger    *zap.Logger
}

// NewDispatcher 创建下发器；dlq 可为 nil（死信落库关闭）
func NewDispatcher(pub Publisher, dlq *DeadLetterStore, m *metrics.AppMetrics, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{publisher: pub, dlq: dlq, metrics: m, logger: logger}
}

// Dispatch 发布一条规整记录并维护队列指标。
// 返回的错误只用于调用方计数/日志，不应导致整批失败或设备应答失败。
func (d *Dispatcher) Dispatch(ctx context.Context, record *NormalizedRecord) error {
	if record == nil {
		return fmt.Errorf("%w: nil record", protocol.ErrDispatchFailed)
	}
	err := d.publisher.Publish(ctx, record.Topic, record)
	if err == nil {
		if d.metrics != nil {
			d.metrics.QueueOpTotal.WithLabelValues(record.Topic, "send").Inc()
		}
		return nil
	}

	if d.metrics != nil {
		d.metrics.QueueOpTotal.WithLabelValues(record.Topic, "error").Inc()
	}
	d.logger.Error("record dispatch failed",
		zap.String("topic", record.Topic),
		zap.String("record_id", record.RecordID),
		zap.String("device_code", record.DeviceCode),
		zap.Error(err))

	if d.dlq != nil {
		if payload, mErr := json.Marshal(record); mErr == nil {
			if dErr := d.dlq.Save(ctx, record.Topic, payload, err.Error()); dErr != nil {
				d.logger.Error("dead letter save failed",
					zap.String("record_id", record.RecordID), zap.Error(dErr))
			}
		}
	}
	return fmt.Errorf("%w: %v", protocol.ErrDispatchFailed, err)
}
