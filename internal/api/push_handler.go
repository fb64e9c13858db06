package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ioedream/device-comm-server/internal/metrics"
	"github.com/ioedream/device-comm-server/internal/protocol"
	"github.com/ioedream/device-comm-server/internal/storage"
)

// PushHandler 设备推送入口。
// 应答只反映解码+校验结果；业务下发在独立 goroutine 中限时执行，
// 其成败不影响设备侧应答。
type PushHandler struct {
	registry *storage.DeviceRegistry
	metrics  *metrics.AppMetrics
	logger   *zap.Logger
	// processTimeout 异步处理上限
	processTimeout time.Duration
	maxBodyBytes   int64
}

// NewPushHandler 创建推送处理器
func NewPushHandler(registry *storage.DeviceRegistry, m *metrics.AppMetrics, logger *zap.Logger, processTimeout time.Duration, maxBodyBytes int64) *PushHandler {
	if processTimeout <= 0 {
		processTimeout = 10 * time.Second
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &PushHandler{
		registry:       registry,
		metrics:        m,
		logger:         logger,
		processTimeout: processTimeout,
		maxBodyBytes:   maxBodyBytes,
	}
}

// Handle 返回绑定到指定协议处理器的 gin 处理函数
func (h *PushHandler) Handle(handler protocol.Handler) gin.HandlerFunc {
	protocolType, _, _ := handler.Identify()

	return func(c *gin.Context) {
		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxBodyBytes))
		if err != nil {
			h.countPush(protocolType, "read_error")
			c.String(http.StatusBadRequest, "read body failed")
			return
		}

		msg, err := handler.Decode(raw)
		if err != nil {
			h.countPush(protocolType, "decode_error")
			h.logger.Warn("push decode failed",
				zap.String("protocol_type", protocolType),
				zap.Int("body_bytes", len(raw)),
				zap.Error(err))
			h.ack(c, handler, msg, false, decodeErrorCode(err), err.Error())
			return
		}

		if !handler.Validate(msg) {
			h.countPush(protocolType, "validate_error")
			h.ack(c, handler, msg, false, protocol.CodeValidateFailed, "validation failed")
			return
		}

		deviceID := h.registry.ResolveDeviceID(c.Request.Context(), msg.DeviceCode, protocolType)

		// 业务下发与应答解耦：设备在解码+校验通过后即收到成功应答
		go h.processDetached(handler, msg, deviceID)

		h.countPush(protocolType, "success")
		h.ack(c, handler, msg, true, "", "")
	}
}

func (h *PushHandler) processDetached(handler protocol.Handler, msg *protocol.Message, deviceID int64) {
	protocolType, _, _ := handler.Identify()
	ctx, cancel := context.WithTimeout(context.Background(), h.processTimeout)
	defer cancel()

	if err := handler.Process(ctx, msg, deviceID); err != nil {
		h.logger.Error("push message process failed",
			zap.String("protocol_type", protocolType),
			zap.String("device_code", msg.DeviceCode),
			zap.Int64("device_id", deviceID),
			zap.Error(err))
	}
}

func (h *PushHandler) ack(c *gin.Context, handler protocol.Handler, msg *protocol.Message, success bool, errCode, errMsg string) {
	frame := handler.BuildResponse(msg, success, errCode, errMsg)
	c.Data(http.StatusOK, "application/octet-stream", frame)
}

func (h *PushHandler) countPush(protocolType, result string) {
	if h.metrics != nil {
		h.metrics.PushTotal.WithLabelValues(protocolType, result).Inc()
	}
}

func decodeErrorCode(err error) string {
	if errors.Is(err, protocol.ErrEmptyPayload) {
		return protocol.CodeInvalidData
	}
	return protocol.CodeMalformedFrame
}
