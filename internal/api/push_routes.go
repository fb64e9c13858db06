package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ioedream/device-comm-server/internal/api/middleware"
	"github.com/ioedream/device-comm-server/internal/protocol"
)

// PushDecoders 各推送端点绑定的协议处理器
type PushDecoders struct {
	Access     protocol.Handler
	Attendance protocol.Handler
	Consume    protocol.Handler
	Biometric  protocol.Handler
}

// RegisterPushRoutes 注册设备推送路由。
// 所有端点共用同一个限流器：推送流量按设备群总量控制，不按协议分桶。
func RegisterPushRoutes(r *gin.Engine, h *PushHandler, decoders PushDecoders, limiter *middleware.RateLimiter, logger *zap.Logger) {
	if r == nil || h == nil {
		return
	}

	push := r.Group("/push")
	if limiter != nil {
		push.Use(middleware.RateLimit(limiter, logger))
	}

	count := 0
	if decoders.Access != nil {
		push.POST("/access", h.Handle(decoders.Access))
		count++
	}
	if decoders.Attendance != nil {
		push.POST("/attendance", h.Handle(decoders.Attendance))
		count++
	}
	if decoders.Consume != nil {
		push.POST("/consume", h.Handle(decoders.Consume))
		count++
	}
	if decoders.Biometric != nil {
		push.POST("/biometric", h.Handle(decoders.Biometric))
		count++
	}

	logger.Info("push routes registered", zap.Int("endpoints", count))
}

// Handlers 返回注册表，收拢全部非空处理器
func (d PushDecoders) Handlers() *protocol.Registry {
	reg := protocol.NewRegistry()
	for _, h := range []protocol.Handler{d.Access, d.Attendance, d.Consume, d.Biometric} {
		if h != nil {
			reg.Register(h)
		}
	}
	return reg
}

// RegisterProtocolInfoRoutes 注册协议元信息查询路由（运维侧，不限流）
func RegisterProtocolInfoRoutes(r *gin.Engine, reg *protocol.Registry) {
	r.GET("/protocols", func(c *gin.Context) {
		out := make([]gin.H, 0)
		for _, pt := range reg.Types() {
			h, ok := reg.Get(pt)
			if !ok {
				continue
			}
			_, manufacturer, version := h.Identify()
			out = append(out, gin.H{
				"protocolType": pt,
				"manufacturer": manufacturer,
				"version":      version,
			})
		}
		c.JSON(http.StatusOK, gin.H{"protocols": out})
	})
}
