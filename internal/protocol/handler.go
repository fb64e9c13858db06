package protocol

import (
	"context"
	"sort"
	"sync"
)

// Handler 厂商协议处理器统一契约。
// 一次推送的调用序列：DecodeText/Decode → Validate → Process → BuildResponse。
// 解码必须是纯函数（同一原始数据两次解码产出结构相等的消息）。
type Handler interface {
	// Identify 静态元信息：协议类型、厂商、版本
	Identify() (protocolType, manufacturer, version string)

	// Decode 二进制入口。当前设备均推送文本，此入口按 UTF-8 转字符串后
	// 委托 DecodeText（生物识别协议除外，其自带二进制帧格式）。
	Decode(raw []byte) (*Message, error)

	// DecodeText 文本入口，按厂商线协议解码为统一消息
	DecodeText(raw string) (*Message, error)

	// Validate 校验消息完整性：Kind 已设置、DeviceCode 非空、Payload 非空。
	// 通过时将状态推进到 VALIDATED，失败时不改动消息。
	Validate(msg *Message) bool

	// Process 赋值设备ID、复验并逐条下发规整记录，最终置于终态。
	// 批内单条失败只计数，除非整批全部失败，否则返回成功。
	Process(ctx context.Context, msg *Message, deviceID int64) error

	// BuildResponse 构造设备应答帧。内部失败时返回约定的错误帧而非 panic。
	BuildResponse(reqMsg *Message, success bool, errCode, errMsg string) []byte
}

// DeviceStatusSink 设备状态回写。状态消息除下发队列外，
// 同步更新设备目录中的在线状态。实现不返回错误，失败自行记录。
type DeviceStatusSink interface {
	UpdateStatus(ctx context.Context, deviceCode, status string)
}

// Registry 协议处理器注册表。启动时装配，运行期只读。
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register 以协议类型为键注册处理器，重复注册原地覆盖
func (r *Registry) Register(h Handler) {
	pt, _, _ := h.Identify()
	r.mu.Lock()
	r.handlers[pt] = h
	r.mu.Unlock()
}

// Get 按协议类型查找处理器
func (r *Registry) Get(protocolType string) (Handler, bool) {
	r.mu.RLock()
	h, ok := r.handlers[protocolType]
	r.mu.RUnlock()
	return h, ok
}

// Types 已注册协议类型（排序后）
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
