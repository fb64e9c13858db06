package storage

import (
	"context"
	"time"

	"github.com/ioedream/device-comm-server/internal/storage/models"
)

// DeviceRepo 设备目录的存储抽象。
// 约束：
// - 禁止上层直接写 SQL，统一通过本接口访问
// - 接口必须保持 DB-agnostic（面向模型与基础类型）
type DeviceRepo interface {
	// EnsureDevice 若 deviceCode 不存在则创建，返回设备记录
	EnsureDevice(ctx context.Context, deviceCode, protocolType string) (*models.Device, error)
	// TouchDeviceLastSeen 刷新设备最近推送时间（不存在则按 UNKNOWN 协议创建）
	TouchDeviceLastSeen(ctx context.Context, deviceCode string, at time.Time) error
	// GetDeviceByCode 通过设备编号查询设备
	GetDeviceByCode(ctx context.Context, deviceCode string) (*models.Device, error)
	// UpdateDeviceStatus 更新设备状态（ONLINE / MAINTAIN / OFFLINE）
	UpdateDeviceStatus(ctx context.Context, deviceCode, status string) error
	// ListDevices 简单列表（仅用于管理/调试）
	ListDevices(ctx context.Context, limit, offset int) ([]models.Device, error)
}
