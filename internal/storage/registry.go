package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// deviceKeyPrefix 设备编号 → 设备ID 的缓存键前缀
const deviceKeyPrefix = "protocol:device:id:"

// DeviceRegistry 带 Redis 缓存的设备目录。
// 推送端点先查缓存，未命中时落库（首次联系自动登记）并回写缓存。
// 仓储或缓存不可用时返回 deviceID 0，推送处理继续进行。
type DeviceRegistry struct {
	repo   DeviceRepo
	rdb    *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewDeviceRegistry 创建设备目录。rdb 可为 nil（退化为纯 DB 查询），
// repo 可为 nil（退化为恒返回 0）。
func NewDeviceRegistry(repo DeviceRepo, rdb *redis.Client, logger *zap.Logger) *DeviceRegistry {
	return &DeviceRegistry{repo: repo, rdb: rdb, logger: logger, ttl: time.Hour}
}

// ResolveDeviceID 解析设备编号为内部设备ID，同时刷新 last_seen_at。
// 任何一层失败都降级继续，绝不因目录故障拒收设备推送。
func (r *DeviceRegistry) ResolveDeviceID(ctx context.Context, deviceCode, protocolType string) int64 {
	if deviceCode == "" || deviceCode == "UNKNOWN" {
		return 0
	}

	if r.rdb != nil {
		if v, err := r.rdb.Get(ctx, deviceKeyPrefix+deviceCode).Result(); err == nil {
			if id, perr := strconv.ParseInt(v, 10, 64); perr == nil {
				go r.touchLastSeen(deviceCode)
				return id
			}
		}
	}

	if r.repo == nil {
		return 0
	}

	device, err := r.repo.EnsureDevice(ctx, deviceCode, protocolType)
	if err != nil {
		r.logger.Warn("device registry lookup failed",
			zap.String("device_code", deviceCode),
			zap.Error(err))
		return 0
	}

	if r.rdb != nil {
		if err := r.rdb.Set(ctx, deviceKeyPrefix+deviceCode, strconv.FormatInt(device.ID, 10), r.ttl).Err(); err != nil {
			r.logger.Debug("device id cache write failed", zap.Error(err))
		}
	}
	return device.ID
}

// UpdateStatus 更新设备状态，失败仅记录
func (r *DeviceRegistry) UpdateStatus(ctx context.Context, deviceCode, status string) {
	if r.repo == nil || deviceCode == "" {
		return
	}
	if err := r.repo.UpdateDeviceStatus(ctx, deviceCode, status); err != nil {
		r.logger.Warn("device status update failed",
			zap.String("device_code", deviceCode),
			zap.String("status", status),
			zap.Error(err))
	}
}

func (r *DeviceRegistry) touchLastSeen(deviceCode string) {
	if r.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.repo.TouchDeviceLastSeen(ctx, deviceCode, time.Now()); err != nil {
		r.logger.Debug("device last_seen touch failed", zap.Error(err))
	}
}
