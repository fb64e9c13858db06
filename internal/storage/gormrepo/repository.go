package gormrepo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ioedream/device-comm-server/internal/storage"
	"github.com/ioedream/device-comm-server/internal/storage/models"
)

// Repository 基于 GORM 的 DeviceRepo 实现。
type Repository struct {
	db *gorm.DB
}

// New 返回一个使用给定 *gorm.DB 的 DeviceRepo 实例。
func New(db *gorm.DB) storage.DeviceRepo {
	return &Repository{db: db}
}

// AutoMigrate 建表（幂等）。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.Device{})
}

// deviceUpsert 设备表冲突子句：已存在时刷新 last_seen_at 与 updated_at。
// EnsureDevice 与 TouchDeviceLastSeen 共用，落库解析路径（无缓存命中）
// 同样推进设备在线水位。
func deviceUpsert() clause.OnConflict {
	return clause.OnConflict{
		Columns: []clause.Column{{Name: "device_code"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_seen_at": gorm.Expr("excluded.last_seen_at"),
			"updated_at":   gorm.Expr("NOW()"),
		}),
	}
}

// EnsureDevice 若设备不存在则插入，存在则刷新 last_seen_at 与 updated_at。
func (r *Repository) EnsureDevice(ctx context.Context, deviceCode, protocolType string) (*models.Device, error) {
	now := time.Now()
	record := &models.Device{
		DeviceCode:   deviceCode,
		ProtocolType: protocolType,
		Status:       "ONLINE",
		LastSeenAt:   &now,
	}

	err := r.db.WithContext(ctx).
		Clauses(deviceUpsert()).
		Create(record).Error
	if err != nil {
		return nil, err
	}

	return r.GetDeviceByCode(ctx, deviceCode)
}

// TouchDeviceLastSeen 刷新设备 last_seen_at（不存在则插入）。
func (r *Repository) TouchDeviceLastSeen(ctx context.Context, deviceCode string, at time.Time) error {
	ts := at
	record := &models.Device{
		DeviceCode:   deviceCode,
		ProtocolType: "UNKNOWN",
		Status:       "ONLINE",
		LastSeenAt:   &ts,
	}

	return r.db.WithContext(ctx).
		Clauses(deviceUpsert()).
		Create(record).Error
}

// GetDeviceByCode 通过设备编号查询设备。
func (r *Repository) GetDeviceByCode(ctx context.Context, deviceCode string) (*models.Device, error) {
	var device models.Device
	err := r.db.WithContext(ctx).Where("device_code = ?", deviceCode).First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return &device, err
}

// UpdateDeviceStatus 更新设备状态。
func (r *Repository) UpdateDeviceStatus(ctx context.Context, deviceCode, status string) error {
	return r.db.WithContext(ctx).
		Model(&models.Device{}).
		Where("device_code = ?", deviceCode).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": gorm.Expr("NOW()"),
		}).Error
}

// ListDevices 分页返回设备列表，按 id 倒序。
func (r *Repository) ListDevices(ctx context.Context, limit, offset int) ([]models.Device, error) {
	var devices []models.Device
	q := r.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&devices).Error; err != nil {
		return nil, err
	}
	return devices, nil
}
