package models

import (
	"time"
)

// 注意：不使用 gorm.Model，显式声明每个字段，避免隐式 DeletedAt

// Device 映射 devices 表。设备首次推送时按 device_code 自动登记。
type Device struct {
	// 主键，下游记录中的 deviceId
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// 设备编号（协议中的 deviceCode），唯一
	DeviceCode string `gorm:"column:device_code;type:text;not null;uniqueIndex"`
	// 协议类型（首次登记时的协议）
	ProtocolType string `gorm:"column:protocol_type;type:text;not null"`
	// 厂商与协议版本，可空
	Manufacturer *string `gorm:"column:manufacturer;type:text"`
	Version      *string `gorm:"column:version;type:text"`
	// 设备状态：ONLINE / MAINTAIN / OFFLINE
	Status string `gorm:"column:status;type:text;not null;default:OFFLINE"`
	// 最近一次推送时间
	LastSeenAt *time.Time `gorm:"column:last_seen_at"`
	// 审计字段
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Device) TableName() string { return "devices" }
