package app

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"go.uber.org/zap"

	cfgpkg "github.com/ioedream/device-comm-server/internal/config"
	"github.com/ioedream/device-comm-server/internal/storage/gormrepo"
	pgstorage "github.com/ioedream/device-comm-server/internal/storage/pg"
)

// ConnectGorm 建立设备目录使用的 GORM 连接并建表。
// 失败返回 nil：设备目录降级为 deviceID 0，推送处理不中断。
func ConnectGorm(cfg cfgpkg.DatabaseConfig, log *zap.Logger) *gorm.DB {
	db, err := gorm.Open(gormpostgres.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		log.Warn("device directory db connect failed, running without device registry", zap.Error(err))
		return nil
	}

	sqlDB, err := db.DB()
	if err == nil {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	if err := gormrepo.AutoMigrate(db); err != nil {
		log.Warn("device directory migrate failed", zap.Error(err))
	}
	return db
}

// ConnectPgxPool 建立死信表使用的 pgx 连接池并确保建表。
// 失败返回 nil：死信记录降级关闭，投递失败仅计数与记日志。
func ConnectPgxPool(ctx context.Context, cfg cfgpkg.DatabaseConfig, log *zap.Logger) *pgxpool.Pool {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgstorage.NewPool(connectCtx, cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime, log)
	if err != nil {
		log.Warn("dead letter db connect failed, running without dead letter store", zap.Error(err))
		return nil
	}
	return pool
}
