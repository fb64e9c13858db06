package dispatch

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DeadLetterStore 下发失败记录落库（Postgres）。
// 仅作排障与人工补偿用途，清理器定期删除过期条目。
type DeadLetterStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewDeadLetterStore 创建死信存储
func NewDeadLetterStore(pool *pgxpool.Pool, logger *zap.Logger) *DeadLetterStore {
	return &DeadLetterStore{pool: pool, logger: logger}
}

// EnsureSchema 按需建表
func (s *DeadLetterStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS dispatch_dead_letter (
        id BIGSERIAL PRIMARY KEY,
        topic TEXT NOT NULL,
        payload JSONB NOT NULL,
        reason TEXT NOT NULL DEFAULT '',
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`)
	return err
}

// Save 写入一条死信
func (s *DeadLetterStore) Save(ctx context.Context, topic string, payload []byte, reason string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dispatch_dead_letter (topic, payload, reason) VALUES ($1, $2, $3)`,
		topic, payload, reason)
	return err
}

// CleanExpired 删除超过 cutoff 的死信，单次最多 limit 条，返回删除数
func (s *DeadLetterStore) CleanExpired(ctx context.Context, cutoff time.Duration, limit int) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dispatch_dead_letter WHERE id IN (
        SELECT id FROM dispatch_dead_letter
        WHERE created_at < NOW() - $1::interval
        ORDER BY id LIMIT $2)`,
		cutoff.String(), limit)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Count 当前死信条数
func (s *DeadLetterStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dispatch_dead_letter`).Scan(&n)
	return n, err
}

// DeadLetterCleaner 死信清理器：定期清理超过保留期的死信
type DeadLetterCleaner struct {
	store         *DeadLetterStore
	logger        *zap.Logger
	checkInterval time.Duration
	retention     time.Duration
	batchLimit    int

	statsCleaned int64
}

// NewDeadLetterCleaner 创建清理器。非正参数回落到默认值：
// 每小时清一次，保留24小时，单次最多1000行
func NewDeadLetterCleaner(store *DeadLetterStore, interval, retention time.Duration, batchLimit int, logger *zap.Logger) *DeadLetterCleaner {
	if interval <= 0 {
		interval = time.Hour
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if batchLimit <= 0 {
		batchLimit = 1000
	}
	return &DeadLetterCleaner{
		store:         store,
		logger:        logger,
		checkInterval: interval,
		retention:     retention,
		batchLimit:    batchLimit,
	}
}

// Start 启动清理循环（阻塞，ctx 取消时退出）
func (c *DeadLetterCleaner) Start(ctx context.Context) {
	c.logger.Info("dead letter cleaner started",
		zap.Duration("check_interval", c.checkInterval),
		zap.Duration("retention", c.retention))

	ticker := time.NewTicker(c.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("dead letter cleaner stopped",
				zap.Int64("total_cleaned", c.statsCleaned))
			return
		case <-ticker.C:
			c.cleanExpired(ctx)
		}
	}
}

func (c *DeadLetterCleaner) cleanExpired(ctx context.Context) {
	count, err := c.store.Count(ctx)
	if err != nil {
		c.logger.Error("failed to count dead letters", zap.Error(err))
		return
	}
	if count == 0 {
		return
	}

	cleaned, err := c.store.CleanExpired(ctx, c.retention, c.batchLimit)
	if err != nil {
		c.logger.Error("failed to clean expired dead letters",
			zap.Error(err), zap.Int64("dead_count", count))
		return
	}
	if cleaned > 0 {
		c.statsCleaned += cleaned
		c.logger.Info("cleaned expired dead letters",
			zap.Int64("cleaned", cleaned),
			zap.Int64("remaining", count-cleaned))
	}

	if count-cleaned > 1000 {
		c.logger.Warn("dead letter backlog overloaded",
			zap.Int64("dead_count", count-cleaned),
			zap.String("suggestion", "manual intervention required"))
	}
}
