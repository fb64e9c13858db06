package directory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ioedream/device-comm-server/internal/metrics"
)

// Redis 键前缀：protocol:card:user:<cardNo> → userID
const cardKeyPrefix = "protocol:card:user:"

// CachedCardResolver 两级缓存的卡号解析器。
// 并发读安全；写穿采用 last-writer-wins（卡-用户映射基本只增不改）。
type CachedCardResolver struct {
	fallback CardResolver
	rdb      *redis.Client // 可为 nil（仅 L1 + 兜底）
	logger   *zap.Logger
	metrics  *metrics.AppMetrics

	localTTL time.Duration
	redisTTL time.Duration

	mu    sync.RWMutex
	local map[string]localEntry
}

// NewCachedCardResolver 创建两级缓存解析器；rdb、m 可为 nil
func NewCachedCardResolver(fallback CardResolver, rdb *redis.Client, m *metrics.AppMetrics, logger *zap.Logger) *CachedCardResolver {
	return &CachedCardResolver{
		fallback: fallback,
		rdb:      rdb,
		logger:   logger,
		metrics:  m,
		localTTL: 5 * time.Minute,
		redisTTL: time.Hour,
		local:    make(map[string]localEntry),
	}
}

// SetTTLs 覆盖两级缓存有效期；非正值保持默认
func (r *CachedCardResolver) SetTTLs(local, redis time.Duration) {
	if local > 0 {
		r.localTTL = local
	}
	if redis > 0 {
		r.redisTTL = redis
	}
}

// ResolveUserIDByCard 依次查 L1、L2、用户目录兜底；命中兜底后写穿缓存
func (r *CachedCardResolver) ResolveUserIDByCard(ctx context.Context, cardNumber string) (int64, bool) {
	if cardNumber == "" {
		return 0, false
	}

	if id, ok := r.lookupLocal(cardNumber); ok {
		r.count("local", "hit")
		return id, true
	}
	r.count("local", "miss")

	if r.rdb != nil {
		val, err := r.rdb.Get(ctx, cardKeyPrefix+cardNumber).Result()
		if err == nil {
			if id, perr := strconv.ParseInt(val, 10, 64); perr == nil {
				r.count("redis", "hit")
				r.storeLocal(cardNumber, id)
				return id, true
			}
		} else if err != redis.Nil {
			r.logger.Warn("redis card lookup error",
				zap.String("card", cardNumber), zap.Error(err))
		}
		r.count("redis", "miss")
	}

	if r.fallback == nil {
		return 0, false
	}
	id, ok := r.fallback.ResolveUserIDByCard(ctx, cardNumber)
	if !ok {
		r.count("fallback", "miss")
		return 0, false
	}
	r.count("fallback", "hit")

	// 写穿：L1 + L2
	r.storeLocal(cardNumber, id)
	if r.rdb != nil {
		if err := r.rdb.Set(ctx, cardKeyPrefix+cardNumber, strconv.FormatInt(id, 10), r.redisTTL).Err(); err != nil {
			r.logger.Warn("redis card cache write error",
				zap.String("card", cardNumber), zap.Error(err))
		}
	}
	return id, true
}

func (r *CachedCardResolver) lookupLocal(cardNumber string) (int64, bool) {
	r.mu.RLock()
	e, ok := r.local[cardNumber]
	r.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return 0, false
	}
	return e.userID, true
}

func (r *CachedCardResolver) storeLocal(cardNumber string, userID int64) {
	r.mu.Lock()
	r.local[cardNumber] = localEntry{userID: userID, expiresAt: time.Now().Add(r.localTTL)}
	r.mu.Unlock()
}

func (r *CachedCardResolver) count(tier, result string) {
	if r.metrics != nil {
		r.metrics.CardCacheTotal.WithLabelValues(tier, result).Inc()
	}
}
