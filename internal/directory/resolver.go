// Package directory 提供卡号到内部用户ID的解析：
// L1 进程内缓存 → L2 Redis 缓存 → 用户目录服务（HTTP）兜底，
// 兜底命中后写穿两级缓存，同卡重复推送为 O(1)。
package directory

import (
	"context"
	"sync"
	"time"
)

// CardResolver 卡号解析接口（仅消费协议使用）。
// 解析可能阻塞在网络往返上，超时由调用方通过 ctx 约束；
// 超时按未命中处理，不致整批失败。
type CardResolver interface {
	ResolveUserIDByCard(ctx context.Context, cardNumber string) (userID int64, found bool)
}

// StaticResolver 固定映射解析器（测试与降级场景）
type StaticResolver struct {
	mu    sync.RWMutex
	cards map[string]int64
}

// NewStaticResolver 以给定映射创建解析器，mapping 可为 nil
func NewStaticResolver(mapping map[string]int64) *StaticResolver {
	cards := make(map[string]int64, len(mapping))
	for k, v := range mapping {
		cards[k] = v
	}
	return &StaticResolver{cards: cards}
}

// Put 写入映射
func (r *StaticResolver) Put(cardNumber string, userID int64) {
	r.mu.Lock()
	r.cards[cardNumber] = userID
	r.mu.Unlock()
}

// ResolveUserIDByCard 查固定映射
func (r *StaticResolver) ResolveUserIDByCard(_ context.Context, cardNumber string) (int64, bool) {
	r.mu.RLock()
	id, ok := r.cards[cardNumber]
	r.mu.RUnlock()
	return id, ok
}

// localEntry L1 缓存条目
type localEntry struct {
	userID    int64
	expiresAt time.Time
}
