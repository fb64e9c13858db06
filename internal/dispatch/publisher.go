package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// queueKeyPrefix Redis List 键前缀，完整键形如 protocol:queue:protocol.access.record
const queueKeyPrefix = "protocol:queue:"

// Publisher 队列发布接口。实现必须并发安全。
type Publisher interface {
	Publish(ctx context.Context, topic string, record *NormalizedRecord) error
}

// RedisPublisher 基于 Redis List 的队列发布器（右侧入队，消费者 BLPOP）
type RedisPublisher struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedisPublisher 创建 Redis 发布器
func NewRedisPublisher(rdb *redis.Client, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, logger: logger}
}

// Publish 序列化记录并 RPUSH 到对应 topic 队列
func (p *RedisPublisher) Publish(ctx context.Context, topic string, record *NormalizedRecord) error {
	if p == nil || p.rdb == nil {
		return fmt.Errorf("redis publisher not initialized")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := p.rdb.RPush(ctx, queueKeyPrefix+topic, data).Err(); err != nil {
		return fmt.Errorf("redis rpush: %w", err)
	}
	p.logger.Debug("record enqueued",
		zap.String("topic", topic),
		zap.String("record_id", record.RecordID),
		zap.String("device_code", record.DeviceCode))
	return nil
}

// MemoryPublisher 进程内发布器：Redis 不可用时的降级实现，也用于测试
type MemoryPublisher struct {
	mu      sync.Mutex
	records map[string][]*NormalizedRecord
}

// NewMemoryPublisher 创建进程内发布器
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{records: make(map[string][]*NormalizedRecord)}
}

// Publish 记录到内存队列
func (p *MemoryPublisher) Publish(_ context.Context, topic string, record *NormalizedRecord) error {
	p.mu.Lock()
	p.records[topic] = append(p.records[topic], record)
	p.mu.Unlock()
	return nil
}

// Records 返回指定 topic 已发布的记录（副本）
func (p *MemoryPublisher) Records(topic string) []*NormalizedRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*NormalizedRecord, len(p.records[topic]))
	copy(out, p.records[topic])
	return out
}

// Total 全部 topic 的记录总数
func (p *MemoryPublisher) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, rs := range p.records {
		n += len(rs)
	}
	return n
}
