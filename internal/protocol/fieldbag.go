package protocol

import (
	"math"
	"strconv"
)

// FieldBag 有序字段集合：key 按插入顺序保留，值统一为字符串。
// 设备上报数据均为无类型文本，转型由访问方法负责并显式返回是否成功。
type FieldBag struct {
	keys   []string
	values map[string]string
}

// NewFieldBag 创建空字段集合
func NewFieldBag() *FieldBag {
	return &FieldBag{values: make(map[string]string)}
}

// Set 写入字段；已存在的 key 原地覆盖，不改变顺序
func (b *FieldBag) Set(key, value string) {
	if _, ok := b.values[key]; !ok {
		b.keys = append(b.keys, key)
	}
	b.values[key] = value
}

// Get 读取原始字符串值
func (b *FieldBag) Get(key string) (string, bool) {
	v, ok := b.values[key]
	return v, ok
}

// GetString 读取字符串值，缺失时返回空串
func (b *FieldBag) GetString(key string) string {
	return b.values[key]
}

// GetInt 读取整型值；缺失或格式错误返回 false
func (b *FieldBag) GetInt(key string) (int, bool) {
	v, ok := b.values[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// GetInt64 读取 int64 值；缺失或格式错误返回 false
func (b *FieldBag) GetInt64(key string) (int64, bool) {
	v, ok := b.values[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// GetDecimal 读取小数值；缺失或格式错误返回 false
func (b *FieldBag) GetDecimal(key string) (float64, bool) {
	v, ok := b.values[key]
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Has 判断字段是否存在
func (b *FieldBag) Has(key string) bool {
	_, ok := b.values[key]
	return ok
}

// Len 字段数量
func (b *FieldBag) Len() int { return len(b.keys) }

// Keys 按插入顺序返回全部 key（副本）
func (b *FieldBag) Keys() []string {
	out := make([]string, len(b.keys))
	copy(out, b.keys)
	return out
}

// ToMap 导出为普通 map（用于队列消息序列化）
func (b *FieldBag) ToMap() map[string]string {
	out := make(map[string]string, len(b.keys))
	for k, v := range b.values {
		out[k] = v
	}
	return out
}

// Equal 结构相等：key 顺序与值均一致
func (b *FieldBag) Equal(other *FieldBag) bool {
	if b.Len() != other.Len() {
		return false
	}
	for i, k := range b.keys {
		if other.keys[i] != k {
			return false
		}
		if b.values[k] != other.values[k] {
			return false
		}
	}
	return true
}

// CentsToAmount 分转元，保留两位小数
func CentsToAmount(cents int64) float64 {
	return math.Round(float64(cents)) / 100
}
