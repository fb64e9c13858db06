package codes

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// EventCategory 门禁事件类别，类别（而非原始事件码）决定通行结果
type EventCategory string

const (
	CategoryNormal   EventCategory = "正常"
	CategoryAbnormal EventCategory = "异常"
	CategoryAlarm    EventCategory = "报警"
	CategoryElevator EventCategory = "梯控"
	CategoryOther    EventCategory = "其他"
)

// AccessEvent 门禁事件码表条目
type AccessEvent struct {
	Code     int           `yaml:"code"`
	Name     string        `yaml:"name"`
	Category EventCategory `yaml:"category"`
}

// EventTable 门禁事件码表，启动时装配后只读
type EventTable struct {
	events map[int]AccessEvent
}

// DefaultEventTable 内置码表（安防PUSH协议 V4.8 事件码）。
// 5000-6000 为异常触发的报警，6000-7000 为警告类报警，7000+ 为梯控。
func DefaultEventTable() *EventTable {
	entries := []AccessEvent{
		{0, "正常验证开门", CategoryNormal},
		{1, "常开时段内开门", CategoryNormal},
		{2, "首卡常开开门", CategoryNormal},
		{3, "多人验证开门", CategoryNormal},
		{4, "紧急密码开门", CategoryNormal},
		{5, "远程开门", CategoryNormal},
		{6, "出门按钮开门", CategoryNormal},

		{20, "验证失败", CategoryAbnormal},
		{23, "拒绝访问", CategoryAbnormal},
		{27, "卡片未注册", CategoryAbnormal},
		{28, "时间段无效", CategoryAbnormal},
		{29, "凭证已过期", CategoryAbnormal},
		{30, "反潜回拒绝", CategoryAbnormal},
		{31, "互锁拒绝", CategoryAbnormal},

		{5000, "胁迫密码开门", CategoryAlarm},
		{5001, "门被强制打开", CategoryAlarm},
		{5002, "门超时未关", CategoryAlarm},
		{5003, "设备防拆报警", CategoryAlarm},
		{6000, "设备断电警告", CategoryAlarm},
		{6001, "通讯异常警告", CategoryAlarm},

		{7000, "梯控呼梯", CategoryElevator},
		{7001, "梯控楼层选择", CategoryElevator},
	}
	m := make(map[int]AccessEvent, len(entries))
	for _, e := range entries {
		m[e.Code] = e
	}
	return &EventTable{events: m}
}

// LoadEventTable 从 YAML 文件加载码表覆盖项并合并到内置表。
// 文件格式：events: [{code: 5004, name: xxx, category: 报警}, ...]
func LoadEventTable(path string) (*EventTable, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read event table: %w", err)
	}
	var doc struct {
		Events []AccessEvent `yaml:"events"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal event table: %w", err)
	}
	t := DefaultEventTable()
	for _, e := range doc.Events {
		t.events[e.Code] = e
	}
	return t, nil
}

// ByCode 按事件码查条目；未知码返回 OTHER 类别条目并告警，不报错
func (t *EventTable) ByCode(code int) AccessEvent {
	if e, ok := t.events[code]; ok {
		return e
	}
	zap.L().Warn("unknown access event code", zap.Int("code", code))
	return AccessEvent{Code: code, Name: fmt.Sprintf("未知事件_%d", code), Category: CategoryOther}
}

// AccessResult 类别映射通行结果：异常/报警为失败(0)，其余按成功(1)处理
func (t *EventTable) AccessResult(code int) int {
	switch t.ByCode(code).Category {
	case CategoryAbnormal, CategoryAlarm:
		return 0
	default:
		return 1
	}
}

// IsAlarmWindow 事件码是否落在报警区间 [5000,7000)
func IsAlarmWindow(code int) bool {
	return code >= 5000 && code < 7000
}
