// Package events 负责把每一轮的探测结果转换为服务上下线事件
// 包含参照门控（Reference gating）和边沿触发的状态检测
package events

import (
	"time"
)

// Category 监测项分类
type Category string

const (
	CategoryReference Category = "Reference" // 参照项：始终应该可达，用于判断监测端自身网络是否正常
	CategoryNormal    Category = "Normal"    // 普通服务
)

// IsValid 检查分类是否有效
func (c Category) IsValid() bool {
	switch c {
	case CategoryReference, CategoryNormal:
		return true
	default:
		return false
	}
}

// EventType 事件类型
type EventType string

const (
	EventTypeOffline EventType = "OFFLINE" // 可用 → 不可用，需要创建事故记录
	EventTypeOnline  EventType = "ONLINE"  // 不可用 → 可用，需要关闭事故记录
)

// TimestampLayout 事件时间戳格式（ISO-8601，UTC）
const TimestampLayout = "2006-01-02T15:04:05Z"

// TaskState 单个监测项的跨周期状态
// 只由调度协程读写，无需加锁
type TaskState struct {
	Name     string
	Category Category

	// LastSuccess 上一周期的相对成功结果（初始为 true）
	LastSuccess bool

	// RawSuccess 本周期原始探测结果
	RawSuccess bool

	// RelativeSuccess 本周期经参照门控修正后的结果，每周期重新计算
	RelativeSuccess bool
}

// NewTaskState 创建监测项状态，LastSuccess 初始为 true
func NewTaskState(name string, category Category) *TaskState {
	return &TaskState{
		Name:            name,
		Category:        category,
		LastSuccess:     true,
		RawSuccess:      true,
		RelativeSuccess: true,
	}
}

// IsReference 是否为参照项
func (t *TaskState) IsReference() bool {
	return t.Category == CategoryReference
}

// ProbeResult 单个监测项在单个周期内的探测结果（不持久化）
type ProbeResult struct {
	Name      string
	Succeeded bool
}

// PublishEvent 待发布事件
// Timestamp 在检测时确定，重试时保持不变，写入事故记录
type PublishEvent struct {
	ID        string
	Kind      EventType
	Service   string
	Timestamp time.Time

	// Attempts 已执行的发布次数（不影响事件身份）
	Attempts int
}

// FormattedTimestamp 返回 ISO-8601 UTC 格式的检测时间
func (e PublishEvent) FormattedTimestamp() string {
	return e.Timestamp.UTC().Format(TimestampLayout)
}
