// Package storage 持久化未解决事故台账与发布日志（SQLite / PostgreSQL）
package storage

import (
	"context"
	"fmt"
	"time"

	"statuswatch/internal/config"
)

// EventStatus 发布日志状态
type EventStatus string

const (
	EventStatusPublished  EventStatus = "published"   // 已写入事故存储
	EventStatusDeadLetter EventStatus = "dead_letter" // 超过重试上限被丢弃
	EventStatusSkipped    EventStatus = "skipped"     // 重复事件，未写入事故存储
)

// IssueRecord 台账条目：某服务当前未解决的事故记录
type IssueRecord struct {
	Service    string
	Path       string
	Version    string
	Content    string // 最近一次写入的完整记录内容
	DetectedAt int64  // Unix 秒
	UpdatedAt  int64  // Unix 秒
}

// EventRecord 发布日志条目
type EventRecord struct {
	ID         int64
	EventID    string // 发布事件的唯一 ID
	Kind       string // OFFLINE / ONLINE
	Service    string
	ObservedAt int64 // 检测时间（Unix 秒）
	Status     EventStatus
	Path       string // 写入/更新的事故记录路径（死信时可能为空）
	Attempts   int
	Error      string
	CreatedAt  int64 // Unix 秒
}

// EventFilters 发布日志查询过滤器
type EventFilters struct {
	Service string      // 按服务过滤（可选）
	Kinds   []string    // 按事件类型过滤（可选）
	Status  EventStatus // 按状态过滤（可选）
}

// Storage 存储接口
type Storage interface {
	// Init 初始化存储
	Init() error

	// Close 关闭存储
	Close() error

	// WithContext 返回绑定指定 context 的存储实例
	// 用于支持请求级别的超时和取消，不修改原实例，便于并发请求安全复用
	WithContext(ctx context.Context) Storage

	// SaveIssue 写入或覆盖服务的台账条目
	SaveIssue(rec *IssueRecord) error

	// DeleteIssue 删除服务的台账条目（不存在时不报错）
	DeleteIssue(service string) error

	// LoadIssues 读取全部台账条目（按服务名排序）
	LoadIssues() ([]*IssueRecord, error)

	// SaveEvent 追加发布日志
	// 相同 event_id + status 重复写入视为成功（幂等）
	SaveEvent(ev *EventRecord) error

	// GetEvents 查询发布日志
	// sinceID: 从该 ID 之后开始（游标分页，不包含该 ID）
	// limit: 最多返回条数（默认 100，上限 500）
	GetEvents(sinceID int64, limit int, filters *EventFilters) ([]*EventRecord, error)

	// GetLatestEventID 获取最新日志 ID，0 表示没有任何记录
	GetLatestEventID() (int64, error)

	// PurgeOldEvents 分批删除 created_at 早于 cutoff 的发布日志，返回本批删除条数
	PurgeOldEvents(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// New 根据配置创建并初始化存储
func New(cfg *config.StorageConfig) (Storage, error) {
	var (
		s   Storage
		err error
	)
	switch cfg.Type {
	case "postgres":
		s, err = NewPostgresStorage(&cfg.Postgres)
	case "sqlite", "":
		s, err = NewSQLiteStorage(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("不支持的存储类型: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Init(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 500 {
		return 500
	}
	return limit
}
