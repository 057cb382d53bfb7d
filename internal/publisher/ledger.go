package publisher

import (
	"sort"
	"sync"
	"time"

	"statuswatch/internal/logger"
	"statuswatch/internal/storage"
)

// Entry 台账条目：某服务当前未解决的事故记录
type Entry struct {
	Service  string    `json:"service"`
	Path     string    `json:"path"`
	Version  string    `json:"version"`
	Content  string    `json:"-"`
	OpenedAt time.Time `json:"opened_at"`
}

// LedgerStore 台账持久化接口（storage.Storage 的子集）
type LedgerStore interface {
	SaveIssue(rec *storage.IssueRecord) error
	DeleteIssue(service string) error
	LoadIssues() ([]*storage.IssueRecord, error)
}

// Ledger 服务名 -> 未解决事故 的映射
//
// 只有发布器 goroutine 会修改台账；读锁供 API 读取快照。
// 持久化失败只记录告警，内存中的台账仍然是权威数据。
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]Entry
	persist LedgerStore
}

// NewLedger 创建台账，persist 可为 nil（仅内存）
func NewLedger(persist LedgerStore) *Ledger {
	return &Ledger{
		entries: make(map[string]Entry),
		persist: persist,
	}
}

// Load 从持久化存储恢复台账
func (l *Ledger) Load() error {
	if l.persist == nil {
		return nil
	}
	records, err := l.persist.LoadIssues()
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rec := range records {
		l.entries[rec.Service] = Entry{
			Service:  rec.Service,
			Path:     rec.Path,
			Version:  rec.Version,
			Content:  rec.Content,
			OpenedAt: time.Unix(rec.DetectedAt, 0).UTC(),
		}
	}
	if len(records) > 0 {
		logger.Info("ledger", "已恢复未解决事故台账", "count", len(records))
	}
	return nil
}

// Get 查询服务的台账条目
func (l *Ledger) Get(service string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[service]
	return e, ok
}

// Put 写入或覆盖台账条目
func (l *Ledger) Put(e Entry) {
	l.mu.Lock()
	l.entries[e.Service] = e
	l.mu.Unlock()

	if l.persist == nil {
		return
	}
	rec := &storage.IssueRecord{
		Service:    e.Service,
		Path:       e.Path,
		Version:    e.Version,
		Content:    e.Content,
		DetectedAt: e.OpenedAt.Unix(),
		UpdatedAt:  time.Now().Unix(),
	}
	if err := l.persist.SaveIssue(rec); err != nil {
		logger.Warn("ledger", "持久化台账条目失败", "service", e.Service, "error", err)
	}
}

// Remove 删除台账条目
func (l *Ledger) Remove(service string) {
	l.mu.Lock()
	delete(l.entries, service)
	l.mu.Unlock()

	if l.persist == nil {
		return
	}
	if err := l.persist.DeleteIssue(service); err != nil {
		logger.Warn("ledger", "删除持久化台账条目失败", "service", service, "error", err)
	}
}

// Len 返回条目数
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Snapshot 返回按服务名排序的条目副本
func (l *Ledger) Snapshot() []Entry {
	l.mu.RLock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}
