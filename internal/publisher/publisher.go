// Package publisher 消费发布队列，将 OFFLINE/ONLINE 事件写入事故存储，
// 维护未解决事故台账，失败时放回队尾重试
package publisher

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"

	"statuswatch/internal/config"
	"statuswatch/internal/events"
	"statuswatch/internal/incident"
	"statuswatch/internal/logger"
	"statuswatch/internal/queue"
	"statuswatch/internal/storage"
	"statuswatch/internal/store"
)

// ErrNoOpenIncident ONLINE 事件找不到对应的未解决事故
var ErrNoOpenIncident = errors.New("publisher: no open incident for service")

// permanentError 不可重试的错误，直接进入死信
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return &permanentError{err: err}
}

// Journal 发布日志写入接口（storage.Storage 的子集）
type Journal interface {
	SaveEvent(ev *storage.EventRecord) error
}

// Options 发布器选项
type Options struct {
	// 事故记录目录
	Dir string

	// 事故记录模板
	Template incident.Template

	// 重试与退避配置（须已 Normalize）
	Config config.PublisherConfig

	// 发布日志（可选）
	Journal Journal
}

// Stats 发布器运行统计
type Stats struct {
	Published           int64 `json:"published"`
	Skipped             int64 `json:"skipped"`
	Failed              int64 `json:"failed"`
	DeadLettered        int64 `json:"dead_lettered"`
	ConsecutiveFailures int64 `json:"consecutive_failures"`
	QueueDepth          int   `json:"queue_depth"`
	OpenIncidents       int   `json:"open_incidents"`
}

// Publisher 发布器
//
// 单 goroutine 运行；台账只由 Run 所在的 goroutine 修改。
type Publisher struct {
	queue   *queue.Queue[events.PublishEvent]
	store   store.IncidentStore
	ledger  *Ledger
	journal Journal
	dir     string
	tpl     incident.Template
	cfg     config.PublisherConfig

	// 每个 ONLINE 事件找不到台账条目的次数（key: 事件 ID）
	misses map[string]int

	published    atomic.Int64
	skipped      atomic.Int64
	failed       atomic.Int64
	deadLettered atomic.Int64
	consecutive  atomic.Int64

	sleep func(ctx context.Context, d time.Duration) error
}

// New 创建发布器
func New(q *queue.Queue[events.PublishEvent], st store.IncidentStore, ledger *Ledger, opts Options) *Publisher {
	tpl := opts.Template
	if tpl.Title == "" && tpl.Severity == "" && tpl.Body == "" {
		tpl = incident.DefaultTemplate()
	}
	if ledger == nil {
		ledger = NewLedger(nil)
	}
	return &Publisher{
		queue:   q,
		store:   st,
		ledger:  ledger,
		journal: opts.Journal,
		dir:     opts.Dir,
		tpl:     tpl,
		cfg:     opts.Config,
		misses:  make(map[string]int),
		sleep:   sleepContext,
	}
}

// TemplateFromConfig 将配置中的模板与默认模板合并
func TemplateFromConfig(cfg config.TemplateConfig) incident.Template {
	tpl := incident.DefaultTemplate()
	if s := strings.TrimSpace(cfg.Title); s != "" {
		tpl.Title = s
	}
	if s := strings.TrimSpace(cfg.Severity); s != "" {
		tpl.Severity = s
	}
	if cfg.Body != "" {
		tpl.Body = cfg.Body
	}
	return tpl
}

// Ledger 返回台账
func (p *Publisher) Ledger() *Ledger {
	return p.ledger
}

// Stats 返回运行统计
func (p *Publisher) Stats() Stats {
	return Stats{
		Published:           p.published.Load(),
		Skipped:             p.skipped.Load(),
		Failed:              p.failed.Load(),
		DeadLettered:        p.deadLettered.Load(),
		ConsecutiveFailures: p.consecutive.Load(),
		QueueDepth:          p.queue.Len(),
		OpenIncidents:       p.ledger.Len(),
	}
}

// Run 持续消费队列直到 ctx 取消或队列关闭
func (p *Publisher) Run(ctx context.Context) error {
	logger.Info("publisher", "发布器已启动",
		"min_delay", p.cfg.MinDelayDuration,
		"max_delay", p.cfg.MaxDelayDuration,
		"max_backoff", p.cfg.MaxBackoffDuration,
		"max_attempts", p.cfg.MaxAttempts,
		"open_incidents", p.ledger.Len())

	for {
		if err := p.ProcessNext(ctx); err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				logger.Info("publisher", "发布器已停止", "pending", p.queue.Len())
				return nil
			}
			return err
		}

		if err := p.sleep(ctx, p.nextDelay()); err != nil {
			logger.Info("publisher", "发布器已停止", "pending", p.queue.Len())
			return nil
		}
	}
}

// ProcessNext 取出一个事件并处理（队列为空时阻塞）
func (p *Publisher) ProcessNext(ctx context.Context) error {
	ev, err := p.queue.Dequeue(ctx)
	if err != nil {
		return err
	}
	p.handle(ctx, ev)
	return nil
}

type outcome struct {
	path   string
	status storage.EventStatus
}

func (p *Publisher) handle(ctx context.Context, ev events.PublishEvent) {
	var (
		out outcome
		err error
	)
	switch ev.Kind {
	case events.EventTypeOffline:
		out, err = p.publishOffline(ctx, ev)
	case events.EventTypeOnline:
		out, err = p.publishOnline(ctx, ev)
	default:
		err = permanent(fmt.Errorf("未知事件类型: %s", ev.Kind))
	}

	if err != nil {
		p.onFailure(ev, out, err)
		return
	}
	p.onSuccess(ev, out)
}

// publishOffline 创建事故记录并写入台账
func (p *Publisher) publishOffline(ctx context.Context, ev events.PublishEvent) (outcome, error) {
	if existing, ok := p.ledger.Get(ev.Service); ok {
		logger.Warn("publisher", "服务已有未解决事故，跳过重复的 OFFLINE 事件",
			"service", ev.Service, "path", existing.Path, "event_id", ev.ID)
		return outcome{path: existing.Path, status: storage.EventStatusSkipped}, nil
	}

	rec := incident.New(p.tpl, ev.Service, ev.Timestamp)
	content, err := rec.Render()
	if err != nil {
		return outcome{}, permanent(err)
	}
	path := incident.Path(p.dir, ev.Service, ev.Timestamp)

	version, err := p.store.Create(ctx, path, incident.CreateMessage(path), content)
	if err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return outcome{path: path}, err
		}
		// 上一次创建可能已成功但响应丢失：远端存在同一路径的未解决记录时直接接管
		doc, findErr := p.store.FindOpen(ctx, ev.Service)
		if findErr != nil || doc == nil || doc.Path != path {
			return outcome{path: path}, err
		}
		logger.Warn("publisher", "事故记录已存在，接管到台账", "service", ev.Service, "path", path)
		version, content = doc.Version, doc.Content
	}

	p.ledger.Put(Entry{
		Service:  ev.Service,
		Path:     path,
		Version:  version,
		Content:  content,
		OpenedAt: ev.Timestamp.UTC(),
	})
	logger.Info("publisher", "已创建事故记录",
		"service", ev.Service, "path", path, "detected_at", ev.FormattedTimestamp())
	return outcome{path: path, status: storage.EventStatusPublished}, nil
}

// publishOnline 将台账中的事故记录标记为已解决并移出台账
func (p *Publisher) publishOnline(ctx context.Context, ev events.PublishEvent) (outcome, error) {
	entry, ok := p.ledger.Get(ev.Service)
	if !ok {
		recovered, err := p.recoverEntry(ctx, ev.Service)
		if err != nil {
			return outcome{}, err
		}
		if recovered == nil {
			return outcome{}, fmt.Errorf("%s: %w", ev.Service, ErrNoOpenIncident)
		}
		entry = *recovered
	}

	rec, err := incident.Parse(entry.Content)
	if err != nil {
		return outcome{path: entry.Path}, permanent(fmt.Errorf("解析台账中的事故记录失败: %w", err))
	}
	rec.Resolve(ev.Timestamp)
	content, err := rec.Render()
	if err != nil {
		return outcome{path: entry.Path}, permanent(err)
	}

	if _, err := p.store.Update(ctx, entry.Path, incident.UpdateMessage(entry.Path), content, entry.Version); err != nil {
		// 其余错误（包括 404：令牌无权限或分支配置错误时 GitHub 也返回 404）一律保留台账重试
		if errors.Is(err, store.ErrConflict) {
			// 记录被外部修改：刷新版本号，下次重试使用最新版本
			p.refreshEntry(ctx, entry)
		}
		return outcome{path: entry.Path}, err
	}

	p.ledger.Remove(ev.Service)
	logger.Info("publisher", "已解决事故记录",
		"service", ev.Service, "path", entry.Path, "resolved_at", ev.FormattedTimestamp())
	return outcome{path: entry.Path, status: storage.EventStatusPublished}, nil
}

// recoverEntry 台账缺失时向事故存储查询未解决记录
func (p *Publisher) recoverEntry(ctx context.Context, service string) (*Entry, error) {
	doc, err := p.store.FindOpen(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("查找未解决事故失败: %w", err)
	}
	if doc == nil {
		return nil, nil
	}

	entry := Entry{
		Service: service,
		Path:    doc.Path,
		Version: doc.Version,
		Content: doc.Content,
	}
	if rec, err := incident.Parse(doc.Content); err == nil {
		entry.OpenedAt = rec.Meta.Date.Time
	}
	p.ledger.Put(entry)
	logger.Warn("publisher", "台账缺失，已从事故存储恢复未解决事故", "service", service, "path", doc.Path)
	return &entry, nil
}

func (p *Publisher) refreshEntry(ctx context.Context, entry Entry) {
	doc, err := p.store.FindOpen(ctx, entry.Service)
	if err != nil || doc == nil || doc.Path != entry.Path {
		return
	}
	entry.Version = doc.Version
	entry.Content = doc.Content
	p.ledger.Put(entry)
	logger.Info("publisher", "已刷新台账条目版本", "service", entry.Service, "path", entry.Path)
}

func (p *Publisher) onSuccess(ev events.PublishEvent, out outcome) {
	p.consecutive.Store(0)
	delete(p.misses, ev.ID)
	if out.status == storage.EventStatusSkipped {
		p.skipped.Add(1)
	} else {
		p.published.Add(1)
	}
	p.record(ev, out.path, out.status, "")
}

func (p *Publisher) onFailure(ev events.PublishEvent, out outcome, err error) {
	var perm *permanentError
	if errors.As(err, &perm) {
		p.failed.Add(1)
		ev.Attempts++
		p.deadLetter(ev, out.path, err)
		return
	}

	if errors.Is(err, ErrNoOpenIncident) {
		if p.offlinePending(ev.Service) {
			logger.Info("publisher", "对应的 OFFLINE 事件仍在重试，ONLINE 事件放回队尾",
				"service", ev.Service, "event_id", ev.ID)
			p.requeue(ev)
			return
		}

		p.failed.Add(1)
		ev.Attempts++
		p.misses[ev.ID]++
		misses := p.misses[ev.ID]
		logger.Error("publisher", "一致性错误：台账中没有该服务的未解决事故",
			"service", ev.Service, "event_id", ev.ID, "misses", misses, "limit", p.cfg.OrphanAttempts)
		if misses >= p.cfg.OrphanAttempts {
			delete(p.misses, ev.ID)
			p.deadLetter(ev, "", err)
			return
		}
		p.requeue(ev)
		return
	}

	p.failed.Add(1)
	p.consecutive.Add(1)
	ev.Attempts++
	if p.cfg.MaxAttempts > 0 && ev.Attempts >= p.cfg.MaxAttempts {
		p.deadLetter(ev, out.path, err)
		return
	}
	logger.Warn("publisher", "发布失败，事件已放回队尾",
		"event_id", ev.ID, "kind", ev.Kind, "service", ev.Service,
		"attempts", ev.Attempts, "error", err)
	p.requeue(ev)
}

// offlinePending 队列中是否还有该服务待重试的 OFFLINE 事件
func (p *Publisher) offlinePending(service string) bool {
	for _, pending := range p.queue.Snapshot() {
		if pending.Kind == events.EventTypeOffline && pending.Service == service {
			return true
		}
	}
	return false
}

func (p *Publisher) requeue(ev events.PublishEvent) {
	if !p.queue.Enqueue(ev) {
		logger.Error("publisher", "队列已关闭，事件未能放回",
			"event_id", ev.ID, "kind", ev.Kind, "service", ev.Service)
	}
}

func (p *Publisher) deadLetter(ev events.PublishEvent, path string, err error) {
	p.deadLettered.Add(1)
	logger.Error("publisher", "事件已丢弃（死信）",
		"event_id", ev.ID, "kind", ev.Kind, "service", ev.Service,
		"attempts", ev.Attempts, "error", err)
	p.record(ev, path, storage.EventStatusDeadLetter, err.Error())
}

// record 写入发布日志，失败只告警
func (p *Publisher) record(ev events.PublishEvent, path string, status storage.EventStatus, errMsg string) {
	if p.journal == nil {
		return
	}
	rec := &storage.EventRecord{
		EventID:    ev.ID,
		Kind:       string(ev.Kind),
		Service:    ev.Service,
		ObservedAt: ev.Timestamp.Unix(),
		Status:     status,
		Path:       path,
		Attempts:   ev.Attempts + 1,
		Error:      errMsg,
	}
	if status == storage.EventStatusDeadLetter {
		rec.Attempts = ev.Attempts
	}
	if err := p.journal.SaveEvent(rec); err != nil {
		logger.Warn("publisher", "写入发布日志失败", "event_id", ev.ID, "error", err)
	}
}

// nextDelay 计算下一次出队前的等待时间
// 随机间隔 [min_delay, max_delay]；连续失败时按 min_delay << n 指数退避，上限 max_backoff
func (p *Publisher) nextDelay() time.Duration {
	lo, hi := p.cfg.MinDelayDuration, p.cfg.MaxDelayDuration
	d := lo
	if hi > lo {
		d += time.Duration(rand.Int64N(int64(hi-lo) + 1))
	}

	if n := p.consecutive.Load(); n > 0 && lo > 0 {
		backoff := lo << min(n, 30)
		if backoff <= 0 || backoff > p.cfg.MaxBackoffDuration {
			backoff = p.cfg.MaxBackoffDuration
		}
		d = max(d, backoff)
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
