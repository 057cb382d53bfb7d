package scheduler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"statuswatch/internal/config"
	"statuswatch/internal/events"
	"statuswatch/internal/logger"
	"statuswatch/internal/monitor"
	"statuswatch/internal/queue"
)

// TaskStatus 单个监测项在最近一个周期的状态（API 展示用）
type TaskStatus struct {
	Name            string `json:"name"`
	Category        string `json:"category"`
	Scheme          string `json:"scheme"`
	LastSuccess     bool   `json:"last_success"`
	RawSuccess      bool   `json:"raw_success"`
	RelativeSuccess bool   `json:"relative_success"`
}

// Snapshot 最近一个周期的结果副本
type Snapshot struct {
	Cycle            int64        `json:"cycle"`
	CompletedAt      time.Time    `json:"completed_at"`
	ReferenceSuccess bool         `json:"reference_success"`
	Events           int          `json:"events"`
	Tasks            []TaskStatus `json:"tasks"`
}

// Scheduler 固定间隔调度器
//
// 每个周期：并发探测全部监测项 → 参照门控 → 边沿检测 → 事件入队。
// 监测项状态只由 Run 所在的 goroutine 读写。
type Scheduler struct {
	checker  monitor.Checker
	detector *events.Detector
	queue    *queue.Queue[events.PublishEvent]
	now      func() time.Time

	// 仅调度 goroutine 访问
	cfg    *config.AppConfig
	tasks  []*events.TaskState
	byName map[string]config.TaskConfig
	cycle  int64

	mu       sync.Mutex
	pending  *config.AppConfig // 热更新：下个周期开始时应用
	snapshot Snapshot
	wakeCh   chan struct{} // 唤醒信号（立即巡检）
}

// New 创建调度器
func New(checker monitor.Checker, q *queue.Queue[events.PublishEvent], cfg *config.AppConfig) *Scheduler {
	s := &Scheduler{
		checker:  checker,
		detector: events.NewDetector(),
		queue:    q,
		now:      time.Now,
		wakeCh:   make(chan struct{}, 1),
	}
	s.applyConfig(cfg)
	s.publishSnapshot(0)
	return s
}

// SeedOpenIncidents 将仍有未解决事故的服务标记为中断（须在 Run 之前调用）
//
// 重启后台账从存储恢复，而监测项状态默认为正常；不做标记的话，
// 在停机期间已恢复的服务永远不会产生 ONLINE 事件。
func (s *Scheduler) SeedOpenIncidents(services []string) {
	for _, name := range services {
		st := s.findTask(name)
		if st == nil {
			logger.Warn("scheduler", "未解决事故对应的监测项不在配置中，需人工处理", "service", name)
			continue
		}
		if st.IsReference() {
			continue
		}
		st.LastSuccess = false
		st.RawSuccess = false
		st.RelativeSuccess = false
		logger.Info("scheduler", "服务有未解决事故，按中断状态开始巡检", "service", name)
	}
	s.publishSnapshot(0)
}

func (s *Scheduler) findTask(name string) *events.TaskState {
	for _, st := range s.tasks {
		if st.Name == name {
			return st
		}
	}
	return nil
}

// UpdateConfig 提交新配置（热更新时调用），在下一个周期开始时由调度 goroutine 应用
func (s *Scheduler) UpdateConfig(cfg *config.AppConfig) {
	if cfg == nil {
		return
	}
	s.mu.Lock()
	s.pending = cfg
	s.mu.Unlock()
	logger.Info("scheduler", "配置已提交，将在下个周期生效", "tasks", len(cfg.Tasks))
}

// TriggerNow 立即开始下一个周期
func (s *Scheduler) TriggerNow() {
	s.mu.Lock()
	s.notifyWakeLocked()
	s.mu.Unlock()
	logger.Info("scheduler", "已触发即时巡检")
}

// Snapshot 返回最近一个周期的结果副本
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.snapshot
	out.Tasks = append([]TaskStatus(nil), s.snapshot.Tasks...)
	return out
}

// Run 运行调度循环直到 ctx 取消
func (s *Scheduler) Run(ctx context.Context) error {
	logger.Info("scheduler", "调度器已启动",
		"tasks", len(s.tasks), "interval", s.cfg.IntervalDuration)

	for {
		s.applyPending()
		s.RunCycle(ctx)

		timer := time.NewTimer(s.cfg.IntervalDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("scheduler", "调度器已停止")
			return nil
		case <-s.wakeCh:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// RunCycle 执行一个完整周期，返回本周期产生的事件
func (s *Scheduler) RunCycle(ctx context.Context) []events.PublishEvent {
	if len(s.tasks) == 0 {
		return nil
	}

	results := s.probeAll(ctx)

	// 关闭过程中被取消的探测结果不可信，丢弃本周期
	if ctx.Err() != nil {
		return nil
	}

	refOK := events.Evaluate(s.tasks, results)
	if !refOK {
		logger.Warn("scheduler", "参照项探测失败，本周期普通项视为成功（监测端网络可能异常）")
	}

	detected := s.detector.Detect(s.tasks, s.now())
	for _, ev := range detected {
		if !s.queue.Enqueue(ev) {
			logger.Error("scheduler", "发布队列已关闭，事件丢失",
				"event_id", ev.ID, "kind", ev.Kind, "service", ev.Service)
		}
	}

	s.cycle++
	s.publishSnapshot(len(detected))
	logger.Debug("scheduler", "周期完成",
		"cycle", s.cycle, "reference_success", refOK, "events", len(detected), "queue", s.queue.Len())
	return detected
}

// probeAll 并发探测全部监测项，等待全部完成
func (s *Scheduler) probeAll(ctx context.Context) map[string]bool {
	var (
		mu      sync.Mutex
		results = make(map[string]bool, len(s.tasks))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrencyLimit())

	for _, st := range s.tasks {
		task := s.byName[st.Name]
		g.Go(func() error {
			ok := s.checker.Check(gctx, task)
			mu.Lock()
			results[task.Name] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// concurrencyLimit -1 表示与监测项数量持平；>0 为硬上限
func (s *Scheduler) concurrencyLimit() int {
	limit := s.cfg.MaxConcurrency
	if limit == -1 || limit > len(s.tasks) {
		limit = len(s.tasks)
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

func (s *Scheduler) applyPending() {
	s.mu.Lock()
	cfg := s.pending
	s.pending = nil
	s.mu.Unlock()

	if cfg != nil {
		s.applyConfig(cfg)
		logger.Info("scheduler", "新配置已生效", "tasks", len(s.tasks), "interval", cfg.IntervalDuration)
	}
}

// applyConfig 根据配置重建监测项状态，按名称保留 LastSuccess
func (s *Scheduler) applyConfig(cfg *config.AppConfig) {
	prev := make(map[string]*events.TaskState, len(s.tasks))
	for _, st := range s.tasks {
		prev[st.Name] = st
	}

	active := cfg.ActiveTasks()
	tasks := make([]*events.TaskState, 0, len(active))
	byName := make(map[string]config.TaskConfig, len(active))
	for _, t := range active {
		st := events.NewTaskState(t.Name, events.Category(t.Category))
		if old, ok := prev[t.Name]; ok && old.Category == st.Category {
			st.LastSuccess = old.LastSuccess
			st.RawSuccess = old.RawSuccess
			st.RelativeSuccess = old.RelativeSuccess
		}
		tasks = append(tasks, st)
		byName[t.Name] = t
	}

	// 被移除的普通项如果仍处于中断状态，其事故记录需要人工处理
	for name, old := range prev {
		if _, kept := byName[name]; !kept && !old.IsReference() && !old.LastSuccess {
			logger.Warn("scheduler", "已移除的监测项仍处于中断状态，事故记录不会自动关闭", "service", name)
		}
	}

	s.cfg = cfg
	s.tasks = tasks
	s.byName = byName
}

func (s *Scheduler) publishSnapshot(eventCount int) {
	snap := Snapshot{
		Cycle:            s.cycle,
		CompletedAt:      s.now().UTC(),
		ReferenceSuccess: events.ReferenceSuccess(s.tasks),
		Events:           eventCount,
		Tasks:            make([]TaskStatus, 0, len(s.tasks)),
	}
	if s.cycle == 0 {
		snap.CompletedAt = time.Time{}
	}
	for _, st := range s.tasks {
		snap.Tasks = append(snap.Tasks, TaskStatus{
			Name:            st.Name,
			Category:        string(st.Category),
			Scheme:          s.byName[st.Name].Scheme,
			LastSuccess:     st.LastSuccess,
			RawSuccess:      st.RawSuccess,
			RelativeSuccess: st.RelativeSuccess,
		})
	}

	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
}

// notifyWakeLocked 唤醒调度循环（需持有 s.mu）
func (s *Scheduler) notifyWakeLocked() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
		// 已有唤醒信号，无需重复发送
	}
}
