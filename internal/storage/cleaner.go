package storage

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"statuswatch/internal/config"
	"statuswatch/internal/logger"
)

const (
	lockBackoffMin = 50 * time.Millisecond
	lockBackoffMax = 5 * time.Second
)

// Cleaner 按保留天数分批删除 publish_events 中的旧记录。
// open_issues 台账不在清理范围内。
type Cleaner struct {
	storage Storage
	config  *config.RetentionConfig

	busy     atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleaner 创建清理任务
func NewCleaner(storage Storage, cfg *config.RetentionConfig) *Cleaner {
	return &Cleaner{
		storage: storage,
		config:  cfg,
		stopCh:  make(chan struct{}),
	}
}

// withJitter 在 d 上叠加 ±ratio 的随机偏移，多实例共用一个库时错开清理时间
func withJitter(d time.Duration, ratio float64) time.Duration {
	if ratio <= 0 || d <= 0 {
		return d
	}
	offset := float64(d) * ratio * (rand.Float64()*2 - 1)
	return d + time.Duration(offset)
}

// wait 等待 d；被 ctx 或 Stop 打断时返回 false
func (c *Cleaner) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.stopCh:
		return false
	}
}

// Start 阻塞运行清理循环，调用方自行放进 goroutine
func (c *Cleaner) Start(ctx context.Context) {
	cfg := c.config
	if !cfg.IsEnabled() {
		logger.Info("cleaner", "未开启发布日志清理")
		return
	}

	delay := withJitter(cfg.StartupDelayDuration, cfg.Jitter)
	logger.Info("cleaner", "发布日志清理已排期",
		"first_run_in", delay,
		"retention_days", cfg.Days,
		"interval", cfg.CleanupIntervalDuration)

	// 启动后先让出一段时间给调度器和发布器
	if !c.wait(ctx, delay) {
		return
	}
	for {
		c.RunOnce(ctx)
		if !c.wait(ctx, withJitter(cfg.CleanupIntervalDuration, cfg.Jitter)) {
			logger.Info("cleaner", "清理循环退出")
			return
		}
	}
}

// Stop 结束清理循环，可多次调用
func (c *Cleaner) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// isLockBusy SQLite 写锁被占用时返回 true，这类错误值得稍后重试
func isLockBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// RunOnce 删除截止时间之前的记录，每批 BatchSize 条，最多 MaxBatchesPerRun 批。
// 返回本轮删除总数；已有一轮在跑时直接返回 0。
func (c *Cleaner) RunOnce(ctx context.Context) int64 {
	if !c.busy.CompareAndSwap(false, true) {
		logger.Info("cleaner", "上一轮清理尚未结束，本轮跳过")
		return 0
	}
	defer c.busy.Store(false)

	cfg := c.config
	started := time.Now()
	cutoff := started.UTC().AddDate(0, 0, -cfg.Days)
	backoff := lockBackoffMin

	var deleted int64
	batches := 0
	for batches < cfg.MaxBatchesPerRun && ctx.Err() == nil {
		n, err := c.storage.PurgeOldEvents(ctx, cutoff, cfg.BatchSize)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			// 进程退出中，不算失败
			logger.Info("cleaner", "清理被中断", "deleted", deleted, "batches", batches)
			return deleted
		case isLockBusy(err):
			logger.Warn("cleaner", "数据库忙，稍后重试本批",
				"backoff", backoff, "deleted", deleted)
			if !c.wait(ctx, backoff) {
				return deleted
			}
			backoff = min(backoff*2, lockBackoffMax)
			continue
		default:
			logger.Error("cleaner", "清理发布日志失败", "error", err, "deleted", deleted)
			return deleted
		}

		backoff = lockBackoffMin
		deleted += n
		batches++
		// 不满一批说明已经删完
		if n < int64(cfg.BatchSize) {
			break
		}
	}

	if deleted > 0 {
		logger.Info("cleaner", "发布日志清理完成",
			"deleted", deleted,
			"batches", batches,
			"elapsed", time.Since(started),
			"cutoff", cutoff.Format(time.RFC3339))
	}
	return deleted
}
