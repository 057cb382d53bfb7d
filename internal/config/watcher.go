package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"statuswatch/internal/logger"
)

// reloadDebounce 合并同一次保存触发的多个文件事件
const reloadDebounce = 200 * time.Millisecond

// Watcher 监听配置文件变化，校验通过后回调 onReload。
// 校验失败时 Loader 保留上一份配置，回调不会被触发。
type Watcher struct {
	loader   *Loader
	target   string // 已 Clean 的配置文件路径
	fsw      *fsnotify.Watcher
	onReload func(*AppConfig)
	debounce time.Duration

	mu   sync.Mutex
	dirs map[string]bool
}

// NewWatcher 创建配置监听器
func NewWatcher(loader *Loader, filename string, onReload func(*AppConfig)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		loader:   loader,
		target:   filepath.Clean(filename),
		fsw:      fsw,
		onReload: onReload,
		debounce: reloadDebounce,
		dirs:     make(map[string]bool),
	}, nil
}

// Start 注册目录监听并在后台处理事件，ctx 取消后关闭 fsnotify
func (w *Watcher) Start(ctx context.Context) error {
	// 编辑器常用"写临时文件再 rename"的方式保存，直接监听文件会在第一次保存后失效，
	// 所以监听所在目录，再按文件名过滤
	dir := filepath.Dir(w.target)
	if err := w.watchDir(dir); err != nil {
		return err
	}
	logger.Info("config", "配置热更新已开启", "file", w.target, "dir", dir)

	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
		w.fsw.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info("config", "配置监听器退出")
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.target {
				continue
			}

			if triggersReload(ev.Op) {
				// 连续事件只保留最后一次
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(w.debounce, w.reload)
			}

			// 文件被替换后 inode 变了，重新挂一次目录监听
			if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
				if err := w.watchDir(filepath.Dir(w.target)); err != nil {
					logger.Error("config", "重新注册目录监听失败", "error", err)
				}
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Error("config", "fsnotify 报错", "error", err)
		}
	}
}

// triggersReload 写入、新建、改名都可能代表一次保存
func triggersReload(op fsnotify.Op) bool {
	return op.Has(fsnotify.Write) || op.Has(fsnotify.Create) || op.Has(fsnotify.Rename)
}

func (w *Watcher) reload() {
	logger.Info("config", "配置文件有变化，重新加载")
	cfg, err := w.loader.LoadOrRollback(w.target)
	if err != nil {
		logger.Error("config", "新配置无效，继续使用旧配置", "error", err)
		return
	}
	logger.Info("config", "配置已更新", "tasks", len(cfg.Tasks))
	if w.onReload != nil {
		w.onReload(cfg)
	}
}

// Stop 关闭底层 fsnotify；一般由 ctx 取消完成，这里供没有 ctx 的调用方使用
func (w *Watcher) Stop() error {
	return w.fsw.Close()
}

// watchDir 同一目录只注册一次
func (w *Watcher) watchDir(dir string) error {
	dir = filepath.Clean(dir)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dirs[dir] {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	w.dirs[dir] = true
	return nil
}
