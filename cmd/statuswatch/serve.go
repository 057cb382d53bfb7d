package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"statuswatch/internal/api"
	"statuswatch/internal/buildinfo"
	"statuswatch/internal/config"
	"statuswatch/internal/events"
	"statuswatch/internal/logger"
	"statuswatch/internal/monitor"
	"statuswatch/internal/publisher"
	"statuswatch/internal/queue"
	"statuswatch/internal/scheduler"
	"statuswatch/internal/storage"
	"statuswatch/internal/store"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动监测服务",
	Long: `启动监测服务：
  - 按 interval 周期并发探测全部监测项
  - 检测到中断/恢复时写入或关闭事故记录
  - 配置文件变更时热更新监测项
  - 可选的只读管理 API（api.enabled）

收到 SIGINT/SIGTERM 后优雅退出。`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "config.yaml", "配置文件路径")
}

func runServe(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")

	// 加载 .env 文件（仅用于本地开发，不覆盖已有环境变量）
	if err := config.LoadDotenvFromConfigDir(configFile, false); err != nil {
		logger.Warn("main", ".env 加载失败", "error", err)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(configFile)
	if err != nil {
		return fmt.Errorf("无法加载配置文件: %w", err)
	}
	logger.Configure(cfg.Log.Level, cfg.Log.Format)

	logger.Info("main", "statuswatch 启动",
		"version", buildinfo.GetVersion(),
		"git_commit", buildinfo.GetGitCommit(),
		"build_time", buildinfo.GetBuildTime())
	logger.Info("main", "配置加载完成",
		"tasks", len(cfg.Tasks),
		"interval", cfg.IntervalDuration,
		"timeout", cfg.TimeoutDuration,
		"max_concurrency", cfg.MaxConcurrency,
		"incident_store", cfg.IncidentStore.Type)

	// 本地存储：台账镜像与发布日志
	db, err := storage.New(&cfg.Storage)
	if err != nil {
		return fmt.Errorf("初始化存储失败: %w", err)
	}
	defer db.Close()
	logger.Info("main", "存储已就绪", "type", storageType(cfg))

	incidents, err := store.New(&cfg.IncidentStore)
	if err != nil {
		return fmt.Errorf("初始化事故存储失败: %w", err)
	}

	ledger := publisher.NewLedger(db)
	if err := ledger.Load(); err != nil {
		logger.Warn("main", "恢复事故台账失败，从空台账开始", "error", err)
	}

	q := queue.New[events.PublishEvent]()
	pub := publisher.New(q, incidents, ledger, publisher.Options{
		Dir:      cfg.IncidentStore.Dir,
		Template: publisher.TemplateFromConfig(cfg.IncidentStore.Template),
		Config:   cfg.Publisher,
		Journal:  db,
	})

	prober := monitor.NewProber(cfg.UserAgent)
	defer prober.Close()
	sched := scheduler.New(prober, q, cfg)

	// 台账中的服务按中断状态开始，停机期间恢复的服务会在首个周期产生 ONLINE
	open := ledger.Snapshot()
	services := make([]string, 0, len(open))
	for _, e := range open {
		services = append(services, e.Service)
	}
	sched.SeedOpenIncidents(services)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 配置热更新：只有监测项与探测参数会生效，存储与发布器配置需要重启
	watcher, err := config.NewWatcher(loader, configFile, func(newCfg *config.AppConfig) {
		sched.UpdateConfig(newCfg)
		sched.TriggerNow()
	})
	if err != nil {
		logger.Warn("main", "配置监听器创建失败，热更新功能不可用", "error", err)
	} else if err := watcher.Start(ctx); err != nil {
		logger.Warn("main", "配置监听器启动失败，热更新功能不可用", "error", err)
	} else {
		defer watcher.Stop()
		logger.Info("main", "配置热更新已启用")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return pub.Run(gctx) })

	cleaner := storage.NewCleaner(db, &cfg.Storage.Retention)
	g.Go(func() error {
		cleaner.Start(gctx)
		return nil
	})

	if cfg.API.IsEnabled() {
		server := api.NewServer(api.NewHandler(sched, pub, db), cfg.API.Addr)
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Stop(shutdownCtx)
		})
	}

	err = g.Wait()
	q.Close()
	cleaner.Stop()

	if pending := q.Len(); pending > 0 {
		logger.Warn("main", "退出时仍有未发布的事件", "pending", pending,
			"open_incidents", ledger.Len())
	}
	if err != nil {
		return err
	}
	logger.Info("main", "服务已安全退出")
	return nil
}
