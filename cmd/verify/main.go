package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/sync/errgroup"

	"statuswatch/internal/config"
	"statuswatch/internal/events"
	"statuswatch/internal/logger"
	"statuswatch/internal/monitor"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Config file path")
	only := flag.String("task", "", "Only probe the named task (optional)")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Parse()

	// 加载 .env 文件（仅用于本地开发，不覆盖已有环境变量）
	if err := config.LoadDotenvFromConfigDir(*configFile, *verbose); err != nil {
		fmt.Printf("⚠️  %v\n", err)
	}

	cfg, err := config.NewLoader().Load(*configFile)
	if err != nil {
		fmt.Printf("❌ 加载配置失败: %v\n", err)
		os.Exit(1)
	}

	level := "error"
	if *verbose {
		level = "debug"
	}
	logger.Configure(level, "text")

	tasks := cfg.ActiveTasks()
	if *only != "" {
		tasks = filterTask(tasks, *only)
		if len(tasks) == 0 {
			fmt.Printf("❌ 未找到监测项: %s\n", *only)
			os.Exit(1)
		}
	}

	fmt.Printf("🔍 探测 %d 个监测项 (timeout=%s)\n", len(tasks), cfg.TimeoutDuration)

	prober := monitor.NewProber(cfg.UserAgent)
	defer prober.Close()
	results := probeAll(context.Background(), prober, tasks, cfg.MaxConcurrency)

	// 按调度器同样的规则计算参照门控后的结果
	states := make([]*events.TaskState, 0, len(tasks))
	raw := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		states = append(states, events.NewTaskState(t.Name, events.Category(t.Category)))
		raw[t.Name] = results[t.Name].Succeeded
	}
	refOK := events.Evaluate(states, raw)

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Name", "Category", "Scheme", "Target", "Status", "Latency", "Raw", "Gated", "Error"})
	failed := 0
	for i, t := range tasks {
		r := results[t.Name]
		st := states[i]
		status := ""
		if r.StatusCode > 0 {
			status = fmt.Sprint(r.StatusCode)
		}
		errMsg := ""
		if r.Error != nil {
			errMsg = r.Error.Error()
		}
		if !st.IsReference() && !st.RelativeSuccess {
			failed++
		}
		tw.AppendRow(table.Row{
			t.Name, t.Category, t.Scheme, r.Target, status,
			r.Latency.Milliseconds(), mark(r.Succeeded), mark(st.RelativeSuccess), errMsg,
		})
	}
	tw.Render()

	if !refOK {
		fmt.Println("⚠️  参照项全部失败，普通项按成功处理（监测端网络可能异常）")
	}
	if failed > 0 {
		fmt.Printf("❌ %d 个监测项判定为中断\n", failed)
		os.Exit(1)
	}
	fmt.Println("✅ 全部监测项正常")
}

func probeAll(ctx context.Context, prober *monitor.Prober, tasks []config.TaskConfig, limit int) map[string]*monitor.Result {
	var mu sync.Mutex
	results := make(map[string]*monitor.Result, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, t := range tasks {
		g.Go(func() error {
			r := prober.Probe(gctx, t)
			mu.Lock()
			results[t.Name] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func filterTask(tasks []config.TaskConfig, name string) []config.TaskConfig {
	for _, t := range tasks {
		if t.Name == name {
			return []config.TaskConfig{t}
		}
	}
	return nil
}

func mark(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}
