package main

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"statuswatch/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "校验配置文件",
	Long: `解析并校验配置文件，但不启动任何服务。

退出码:
  0 - 配置有效
  1 - 配置无效（错误信息输出到 stderr）`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "config.yaml", "配置文件路径")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	if err := config.LoadDotenvFromConfigDir(configFile, false); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  %v\n", err)
	}

	cfg, err := config.NewLoader().Load(configFile)
	if err != nil {
		return fmt.Errorf("配置无效: %w", err)
	}

	fmt.Println("✅ 配置有效")
	fmt.Printf("  巡检间隔:   %s\n", cfg.IntervalDuration)
	fmt.Printf("  探测超时:   %s\n", cfg.TimeoutDuration)
	fmt.Printf("  最大并发:   %d\n", cfg.MaxConcurrency)
	fmt.Printf("  事故存储:   %s (%s)\n", cfg.IncidentStore.Type, cfg.IncidentStore.Dir)
	fmt.Printf("  本地存储:   %s\n", storageType(cfg))
	fmt.Println()

	renderTasks(os.Stdout, cfg.Tasks)
	return nil
}

func renderTasks(w io.Writer, tasks []config.TaskConfig) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Name", "Category", "Scheme", "Target", "Code", "Enabled"})
	for _, t := range tasks {
		code := ""
		if t.Scheme == config.SchemeHTTP {
			code = fmt.Sprint(t.Code)
		}
		tw.AppendRow(table.Row{t.Name, t.Category, t.Scheme, t.URL, code, !t.Disabled})
	}
	tw.Render()
}

func storageType(cfg *config.AppConfig) string {
	if cfg.Storage.Type == "" {
		return "sqlite"
	}
	return cfg.Storage.Type
}
