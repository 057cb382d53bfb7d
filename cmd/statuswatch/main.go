// statuswatch 监测一组服务并把中断/恢复写成状态页事故记录。
//
// 用法:
//
//	statuswatch serve -c config.yaml    # 启动巡检、发布器与管理 API
//	statuswatch validate -c config.yaml # 校验配置并列出监测项
//	statuswatch version                 # 打印版本信息
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"statuswatch/internal/buildinfo"
)

var rootCmd = &cobra.Command{
	Use:   "statuswatch",
	Short: "状态页事故监测器",
	Long: `statuswatch 按固定间隔探测配置的服务（HTTP 或 TCP），
在服务中断时向状态页内容仓库写入事故记录，恢复时将其标记为已解决。

参照项（category: Reference）用于判断监测端自身的网络状况：
参照项全部失败时，本周期普通项一律视为成功，避免误报。`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "打印版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("statuswatch %s\n", buildinfo.GetVersion())
		fmt.Printf("  commit: %s\n", buildinfo.GetGitCommit())
		fmt.Printf("  built:  %s\n", buildinfo.GetBuildTime())
		fmt.Printf("  go:     %s\n", buildinfo.GetGoVersion())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
