package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// dotenvFile 返回与配置文件同目录的 .env 路径，configPath 为空时返回空串
func dotenvFile(configPath string) string {
	if configPath == "" {
		return ""
	}
	return filepath.Join(filepath.Dir(configPath), ".env")
}

// LoadDotenvFromConfigDir 读取配置文件旁边的 .env，把其中的变量补进进程环境。
//
// 已经设置的环境变量优先，.env 只填空缺；文件不存在视为正常情况。
// 部署时 token 等敏感值仍建议由 systemd / 容器注入，这里主要服务本地调试和 verify 工具。
func LoadDotenvFromConfigDir(configPath string, verbose bool) error {
	path := dotenvFile(configPath)
	if path == "" {
		return nil
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if verbose {
				fmt.Fprintf(os.Stderr, "[dotenv] %s 不存在，跳过\n", path)
			}
			return nil
		}
		return fmt.Errorf("读取 .env 失败 (%s): %w", path, err)
	}

	// godotenv.Load 不覆盖已有变量；Overload 才会覆盖
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("解析 .env 失败 (%s): %w", path, err)
	}

	if verbose {
		// 只打印路径，变量值可能是 token
		fmt.Fprintf(os.Stderr, "[dotenv] 已加载 %s\n", path)
	}
	return nil
}
