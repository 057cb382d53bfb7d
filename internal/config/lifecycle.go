package config

import (
	"os"
	"strconv"
	"strings"
)

// ApplyEnvOverrides 应用环境变量覆盖
// 格式：STATUSWATCH_INTERVAL, STATUSWATCH_STORAGE_TYPE, STATUSWATCH_POSTGRES_HOST 等
// GitHub token 在 GitHubConfig.Normalize 中通过 GITHUB_TOKEN 覆盖
func (c *AppConfig) ApplyEnvOverrides() {
	if v := os.Getenv("STATUSWATCH_INTERVAL"); v != "" {
		c.Interval = v
	}
	if v := os.Getenv("STATUSWATCH_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("STATUSWATCH_API_ADDR"); v != "" {
		c.API.Addr = v
	}
	if v := os.Getenv("STATUSWATCH_INCIDENT_STORE_TYPE"); v != "" {
		c.IncidentStore.Type = v
	}
	if v := os.Getenv("STATUSWATCH_GITHUB_REPO"); v != "" {
		c.IncidentStore.GitHub.Repo = v
	}

	// 存储配置环境变量覆盖
	if v := os.Getenv("STATUSWATCH_STORAGE_TYPE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("STATUSWATCH_SQLITE_PATH"); v != "" {
		c.Storage.SQLite.Path = v
	}

	// PostgreSQL 配置环境变量覆盖
	pg := &c.Storage.Postgres
	if v := os.Getenv("STATUSWATCH_POSTGRES_HOST"); v != "" {
		pg.Host = v
	}
	if v := os.Getenv("STATUSWATCH_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			pg.Port = port
		}
	}
	if v := os.Getenv("STATUSWATCH_POSTGRES_USER"); v != "" {
		pg.User = v
	}
	if v := os.Getenv("STATUSWATCH_POSTGRES_PASSWORD"); v != "" {
		pg.Password = v
	}
	if v := os.Getenv("STATUSWATCH_POSTGRES_DATABASE"); v != "" {
		pg.Database = v
	}
	if v := os.Getenv("STATUSWATCH_POSTGRES_SSLMODE"); v != "" {
		pg.SSLMode = v
	}
}

// Clone 深拷贝配置（热更新时交给调度器，避免共享切片）
func (c *AppConfig) Clone() *AppConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.Tasks = append([]TaskConfig(nil), c.Tasks...)
	if c.API.Enabled != nil {
		v := *c.API.Enabled
		out.API.Enabled = &v
	}
	if c.Storage.Retention.Enabled != nil {
		v := *c.Storage.Retention.Enabled
		out.Storage.Retention.Enabled = &v
	}
	return &out
}
