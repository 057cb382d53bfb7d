package config

import (
	"fmt"
	"strings"
	"time"
)

// StorageConfig 存储配置
type StorageConfig struct {
	Type string `yaml:"type" json:"type"` // "sqlite" 或 "postgres"

	// SQLite 配置
	SQLite SQLiteConfig `yaml:"sqlite" json:"sqlite"`

	// PostgreSQL 配置
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`

	// 发布日志保留与清理配置（默认禁用，需显式开启）
	Retention RetentionConfig `yaml:"retention" json:"retention"`
}

// SQLiteConfig SQLite 配置
type SQLiteConfig struct {
	Path string `yaml:"path" json:"path"` // 数据库文件路径
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	User            string `yaml:"user" json:"user"`
	Password        string `yaml:"password" json:"-"` // 不输出到 JSON
	Database        string `yaml:"database" json:"database"`
	SSLMode         string `yaml:"sslmode" json:"sslmode"`
	MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// Normalize 规范化存储配置（填充默认值）
func (c *StorageConfig) Normalize() error {
	c.Type = strings.ToLower(strings.TrimSpace(c.Type))
	if c.Type == "" {
		c.Type = "sqlite"
	}

	switch c.Type {
	case "sqlite":
		if strings.TrimSpace(c.SQLite.Path) == "" {
			c.SQLite.Path = "statuswatch.db"
		}
	case "postgres":
		p := &c.Postgres
		if p.Host == "" {
			p.Host = "localhost"
		}
		if p.Port == 0 {
			p.Port = 5432
		}
		if p.Database == "" {
			p.Database = "statuswatch"
		}
		if p.SSLMode == "" {
			p.SSLMode = "disable"
		}
		if p.MaxOpenConns == 0 {
			p.MaxOpenConns = 10
		}
		if p.MaxIdleConns == 0 {
			p.MaxIdleConns = 2
		}
		if p.User == "" {
			return fmt.Errorf("storage.postgres.user 不能为空")
		}
	default:
		return fmt.Errorf("storage.type 仅支持 sqlite 或 postgres，当前值: %s", c.Type)
	}

	return c.Retention.Normalize()
}

// RetentionConfig 发布日志保留与清理配置
type RetentionConfig struct {
	// 是否启用清理任务（默认 false，需要显式开启）
	Enabled *bool `yaml:"enabled" json:"enabled"`

	// 发布日志保留天数（默认 90）
	Days int `yaml:"days" json:"days"`

	// 清理任务执行间隔（默认 "6h"）
	CleanupInterval string `yaml:"cleanup_interval" json:"cleanup_interval"`

	// 每批删除的最大行数（默认 1000）
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// 单轮运行最多批次数（默认 50）
	MaxBatchesPerRun int `yaml:"max_batches_per_run" json:"max_batches_per_run"`

	// 调度抖动比例（默认 0.2，取值 [0,1]）
	Jitter float64 `yaml:"jitter" json:"jitter"`

	// 启动后首次清理的延迟（默认 "1m"）
	StartupDelay string `yaml:"startup_delay" json:"startup_delay"`

	// 解析后的时间间隔（内部使用，不序列化）
	CleanupIntervalDuration time.Duration `yaml:"-" json:"-"`
	StartupDelayDuration    time.Duration `yaml:"-" json:"-"`
}

// IsEnabled 返回是否启用清理任务
func (c *RetentionConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return false // 默认禁用（需要显式开启）
	}
	return *c.Enabled
}

// Normalize 规范化 retention 配置（填充默认值并解析 duration）
func (c *RetentionConfig) Normalize() error {
	if c.Days == 0 {
		c.Days = 90
	}
	if c.Days < 1 {
		return fmt.Errorf("storage.retention.days 必须 >= 1，当前值: %d", c.Days)
	}

	d, err := parseDurationDefault(c.CleanupInterval, "6h", "storage.retention.cleanup_interval")
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("storage.retention.cleanup_interval 必须 > 0")
	}
	c.CleanupIntervalDuration = d

	delay, err := parseDurationDefault(c.StartupDelay, "1m", "storage.retention.startup_delay")
	if err != nil {
		return err
	}
	if delay < 0 {
		return fmt.Errorf("storage.retention.startup_delay 不能为负数")
	}
	c.StartupDelayDuration = delay

	if c.BatchSize == 0 {
		c.BatchSize = 1000
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("storage.retention.batch_size 必须 >= 1，当前值: %d", c.BatchSize)
	}

	if c.MaxBatchesPerRun == 0 {
		c.MaxBatchesPerRun = 50
	}
	if c.MaxBatchesPerRun < 1 {
		return fmt.Errorf("storage.retention.max_batches_per_run 必须 >= 1，当前值: %d", c.MaxBatchesPerRun)
	}

	if c.Jitter == 0 {
		c.Jitter = 0.2
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		return fmt.Errorf("storage.retention.jitter 必须在 [0,1] 范围内，当前值: %g", c.Jitter)
	}

	return nil
}
