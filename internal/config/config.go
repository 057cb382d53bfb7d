// Package config 负责加载、规范化和校验 statuswatch 的 YAML 配置
package config

import (
	"time"
)

// 监测项分类（与 events.Category 取值一致）
const (
	CategoryReference = "Reference"
	CategoryNormal    = "Normal"
)

// 探测方式
const (
	SchemeHTTP = "http"
	SchemeTCP  = "tcp"
)

// AppConfig 应用配置
type AppConfig struct {
	// ===== 探测配置 =====

	// 巡检间隔（支持 Go duration 格式，例如 "30s"、"1m"，默认 "60s"）
	Interval string `yaml:"interval" json:"interval"`

	// 解析后的巡检间隔（内部使用，不序列化）
	IntervalDuration time.Duration `yaml:"-" json:"-"`

	// 单次探测超时（默认 "10s"）
	Timeout string `yaml:"timeout" json:"timeout"`

	// 解析后的探测超时（内部使用，不序列化）
	TimeoutDuration time.Duration `yaml:"-" json:"-"`

	// 单周期内并发探测的最大 goroutine 数（默认 8；-1 表示与监测项数量持平）
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency"`

	// HTTP 探测使用的 User-Agent
	UserAgent string `yaml:"user_agent" json:"user_agent"`

	// ===== 组件配置 =====

	// 日志配置
	Log LogConfig `yaml:"log" json:"log"`

	// 事故记录存储（状态页内容仓库）
	IncidentStore IncidentStoreConfig `yaml:"incident_store" json:"incident_store"`

	// 发布器重试策略
	Publisher PublisherConfig `yaml:"publisher" json:"publisher"`

	// 本地持久化（台账镜像与发布日志）
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// 管理 API
	API APIConfig `yaml:"api" json:"api"`

	// 监测项列表
	Tasks []TaskConfig `yaml:"tasks" json:"tasks"`
}

// TaskConfig 单个监测项
type TaskConfig struct {
	// 服务名（唯一，会写入事故记录的 affected 列表）
	Name string `yaml:"name" json:"name"`

	// 探测地址：http 方式为完整 URL，tcp 方式为 host:port（也接受 tcp://host:port）
	URL string `yaml:"url" json:"url"`

	// 期望的 HTTP 状态码（默认 200，仅 http 方式使用）
	Code int `yaml:"code" json:"code"`

	// 分类：Reference 或 Normal（默认 Normal，大小写不敏感）
	Category string `yaml:"category" json:"category"`

	// 探测方式：http 或 tcp（为空时按 URL 推断）
	Scheme string `yaml:"scheme" json:"scheme"`

	// 单独覆盖的探测超时（可选）
	Timeout string `yaml:"timeout" json:"timeout,omitempty"`

	// 解析后的超时（内部使用，未配置时继承全局）
	TimeoutDuration time.Duration `yaml:"-" json:"-"`

	// 临时停用（不探测、不产生事件）
	Disabled bool `yaml:"disabled" json:"disabled,omitempty"`
}

// IsReference 是否为参照项
func (t *TaskConfig) IsReference() bool {
	return t.Category == CategoryReference
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug/info/warn/error（默认 info）
	Format string `yaml:"format" json:"format"` // text/json（默认 text）
}

// APIConfig 管理 API 配置
type APIConfig struct {
	// 是否启用（默认 true）
	Enabled *bool `yaml:"enabled" json:"enabled"`

	// 监听地址（默认 ":8080"）
	Addr string `yaml:"addr" json:"addr"`
}

// IsEnabled 返回是否启用管理 API
func (c *APIConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// ActiveTasks 返回未停用的监测项
func (c *AppConfig) ActiveTasks() []TaskConfig {
	out := make([]TaskConfig, 0, len(c.Tasks))
	for _, t := range c.Tasks {
		if t.Disabled {
			continue
		}
		out = append(out, t)
	}
	return out
}
