package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"statuswatch/internal/logger"
)

// 事故存储类型
const (
	StoreTypeGitHub     = "github"
	StoreTypeFilesystem = "filesystem"
	StoreTypeMemory     = "memory"
)

// IncidentStoreConfig 事故记录存储配置
type IncidentStoreConfig struct {
	// 存储类型：github / filesystem / memory（默认 github）
	Type string `yaml:"type" json:"type"`

	// 事故记录所在目录（默认 content/issues）
	Dir string `yaml:"dir" json:"dir"`

	// GitHub 仓库配置
	GitHub GitHubConfig `yaml:"github" json:"github"`

	// 本地目录配置
	Filesystem FilesystemConfig `yaml:"filesystem" json:"filesystem"`

	// 事故记录模板
	Template TemplateConfig `yaml:"template" json:"template"`
}

// GitHubConfig GitHub 内容仓库配置
type GitHubConfig struct {
	// 访问令牌（建议通过环境变量 GITHUB_TOKEN 注入；不返回给 API）
	Token string `yaml:"token" json:"-"`

	// 仓库坐标，格式 owner/name
	Repo string `yaml:"repo" json:"repo"`

	// 分支（为空时使用仓库默认分支）
	Branch string `yaml:"branch" json:"branch,omitempty"`

	// API 地址（默认 https://api.github.com，GitHub Enterprise 可覆盖）
	APIBase string `yaml:"api_base" json:"api_base"`

	// 代理地址（可选）；为空时自动回退到 HTTPS_PROXY 环境变量
	Proxy string `yaml:"proxy" json:"proxy,omitempty"`

	// 请求超时时间（默认 "30s"）
	Timeout string `yaml:"timeout" json:"timeout"`

	// 解析后的超时时间（内部使用，不序列化）
	TimeoutDuration time.Duration `yaml:"-" json:"-"`

	// 每分钟最多请求数（默认 60；-1 表示不限速）
	// GitHub 对写内容类请求有二级限流，连续突发会被拒绝
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// Owner 返回仓库 owner
func (c *GitHubConfig) Owner() string {
	owner, _, _ := strings.Cut(c.Repo, "/")
	return owner
}

// Name 返回仓库名
func (c *GitHubConfig) Name() string {
	_, name, _ := strings.Cut(c.Repo, "/")
	return name
}

// FilesystemConfig 本地目录存储配置
type FilesystemConfig struct {
	// 状态页仓库的本地根目录
	Root string `yaml:"root" json:"root"`
}

// TemplateConfig 事故记录模板（为空的字段使用内置默认值）
type TemplateConfig struct {
	Title    string `yaml:"title" json:"title"`
	Severity string `yaml:"severity" json:"severity"`
	Body     string `yaml:"body" json:"body,omitempty"`
}

// Normalize 规范化事故存储配置
func (c *IncidentStoreConfig) Normalize() error {
	c.Type = strings.ToLower(strings.TrimSpace(c.Type))
	if c.Type == "" {
		c.Type = StoreTypeGitHub
	}

	c.Dir = strings.Trim(strings.TrimSpace(c.Dir), "/")
	if c.Dir == "" {
		c.Dir = "content/issues"
	}

	switch c.Type {
	case StoreTypeGitHub:
		return c.GitHub.Normalize()
	case StoreTypeFilesystem:
		c.Filesystem.Root = strings.TrimSpace(c.Filesystem.Root)
		if c.Filesystem.Root == "" {
			return fmt.Errorf("incident_store.filesystem.root 不能为空")
		}
	case StoreTypeMemory:
		logger.Warn("config", "incident_store.type=memory：事故记录只保存在内存中（dry-run）")
	default:
		return fmt.Errorf("incident_store.type 仅支持 github/filesystem/memory，当前值: %s", c.Type)
	}
	return nil
}

// Normalize 规范化 GitHub 配置（默认值、环境变量覆盖、基础校验）
func (c *GitHubConfig) Normalize() error {
	// token：环境变量优先覆盖
	if envToken := strings.TrimSpace(os.Getenv("GITHUB_TOKEN")); envToken != "" {
		c.Token = envToken
	} else {
		c.Token = strings.TrimSpace(c.Token)
	}
	if c.Token == "" {
		return fmt.Errorf("incident_store.github.token 不能为空（可通过 GITHUB_TOKEN 注入）")
	}

	c.Repo = strings.Trim(strings.TrimSpace(c.Repo), "/")
	if strings.Count(c.Repo, "/") != 1 || c.Owner() == "" || c.Name() == "" {
		return fmt.Errorf("incident_store.github.repo 格式应为 owner/name，当前值: %q", c.Repo)
	}
	c.Branch = strings.TrimSpace(c.Branch)

	c.APIBase = strings.TrimRight(strings.TrimSpace(c.APIBase), "/")
	if c.APIBase == "" {
		c.APIBase = "https://api.github.com"
	}
	if err := validateBaseURL(c.APIBase, "incident_store.github.api_base"); err != nil {
		return err
	}

	// proxy：优先使用配置；为空时回退到 HTTPS_PROXY
	c.Proxy = strings.TrimSpace(c.Proxy)
	if c.Proxy == "" {
		if envProxy := strings.TrimSpace(os.Getenv("HTTPS_PROXY")); envProxy != "" {
			c.Proxy = envProxy
		}
	}
	if err := validateProxyURL(c.Proxy); err != nil {
		logger.Warn("config", "github.proxy 无效，已忽略", "value", c.Proxy, "error", err)
		c.Proxy = ""
	} else {
		c.Proxy = normalizeProxyURL(c.Proxy)
	}

	// timeout：默认 30s
	if strings.TrimSpace(c.Timeout) == "" {
		c.Timeout = "30s"
	}
	d, err := time.ParseDuration(strings.TrimSpace(c.Timeout))
	if err != nil || d <= 0 {
		logger.Warn("config", "github.timeout 无效，已回退默认值", "value", c.Timeout, "default", "30s")
		d = 30 * time.Second
		c.Timeout = "30s"
	}
	c.TimeoutDuration = d

	if c.RequestsPerMinute == 0 {
		c.RequestsPerMinute = 60
	}
	if c.RequestsPerMinute < -1 {
		return fmt.Errorf("incident_store.github.requests_per_minute 必须 >= -1，当前值: %d", c.RequestsPerMinute)
	}

	return nil
}

// PublisherConfig 发布器重试策略
type PublisherConfig struct {
	// 两次出队之间的随机间隔下限（默认 "200ms"）
	MinDelay string `yaml:"min_delay" json:"min_delay"`

	// 两次出队之间的随机间隔上限（默认 "600ms"）
	MaxDelay string `yaml:"max_delay" json:"max_delay"`

	// 连续失败时指数退避的上限（默认 "30s"）
	MaxBackoff string `yaml:"max_backoff" json:"max_backoff"`

	// 单个事件最多尝试次数，超过后进入死信（默认 0 = 无限重试）
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// ONLINE 事件找不到未解决事故时最多重试次数（默认 5）
	OrphanAttempts int `yaml:"orphan_attempts" json:"orphan_attempts"`

	// 解析后的时间间隔（内部使用，不序列化）
	MinDelayDuration   time.Duration `yaml:"-" json:"-"`
	MaxDelayDuration   time.Duration `yaml:"-" json:"-"`
	MaxBackoffDuration time.Duration `yaml:"-" json:"-"`
}

// Normalize 规范化发布器配置
func (c *PublisherConfig) Normalize() error {
	var err error
	if c.MinDelayDuration, err = parseDurationDefault(c.MinDelay, "200ms", "publisher.min_delay"); err != nil {
		return err
	}
	if c.MaxDelayDuration, err = parseDurationDefault(c.MaxDelay, "600ms", "publisher.max_delay"); err != nil {
		return err
	}
	if c.MaxBackoffDuration, err = parseDurationDefault(c.MaxBackoff, "30s", "publisher.max_backoff"); err != nil {
		return err
	}
	if c.MaxDelayDuration < c.MinDelayDuration {
		return fmt.Errorf("publisher.max_delay (%v) 不能小于 publisher.min_delay (%v)", c.MaxDelayDuration, c.MinDelayDuration)
	}
	if c.MaxBackoffDuration < c.MaxDelayDuration {
		c.MaxBackoffDuration = c.MaxDelayDuration
	}

	if c.MaxAttempts < 0 {
		return fmt.Errorf("publisher.max_attempts 必须 >= 0，当前值: %d", c.MaxAttempts)
	}
	if c.OrphanAttempts == 0 {
		c.OrphanAttempts = 5
	}
	if c.OrphanAttempts < 0 {
		return fmt.Errorf("publisher.orphan_attempts 必须 >= 1，当前值: %d", c.OrphanAttempts)
	}
	return nil
}
