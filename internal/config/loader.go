package config

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"statuswatch/internal/logger"
)

// Loader 配置加载器
// 保存最近一次加载成功的配置，热更新失败时回滚
type Loader struct {
	mu      sync.RWMutex
	current *AppConfig
}

// NewLoader 创建配置加载器
func NewLoader() *Loader {
	return &Loader{}
}

// Parse 解析 YAML 配置内容并完成环境变量覆盖、规范化和校验
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Normalize(); err != nil {
		return nil, fmt.Errorf("配置规范化失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置校验失败: %w", err)
	}
	return &cfg, nil
}

// Load 读取并解析配置文件
func (l *Loader) Load(filename string) (*AppConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

// LoadOrRollback 重新加载配置；失败时保留上一次成功的配置并返回错误
func (l *Loader) LoadOrRollback(filename string) (*AppConfig, error) {
	cfg, err := l.Load(filename)
	if err != nil {
		if l.Current() != nil {
			logger.Warn("config", "新配置无效，继续使用旧配置", "error", err)
		}
		return nil, err
	}
	return cfg, nil
}

// Current 返回最近一次加载成功的配置
func (l *Loader) Current() *AppConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}
