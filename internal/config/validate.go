package config

import (
	"fmt"
)

// Validate 校验配置（需在 Normalize 之后调用）
func (c *AppConfig) Validate() error {
	if len(c.Tasks) == 0 {
		return fmt.Errorf("至少需要配置一个监测项 (tasks)")
	}
	if err := c.validateTaskUniqueness(); err != nil {
		return err
	}
	if err := c.validateTaskFields(); err != nil {
		return err
	}
	if c.MaxConcurrency < -1 {
		return fmt.Errorf("max_concurrency 必须 >= -1，当前值: %d", c.MaxConcurrency)
	}

	normal := 0
	for _, t := range c.ActiveTasks() {
		if !t.IsReference() {
			normal++
		}
	}
	if normal == 0 {
		return fmt.Errorf("至少需要一个启用的 Normal 监测项")
	}
	return nil
}

// validateTaskUniqueness 校验服务名唯一
func (c *AppConfig) validateTaskUniqueness() error {
	seen := make(map[string]int, len(c.Tasks))
	for i, t := range c.Tasks {
		if prev, ok := seen[t.Name]; ok {
			return fmt.Errorf("tasks[%d] 与 tasks[%d] 重名: %s", i, prev, t.Name)
		}
		seen[t.Name] = i
	}
	return nil
}

// validateTaskFields 校验单个监测项字段
func (c *AppConfig) validateTaskFields() error {
	for i, t := range c.Tasks {
		if t.Name == "" {
			return fmt.Errorf("tasks[%d]: name 不能为空", i)
		}
		if t.URL == "" {
			return fmt.Errorf("tasks[%d] (%s): url 不能为空", i, t.Name)
		}

		switch t.Scheme {
		case SchemeHTTP:
			if err := validateURL(t.URL, fmt.Sprintf("tasks[%d] (%s): url", i, t.Name)); err != nil {
				return err
			}
			if t.Code < 100 || t.Code > 599 {
				return fmt.Errorf("tasks[%d] (%s): code 必须是合法的 HTTP 状态码，当前值: %d", i, t.Name, t.Code)
			}
		case SchemeTCP:
			if err := validateTCPAddress(t.URL, fmt.Sprintf("tasks[%d] (%s): url", i, t.Name)); err != nil {
				return err
			}
		default:
			return fmt.Errorf("tasks[%d] (%s): scheme 仅支持 http/tcp，当前值: %s", i, t.Name, t.Scheme)
		}
	}
	return nil
}
