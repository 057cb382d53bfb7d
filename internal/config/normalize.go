package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Normalize 规范化配置（填充默认值、解析 duration、推断探测方式）
func (c *AppConfig) Normalize() error {
	if err := c.normalizeGlobalTimings(); err != nil {
		return err
	}
	c.normalizeGlobalDefaults()

	if err := c.normalizeTasks(); err != nil {
		return err
	}
	if err := c.IncidentStore.Normalize(); err != nil {
		return err
	}
	if err := c.Publisher.Normalize(); err != nil {
		return err
	}
	if err := c.Storage.Normalize(); err != nil {
		return err
	}
	return nil
}

// normalizeGlobalTimings 解析全局时间配置
func (c *AppConfig) normalizeGlobalTimings() error {
	d, err := parseDurationDefault(c.Interval, "60s", "interval")
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("interval 必须 > 0")
	}
	c.IntervalDuration = d

	d, err = parseDurationDefault(c.Timeout, "10s", "timeout")
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("timeout 必须 > 0")
	}
	c.TimeoutDuration = d
	return nil
}

// normalizeGlobalDefaults 填充全局默认值
func (c *AppConfig) normalizeGlobalDefaults() {
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = 8
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = "StatusWatch-Probe/1.0"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if strings.TrimSpace(c.API.Addr) == "" {
		c.API.Addr = ":8080"
	}
}

// normalizeTasks 规范化监测项
func (c *AppConfig) normalizeTasks() error {
	for i := range c.Tasks {
		t := &c.Tasks[i]
		t.Name = strings.TrimSpace(t.Name)
		t.URL = strings.TrimSpace(t.URL)

		switch strings.ToLower(strings.TrimSpace(t.Category)) {
		case "", "normal":
			t.Category = CategoryNormal
		case "reference":
			t.Category = CategoryReference
		default:
			return fmt.Errorf("tasks[%d] (%s): category 仅支持 Reference/Normal，当前值: %s", i, t.Name, t.Category)
		}

		scheme := strings.ToLower(strings.TrimSpace(t.Scheme))
		if scheme == "" {
			scheme = inferScheme(t.URL)
		}
		if scheme == "https" {
			scheme = SchemeHTTP
		}
		t.Scheme = scheme

		if t.Scheme == SchemeTCP {
			t.URL = strings.TrimPrefix(t.URL, "tcp://")
		}
		if t.Scheme == SchemeHTTP && t.Code == 0 {
			t.Code = 200
		}

		t.TimeoutDuration = c.TimeoutDuration
		if strings.TrimSpace(t.Timeout) != "" {
			d, err := time.ParseDuration(strings.TrimSpace(t.Timeout))
			if err != nil || d <= 0 {
				return fmt.Errorf("tasks[%d] (%s): timeout 无效: %q", i, t.Name, t.Timeout)
			}
			t.TimeoutDuration = d
		}
	}
	return nil
}

// inferScheme 根据 URL 推断探测方式
func inferScheme(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return SchemeHTTP
		case "tcp":
			return SchemeTCP
		}
	}
	return SchemeTCP
}

// parseDurationDefault 解析 duration，为空时使用默认值
func parseDurationDefault(value, def, field string) (time.Duration, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		v = def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s 解析失败: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s 不能为负数: %s", field, v)
	}
	return d, nil
}
