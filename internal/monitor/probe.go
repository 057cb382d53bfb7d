// Package monitor 实现探测策略：应用层（HTTP 状态码）与传输层（TCP 握手）
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"statuswatch/internal/config"
	"statuswatch/internal/logger"
)

// Checker 探测策略接口
// 普通网络错误必须转换为 false，不允许向上抛出
type Checker interface {
	Check(ctx context.Context, task config.TaskConfig) bool
}

// Result 单次探测的详细结果（CLI 诊断使用）
type Result struct {
	Name       string
	Scheme     string
	Target     string
	Succeeded  bool
	StatusCode int // 仅 http 方式
	Latency    time.Duration
	Error      error
}

// Prober 探测器
type Prober struct {
	client    *http.Client
	dialer    *net.Dialer
	userAgent string
}

// NewProber 创建探测器
func NewProber(userAgent string) *Prober {
	return &Prober{
		client:    newHTTPClient(),
		dialer:    &net.Dialer{},
		userAgent: userAgent,
	}
}

// Check 实现 Checker
func (p *Prober) Check(ctx context.Context, task config.TaskConfig) bool {
	return p.Probe(ctx, task).Succeeded
}

// Probe 按监测项的探测方式执行一次探测
func (p *Prober) Probe(ctx context.Context, task config.TaskConfig) *Result {
	// 兜底：防止 TimeoutDuration 未下发导致请求无期限挂起
	timeout := task.TimeoutDuration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result *Result
	switch task.Scheme {
	case config.SchemeTCP:
		result = p.probeTCP(ctx, task)
	default:
		result = p.probeHTTP(ctx, task)
	}

	if result.Error != nil {
		if errors.Is(result.Error, context.DeadlineExceeded) {
			result.Error = fmt.Errorf("探测超时(%v): %w", timeout, result.Error)
		}
		logger.Warn("probe", "探测失败",
			"task", task.Name, "scheme", result.Scheme, "target", task.URL,
			"latency_ms", result.Latency.Milliseconds(), "error", result.Error)
	} else {
		logger.Debug("probe", "探测成功",
			"task", task.Name, "scheme", result.Scheme, "target", task.URL,
			"latency_ms", result.Latency.Milliseconds())
	}
	return result
}

// probeHTTP 发送 GET 请求，状态码与期望一致视为成功
func (p *Prober) probeHTTP(ctx context.Context, task config.TaskConfig) *Result {
	result := &Result{Name: task.Name, Scheme: config.SchemeHTTP, Target: task.URL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		result.Error = fmt.Errorf("创建请求失败: %w", err)
		return result
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	result.Latency = time.Since(start)
	if err != nil {
		drainAndClose(resp)
		result.Error = err
		return result
	}
	defer drainAndClose(resp)

	result.StatusCode = resp.StatusCode
	expected := task.Code
	if expected == 0 {
		expected = http.StatusOK
	}
	if resp.StatusCode != expected {
		result.Error = fmt.Errorf("状态码不一致: 期望 %d，实际 %d", expected, resp.StatusCode)
		return result
	}

	result.Succeeded = true
	return result
}

// probeTCP 建立 TCP 连接，握手成功视为成功
func (p *Prober) probeTCP(ctx context.Context, task config.TaskConfig) *Result {
	result := &Result{Name: task.Name, Scheme: config.SchemeTCP, Target: task.URL}

	start := time.Now()
	conn, err := p.dialer.DialContext(ctx, "tcp", task.URL)
	result.Latency = time.Since(start)
	if err != nil {
		result.Error = err
		return result
	}
	_ = conn.Close()

	result.Succeeded = true
	return result
}

// Close 关闭空闲连接
func (p *Prober) Close() {
	p.client.CloseIdleConnections()
}

// drainAndClose 读取并丢弃少量响应体后关闭，便于连接复用
func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
