package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"statuswatch/internal/logger"
)

// validateURL 验证 http 探测地址的格式和协议
func validateURL(rawURL, fieldName string) error {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("%s 格式无效: %w", fieldName, err)
	}

	// 只允许 http 和 https 协议
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%s 只支持 http:// 或 https:// 协议，收到: %q", fieldName, parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s 缺少主机名: %s", fieldName, rawURL)
	}
	return nil
}

// validateBaseURL 验证 API 地址；令牌会随请求发送，非 HTTPS 时告警
func validateBaseURL(baseURL, fieldName string) error {
	if err := validateURL(baseURL, fieldName); err != nil {
		return err
	}
	if strings.HasPrefix(strings.ToLower(baseURL), "http://") {
		logger.Warn("config", "API 地址使用了非加密的 http:// 协议，访问令牌将以明文发送", "field", fieldName, "url", baseURL)
	}
	return nil
}

// validateTCPAddress 验证 host:port 格式
func validateTCPAddress(addr, fieldName string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || strings.TrimSpace(host) == "" || port == "" {
		return fmt.Errorf("%s 格式应为 host:port，当前值: %s", fieldName, addr)
	}
	return nil
}

// validateProxyURL 验证代理地址（支持 http/https/socks5，socks 视为 socks5 别名）
func validateProxyURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("代理地址格式无效: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "http", "https", "socks5", "socks":
	default:
		return fmt.Errorf("代理协议无效（仅支持 http/https/socks5），收到: %q", u.Scheme)
	}

	if u.Hostname() == "" {
		return fmt.Errorf("代理地址缺少主机名: %s", raw)
	}
	if (scheme == "socks5" || scheme == "socks") && u.Port() == "" {
		return fmt.Errorf("SOCKS5 代理必须指定端口: %s", raw)
	}
	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("代理地址不支持路径: %s", raw)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("代理地址不支持 query/fragment: %s", raw)
	}
	return nil
}

// normalizeProxyURL 规范化代理地址：小写协议、socks 改写为 socks5、去掉尾部斜杠
// 调用前须已通过 validateProxyURL
func normalizeProxyURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme == "socks" {
		u.Scheme = "socks5"
	}
	u.Path = ""
	return u.String()
}
