package monitor

import (
	"net"
	"net/http"
	"time"
)

// newHTTPClient 创建探测用 HTTP 客户端
// 注意：不设置 Timeout，由 probe.go 使用 context.WithTimeout 控制每个请求的超时
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		// 不跟随重定向：3xx 与期望状态码不一致时视为失败
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
