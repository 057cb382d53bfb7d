package monitor

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"statuswatch/internal/config"
)

func httpTask(url string, code int) config.TaskConfig {
	return config.TaskConfig{
		Name:            "svc",
		URL:             url,
		Code:            code,
		Scheme:          config.SchemeHTTP,
		TimeoutDuration: 2 * time.Second,
	}
}

func TestProbeHTTPExpectedStatus(t *testing.T) {
	t.Parallel()

	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProber("TestProbe/1.0")
	defer p.Close()

	res := p.Probe(context.Background(), httpTask(srv.URL, 200))
	if !res.Succeeded || res.StatusCode != 200 {
		t.Fatalf("期望成功, got %+v", res)
	}
	if gotUA != "TestProbe/1.0" {
		t.Fatalf("User-Agent = %q", gotUA)
	}
}

func TestProbeHTTPUnexpectedStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewProber("")
	if p.Check(context.Background(), httpTask(srv.URL, 200)) {
		t.Fatal("503 不应视为成功")
	}
	res := p.Probe(context.Background(), httpTask(srv.URL, 200))
	if res.Error == nil || !strings.Contains(res.Error.Error(), "503") {
		t.Fatalf("错误信息应包含实际状态码, got %v", res.Error)
	}
}

func TestProbeHTTPDoesNotFollowRedirects(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/target" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Redirect(w, r, "/target", http.StatusFound)
	}))
	defer srv.Close()

	p := NewProber("")
	if p.Check(context.Background(), httpTask(srv.URL+"/start", 200)) {
		t.Fatal("重定向不应被跟随，302 与期望 200 不一致")
	}
	if !p.Check(context.Background(), httpTask(srv.URL+"/start", 302)) {
		t.Fatal("期望 302 时应成功")
	}
}

func TestProbeHTTPTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	task := httpTask(srv.URL, 200)
	task.TimeoutDuration = 50 * time.Millisecond

	start := time.Now()
	res := NewProber("").Probe(context.Background(), task)
	if res.Succeeded {
		t.Fatal("超时不应视为成功")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("探测应在超时后返回")
	}
	if res.Error == nil || !strings.Contains(res.Error.Error(), "超时") {
		t.Fatalf("错误应标记为超时, got %v", res.Error)
	}
}

func TestProbeHTTPConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if NewProber("").Check(context.Background(), httpTask(url, 200)) {
		t.Fatal("连接失败不应视为成功")
	}
}

func TestProbeTCP(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	task := config.TaskConfig{Name: "tcp", URL: ln.Addr().String(), Scheme: config.SchemeTCP, TimeoutDuration: time.Second}
	p := NewProber("")
	if !p.Check(context.Background(), task) {
		t.Fatal("监听中的端口应探测成功")
	}

	ln.Close()
	if p.Check(context.Background(), task) {
		t.Fatal("关闭的端口应探测失败")
	}
}
