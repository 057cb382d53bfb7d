package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

const minimalYAML = `
incident_store:
  type: memory
tasks:
  - name: Google
    url: https://www.google.com
    category: reference
  - name: API
    url: https://api.example.com/health
  - name: DB
    url: db.internal:5432
`

func TestParseMinimalAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.IntervalDuration != 60*time.Second {
		t.Errorf("IntervalDuration = %v, want 60s", cfg.IntervalDuration)
	}
	if cfg.TimeoutDuration != 10*time.Second {
		t.Errorf("TimeoutDuration = %v, want 10s", cfg.TimeoutDuration)
	}
	if cfg.MaxConcurrency != 8 {
		t.Errorf("MaxConcurrency = %d, want 8", cfg.MaxConcurrency)
	}
	if cfg.IncidentStore.Dir != "content/issues" {
		t.Errorf("IncidentStore.Dir = %q", cfg.IncidentStore.Dir)
	}
	if cfg.Storage.Type != "sqlite" || cfg.Storage.SQLite.Path != "statuswatch.db" {
		t.Errorf("Storage 默认值错误: %+v", cfg.Storage)
	}
	if !cfg.API.IsEnabled() || cfg.API.Addr != ":8080" {
		t.Errorf("API 默认值错误: %+v", cfg.API)
	}
	if cfg.Publisher.MinDelayDuration != 200*time.Millisecond || cfg.Publisher.MaxDelayDuration != 600*time.Millisecond {
		t.Errorf("Publisher 默认间隔错误: %+v", cfg.Publisher)
	}
	if cfg.Publisher.MaxAttempts != 0 || cfg.Publisher.OrphanAttempts != 5 {
		t.Errorf("Publisher 默认重试策略错误: %+v", cfg.Publisher)
	}

	ref, api, db := cfg.Tasks[0], cfg.Tasks[1], cfg.Tasks[2]
	if ref.Category != CategoryReference || !ref.IsReference() {
		t.Errorf("Google 应为 Reference, got %s", ref.Category)
	}
	if api.Category != CategoryNormal || api.Scheme != SchemeHTTP || api.Code != 200 {
		t.Errorf("API 规范化错误: %+v", api)
	}
	if api.TimeoutDuration != 10*time.Second {
		t.Errorf("API 应继承全局超时, got %v", api.TimeoutDuration)
	}
	if db.Scheme != SchemeTCP {
		t.Errorf("DB 应推断为 tcp, got %s", db.Scheme)
	}
}

func TestParseTaskOverrides(t *testing.T) {
	yml := `
incident_store: {type: memory}
timeout: 5s
tasks:
  - name: Redirector
    url: http://example.com/old
    code: 301
    timeout: 2s
  - name: SSH
    url: tcp://bastion.example.com:22
  - name: Paused
    url: https://paused.example.com
    disabled: true
`
	cfg, err := Parse([]byte(yml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Tasks[0].Code != 301 || cfg.Tasks[0].TimeoutDuration != 2*time.Second {
		t.Errorf("覆盖配置未生效: %+v", cfg.Tasks[0])
	}
	if cfg.Tasks[1].Scheme != SchemeTCP || cfg.Tasks[1].URL != "bastion.example.com:22" {
		t.Errorf("tcp:// 前缀应被去除: %+v", cfg.Tasks[1])
	}
	if cfg.Tasks[1].TimeoutDuration != 5*time.Second {
		t.Errorf("SSH 应继承全局超时 5s, got %v", cfg.Tasks[1].TimeoutDuration)
	}
	if n := len(cfg.ActiveTasks()); n != 2 {
		t.Errorf("ActiveTasks = %d, want 2", n)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "no tasks",
			yaml:    "incident_store: {type: memory}\n",
			wantErr: "至少需要配置一个监测项",
		},
		{
			name: "duplicate names",
			yaml: `incident_store: {type: memory}
tasks:
  - {name: A, url: "https://a.example.com"}
  - {name: A, url: "https://b.example.com"}
`,
			wantErr: "重名",
		},
		{
			name: "bad category",
			yaml: `incident_store: {type: memory}
tasks:
  - {name: A, url: "https://a.example.com", category: Critical}
`,
			wantErr: "category",
		},
		{
			name: "bad tcp address",
			yaml: `incident_store: {type: memory}
tasks:
  - {name: A, url: "just-a-host", scheme: tcp}
`,
			wantErr: "host:port",
		},
		{
			name: "http url without host",
			yaml: `incident_store: {type: memory}
tasks:
  - {name: A, url: "http:///health"}
`,
			wantErr: "缺少主机名",
		},
		{
			name: "only references",
			yaml: `incident_store: {type: memory}
tasks:
  - {name: R, url: "https://r.example.com", category: Reference}
`,
			wantErr: "Normal",
		},
		{
			name: "unknown field",
			yaml: `incident_store: {type: memory}
refresh: 10s
tasks:
  - {name: A, url: "https://a.example.com"}
`,
			wantErr: "refresh",
		},
		{
			name: "bad interval",
			yaml: `incident_store: {type: memory}
interval: soon
tasks:
  - {name: A, url: "https://a.example.com"}
`,
			wantErr: "interval",
		},
		{
			name: "bad store type",
			yaml: `incident_store: {type: s3}
tasks:
  - {name: A, url: "https://a.example.com"}
`,
			wantErr: "incident_store.type",
		},
		{
			name: "filesystem without root",
			yaml: `incident_store: {type: filesystem}
tasks:
  - {name: A, url: "https://a.example.com"}
`,
			wantErr: "filesystem.root",
		},
		{
			name: "max delay below min delay",
			yaml: `incident_store: {type: memory}
publisher: {min_delay: 1s, max_delay: 100ms}
tasks:
  - {name: A, url: "https://a.example.com"}
`,
			wantErr: "publisher.max_delay",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("Parse() 应返回错误")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("错误信息 %q 应包含 %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestGitHubConfigNormalize(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "env-token")
	t.Setenv("HTTPS_PROXY", "")

	c := GitHubConfig{Token: "file-token", Repo: " /owner/status-page/ ", Timeout: "bogus"}
	if err := c.Normalize(); err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if c.Token != "env-token" {
		t.Errorf("GITHUB_TOKEN 应覆盖配置, got %q", c.Token)
	}
	if c.Owner() != "owner" || c.Name() != "status-page" {
		t.Errorf("repo 解析错误: %q/%q", c.Owner(), c.Name())
	}
	if c.APIBase != "https://api.github.com" {
		t.Errorf("APIBase = %q", c.APIBase)
	}
	if c.TimeoutDuration != 30*time.Second {
		t.Errorf("无效 timeout 应回退到 30s, got %v", c.TimeoutDuration)
	}

	bad := GitHubConfig{Token: "x", Repo: "no-slash"}
	if err := bad.Normalize(); err == nil {
		t.Error("repo 缺少 owner 时应报错")
	}
}

func TestGitHubConfigRequiresToken(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	c := GitHubConfig{Repo: "owner/repo"}
	if err := c.Normalize(); err == nil {
		t.Fatal("缺少 token 时应报错")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("STATUSWATCH_INTERVAL", "15s")
	t.Setenv("STATUSWATCH_STORAGE_TYPE", "postgres")
	t.Setenv("STATUSWATCH_POSTGRES_USER", "watcher")
	t.Setenv("STATUSWATCH_POSTGRES_PORT", "6543")

	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.IntervalDuration != 15*time.Second {
		t.Errorf("IntervalDuration = %v, want 15s", cfg.IntervalDuration)
	}
	if cfg.Storage.Type != "postgres" || cfg.Storage.Postgres.User != "watcher" || cfg.Storage.Postgres.Port != 6543 {
		t.Errorf("存储环境变量覆盖失败: %+v", cfg.Storage)
	}
}

func TestLoaderLoadOrRollback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader()
	first, err := loader.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if err := os.WriteFile(path, []byte("tasks: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loader.LoadOrRollback(path); err == nil {
		t.Fatal("无效配置应返回错误")
	}
	if loader.Current() != first {
		t.Fatal("无效配置不应替换当前配置")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	clone := cfg.Clone()
	clone.Tasks[0].Name = "changed"
	if cfg.Tasks[0].Name == "changed" {
		t.Fatal("Clone 应复制 Tasks 切片")
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader()
	if _, err := loader.Load(path); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	reloaded := make(chan *AppConfig, 1)
	w, err := NewWatcher(loader, path, func(c *AppConfig) {
		select {
		case reloaded <- c:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	updated := strings.Replace(minimalYAML, "incident_store:", "interval: 30s\nincident_store:", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-reloaded:
		if c.IntervalDuration != 30*time.Second {
			t.Fatalf("热更新后 interval = %v, want 30s", c.IntervalDuration)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("配置变更后应触发重载")
	}
}

func TestLoadDotenvFromConfigDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("STATUSWATCH_TEST_DOTENV=loaded\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STATUSWATCH_TEST_DOTENV", "")
	os.Unsetenv("STATUSWATCH_TEST_DOTENV")

	if err := LoadDotenvFromConfigDir(filepath.Join(dir, "config.yaml"), false); err != nil {
		t.Fatalf("LoadDotenvFromConfigDir() error = %v", err)
	}
	if got := os.Getenv("STATUSWATCH_TEST_DOTENV"); got != "loaded" {
		t.Fatalf("STATUSWATCH_TEST_DOTENV = %q, want loaded", got)
	}

	// 不存在的 .env 静默忽略
	if err := LoadDotenvFromConfigDir(filepath.Join(t.TempDir(), "config.yaml"), false); err != nil {
		t.Fatalf("缺少 .env 时不应报错: %v", err)
	}
}

func TestLoadDotenvKeepsExistingEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("STATUSWATCH_TEST_KEEP=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STATUSWATCH_TEST_KEEP", "from-env")

	if err := LoadDotenvFromConfigDir(filepath.Join(dir, "config.yaml"), true); err != nil {
		t.Fatalf("LoadDotenvFromConfigDir() error = %v", err)
	}
	if got := os.Getenv("STATUSWATCH_TEST_KEEP"); got != "from-env" {
		t.Fatalf("已有环境变量不应被 .env 覆盖, got %q", got)
	}
}

func TestLoadDotenvRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("KEY=\"unterminated\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := LoadDotenvFromConfigDir(filepath.Join(dir, "config.yaml"), false)
	if err == nil || !strings.Contains(err.Error(), ".env") {
		t.Fatalf("格式错误的 .env 应返回错误, got %v", err)
	}
}

func TestTriggersReload(t *testing.T) {
	tests := []struct {
		op   fsnotify.Op
		want bool
	}{
		{fsnotify.Write, true},
		{fsnotify.Create, true},
		{fsnotify.Rename, true},
		{fsnotify.Remove, false},
		{fsnotify.Chmod, false},
		{fsnotify.Write | fsnotify.Chmod, true},
	}
	for _, tt := range tests {
		if got := triggersReload(tt.op); got != tt.want {
			t.Errorf("triggersReload(%v) = %v, want %v", tt.op, got, tt.want)
		}
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	loader := NewLoader()
	if _, err := loader.Load(path); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	reloaded := make(chan struct{}, 1)
	w, err := NewWatcher(loader, path, func(*AppConfig) {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if err := w.Start(t.Context()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-reloaded:
		t.Fatal("同目录其它文件变化不应触发重载")
	case <-time.After(5 * reloadDebounce):
	}
}
