package incident

import (
	"strings"
	"testing"
	"time"
)

var detectedAt = time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

func TestRenderOpenRecord(t *testing.T) {
	t.Parallel()

	content, err := New(DefaultTemplate(), "API", detectedAt).Render()
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	wantHeader := `---
section: issue
title: Disruption Detected
date: 2024-05-01T12:30:00Z
resolved: false
informational: false
resolvedWhen: ""
affected:
  - API
severity: disrupted
---
`
	if !strings.HasPrefix(content, wantHeader) {
		t.Fatalf("头部不符合预期:\n%s", content)
	}
	if !strings.HasSuffix(content, DefaultBody) {
		t.Fatalf("正文不符合预期:\n%s", content)
	}
	if strings.Count(content, "resolved: false") != 1 || strings.Count(content, `resolvedWhen: ""`) != 1 {
		t.Fatalf("未解决标记应唯一出现:\n%s", content)
	}
}

func TestResolveRoundTrip(t *testing.T) {
	t.Parallel()

	content, err := New(DefaultTemplate(), "API", detectedAt).Render()
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	rec, err := Parse(content)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !rec.IsOpen() || !rec.Affects("API") {
		t.Fatalf("解析结果不符合预期: %+v", rec.Meta)
	}

	resolvedAt := detectedAt.Add(15 * time.Minute)
	rec.Resolve(resolvedAt)
	updated, err := rec.Render()
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	if strings.Contains(updated, "resolved: false") || strings.Contains(updated, `resolvedWhen: ""`) {
		t.Fatalf("不应残留未解决标记:\n%s", updated)
	}
	if !strings.Contains(updated, "resolved: true") {
		t.Fatalf("应包含 resolved: true:\n%s", updated)
	}
	if !strings.Contains(updated, "resolvedWhen: 2024-05-01T12:45:00Z") {
		t.Fatalf("应包含解决时间:\n%s", updated)
	}
	if !strings.Contains(updated, "date: 2024-05-01T12:30:00Z") {
		t.Fatalf("创建时间不应改变:\n%s", updated)
	}
	if !strings.HasSuffix(updated, DefaultBody) {
		t.Fatalf("正文不应改变:\n%s", updated)
	}
}

func TestParseLegacyRecord(t *testing.T) {
	t.Parallel()

	// 旧版机器人生成的记录：带微秒的时间戳、4 空格缩进
	legacy := "---\nsection: issue\ntitle: Disruption Detected\ndate: 2021-03-04T05:06:07.123456Z\nresolved: false\ninformational: false\nresolvedWhen: \"\"\naffected:\n    - Web\nseverity: disrupted\n---\nbody text\n"

	rec, err := Parse(legacy)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !rec.IsOpen() || !rec.Affects("Web") || rec.Affects("API") {
		t.Fatalf("解析结果不符合预期: %+v", rec.Meta)
	}
	if !rec.Meta.ResolvedWhen.IsZero() {
		t.Fatalf("resolvedWhen 应为空, got %v", rec.Meta.ResolvedWhen)
	}
	if rec.Meta.Date.Year() != 2021 {
		t.Fatalf("date 解析错误: %v", rec.Meta.Date)
	}
	if rec.Body != "body text\n" {
		t.Fatalf("Body = %q", rec.Body)
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"no front matter", "hello world\n"},
		{"unterminated", "---\nsection: issue\n"},
		{"bad yaml", "---\nsection: [issue\n---\n"},
		{"bad date", "---\ndate: yesterday\n---\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.content); err == nil {
				t.Fatalf("Parse(%q) 应返回错误", tt.content)
			}
		})
	}
}

func TestParseCRLFAndNoBody(t *testing.T) {
	t.Parallel()

	rec, err := Parse("---\r\nsection: issue\r\nresolved: true\r\n---")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if rec.IsOpen() || rec.Body != "" {
		t.Fatalf("解析结果不符合预期: %+v body=%q", rec.Meta, rec.Body)
	}
}

func TestPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		service string
		prefix  string
	}{
		{"API", "content/issues/2024-05-01-123000-api-"},
		{"Main Website", "content/issues/2024-05-01-123000-main-website-"},
		{"db/primary!", "content/issues/2024-05-01-123000-db-primary-"},
		{"???", "content/issues/2024-05-01-123000-service-"},
	}
	for _, tt := range tests {
		got := Path("content/issues", tt.service, detectedAt)
		suffix, ok := strings.CutPrefix(got, tt.prefix)
		if !ok || !strings.HasSuffix(suffix, ".md") {
			t.Errorf("Path(%q) = %s, want prefix %s", tt.service, got, tt.prefix)
			continue
		}
		if hash := strings.TrimSuffix(suffix, ".md"); len(hash) != 6 || strings.Trim(hash, "0123456789abcdef") != "" {
			t.Errorf("Path(%q) 短哈希格式不正确: %q", tt.service, hash)
		}
		if Path("content/issues", tt.service, detectedAt) != got {
			t.Errorf("Path(%q) 应是确定的", tt.service)
		}
	}

	local := detectedAt.In(time.FixedZone("UTC+8", 8*3600))
	if Path("content/issues", "API", local) != Path("content/issues", "API", detectedAt) {
		t.Error("路径应统一使用 UTC")
	}
}

func TestPathDistinguishesSameSlug(t *testing.T) {
	t.Parallel()

	if Slug("API v1") != Slug("API-v1") {
		t.Fatal("前提：两个服务名的 slug 相同")
	}
	a := Path("content/issues", "API v1", detectedAt)
	b := Path("content/issues", "API-v1", detectedAt)
	if a == b {
		t.Fatalf("slug 相同的不同服务在同一时刻不应得到相同路径: %s", a)
	}
}

func TestMessages(t *testing.T) {
	t.Parallel()

	p := "content/issues/2024-05-01-123000-api.md"
	if got := CreateMessage(p); got != "create 2024-05-01-123000-api.md" {
		t.Errorf("CreateMessage = %s", got)
	}
	if got := UpdateMessage(p); got != "update 2024-05-01-123000-api.md" {
		t.Errorf("UpdateMessage = %s", got)
	}
}
