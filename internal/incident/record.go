// Package incident 定义状态页事故记录（cState 格式 Markdown）的结构、
// 序列化与解析，以及记录路径的生成规则
package incident

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

const (
	frontMatterDelim = "---"

	// SectionIssue 事故记录固定的 section 值
	SectionIssue = "issue"
)

// DefaultBody 默认正文
const DefaultBody = `*Investigating* - We are investigating a potential issue that might affect the uptime of one of our services. We are sorry for any inconvenience this may cause you. This incident post will be updated once we have more information.

This is an automatic post by a monitor bot.
`

// Template 事故记录模板（标题、严重级别、正文可配置）
type Template struct {
	Title    string
	Severity string
	Body     string
}

// DefaultTemplate 返回默认模板
func DefaultTemplate() Template {
	return Template{
		Title:    "Disruption Detected",
		Severity: "disrupted",
		Body:     DefaultBody,
	}
}

// Timestamp 可为空的时间字段
// 零值序列化为 ""，非零值序列化为 ISO-8601 UTC 时间
type Timestamp struct {
	time.Time
}

// MarshalYAML 实现 yaml.Marshaler
func (t Timestamp) MarshalYAML() (any, error) {
	if t.IsZero() {
		return "", nil
	}
	return t.UTC().Truncate(time.Second), nil
}

// UnmarshalYAML 实现 yaml.Unmarshaler
func (t *Timestamp) UnmarshalYAML(node *yaml.Node) error {
	v := strings.TrimSpace(node.Value)
	if v == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return fmt.Errorf("解析时间字段失败 (%s): %w", v, err)
	}
	t.Time = parsed.UTC()
	return nil
}

// FrontMatter 事故记录头部字段（字段顺序即输出顺序）
type FrontMatter struct {
	Section       string    `yaml:"section"`
	Title         string    `yaml:"title"`
	Date          Timestamp `yaml:"date"`
	Resolved      bool      `yaml:"resolved"`
	Informational bool      `yaml:"informational"`
	ResolvedWhen  Timestamp `yaml:"resolvedWhen"`
	Affected      []string  `yaml:"affected"`
	Severity      string    `yaml:"severity"`
}

// Record 事故记录
type Record struct {
	Meta FrontMatter
	Body string
}

// New 按模板为服务创建一条未解决的事故记录
func New(tpl Template, service string, detectedAt time.Time) *Record {
	return &Record{
		Meta: FrontMatter{
			Section:       SectionIssue,
			Title:         tpl.Title,
			Date:          Timestamp{detectedAt.UTC()},
			Resolved:      false,
			Informational: false,
			Affected:      []string{service},
			Severity:      tpl.Severity,
		},
		Body: tpl.Body,
	}
}

// IsOpen 记录是否仍未解决
func (r *Record) IsOpen() bool {
	return !r.Meta.Resolved
}

// Affects 记录是否影响指定服务
func (r *Record) Affects(service string) bool {
	return slices.Contains(r.Meta.Affected, service)
}

// Resolve 标记为已解决并写入解决时间，其余字段保持不变
func (r *Record) Resolve(at time.Time) {
	r.Meta.Resolved = true
	r.Meta.ResolvedWhen = Timestamp{at.UTC()}
}

// Render 序列化为 "front matter + 正文" 的 Markdown 文本
func (r *Record) Render() (string, error) {
	var buf bytes.Buffer
	buf.WriteString(frontMatterDelim + "\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r.Meta); err != nil {
		return "", fmt.Errorf("序列化事故记录失败: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("序列化事故记录失败: %w", err)
	}

	buf.WriteString(frontMatterDelim + "\n")
	buf.WriteString(r.Body)
	return buf.String(), nil
}

// Parse 解析 Markdown 文本为事故记录
func Parse(content string) (*Record, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")

	if !strings.HasPrefix(content, frontMatterDelim+"\n") {
		return nil, fmt.Errorf("事故记录缺少 front matter 起始分隔符")
	}
	rest := content[len(frontMatterDelim)+1:]

	var header, body string
	if strings.HasPrefix(rest, frontMatterDelim+"\n") {
		body = rest[len(frontMatterDelim)+1:]
	} else {
		end := strings.Index(rest, "\n"+frontMatterDelim+"\n")
		if end < 0 {
			// 允许文件以结束分隔符收尾且没有正文
			if !strings.HasSuffix(rest, "\n"+frontMatterDelim) {
				return nil, fmt.Errorf("事故记录缺少 front matter 结束分隔符")
			}
			header = strings.TrimSuffix(rest, "\n"+frontMatterDelim)
		} else {
			header = rest[:end]
			body = rest[end+len(frontMatterDelim)+2:]
		}
	}

	var meta FrontMatter
	if err := yaml.Unmarshal([]byte(header), &meta); err != nil {
		return nil, fmt.Errorf("解析 front matter 失败: %w", err)
	}
	return &Record{Meta: meta, Body: body}, nil
}

// Slug 将服务名转换为适合文件名的片段
func Slug(service string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(service) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash && b.Len() > 0 {
			b.WriteByte('-')
			lastDash = true
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		return "service"
	}
	return s
}

// Path 根据检测时间与服务名生成记录路径
// 不同服务名可能得到相同的 slug（"API v1" 与 "API-v1"），文件名追加原始服务名的短哈希
func Path(dir string, service string, detectedAt time.Time) string {
	sum := sha256.Sum256([]byte(service))
	name := detectedAt.UTC().Format("2006-01-02-150405") + "-" + Slug(service) + "-" + hex.EncodeToString(sum[:3]) + ".md"
	return path.Join(dir, name)
}

// CreateMessage 创建记录时的提交信息
func CreateMessage(p string) string {
	return "create " + path.Base(p)
}

// UpdateMessage 更新记录时的提交信息
func UpdateMessage(p string) string {
	return "update " + path.Base(p)
}
