package store

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"statuswatch/internal/config"
	"statuswatch/internal/logger"
)

// FindOpen 每次最多扫描的记录数（按文件名倒序，文件名以时间戳开头）
const maxScanDocuments = 100

// 限速令牌桶容量
const githubBurst = 5

// GitHubStore 通过 GitHub Contents API 读写状态页仓库
// 版本号即文件的 blob sha
type GitHubStore struct {
	client  *http.Client
	apiBase string
	token   string
	owner   string
	repo    string
	branch  string
	dir     string
	limiter *rate.Limiter // nil 表示不限速
}

// NewGitHubStore 创建 GitHub 存储（支持代理）
func NewGitHubStore(cfg config.GitHubConfig, dir string) (*GitHubStore, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
	}

	// 如果配置了代理，使用配置的代理
	if strings.TrimSpace(cfg.Proxy) != "" {
		proxyURL, err := url.Parse(strings.TrimSpace(cfg.Proxy))
		if err != nil {
			return nil, fmt.Errorf("解析 github.proxy 失败: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	if cfg.Owner() == "" || cfg.Name() == "" {
		return nil, fmt.Errorf("github.repo 格式错误: %q", cfg.Repo)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), githubBurst)
	}

	return &GitHubStore{
		client: &http.Client{
			Timeout:   cfg.TimeoutDuration,
			Transport: transport,
		},
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		token:   strings.TrimSpace(cfg.Token),
		owner:   cfg.Owner(),
		repo:    cfg.Name(),
		branch:  strings.TrimSpace(cfg.Branch),
		dir:     dir,
		limiter: limiter,
	}, nil
}

type contentsPutRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

type contentsPutResponse struct {
	Content struct {
		Path string `json:"path"`
		SHA  string `json:"sha"`
	} `json:"content"`
}

type contentsEntry struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Type     string `json:"type"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// Create 实现 IncidentStore
func (s *GitHubStore) Create(ctx context.Context, p, message, content string) (string, error) {
	return s.put(ctx, p, message, content, "")
}

// Update 实现 IncidentStore
func (s *GitHubStore) Update(ctx context.Context, p, message, content, version string) (string, error) {
	if version == "" {
		return "", fmt.Errorf("更新 %s 失败: 缺少版本号", p)
	}
	return s.put(ctx, p, message, content, version)
}

func (s *GitHubStore) put(ctx context.Context, p, message, content, sha string) (string, error) {
	body, err := json.Marshal(contentsPutRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString([]byte(content)),
		SHA:     sha,
		Branch:  s.branch,
	})
	if err != nil {
		return "", fmt.Errorf("构造请求失败: %w", err)
	}

	req, err := s.newRequest(ctx, http.MethodPut, s.contentsURL(p, false), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.do(req)
	if err != nil {
		return "", fmt.Errorf("请求 GitHub 失败 (%s): %w", p, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, p); err != nil {
		return "", err
	}

	var out contentsPutResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("解析 GitHub 响应失败 (%s): %w", p, err)
	}
	if out.Content.SHA == "" {
		return "", fmt.Errorf("GitHub 响应缺少 content.sha (%s)", p)
	}

	logger.Debug("store", "已提交事故记录", "path", p, "message", message, "sha", out.Content.SHA)
	return out.Content.SHA, nil
}

// FindOpen 实现 IncidentStore
func (s *GitHubStore) FindOpen(ctx context.Context, service string) (*Document, error) {
	var entries []contentsEntry
	if err := s.getJSON(ctx, s.contentsURL(s.dir, true), s.dir, &entries); err != nil {
		return nil, fmt.Errorf("列出事故目录失败: %w", err)
	}

	files := make([]contentsEntry, 0, len(entries))
	for _, e := range entries {
		if e.Type == "file" && strings.HasSuffix(e.Name, ".md") {
			files = append(files, e)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name > files[j].Name })
	if len(files) > maxScanDocuments {
		files = files[:maxScanDocuments]
	}

	docs := make([]Document, 0, len(files))
	for _, f := range files {
		p := f.Path
		if p == "" {
			p = path.Join(s.dir, f.Name)
		}
		var file contentsEntry
		if err := s.getJSON(ctx, s.contentsURL(p, true), p, &file); err != nil {
			return nil, err
		}
		content, err := decodeContent(file)
		if err != nil {
			return nil, fmt.Errorf("解码 %s 失败: %w", p, err)
		}
		docs = append(docs, Document{Path: p, Version: file.SHA, Content: content})
	}
	return findOpen(docs, service), nil
}

func (s *GitHubStore) getJSON(ctx context.Context, u, p string, out any) error {
	req, err := s.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := s.do(req)
	if err != nil {
		return fmt.Errorf("请求 GitHub 失败 (%s): %w", p, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, p); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析 GitHub 响应失败 (%s): %w", p, err)
	}
	return nil
}

// do 按限速发送请求
func (s *GitHubStore) do(req *http.Request) (*http.Response, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	return s.client.Do(req)
}

func (s *GitHubStore) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("创建 GitHub 请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", "StatusWatch/1.0")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	return req, nil
}

func (s *GitHubStore) contentsURL(p string, withRef bool) string {
	segments := strings.Split(strings.Trim(p, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		s.apiBase, url.PathEscape(s.owner), url.PathEscape(s.repo), strings.Join(segments, "/"))
	if withRef && s.branch != "" {
		u += "?ref=" + url.QueryEscape(s.branch)
	}
	return u
}

// checkStatus 将 GitHub 的冲突/不存在状态映射为哨兵错误
func checkStatus(resp *http.Response, p string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg := readErrorMessage(resp.Body)
	switch resp.StatusCode {
	case http.StatusConflict, http.StatusUnprocessableEntity:
		// 409: sha 过期；422: 创建时文件已存在（未提供 sha）
		return fmt.Errorf("GitHub %s (%s: %s): %w", resp.Status, p, msg, ErrConflict)
	case http.StatusNotFound:
		return fmt.Errorf("GitHub %s (%s): %w", resp.Status, p, ErrNotFound)
	default:
		return fmt.Errorf("GitHub HTTP 状态异常: %s (%s: %s)", resp.Status, p, msg)
	}
}

func readErrorMessage(r io.Reader) string {
	var body struct {
		Message string `json:"message"`
	}
	data, _ := io.ReadAll(io.LimitReader(r, 4<<10))
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(data))
}

func decodeContent(e contentsEntry) (string, error) {
	if e.Encoding != "" && e.Encoding != "base64" {
		return "", fmt.Errorf("不支持的编码: %s", e.Encoding)
	}
	// GitHub 返回的 base64 每 60 字符换行
	raw := strings.NewReplacer("\n", "", "\r", "").Replace(e.Content)
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
