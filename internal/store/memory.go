package store

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// MemoryStore 进程内存储（dry-run 与测试使用）
type MemoryStore struct {
	mu      sync.Mutex
	dir     string
	docs    map[string]Document
	counter int64
}

// NewMemoryStore 创建内存存储，dir 为事故记录目录
func NewMemoryStore(dir string) *MemoryStore {
	return &MemoryStore{
		dir:  dir,
		docs: make(map[string]Document),
	}
}

func (s *MemoryStore) nextVersionLocked() string {
	s.counter++
	return "v" + strconv.FormatInt(s.counter, 10)
}

// Create 实现 IncidentStore
func (s *MemoryStore) Create(ctx context.Context, p, message, content string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[p]; exists {
		return "", fmt.Errorf("创建 %s 失败: %w", p, ErrConflict)
	}
	v := s.nextVersionLocked()
	s.docs[p] = Document{Path: p, Version: v, Content: content}
	return v, nil
}

// Update 实现 IncidentStore
func (s *MemoryStore) Update(ctx context.Context, p, message, content, version string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.docs[p]
	if !exists {
		return "", fmt.Errorf("更新 %s 失败: %w", p, ErrNotFound)
	}
	if cur.Version != version {
		return "", fmt.Errorf("更新 %s 失败（当前版本 %s，提交版本 %s）: %w", p, cur.Version, version, ErrConflict)
	}
	v := s.nextVersionLocked()
	s.docs[p] = Document{Path: p, Version: v, Content: content}
	return v, nil
}

// FindOpen 实现 IncidentStore
func (s *MemoryStore) FindOpen(ctx context.Context, service string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return findOpen(s.List(), service), nil
}

// Get 按路径读取记录
func (s *MemoryStore) Get(p string) (Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[p]
	return d, ok
}

// List 返回事故目录下的全部记录（按路径排序）
func (s *MemoryStore) List() []Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Document, 0, len(s.docs))
	for p, d := range s.docs {
		if s.dir != "" && path.Dir(p) != path.Clean(s.dir) {
			continue
		}
		if !strings.HasSuffix(p, ".md") {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
