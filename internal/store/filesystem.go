package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"statuswatch/internal/logger"
)

// FileStore 本地目录存储（例如状态页仓库的本地 checkout）
// 版本号为内容的 sha256，用于乐观并发
type FileStore struct {
	root string
	dir  string
	mu   sync.Mutex
}

// NewFileStore 创建本地目录存储
// root 为仓库根目录，dir 为事故记录相对目录（如 content/issues）
func NewFileStore(root, dir string) (*FileStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("filesystem 存储 root 不能为空")
	}
	if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(dir)), 0o755); err != nil {
		return nil, fmt.Errorf("创建事故目录失败: %w", err)
	}
	return &FileStore{root: root, dir: dir}, nil
}

func contentVersion(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func (s *FileStore) abs(p string) (string, error) {
	clean := path.Clean("/" + p)[1:]
	if clean == "" || clean != strings.TrimPrefix(p, "/") {
		return "", fmt.Errorf("非法路径: %s", p)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Create 实现 IncidentStore
func (s *FileStore) Create(ctx context.Context, p, message, content string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := s.abs(p)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("创建目录失败: %w", err)
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("创建 %s 失败: %w", p, ErrConflict)
		}
		return "", fmt.Errorf("创建 %s 失败: %w", p, err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return "", fmt.Errorf("写入 %s 失败: %w", p, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("写入 %s 失败: %w", p, err)
	}

	logger.Debug("store", "已写入事故记录", "path", p, "message", message)
	return contentVersion(content), nil
}

// Update 实现 IncidentStore
func (s *FileStore) Update(ctx context.Context, p, message, content, version string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := s.abs(p)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("更新 %s 失败: %w", p, ErrNotFound)
		}
		return "", fmt.Errorf("读取 %s 失败: %w", p, err)
	}
	if contentVersion(string(cur)) != version {
		return "", fmt.Errorf("更新 %s 失败: %w", p, ErrConflict)
	}

	// 先写临时文件再 rename，避免读到写了一半的内容
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("写入 %s 失败: %w", p, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("替换 %s 失败: %w", p, err)
	}

	logger.Debug("store", "已更新事故记录", "path", p, "message", message)
	return contentVersion(content), nil
}

// FindOpen 实现 IncidentStore
func (s *FileStore) FindOpen(ctx context.Context, service string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dirAbs := filepath.Join(s.root, filepath.FromSlash(s.dir))
	entries, err := os.ReadDir(dirAbs)
	if err != nil {
		return nil, fmt.Errorf("读取事故目录失败: %w", err)
	}

	docs := make([]Document, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dirAbs, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("读取 %s 失败: %w", e.Name(), err)
		}
		docs = append(docs, Document{
			Path:    path.Join(s.dir, e.Name()),
			Version: contentVersion(string(data)),
			Content: string(data),
		})
	}
	return findOpen(docs, service), nil
}
