// Package store 定义外部事故记录存储（状态页内容仓库）的访问接口及其实现
package store

import (
	"context"
	"errors"
)

var (
	// ErrConflict 版本号过期或文件已存在（乐观并发冲突）
	ErrConflict = errors.New("store: version conflict")

	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("store: not found")
)

// Document 存储中的一条记录
type Document struct {
	Path    string
	Version string
	Content string
}

// IncidentStore 事故记录存储接口
//
// 所有错误对发布器而言都是可重试的；实现方只需返回带上下文的错误。
type IncidentStore interface {
	// Create 在 path 创建新记录，返回版本号
	Create(ctx context.Context, path, message, content string) (string, error)

	// Update 使用 version 做乐观并发更新，返回新版本号
	Update(ctx context.Context, path, message, content, version string) (string, error)

	// FindOpen 查找仍未解决且影响 service 的记录（用于台账缺失时恢复）
	// 没有找到时返回 nil, nil
	FindOpen(ctx context.Context, service string) (*Document, error)
}
