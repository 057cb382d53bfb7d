package store

import (
	"fmt"

	"statuswatch/internal/config"
)

// New 根据配置创建事故记录存储
func New(cfg *config.IncidentStoreConfig) (IncidentStore, error) {
	switch cfg.Type {
	case config.StoreTypeGitHub, "":
		return NewGitHubStore(cfg.GitHub, cfg.Dir)
	case config.StoreTypeFilesystem:
		return NewFileStore(cfg.Filesystem.Root, cfg.Dir)
	case config.StoreTypeMemory:
		return NewMemoryStore(cfg.Dir), nil
	default:
		return nil, fmt.Errorf("不支持的事故存储类型: %s", cfg.Type)
	}
}
