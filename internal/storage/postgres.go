package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"statuswatch/internal/config"
	"statuswatch/internal/logger"
)

// PostgresStorage PostgreSQL 存储实现
type PostgresStorage struct {
	pool *pgxpool.Pool
	ctx  context.Context
}

// NewPostgresStorage 创建 PostgreSQL 存储
func NewPostgresStorage(cfg *config.PostgresConfig) (*PostgresStorage, error) {
	// 构建连接字符串
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)

	// 解析连接池配置
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("解析 PostgreSQL 连接配置失败: %w", err)
	}

	// 设置连接池参数
	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)

	// 解析连接最大生命周期
	poolConfig.MaxConnLifetime = time.Hour
	if cfg.ConnMaxLifetime != "" {
		lifetime, err := time.ParseDuration(cfg.ConnMaxLifetime)
		if err != nil {
			logger.Warn("storage", "解析 conn_max_lifetime 失败，使用默认值 1h", "error", err)
		} else {
			poolConfig.MaxConnLifetime = lifetime
		}
	}

	// 创建连接池
	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("创建 PostgreSQL 连接池失败: %w", err)
	}

	// 测试连接
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("连接 PostgreSQL 失败: %w", err)
	}

	return &PostgresStorage{
		pool: pool,
		ctx:  ctx,
	}, nil
}

// WithContext 返回绑定指定 context 的存储实例
func (s *PostgresStorage) WithContext(ctx context.Context) Storage {
	if ctx == nil {
		return s
	}
	return &PostgresStorage{
		pool: s.pool,
		ctx:  ctx,
	}
}

func (s *PostgresStorage) effectiveCtx() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

// Init 初始化数据库表
func (s *PostgresStorage) Init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS open_issues (
		service TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		version TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		detected_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS publish_events (
		id BIGSERIAL PRIMARY KEY,
		event_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		service TEXT NOT NULL,
		observed_at BIGINT NOT NULL,
		status TEXT NOT NULL,
		path TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_publish_events_unique
	ON publish_events(event_id, status);

	CREATE INDEX IF NOT EXISTS idx_publish_events_service_id
	ON publish_events(service, id);

	CREATE INDEX IF NOT EXISTS idx_publish_events_created_at
	ON publish_events(created_at);
	`

	if _, err := s.pool.Exec(s.effectiveCtx(), schema); err != nil {
		return fmt.Errorf("初始化 PostgreSQL 数据库失败: %w", err)
	}
	return nil
}

// Close 关闭数据库连接
func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

// SaveIssue 写入或覆盖台账条目
func (s *PostgresStorage) SaveIssue(rec *IssueRecord) error {
	query := `
		INSERT INTO open_issues (service, path, version, content, detected_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (service) DO UPDATE SET
			path = EXCLUDED.path,
			version = EXCLUDED.version,
			content = EXCLUDED.content,
			detected_at = EXCLUDED.detected_at,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.pool.Exec(s.effectiveCtx(), query,
		rec.Service, rec.Path, rec.Version, rec.Content, rec.DetectedAt, rec.UpdatedAt,
	); err != nil {
		return fmt.Errorf("保存 PostgreSQL 台账条目失败: %w", err)
	}
	return nil
}

// DeleteIssue 删除台账条目
func (s *PostgresStorage) DeleteIssue(service string) error {
	if _, err := s.pool.Exec(s.effectiveCtx(), `DELETE FROM open_issues WHERE service = $1`, service); err != nil {
		return fmt.Errorf("删除 PostgreSQL 台账条目失败: %w", err)
	}
	return nil
}

// LoadIssues 读取全部台账条目
func (s *PostgresStorage) LoadIssues() ([]*IssueRecord, error) {
	rows, err := s.pool.Query(s.effectiveCtx(), `
		SELECT service, path, version, content, detected_at, updated_at
		FROM open_issues
		ORDER BY service ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("查询 PostgreSQL 台账失败: %w", err)
	}
	defer rows.Close()

	var out []*IssueRecord
	for rows.Next() {
		var rec IssueRecord
		if err := rows.Scan(&rec.Service, &rec.Path, &rec.Version, &rec.Content, &rec.DetectedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("扫描 PostgreSQL 台账条目失败: %w", err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代 PostgreSQL 台账失败: %w", err)
	}
	return out, nil
}

// SaveEvent 追加发布日志
func (s *PostgresStorage) SaveEvent(ev *EventRecord) error {
	if ev.CreatedAt == 0 {
		ev.CreatedAt = time.Now().Unix()
	}

	query := `
		INSERT INTO publish_events (event_id, kind, service, observed_at, status, path, attempts, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id, status) DO NOTHING
		RETURNING id
	`
	err := s.pool.QueryRow(s.effectiveCtx(), query,
		ev.EventID, ev.Kind, ev.Service, ev.ObservedAt, string(ev.Status),
		ev.Path, ev.Attempts, ev.Error, ev.CreatedAt,
	).Scan(&ev.ID)
	if err != nil {
		// 冲突时 DO NOTHING 不返回行，视为成功
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("保存 PostgreSQL 发布日志失败: %w", err)
	}
	return nil
}

// GetEvents 查询发布日志
func (s *PostgresStorage) GetEvents(sinceID int64, limit int, filters *EventFilters) ([]*EventRecord, error) {
	conditions := []string{"id > $1"}
	args := []any{sinceID}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filters != nil {
		if filters.Service != "" {
			conditions = append(conditions, "service = "+next(filters.Service))
		}
		if filters.Status != "" {
			conditions = append(conditions, "status = "+next(string(filters.Status)))
		}
		if len(filters.Kinds) > 0 {
			conditions = append(conditions, "kind = ANY("+next(filters.Kinds)+")")
		}
	}
	limitArg := next(clampLimit(limit))

	query := fmt.Sprintf(`
		SELECT id, event_id, kind, service, observed_at, status, path, attempts, error, created_at
		FROM publish_events
		WHERE %s
		ORDER BY id ASC
		LIMIT %s
	`, strings.Join(conditions, " AND "), limitArg)

	rows, err := s.pool.Query(s.effectiveCtx(), query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询 PostgreSQL 发布日志失败: %w", err)
	}
	defer rows.Close()

	var events []*EventRecord
	for rows.Next() {
		var ev EventRecord
		var status string
		if err := rows.Scan(
			&ev.ID, &ev.EventID, &ev.Kind, &ev.Service, &ev.ObservedAt,
			&status, &ev.Path, &ev.Attempts, &ev.Error, &ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("扫描 PostgreSQL 发布日志失败: %w", err)
		}
		ev.Status = EventStatus(status)
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代 PostgreSQL 发布日志失败: %w", err)
	}
	return events, nil
}

// GetLatestEventID 获取最新日志 ID
func (s *PostgresStorage) GetLatestEventID() (int64, error) {
	var latestID int64
	if err := s.pool.QueryRow(s.effectiveCtx(), `SELECT COALESCE(MAX(id), 0) FROM publish_events`).Scan(&latestID); err != nil {
		return 0, fmt.Errorf("查询 PostgreSQL 最新日志 ID 失败: %w", err)
	}
	return latestID, nil
}

// PurgeOldEvents 分批删除过期发布日志
func (s *PostgresStorage) PurgeOldEvents(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	query := `
		DELETE FROM publish_events
		WHERE id IN (
			SELECT id FROM publish_events
			WHERE created_at < $1
			ORDER BY id ASC
			LIMIT $2
		)
	`
	result, err := s.pool.Exec(ctx, query, cutoff.Unix(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("清理 PostgreSQL 发布日志失败: %w", err)
	}
	return result.RowsAffected(), nil
}
