package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // 纯Go实现的SQLite驱动
)

// SQLiteStorage SQLite存储实现
type SQLiteStorage struct {
	db  *sql.DB
	ctx context.Context
}

// NewSQLiteStorage 创建SQLite存储
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	// 使用WAL模式和其他参数解决并发锁问题
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_timeout=5000&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	// 设置连接池参数（WAL模式支持更好的并发）
	db.SetMaxOpenConns(1) // SQLite建议单个写连接
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	return &SQLiteStorage{db: db, ctx: context.Background()}, nil
}

// WithContext 返回绑定指定 context 的存储实例
func (s *SQLiteStorage) WithContext(ctx context.Context) Storage {
	if ctx == nil {
		return s
	}
	return &SQLiteStorage{
		db:  s.db,
		ctx: ctx,
	}
}

// effectiveCtx 返回有效的 context
func (s *SQLiteStorage) effectiveCtx() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

// Init 初始化数据库表
func (s *SQLiteStorage) Init() error {
	ctx := s.effectiveCtx()
	statements := []string{
		`CREATE TABLE IF NOT EXISTS open_issues (
			service TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			version TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			detected_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS publish_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			service TEXT NOT NULL,
			observed_at INTEGER NOT NULL,
			status TEXT NOT NULL,
			path TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		// 幂等性保障：同一事件的同一状态只记录一次
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_publish_events_unique
		ON publish_events(event_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_publish_events_service_id
		ON publish_events(service, id)`,
		// 清理任务按 created_at 范围删除
		`CREATE INDEX IF NOT EXISTS idx_publish_events_created_at
		ON publish_events(created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("初始化数据库失败: %w", err)
		}
	}
	return nil
}

// Close 关闭数据库
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SaveIssue 写入或覆盖台账条目
func (s *SQLiteStorage) SaveIssue(rec *IssueRecord) error {
	ctx := s.effectiveCtx()
	query := `
		INSERT INTO open_issues (service, path, version, content, detected_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(service) DO UPDATE SET
			path = excluded.path,
			version = excluded.version,
			content = excluded.content,
			detected_at = excluded.detected_at,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query,
		rec.Service, rec.Path, rec.Version, rec.Content, rec.DetectedAt, rec.UpdatedAt,
	); err != nil {
		return fmt.Errorf("保存台账条目失败: %w", err)
	}
	return nil
}

// DeleteIssue 删除台账条目
func (s *SQLiteStorage) DeleteIssue(service string) error {
	ctx := s.effectiveCtx()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM open_issues WHERE service = ?`, service); err != nil {
		return fmt.Errorf("删除台账条目失败: %w", err)
	}
	return nil
}

// LoadIssues 读取全部台账条目
func (s *SQLiteStorage) LoadIssues() ([]*IssueRecord, error) {
	ctx := s.effectiveCtx()
	rows, err := s.db.QueryContext(ctx, `
		SELECT service, path, version, content, detected_at, updated_at
		FROM open_issues
		ORDER BY service ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("查询台账失败: %w", err)
	}
	defer rows.Close()

	var out []*IssueRecord
	for rows.Next() {
		var rec IssueRecord
		if err := rows.Scan(&rec.Service, &rec.Path, &rec.Version, &rec.Content, &rec.DetectedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("扫描台账条目失败: %w", err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代台账失败: %w", err)
	}
	return out, nil
}

// SaveEvent 追加发布日志
func (s *SQLiteStorage) SaveEvent(ev *EventRecord) error {
	ctx := s.effectiveCtx()
	if ev.CreatedAt == 0 {
		ev.CreatedAt = time.Now().Unix()
	}

	query := `
		INSERT INTO publish_events (event_id, kind, service, observed_at, status, path, attempts, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id, status) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query,
		ev.EventID, ev.Kind, ev.Service, ev.ObservedAt, string(ev.Status),
		ev.Path, ev.Attempts, ev.Error, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("保存发布日志失败: %w", err)
	}

	if n, _ := result.RowsAffected(); n > 0 {
		id, _ := result.LastInsertId()
		ev.ID = id
	}
	return nil
}

// GetEvents 查询发布日志
func (s *SQLiteStorage) GetEvents(sinceID int64, limit int, filters *EventFilters) ([]*EventRecord, error) {
	ctx := s.effectiveCtx()

	conditions := []string{"id > ?"}
	args := []any{sinceID}

	if filters != nil {
		if filters.Service != "" {
			conditions = append(conditions, "service = ?")
			args = append(args, filters.Service)
		}
		if filters.Status != "" {
			conditions = append(conditions, "status = ?")
			args = append(args, string(filters.Status))
		}
		if len(filters.Kinds) > 0 {
			placeholders := make([]string, len(filters.Kinds))
			for i, k := range filters.Kinds {
				placeholders[i] = "?"
				args = append(args, k)
			}
			conditions = append(conditions, "kind IN ("+strings.Join(placeholders, ",")+")")
		}
	}

	query := fmt.Sprintf(`
		SELECT id, event_id, kind, service, observed_at, status, path, attempts, error, created_at
		FROM publish_events
		WHERE %s
		ORDER BY id ASC
		LIMIT ?
	`, strings.Join(conditions, " AND "))
	args = append(args, clampLimit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询发布日志失败: %w", err)
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
			return nil, fmt.Errorf("扫描发布日志失败: %w", err)
		}
		ev.Status = EventStatus(status)
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代发布日志失败: %w", err)
	}
	return events, nil
}

// GetLatestEventID 获取最新日志 ID
func (s *SQLiteStorage) GetLatestEventID() (int64, error) {
	ctx := s.effectiveCtx()

	var latestID int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM publish_events`).Scan(&latestID); err != nil {
		return 0, fmt.Errorf("查询最新日志 ID 失败: %w", err)
	}
	return latestID, nil
}

// PurgeOldEvents 分批删除过期发布日志
func (s *SQLiteStorage) PurgeOldEvents(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	query := `
		DELETE FROM publish_events
		WHERE id IN (
			SELECT id FROM publish_events
			WHERE created_at < ?
			ORDER BY id ASC
			LIMIT ?
		)
	`
	result, err := s.db.ExecContext(ctx, query, cutoff.Unix(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("清理发布日志失败: %w", err)
	}
	return result.RowsAffected()
}
