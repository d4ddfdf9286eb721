// Package store 把清单、帧数据块和事件持久化到单个 SQLite 数据库。
// 数据块作为不透明 BLOB 存储，读路径无副作用，可任意并发。
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	_ "modernc.org/sqlite"
)

// Store SQLite 存储
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open 打开（必要时创建）数据库并执行迁移
func Open(ctx context.Context, path string) (*Store, error) {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Set("_txlock", "immediate")

	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	slog.Debug("Frame store opened", "path", path)
	return s, nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping 健康检查
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate 按版本顺序执行未应用的迁移
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaMigrationsTable); err != nil {
		return fmt.Errorf("创建迁移表失败: %w", err)
	}

	for _, m := range migrations {
		var applied int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, m.version).Scan(&applied)
		if err != nil {
			return fmt.Errorf("读取迁移版本失败: %w", err)
		}
		if applied > 0 {
			continue
		}

		err = s.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.sql); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, description) VALUES (?, ?)`, m.version, m.description)
			return err
		})
		if err != nil {
			return fmt.Errorf("执行迁移 v%d 失败: %w", m.version, err)
		}
		slog.Info("Applied schema migration", "version", m.version, "description", m.description)
	}
	return nil
}

// withTx 在事务中执行 fn，出错回滚
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// queryer *sql.DB 与 *sql.Tx 的公共查询接口
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
