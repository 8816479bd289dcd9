package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/XSAM/otelsql"
	"go.opentelemetry.io/otel/attribute"
	_ "modernc.org/sqlite"
)

// sqlConn is satisfied by both *sql.DB and *sql.Tx.
type sqlConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type sqlQueryer struct{ conn sqlConn }

func (q sqlQueryer) Exec(ctx context.Context, query string, args ...any) error {
	_, err := q.conn.ExecContext(ctx, query, args...)
	return err
}

func (q sqlQueryer) QueryRow(ctx context.Context, query string, args ...any) Row {
	return sqlRow{q.conn.QueryRowContext(ctx, query, args...)}
}

func (q sqlQueryer) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := q.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rows}, nil
}

func (q sqlQueryer) ExecBatch(ctx context.Context, statements []string) error {
	for _, stmt := range statements {
		if _, err := q.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

type sqlRow struct{ row *sql.Row }

func (r sqlRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoRows
	}
	return err
}

type sqlRows struct{ rows *sql.Rows }

func (r sqlRows) Next() bool             { return r.rows.Next() }
func (r sqlRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r sqlRows) Err() error             { return r.rows.Err() }
func (r sqlRows) Close()                 { _ = r.rows.Close() }

// SQLDB adapts a database/sql handle to Driver.
type SQLDB struct {
	sqlQueryer
	db *sql.DB
}

// NewSQLDB wraps an already opened *sql.DB.
func NewSQLDB(db *sql.DB) *SQLDB {
	return &SQLDB{sqlQueryer: sqlQueryer{conn: db}, db: db}
}

func (s *SQLDB) InTx(ctx context.Context, fn func(ctx context.Context, q Queryer) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(ctx, sqlQueryer{conn: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLDB) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLDB) Close() error { return s.db.Close() }

// OpenSQLite opens the embedded SQLite database at path (":memory:" for a
// throwaway database) with foreign keys enforced and the pool pinned to one
// connection, so the store sees one logical operation at a time.
func OpenSQLite(ctx context.Context, path string) (*SQLDB, error) {
	attrs := otelsql.WithAttributes(attribute.String("db.system", "sqlite"))

	sqlDB, err := otelsql.Open("sqlite", path, attrs)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if _, err := otelsql.RegisterDBStatsMetrics(sqlDB, attrs); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("register db stats metrics: %w", err)
	}

	if _, err := sqlDB.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return NewSQLDB(sqlDB), nil
}
