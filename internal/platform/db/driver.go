package db

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
)

var (
	// ErrNoRows is returned by Row.Scan when a single-row query matched nothing.
	// Bindings translate their native no-rows error into it.
	ErrNoRows = errors.New("no rows in result set")

	// ErrVerificationFailed signals that a write reported success but the
	// immediate re-read came back empty. It indicates a misbehaving store.
	ErrVerificationFailed = errors.New("write verification failed")
)

// Row is the result of a single-row query.
type Row interface {
	Scan(dest ...any) error
}

// Rows is a forward-only cursor over a multi-row result.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Queryer is the statement-level capability the repositories depend on.
// Queries use "?" placeholders; bindings rewrite them when their engine
// expects another style.
type Queryer interface {
	Exec(ctx context.Context, query string, args ...any) error
	QueryRow(ctx context.Context, query string, args ...any) Row
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	ExecBatch(ctx context.Context, statements []string) error
}

// Driver is a Queryer that can also run a unit of work atomically.
type Driver interface {
	Queryer
	// InTx runs fn inside a store transaction. The transaction commits when
	// fn returns nil and rolls back otherwise. fn must only use q.
	InTx(ctx context.Context, fn func(ctx context.Context, q Queryer) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Rebind rewrites "?" placeholders into PostgreSQL "$n" form. Queries must
// not carry a literal "?" inside quoted strings.
func Rebind(query string) string {
	return sqlx.Rebind(sqlx.DOLLAR, query)
}
