package db

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrOpenTimeout is returned when the store does not become ready within
// Options.Timeout.
var ErrOpenTimeout = errors.New("database initialization timed out")

// Options selects and configures a store binding.
type Options struct {
	Driver      string
	Path        string // sqlite file path
	DatabaseURL string // postgres connection string
	MaxConns    int32
	MinConns    int32
	Timeout     time.Duration
}

// Open connects the configured binding, giving up after opts.Timeout.
func Open(ctx context.Context, opts Options) (Driver, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var (
		d   Driver
		err error
	)
	switch opts.Driver {
	case DriverSQLite, "":
		d, err = OpenSQLite(ctx, opts.Path)
	case DriverPostgres:
		d, err = OpenPostgres(ctx, opts.DatabaseURL, opts.MaxConns, opts.MinConns)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrOpenTimeout, err)
		}
		return nil, err
	}
	return d, nil
}
