package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	ensureMigrationsTableSQL = "CREATE TABLE IF NOT EXISTS schema_migrations (id TEXT PRIMARY KEY NOT NULL, applied_at TEXT NOT NULL)"
	selectAppliedSQL         = "SELECT id, applied_at FROM schema_migrations ORDER BY id ASC"
	recordMigrationSQL       = "INSERT INTO schema_migrations (id, applied_at) VALUES (?, ?)"
)

// SchemaEnsurer is what services call before touching the store.
type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

// Migration is one ordered schema change, applied at most once.
type Migration struct {
	ID string
	Up []string
}

// MigrationStatus reports whether a known migration has been applied.
type MigrationStatus struct {
	ID        string
	Applied   bool
	AppliedAt string
}

// State is the lifecycle of a Migrator.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateInitialized
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	default:
		return "uninitialized"
	}
}

// DefaultMigrations returns the migrations embedded in the binary.
func DefaultMigrations() ([]Migration, error) {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	return LoadMigrations(sub)
}

// LoadMigrations reads every NNN_name.sql file at the root of fsys, in
// version order. The migration ID is the file name without its extension.
// Files without a numeric prefix are skipped.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	type versioned struct {
		version int
		mig     Migration
	}
	var found []versioned
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}

		// "001_init.sql" -> 1
		parts := strings.SplitN(name, "_", 2)
		if len(parts) < 2 {
			continue
		}
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", name, err)
		}

		found = append(found, versioned{
			version: version,
			mig: Migration{
				ID: strings.TrimSuffix(name, ".sql"),
				Up: SplitStatements(string(content)),
			},
		})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].version < found[j].version })

	migrations := make([]Migration, 0, len(found))
	for _, f := range found {
		migrations = append(migrations, f.mig)
	}
	return migrations, nil
}

// SplitStatements breaks a SQL script into individual statements, dropping
// "--" comment lines and empty statements.
func SplitStatements(script string) []string {
	var kept []string
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}

	var statements []string
	for _, part := range strings.Split(strings.Join(kept, "\n"), ";") {
		stmt := strings.TrimSpace(part)
		if stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}

// Migrator applies pending migrations against a Driver. Concurrent calls to
// Migrate share one in-flight attempt; after a successful attempt every later
// call returns immediately until Reset.
type Migrator struct {
	driver     Driver
	migrations []Migration
	now        func() string

	group singleflight.Group
	state atomic.Int32
}

// NewMigrator creates a Migrator. now stamps applied_at for each migration.
func NewMigrator(driver Driver, migrations []Migration, now func() string) *Migrator {
	return &Migrator{
		driver:     driver,
		migrations: migrations,
		now:        now,
	}
}

// State reports the current lifecycle state.
func (m *Migrator) State() State {
	return State(m.state.Load())
}

// Reset forgets a completed initialization so the next Migrate re-checks the
// store.
func (m *Migrator) Reset() {
	m.state.Store(int32(StateUninitialized))
}

// Migrate applies every pending migration in order and returns how many were
// applied by this call. A failed attempt leaves the migrator uninitialized so
// the next call retries from the first unapplied migration.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if m.State() == StateInitialized {
		return 0, nil
	}

	v, err, _ := m.group.Do("migrate", func() (interface{}, error) {
		if m.State() == StateInitialized {
			return 0, nil
		}
		m.state.Store(int32(StateInitializing))

		count, err := m.up(ctx)
		if err != nil {
			m.state.Store(int32(StateUninitialized))
			return count, err
		}
		m.state.Store(int32(StateInitialized))
		return count, nil
	})
	return v.(int), err
}

// EnsureSchema is Migrate without the count.
func (m *Migrator) EnsureSchema(ctx context.Context) error {
	_, err := m.Migrate(ctx)
	return err
}

func (m *Migrator) up(ctx context.Context) (int, error) {
	if err := m.driver.ExecBatch(ctx, []string{ensureMigrationsTableSQL}); err != nil {
		return 0, fmt.Errorf("create schema_migrations table: %w", err)
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range m.migrations {
		if _, ok := applied[mig.ID]; ok {
			continue
		}

		err := m.driver.InTx(ctx, func(ctx context.Context, q Queryer) error {
			if err := q.ExecBatch(ctx, mig.Up); err != nil {
				return err
			}
			return q.Exec(ctx, recordMigrationSQL, mig.ID, m.now())
		})
		if err != nil {
			return count, fmt.Errorf("apply migration %s: %w", mig.ID, err)
		}
		count++
	}

	return count, nil
}

func (m *Migrator) applied(ctx context.Context) (map[string]string, error) {
	rows, err := m.driver.Query(ctx, selectAppliedSQL)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var id, at string
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("scan migration id: %w", err)
		}
		applied[id] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

// Status returns every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.driver.ExecBatch(ctx, []string{ensureMigrationsTableSQL}); err != nil {
		return nil, fmt.Errorf("create schema_migrations table: %w", err)
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(m.migrations))
	for _, mig := range m.migrations {
		at, ok := applied[mig.ID]
		statuses = append(statuses, MigrationStatus{ID: mig.ID, Applied: ok, AppliedAt: at})
	}
	return statuses, nil
}
