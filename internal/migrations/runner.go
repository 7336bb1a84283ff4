// Package migrations applies the embedded SQL migrations at startup.
//
// Applied files are recorded in schema_migrations, so Run is idempotent.
// Files are named NNN_description.sql and run in lexicographic order;
// 000_migrations_table.sql must stay first.
package migrations

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

//go:embed *.sql
var sqlFiles embed.FS

// DB is the subset of *pgxpool.Pool the runner needs. pgxmock pools
// satisfy it as well.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RequiredTables must exist once all migrations ran.
var RequiredTables = []string{"route_cache"}

type entry struct {
	version string // filename
	sql     string
}

// Run applies all pending migrations in order. Each one runs in its own
// transaction together with its schema_migrations record.
func Run(ctx context.Context, db DB, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	entries, err := loadEntries()
	if err != nil {
		return fmt.Errorf("migrations: load files: %w", err)
	}

	// The tracking table comes from the first file; apply it unconditionally.
	if len(entries) == 0 {
		return nil
	}
	if _, err := db.Exec(ctx, entries[0].sql); err != nil {
		return fmt.Errorf("migrations: ensure tracking table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return fmt.Errorf("migrations: read applied versions: %w", err)
	}

	pending := 0
	for _, e := range entries[1:] {
		if applied[e.version] {
			log.Debug("migration already applied", zap.String("version", e.version))
			continue
		}
		if err := applyEntry(ctx, db, e); err != nil {
			return fmt.Errorf("migrations: apply %q: %w", e.version, err)
		}
		log.Info("migration applied", zap.String("version", e.version))
		pending++
	}

	log.Info("database schema up to date", zap.Int("applied", pending))
	return nil
}

// CheckSchema verifies that RequiredTables exist in the public schema.
func CheckSchema(ctx context.Context, db DB) error {
	for _, table := range RequiredTables {
		var exists bool
		err := db.QueryRow(ctx,
			`SELECT EXISTS (
                SELECT 1
                FROM information_schema.tables
                WHERE table_schema = 'public'
                  AND table_name   = $1
            )`,
			table,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("migrations: check table %q: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("migrations: required table %q is missing", table)
		}
	}
	return nil
}

func appliedVersions(ctx context.Context, db DB) (map[string]bool, error) {
	rows, err := db.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		seen[v] = true
	}
	return seen, rows.Err()
}

// loadEntries returns the embedded files in lexicographic order, which
// embed.FS.ReadDir guarantees.
func loadEntries() ([]entry, error) {
	dirEntries, err := sqlFiles.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("read embedded dir: %w", err)
	}

	var out []entry
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		content, err := sqlFiles.ReadFile(de.Name())
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", de.Name(), err)
		}
		out = append(out, entry{version: de.Name(), sql: string(content)})
	}
	return out, nil
}

func applyEntry(ctx context.Context, db DB, e entry) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, e.sql); err != nil {
		return fmt.Errorf("exec sql: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (version) VALUES ($1)`,
		e.version,
	); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
