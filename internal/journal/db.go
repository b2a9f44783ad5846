// Package journal keeps the history of finished provisioning sessions in
// SQLite or PostgreSQL. It is write-mostly: nothing is resumed from it.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/opentalon/panelpilot/internal/config"
)

//go:embed migrations
var migrationsFS embed.FS

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DB holds the connection and the SQL dialect in use.
type DB struct {
	db     *sql.DB
	driver string
}

// Open connects to the configured database and runs pending migrations.
// SQLite lives at data_dir/journal.db; PostgreSQL uses dsn.
func Open(ctx context.Context, cfg config.JournalConfig) (*DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case "", DriverSQLite:
		db, err = openSQLite(cfg.DataDir)
	case DriverPostgres:
		db, err = openPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("journal: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	d := &DB{db: db, driver: driver}
	if err := d.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func openSQLite(dataDir string) (*sql.DB, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("journal: data_dir is required")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dataDir, "journal.db")+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("journal: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: WAL: %w", err)
	}
	return db, nil
}

func openPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("journal: dsn is required for postgres")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	return db, nil
}

func (d *DB) Driver() string { return d.driver }

func (d *DB) Close() error {
	return d.db.Close()
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (d *DB) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (d *DB) runMigrations(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL PRIMARY KEY)"); err != nil {
		return fmt.Errorf("migrations: create schema_version: %w", err)
	}
	current, err := d.currentVersion(ctx)
	if err != nil {
		return err
	}
	names, err := migrationNames(d.driver)
	if err != nil {
		return err
	}
	for _, name := range names {
		n, err := migrationNumber(name)
		if err != nil || n <= current {
			continue
		}
		stmt, err := fs.ReadFile(migrationsFS, "migrations/"+d.driver+"/"+name)
		if err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migration %s: begin: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(stmt)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM schema_version"); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s: clear version: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, d.rebind("INSERT INTO schema_version (version) VALUES (?)"), n); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s: set version: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %s: commit: %w", name, err)
		}
	}
	return nil
}

func (d *DB) currentVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	err := d.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&v)
	if err == sql.ErrNoRows || (err == nil && !v.Valid) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("migrations: read version: %w", err)
	}
	return int(v.Int64), nil
}

func migrationNames(driver string) ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations/"+driver)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func migrationNumber(name string) (int, error) {
	base := strings.TrimSuffix(name, ".sql")
	parts := strings.SplitN(base, "_", 2)
	if len(parts) < 2 {
		return 0, fmt.Errorf("invalid migration name %q", name)
	}
	return strconv.Atoi(parts[0])
}
