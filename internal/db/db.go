// Package db opens the local SQLite store shared by the ledger and the sqlite tracker.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Memory is the path of a private in-memory database.
const Memory = ":memory:"

const (
	migrationsDir  = "migrations"
	migrateTimeout = 30 * time.Second
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open opens the database at path, creating its directory, and brings the
// schema up to date. The pool holds a single connection so writers never
// contend inside one process.
func Open(path string) (*sql.DB, error) {
	if path != Memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()
	if err := configure(ctx, conn, path != Memory); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := migrate(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	version, err := Version(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	log.Debug().Str("path", path).Int64("schema_version", version).Msg("database ready")
	return conn, nil
}

func configure(ctx context.Context, conn *sql.DB, onDisk bool) error {
	for _, pragma := range []string{"foreign_keys=ON", "busy_timeout=5000"} {
		if _, err := conn.ExecContext(ctx, "PRAGMA "+pragma); err != nil {
			return fmt.Errorf("pragma %s: %w", pragma, err)
		}
	}
	if !onDisk {
		return nil
	}
	// Some filesystems refuse WAL; the default journal still works there.
	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		log.Warn().Err(err).Msg("sqlite: WAL mode not enabled")
	}
	return nil
}

func migrate(ctx context.Context, conn *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, conn, migrationsDir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Version reports the applied schema version.
func Version(ctx context.Context, conn *sql.DB) (int64, error) {
	v, err := goose.GetDBVersionContext(ctx, conn)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}
