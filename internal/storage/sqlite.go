package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// sqlitePragmas run on the single pooled connection right after open.
var sqlitePragmas = []struct{ name, stmt string }{
	{"foreign_keys", "PRAGMA foreign_keys = ON"},
	{"busy_timeout", "PRAGMA busy_timeout = 5000"},
	{"journal_mode", "PRAGMA journal_mode = WAL"},
}

// OpenSQLite opens the audit and capability database at path, creating its
// directory and schema on first use. Paths on network filesystems are
// refused because SQLite locking is unreliable there.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("sqlite: empty database path")
	}
	if err := ValidateLocalFilesystem(path, "storage.sqlite_path"); errors.Is(err, ErrNetworkFilesystem) {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: mkdir %s: %w", filepath.Dir(path), err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// One connection keeps per-connection pragmas in force and serializes
	// writers instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := prepareSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func prepareSQLite(ctx context.Context, db *sql.DB) error {
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, p := range sqlitePragmas {
		if _, err := db.ExecContext(pctx, p.stmt); err != nil {
			return fmt.Errorf("sqlite: pragma %s: %w", p.name, err)
		}
	}
	return BootstrapSQLite(ctx, db)
}

// BootstrapSQLite creates the audit_log and download_capability tables and
// their indexes when missing. It is safe to run on every start.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS audit_log (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  actor_id    TEXT,
  action      TEXT NOT NULL,
  channel     TEXT NOT NULL,
  detail      TEXT NOT NULL DEFAULT '',
  client_ip   TEXT NOT NULL DEFAULT '',
  city        TEXT NOT NULL DEFAULT '',
  country     TEXT NOT NULL DEFAULT '',
  created_at  TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS download_capability (
  token         TEXT PRIMARY KEY,
  session       TEXT NOT NULL,
  namespace     TEXT NOT NULL,
  relative_path TEXT NOT NULL,
  display_name  TEXT NOT NULL,
  size          INTEGER NOT NULL DEFAULT 0,
  digest        TEXT NOT NULL DEFAULT '',
  workspace_id  TEXT NOT NULL DEFAULT '',
  issued_at     INTEGER NOT NULL,
  expires_at    INTEGER NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS audit_log_created_at_idx ON audit_log(created_at);`,
		`CREATE INDEX IF NOT EXISTS download_capability_expires_at_idx ON download_capability(expires_at);`,
	}

	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: schema statement %d: %w", i, err)
		}
	}
	return nil
}
