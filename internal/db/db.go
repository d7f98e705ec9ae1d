package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/hpungsan/strata/internal/config"
	"github.com/hpungsan/strata/internal/errors"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// Querier is satisfied by both *sql.DB and *sql.Tx so every query can run inside
// or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Init initializes the SQLite database at baseDir/strata.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.strata.
func Init(baseDir string) (*sql.DB, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	// _txlock=immediate makes BEGIN take the write lock, so a transaction that
	// reads a row and then writes it cannot interleave with another writer.
	dbPath := filepath.Join(baseDir, "strata.db")
	dsn := dbPath + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// WithTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise; fn's error is returned unchanged.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorage(err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS documents (
		  id               TEXT PRIMARY KEY,
		  project_id       TEXT NOT NULL,
		  path             TEXT NOT NULL,
		  title            TEXT,
		  content          TEXT NOT NULL DEFAULT '',
		  main_revision_id TEXT,
		  version          INTEGER NOT NULL DEFAULT 0,
		  grounding_state  TEXT NOT NULL DEFAULT 'ungrounded',
		  grounded_at      INTEGER,
		  created_at       INTEGER NOT NULL,
		  updated_at       INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_project_path
		ON documents(project_id, path);

		CREATE TABLE IF NOT EXISTS revisions (
		  id                   TEXT PRIMARY KEY,
		  document_id          TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		  project_id           TEXT NOT NULL,
		  title                TEXT NOT NULL,
		  description          TEXT,
		  content              TEXT NOT NULL,
		  status               TEXT NOT NULL,
		  based_on             TEXT,
		  is_main              INTEGER NOT NULL DEFAULT 0,
		  has_conflicts        INTEGER NOT NULL DEFAULT 0,
		  conflict_reason      TEXT,
		  replaced_revision_id TEXT,
		  author_id            TEXT,
		  author_type          TEXT NOT NULL,
		  source_client        TEXT,
		  created_at           INTEGER NOT NULL,
		  proposed_at          INTEGER,
		  approved_at          INTEGER,
		  rejected_at          INTEGER,
		  approved_by          TEXT,
		  rejected_by          TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_revisions_document
		ON revisions(document_id, created_at DESC);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_revisions_one_main
		ON revisions(document_id)
		WHERE is_main = 1;

		CREATE TABLE IF NOT EXISTS revision_diffs (
		  revision_id      TEXT PRIMARY KEY REFERENCES revisions(id) ON DELETE CASCADE,
		  base_revision_id TEXT NOT NULL,
		  unified          TEXT NOT NULL,
		  lines_json       TEXT NOT NULL,
		  lines_added      INTEGER NOT NULL,
		  lines_removed    INTEGER NOT NULL,
		  lines_unchanged  INTEGER NOT NULL,
		  similarity       REAL NOT NULL,
		  created_at       INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS document_versions (
		  id          TEXT PRIMARY KEY,
		  document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		  revision_id TEXT,
		  number      INTEGER NOT NULL,
		  content     TEXT NOT NULL,
		  created_by  TEXT,
		  created_at  INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_document_versions_number
		ON document_versions(document_id, number);

		CREATE TABLE IF NOT EXISTS modules (
		  id               TEXT PRIMARY KEY,
		  document_id      TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		  project_id       TEXT NOT NULL,
		  module_key       TEXT NOT NULL,
		  title            TEXT NOT NULL,
		  content          TEXT NOT NULL,
		  content_hash     TEXT NOT NULL,
		  start_line       INTEGER NOT NULL DEFAULT 0,
		  end_line         INTEGER NOT NULL DEFAULT 0,
		  ord              INTEGER NOT NULL DEFAULT 0,
		  module_type      TEXT NOT NULL,
		  tags_json        TEXT,
		  depends_on_json  TEXT,
		  is_grounded      INTEGER NOT NULL DEFAULT 0,
		  grounded_at      INTEGER,
		  grounding_source TEXT,
		  confidence_score REAL,
		  created_at       INTEGER NOT NULL,
		  updated_at       INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_modules_document_key
		ON modules(document_id, module_key);

		CREATE INDEX IF NOT EXISTS idx_modules_project_grounded
		ON modules(project_id, is_grounded);

		CREATE TABLE IF NOT EXISTS module_grounding_history (
		  id             TEXT PRIMARY KEY,
		  module_id      TEXT NOT NULL REFERENCES modules(id) ON DELETE CASCADE,
		  action         TEXT NOT NULL,
		  previous_state INTEGER NOT NULL,
		  new_state      INTEGER NOT NULL,
		  reason         TEXT,
		  source         TEXT NOT NULL,
		  actor_id       TEXT,
		  content_before TEXT,
		  content_after  TEXT,
		  confidence     REAL,
		  created_at     INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_grounding_history_module
		ON module_grounding_history(module_id, created_at);

		CREATE TABLE IF NOT EXISTS module_conflicts (
		  id                    TEXT PRIMARY KEY,
		  project_id            TEXT NOT NULL,
		  module_id             TEXT NOT NULL REFERENCES modules(id) ON DELETE CASCADE,
		  conflicting_module_id TEXT,
		  conflicting_doc_id    TEXT,
		  conflict_type         TEXT NOT NULL,
		  severity              TEXT NOT NULL,
		  description           TEXT NOT NULL,
		  status                TEXT NOT NULL,
		  detected_by           TEXT NOT NULL,
		  detected_at           INTEGER NOT NULL,
		  updated_at            INTEGER NOT NULL,
		  resolved_at           INTEGER,
		  resolved_by           TEXT,
		  resolution_note       TEXT,
		  resolution_strategy   TEXT
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_module_conflicts_active
		ON module_conflicts(module_id, COALESCE(conflicting_module_id, ''), conflict_type)
		WHERE status IN ('open', 'acknowledged');

		CREATE INDEX IF NOT EXISTS idx_module_conflicts_project
		ON module_conflicts(project_id, status, detected_at DESC);

		CREATE TABLE IF NOT EXISTS audit_log (
		  id           TEXT PRIMARY KEY,
		  operation    TEXT NOT NULL,
		  project_id   TEXT NOT NULL,
		  actor_id     TEXT,
		  document_id  TEXT,
		  module_id    TEXT,
		  conflict_id  TEXT,
		  details_json TEXT,
		  created_at   INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_audit_log_project
		ON audit_log(project_id, created_at DESC);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
