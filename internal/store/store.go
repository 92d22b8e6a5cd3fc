package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mtzanidakis/vibe/internal/config"
	_ "modernc.org/sqlite"
)

// Cipher seals message payloads before they are written to disk.
type Cipher interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

type Store struct {
	db     *sql.DB
	cipher Cipher
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// WAL for concurrent readers; busy_timeout so the async message writer
	// retries instead of failing with SQLITE_BUSY.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// SetCipher enables at-rest encryption of message payloads. Rows written
// before a cipher was set stay readable.
func (s *Store) SetCipher(c Cipher) {
	s.cipher = c
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			name         TEXT PRIMARY KEY,
			description  TEXT,
			tools        TEXT NOT NULL DEFAULT '[]',
			instructions TEXT,
			position     INTEGER NOT NULL DEFAULT 0,
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS agent_messages (
			id          TEXT PRIMARY KEY,
			session_id  TEXT NOT NULL,
			type        TEXT NOT NULL,
			sender      TEXT NOT NULL,
			recipients  TEXT NOT NULL,
			payload     BLOB,
			sealed      BOOLEAN DEFAULT FALSE,
			metadata    TEXT,
			created_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_messages_session ON agent_messages(session_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_messages_created ON agent_messages(created_at)`,
		`CREATE TABLE IF NOT EXISTS plan_runs (
			id           TEXT PRIMARY KEY,
			session_id   TEXT NOT NULL,
			request      TEXT NOT NULL,
			supervisor   TEXT NOT NULL,
			strategy     TEXT NOT NULL,
			status       TEXT DEFAULT 'running',
			tasks        TEXT NOT NULL,
			levels       TEXT,
			error        TEXT,
			started_at   INTEGER NOT NULL,
			completed_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_plan_runs_session ON plan_runs(session_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS task_records (
			run_id       TEXT NOT NULL,
			task_id      TEXT NOT NULL,
			session_id   TEXT NOT NULL,
			agent        TEXT NOT NULL,
			description  TEXT NOT NULL,
			status       TEXT NOT NULL,
			output       TEXT,
			error        TEXT,
			started_at   INTEGER,
			completed_at INTEGER,
			PRIMARY KEY (run_id, task_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_records_session ON task_records(session_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}
