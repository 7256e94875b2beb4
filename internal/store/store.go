// Package store is the local content store: one SQLite record per document
// plus a markdown backing file holding the canonical serialized post.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/postsync/internal/models"
	"github.com/starford/postsync/internal/storage"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	id              TEXT PRIMARY KEY,
	local_path      TEXT NOT NULL UNIQUE,
	title           TEXT NOT NULL DEFAULT '',
	summary         TEXT NOT NULL DEFAULT '',
	date            TEXT NOT NULL DEFAULT '',
	tags            TEXT NOT NULL DEFAULT '[]',
	archived        INTEGER NOT NULL DEFAULT 0,
	is_draft_local  INTEGER NOT NULL DEFAULT 1,
	origin_filename TEXT,
	body            TEXT NOT NULL DEFAULT '',
	checksum        TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	edited_at       DATETIME
);

CREATE INDEX IF NOT EXISTS idx_documents_origin ON documents(origin_filename);
CREATE INDEX IF NOT EXISTS idx_documents_draft ON documents(is_draft_local);
`

const (
	draftsDir = "drafts"
	postsDir  = "posts"
)

// ContentStore is what the sync engine and publish pipeline need from the store.
type ContentStore interface {
	Save(ctx context.Context, doc *models.Document) error
	Replace(ctx context.Context, oldID string, doc *models.Document) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*models.Document, error)
	ListAll(ctx context.Context) ([]models.Document, error)
	ListPublished(ctx context.Context) ([]models.Document, error)
}

var _ ContentStore = (*Store)(nil)

// Store persists documents. Writes are serialized so a backing file and its
// record always change together.
type Store struct {
	conn   *sql.DB
	files  storage.Provider
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source used for CreatedAt and UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (or creates) the SQLite database at dsn and binds it to files.
func Open(dsn string, files storage.Provider, opts ...Option) (*Store, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply fts schema: %w", err)
	}

	s := &Store{
		conn:   conn,
		files:  files,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// migrate adds columns introduced after a database was first created.
func migrate(conn *sql.DB) error {
	rows, err := conn.Query(`SELECT name FROM pragma_table_info('documents')`)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if !cols["edited_at"] {
		if _, err := conn.Exec(`ALTER TABLE documents ADD COLUMN edited_at DATETIME`); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}
