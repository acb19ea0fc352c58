package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/regsift/regsift/document"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id            TEXT PRIMARY KEY,
	url           TEXT NOT NULL UNIQUE,
	detail_url    TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL DEFAULT '',
	title         TEXT NOT NULL DEFAULT '',
	published_at  TEXT NOT NULL DEFAULT '',
	content_type  TEXT NOT NULL DEFAULT '',
	content_hash  TEXT NOT NULL DEFAULT '',
	excerpt       TEXT NOT NULL DEFAULT '',
	metadata      TEXT NOT NULL DEFAULT '{}',
	status        TEXT NOT NULL DEFAULT 'pending',
	indexed_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);
CREATE INDEX IF NOT EXISTS idx_documents_source_published
	ON documents(source, published_at);

CREATE TABLE IF NOT EXISTS fetch_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	source      TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	discovered  INTEGER NOT NULL DEFAULT 0,
	stored      INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT ''
);
`

// SQLite implements Index on a single database file.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the index database at path and applies
// the schema. Path ":memory:" is honoured for tests.
func Open(path string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("index: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("index: open: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("index: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: schema: %w", err)
	}
	return &SQLite{db: db, logger: logger.With("component", "index")}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) ExistsDocument(ctx context.Context, url string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM documents WHERE url = ?`, url).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("index: exists %s: %w", url, err)
	}
	return true, nil
}

func (s *SQLite) InsertDocument(ctx context.Context, doc *document.Document) (InsertResult, error) {
	if doc.URL == "" {
		return InsertResult{Result: ResultFailed}, errors.New("index: document has no url")
	}

	meta := []byte("{}")
	if len(doc.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(doc.Metadata); err != nil {
			return InsertResult{Result: ResultFailed}, fmt.Errorf("index: marshal metadata: %w", err)
		}
	}

	var published string
	if !doc.PublishedDate.IsZero() {
		published = doc.PublishedDate.UTC().Format(time.RFC3339)
	}

	id := uuid.NewString()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents
			(id, url, detail_url, source, title, published_at,
			 content_type, content_hash, excerpt, metadata, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO NOTHING`,
		id, doc.URL, doc.DetailURL, doc.SourceName, doc.Title, published,
		doc.ContentType, doc.ContentHash, firstRunes(doc.Text, 500),
		string(meta), string(doc.Status))
	if err != nil {
		return InsertResult{Result: ResultFailed}, fmt.Errorf("index: insert %s: %w", doc.URL, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return InsertResult{Result: ResultFailed}, fmt.Errorf("index: insert %s: %w", doc.URL, err)
	}
	if n == 0 {
		var existing string
		if err := s.db.QueryRowContext(ctx,
			`SELECT id FROM documents WHERE url = ?`, doc.URL).Scan(&existing); err != nil {
			return InsertResult{Result: ResultFailed}, fmt.Errorf("index: lookup %s: %w", doc.URL, err)
		}
		return InsertResult{Result: ResultExisting, ID: existing}, nil
	}
	s.logger.Debug("document indexed", "id", id, "url", doc.URL, "source", doc.SourceName)
	return InsertResult{Result: ResultCreated, ID: id}, nil
}

func (s *SQLite) LogRun(ctx context.Context, rec RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fetch_log
			(source, started_at, finished_at, discovered, stored, skipped, failed, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Source,
		rec.StartedAt.UTC().Format(time.RFC3339),
		rec.FinishedAt.UTC().Format(time.RFC3339),
		rec.Discovered, rec.Stored, rec.Skipped, rec.Failed, rec.Error)
	if err != nil {
		return fmt.Errorf("index: log run for %s: %w", rec.Source, err)
	}
	return nil
}

func firstRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
