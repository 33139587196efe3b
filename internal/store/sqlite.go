package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/peerchat/internal/models"
)

// SQLiteBackend stores records in a SQLite database. Writers take an
// immediate transaction, so processes sharing the file serialize on it.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend creates a new SQLite backend.
// If dbPath is empty, defaults to "./data/peerchat.db"
func NewSQLiteBackend(ctx context.Context, dbPath string) (*SQLiteBackend, error) {
	if dbPath == "" {
		dbPath = "./data/peerchat.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	backend := &SQLiteBackend{db: db}

	// Initialize schema
	if err := backend.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return backend, nil
}

// initSchema creates tables if they don't exist.
func (b *SQLiteBackend) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		key TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		chat_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		payload BLOB,
		entries TEXT NOT NULL DEFAULT '[]',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_records_chat_id ON records(chat_id);
	`

	_, err := b.db.ExecContext(ctx, schema)
	return err
}

func (b *SQLiteBackend) Name() string { return "sqlite" }

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// Ping checks the database connection.
func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// rowQuerier is satisfied by *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (b *SQLiteBackend) Load(ctx context.Context, key string) (*models.Record, error) {
	return sqliteLoad(ctx, b.db, key)
}

func sqliteLoad(ctx context.Context, q rowQuerier, key string) (*models.Record, error) {
	rec := &models.Record{}
	var entries string
	err := q.QueryRowContext(ctx, `
		SELECT type, chat_id, version, payload, entries
		FROM records WHERE key = ?
	`, key).Scan(
		&rec.Type,
		&rec.ChatID,
		&rec.Version,
		&rec.Payload,
		&entries,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(entries), &rec.Entries); err != nil {
		return nil, err
	}
	if len(rec.Entries) == 0 {
		rec.Entries = nil
	}
	return rec, nil
}

func (b *SQLiteBackend) Mutate(ctx context.Context, key string, fn func(*models.Record) (*models.Record, error)) (*models.Record, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	current, err := sqliteLoad(ctx, tx, key)
	if err != nil {
		return nil, err
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}

	entries, err := json.Marshal(next.Entries)
	if err != nil {
		return nil, err
	}
	if next.Entries == nil {
		entries = []byte("[]")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (key, type, chat_id, version, payload, entries, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			version = excluded.version,
			payload = excluded.payload,
			entries = excluded.entries,
			updated_at = excluded.updated_at
	`, key, string(next.Type), next.ChatID, next.Version, next.Payload, string(entries), time.Now())
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return next, nil
}
