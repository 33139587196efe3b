package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/peerchat/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS records (
	key TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	chat_id TEXT NOT NULL,
	version BIGINT NOT NULL,
	payload BYTEA,
	entries JSONB NOT NULL DEFAULT '[]'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_records_chat_id ON records(chat_id);
`

// RunMigrations creates the records table.
func RunMigrations(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, postgresSchema)
	return err
}

// PostgresBackend stores records in PostgreSQL. Writers serialize per key on
// a transaction-scoped advisory lock, which also covers keys that have no row
// yet.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend creates a new PostgreSQL backend with a connection pool.
func NewPostgresBackend(ctx context.Context, databaseURL string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresBackend{pool: pool}, nil
}

func (b *PostgresBackend) Name() string { return "postgres" }

// Close closes the database connection pool.
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

// Ping checks the database connection.
func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

func (b *PostgresBackend) Load(ctx context.Context, key string) (*models.Record, error) {
	return postgresLoad(ctx, b.pool, key)
}

// pgQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func postgresLoad(ctx context.Context, q pgQuerier, key string) (*models.Record, error) {
	rec := &models.Record{}
	var (
		recType string
		version int64
		entries []byte
	)
	err := q.QueryRow(ctx, `
		SELECT type, chat_id, version, payload, entries
		FROM records WHERE key = $1
	`, key).Scan(
		&recType,
		&rec.ChatID,
		&version,
		&rec.Payload,
		&entries,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.Type = models.RecordType(recType)
	rec.Version = uint64(version)
	if err := json.Unmarshal(entries, &rec.Entries); err != nil {
		return nil, err
	}
	if len(rec.Entries) == 0 {
		rec.Entries = nil
	}
	return rec, nil
}

func (b *PostgresBackend) Mutate(ctx context.Context, key string, fn func(*models.Record) (*models.Record, error)) (*models.Record, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return nil, err
	}

	current, err := postgresLoad(ctx, tx, key)
	if err != nil {
		return nil, err
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}

	entries := []byte("[]")
	if next.Entries != nil {
		if entries, err = json.Marshal(next.Entries); err != nil {
			return nil, err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO records (key, type, chat_id, version, payload, entries, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (key) DO UPDATE SET
			version = EXCLUDED.version,
			payload = EXCLUDED.payload,
			entries = EXCLUDED.entries,
			updated_at = now()
	`, key, string(next.Type), next.ChatID, int64(next.Version), next.Payload, entries)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return next, nil
}
