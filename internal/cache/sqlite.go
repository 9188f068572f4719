package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// SQLite driver for the durable tier
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	ttl_ms     INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries (expires_at);
`

// sqliteTier is the unbounded durable tier. Corrupted or unreadable rows
// are treated as misses and purged, never surfaced as errors to readers.
type sqliteTier struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

func newSQLiteTier(path string, logger *zap.SugaredLogger) (*sqliteTier, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode allows concurrent reads during writes
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}

	return &sqliteTier{db: db, logger: logger}, nil
}

func (t *sqliteTier) get(ctx context.Context, key string) (Entry, bool) {
	row := t.db.QueryRowContext(ctx,
		"SELECT payload, created_at, ttl_ms, expires_at FROM cache_entries WHERE key = ?", key)

	var payload []byte
	var createdAt, ttlMs, expiresAt int64
	if err := row.Scan(&payload, &createdAt, &ttlMs, &expiresAt); err != nil {
		if err != sql.ErrNoRows {
			// Unreadable row: purge it and report a miss
			t.logger.Warnw("Purging corrupted cache entry", "key", key, "error", err)
			_, _ = t.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key)
		}
		return Entry{}, false
	}

	return Entry{
		Key:       key,
		Payload:   payload,
		CreatedAt: time.UnixMilli(createdAt),
		TTL:       time.Duration(ttlMs) * time.Millisecond,
		ExpiresAt: time.UnixMilli(expiresAt),
	}, true
}

func (t *sqliteTier) set(ctx context.Context, entry Entry) error {
	_, err := t.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO cache_entries (key, payload, created_at, ttl_ms, expires_at) VALUES (?, ?, ?, ?, ?)",
		entry.Key,
		entry.Payload,
		entry.CreatedAt.UnixMilli(),
		entry.TTL.Milliseconds(),
		entry.ExpiresAt.UnixMilli(),
	)
	return err
}

func (t *sqliteTier) delete(ctx context.Context, key string) (bool, error) {
	res, err := t.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (t *sqliteTier) clear(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, "DELETE FROM cache_entries")
	return err
}

func (t *sqliteTier) sweep(ctx context.Context, now time.Time) (int, error) {
	res, err := t.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE expires_at < ?", now.UnixMilli())
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (t *sqliteTier) close() error {
	return t.db.Close()
}
