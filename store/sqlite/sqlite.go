// Package sqlite is a durable store.Store backed by SQLite via the pure-Go
// modernc.org/sqlite driver. One table holds the artifact records, with
// secondary indexes on owner_id and created_at backing owner-scoped scans and
// age-based cleanup. Timestamps are stored as UTC unix milliseconds.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/unkn0wn-root/artcache/store"
	_ "modernc.org/sqlite"
)

var errEmptyPath = errors.New("sqlite store: path is required")

const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
	key           TEXT PRIMARY KEY,
	owner_id      TEXT NOT NULL,
	location_id   TEXT NOT NULL,
	status        TEXT NOT NULL,
	payload       BLOB,
	error_message TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifacts_owner   ON artifacts(owner_id);
CREATE INDEX IF NOT EXISTS idx_artifacts_created ON artifacts(created_at);
`

// Store is a SQLite-backed store.Store. Construct with New; the database is
// opened lazily on first use (or explicitly via Initialize).
type Store struct {
	path string

	mu sync.Mutex
	db *sql.DB // nil until initialized
}

var _ store.Store = (*Store)(nil)

func New(path string) *Store { return &Store{path: path} }

// Open is New + Initialize.
func Open(ctx context.Context, path string) (*Store, error) {
	s := New(path)
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Initialize opens the database and applies the schema. Idempotent: the
// mutex makes concurrent callers share one in-flight initialization, and a
// failure leaves the store uninitialized so the next call retries.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}
	if strings.TrimSpace(s.path) == "" {
		return &store.Error{Op: "initialize", Err: errEmptyPath}
	}

	dsn := s.path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return &store.Error{Op: "initialize", Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return &store.Error{Op: "initialize", Err: err}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return &store.Error{Op: "initialize", Err: err}
	}

	s.db = db
	return nil
}

func (s *Store) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return &store.Error{Op: "close", Err: err}
	}
	return nil
}

// handle initializes on demand so every operation sees a ready database.
func (s *Store) handle(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db != nil {
		return db, nil
	}
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	db = s.db
	s.mu.Unlock()
	return db, nil
}

func (s *Store) Get(ctx context.Context, key string) (store.Record, bool, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return store.Record{}, false, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT key, owner_id, location_id, status, payload, error_message, created_at, updated_at
		FROM artifacts WHERE key = ?`, key)
	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, &store.Error{Op: "get", Key: key, Err: err}
	}
	return rec, true, nil
}

// Set upserts rec. ON CONFLICT leaves created_at untouched, preserving the
// original creation time across updates.
func (s *Store) Set(ctx context.Context, rec store.Record) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO artifacts (key, owner_id, location_id, status, payload, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			owner_id      = excluded.owner_id,
			location_id   = excluded.location_id,
			status        = excluded.status,
			payload       = excluded.payload,
			error_message = excluded.error_message,
			updated_at    = excluded.updated_at`,
		rec.Key, rec.OwnerID, rec.LocationID, rec.Status, rec.Payload, rec.ErrorMessage,
		toMillis(createdAt), toMillis(updatedAt))
	if err != nil {
		return &store.Error{Op: "set", Key: rec.Key, Err: err}
	}
	return nil
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return false, err
	}

	var one int
	err = db.QueryRowContext(ctx, `SELECT 1 FROM artifacts WHERE key = ?`, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, &store.Error{Op: "has", Key: key, Err: err}
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return false, err
	}

	res, err := db.ExecContext(ctx, `DELETE FROM artifacts WHERE key = ?`, key)
	if err != nil {
		return false, &store.Error{Op: "delete", Key: key, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &store.Error{Op: "delete", Key: key, Err: err}
	}
	return n > 0, nil
}

func (s *Store) Clear(ctx context.Context, owner string) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}

	if owner == "" {
		_, err = db.ExecContext(ctx, `DELETE FROM artifacts`)
	} else {
		_, err = db.ExecContext(ctx, `DELETE FROM artifacts WHERE owner_id = ?`, owner)
	}
	if err != nil {
		return &store.Error{Op: "clear", Err: err}
	}
	return nil
}

func (s *Store) Load(ctx context.Context, owner string) ([]store.Record, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	q := `SELECT key, owner_id, location_id, status, payload, error_message, created_at, updated_at FROM artifacts`
	args := []any{}
	if owner != "" {
		q += ` WHERE owner_id = ?`
		args = append(args, owner)
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &store.Error{Op: "load", Err: err}
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, &store.Error{Op: "load", Err: err}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.Error{Op: "load", Err: err}
	}
	return out, nil
}

func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return store.Stats{}, err
	}

	st := store.Stats{EntriesByOwner: make(map[string]int)}

	var oldest, newest sql.NullInt64
	var bytes sql.NullInt64
	err = db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at), MAX(created_at),
			SUM(LENGTH(key) + COALESCE(LENGTH(payload), 0) + LENGTH(error_message))
		FROM artifacts`).Scan(&st.TotalEntries, &oldest, &newest, &bytes)
	if err != nil {
		return store.Stats{}, &store.Error{Op: "stats", Err: err}
	}
	if oldest.Valid {
		st.OldestCreatedAt = fromMillis(oldest.Int64)
	}
	if newest.Valid {
		st.NewestCreatedAt = fromMillis(newest.Int64)
	}
	st.EstimatedBytes = bytes.Int64

	rows, err := db.QueryContext(ctx, `SELECT owner_id, COUNT(*) FROM artifacts GROUP BY owner_id`)
	if err != nil {
		return store.Stats{}, &store.Error{Op: "stats", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var owner string
		var n int
		if err := rows.Scan(&owner, &n); err != nil {
			return store.Stats{}, &store.Error{Op: "stats", Err: err}
		}
		st.EntriesByOwner[owner] = n
	}
	if err := rows.Err(); err != nil {
		return store.Stats{}, &store.Error{Op: "stats", Err: err}
	}
	return st, nil
}

// Cleanup deletes records older than maxAge, then prunes oldest-first down to
// maxCount when a soft count target is given.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration, maxCount int) (int, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0
	if maxAge > 0 {
		cutoff := toMillis(time.Now().Add(-maxAge))
		res, err := db.ExecContext(ctx, `DELETE FROM artifacts WHERE created_at < ?`, cutoff)
		if err != nil {
			return deleted, &store.Error{Op: "cleanup", Err: err}
		}
		if n, err := res.RowsAffected(); err == nil {
			deleted += int(n)
		}
	}

	if maxCount > 0 {
		var total int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifacts`).Scan(&total); err != nil {
			return deleted, &store.Error{Op: "cleanup", Err: err}
		}
		if excess := total - maxCount; excess > 0 {
			res, err := db.ExecContext(ctx, `
				DELETE FROM artifacts WHERE key IN (
					SELECT key FROM artifacts ORDER BY created_at ASC LIMIT ?)`, excess)
			if err != nil {
				return deleted, &store.Error{Op: "cleanup", Err: err}
			}
			if n, err := res.RowsAffected(); err == nil {
				deleted += int(n)
			}
		}
	}

	return deleted, nil
}

type scanFunc func(dest ...any) error

func scanRecord(scan scanFunc) (store.Record, error) {
	var (
		rec       store.Record
		createdAt int64
		updatedAt int64
	)
	if err := scan(
		&rec.Key,
		&rec.OwnerID,
		&rec.LocationID,
		&rec.Status,
		&rec.Payload,
		&rec.ErrorMessage,
		&createdAt,
		&updatedAt,
	); err != nil {
		return store.Record{}, err
	}
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	return rec, nil
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
