package cachestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	// SQLite driver (required for database/sql registration).
	_ "github.com/mattn/go-sqlite3"
)

const (
	// ScopeLocal is the persistent key-value scope.
	ScopeLocal = "local"

	// ScopeSession is the per-run key-value scope.
	ScopeSession = "session"

	// ArtifactCache is the named cache model artifacts are recorded in.
	ArtifactCache = "webllm/model"
)

// Store is a storage host backed by one SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the store at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// openDB opens a single SQLite database with the settings we rely on.
func openDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}

	return db, nil
}

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		cache_name  TEXT NOT NULL,
		key         TEXT NOT NULL,
		body        BLOB,
		created_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		PRIMARY KEY (cache_name, key)
	);

	CREATE TABLE IF NOT EXISTS kv_entries (
		scope       TEXT NOT NULL,
		key         TEXT NOT NULL,
		value       TEXT NOT NULL,
		PRIMARY KEY (scope, key)
	);

	CREATE TABLE IF NOT EXISTS local_databases (
		name        TEXT PRIMARY KEY,
		created_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE TABLE IF NOT EXISTS worker_registrations (
		id          TEXT PRIMARY KEY,
		scope       TEXT NOT NULL,
		created_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Host returns every facility of this store.
func (s *Store) Host() Host {
	return Host{
		Caches:    &sqliteCaches{db: s.db},
		Local:     &sqliteKV{db: s.db, scope: ScopeLocal},
		Session:   &sqliteKV{db: s.db, scope: ScopeSession},
		Databases: &sqliteDatabases{db: s.db},
		Workers:   &sqliteWorkers{db: s.db},
	}
}

// ============================================================
// Writers (used by the engine side and by tests)
// ============================================================

// Put stores an entry in a named cache.
func (s *Store) Put(ctx context.Context, cache, key string, body []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (cache_name, key, body) VALUES (?, ?, ?)
		 ON CONFLICT(cache_name, key) DO UPDATE SET body = excluded.body`,
		cache, key, body)
	return err
}

// Set stores a key-value pair in a scope.
func (s *Store) Set(ctx context.Context, scope, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_entries (scope, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value`,
		scope, key, value)
	return err
}

// CreateDatabase records a local database.
func (s *Store) CreateDatabase(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO local_databases (name) VALUES (?)`, name)
	return err
}

// RegisterWorker records a background worker and returns its id.
func (s *Store) RegisterWorker(ctx context.Context, scope string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `INSERT INTO worker_registrations (id, scope) VALUES (?, ?)`, id, scope)
	if err != nil {
		return "", err
	}
	return id, nil
}

// RecordArtifact notes a downloaded model artifact so it can later be
// invalidated. Implements engine.ArtifactRecorder.
func (s *Store) RecordArtifact(ctx context.Context, modelID, key string) error {
	if err := s.Put(ctx, ArtifactCache, key, nil); err != nil {
		return fmt.Errorf("record artifact: %w", err)
	}
	return s.Set(ctx, ScopeLocal, "webllm:model:"+modelID, key)
}

// ============================================================
// Facilities
// ============================================================

type sqliteCaches struct {
	db *sql.DB
}

func (c *sqliteCaches) Names(ctx context.Context) ([]string, error) {
	return queryStrings(ctx, c.db, `SELECT DISTINCT cache_name FROM cache_entries ORDER BY cache_name`)
}

func (c *sqliteCaches) Keys(ctx context.Context, cache string) ([]string, error) {
	return queryStrings(ctx, c.db, `SELECT key FROM cache_entries WHERE cache_name = ? ORDER BY key`, cache)
}

func (c *sqliteCaches) DeleteEntry(ctx context.Context, cache, key string) (bool, error) {
	return execAffected(ctx, c.db, `DELETE FROM cache_entries WHERE cache_name = ? AND key = ?`, cache, key)
}

func (c *sqliteCaches) DeleteCache(ctx context.Context, cache string) (bool, error) {
	return execAffected(ctx, c.db, `DELETE FROM cache_entries WHERE cache_name = ?`, cache)
}

type sqliteKV struct {
	db    *sql.DB
	scope string
}

func (k *sqliteKV) Len(ctx context.Context) (int, error) {
	var n int
	err := k.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv_entries WHERE scope = ?`, k.scope).Scan(&n)
	return n, err
}

func (k *sqliteKV) Key(ctx context.Context, i int) (string, bool, error) {
	var key string
	err := k.db.QueryRowContext(ctx,
		`SELECT key FROM kv_entries WHERE scope = ? ORDER BY key LIMIT 1 OFFSET ?`, k.scope, i).Scan(&key)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return key, true, nil
}

func (k *sqliteKV) Remove(ctx context.Context, key string) error {
	_, err := k.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE scope = ? AND key = ?`, k.scope, key)
	return err
}

func (k *sqliteKV) Clear(ctx context.Context) error {
	_, err := k.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE scope = ?`, k.scope)
	return err
}

type sqliteDatabases struct {
	db *sql.DB
}

func (d *sqliteDatabases) Delete(ctx context.Context, name string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM local_databases WHERE name = ?`, name)
	return err
}

func (d *sqliteDatabases) List(ctx context.Context) ([]string, error) {
	return queryStrings(ctx, d.db, `SELECT name FROM local_databases ORDER BY name`)
}

type sqliteWorkers struct {
	db *sql.DB
}

func (w *sqliteWorkers) Registrations(ctx context.Context) ([]string, error) {
	return queryStrings(ctx, w.db, `SELECT id FROM worker_registrations ORDER BY created_at, id`)
}

func (w *sqliteWorkers) Unregister(ctx context.Context, id string) error {
	_, err := w.db.ExecContext(ctx, `DELETE FROM worker_registrations WHERE id = ?`, id)
	return err
}

// ============================================================
// Helpers
// ============================================================

func queryStrings(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func execAffected(ctx context.Context, db *sql.DB, query string, args ...any) (bool, error) {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
