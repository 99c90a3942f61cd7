// Package cachedb implements the persistent cache of the Safe Browsing
// client: an SQLite database of chunks, hash prefixes, and cached full
// hashes, with transactional apply of sync deltas.
package cachedb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/AdguardTeam/golibs/timeutil"

	// Register the pure-Go SQLite driver.
	_ "modernc.org/sqlite"
)

// Storage is the SQLite-backed cache of chunks, hash prefixes, and full
// hashes.
type Storage struct {
	logger *slog.Logger
	clock  timeutil.Clock
	db     *sql.DB
}

// Config is the configuration structure of the storage.  All fields must not
// be empty.
type Config struct {
	// Logger is used for logging the storage operation.
	Logger *slog.Logger

	// Clock is used to tell the current time for full-hash expiry.
	Clock timeutil.Clock

	// Path is the path to the database file.
	Path string
}

// schema is the database schema.  It is not a compatibility surface: the
// database is a cache and can always be rebuilt by a full sync.
const schema = `
CREATE TABLE IF NOT EXISTS chunk (
	list_name TEXT NOT NULL,
	chunk_number INTEGER NOT NULL,
	chunk_type INTEGER NOT NULL,
	PRIMARY KEY (list_name, chunk_number, chunk_type)
);

CREATE TABLE IF NOT EXISTS hash_prefix (
	list_name TEXT NOT NULL,
	chunk_number INTEGER NOT NULL,
	chunk_type INTEGER NOT NULL,
	prefix_length INTEGER NOT NULL,
	value BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS hash_prefix_value_idx ON hash_prefix (value);

CREATE TABLE IF NOT EXISTS full_hash (
	list_name TEXT NOT NULL,
	value BLOB NOT NULL,
	metadata INTEGER NOT NULL DEFAULT 0,
	expires_at INTEGER NOT NULL,
	PRIMARY KEY (list_name, value)
);

CREATE TABLE IF NOT EXISTS sub_reference (
	list_name TEXT NOT NULL,
	chunk_number INTEGER NOT NULL,
	add_chunk_number INTEGER NOT NULL,
	value BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS sub_reference_value_idx ON sub_reference (value);
`

// New opens or creates the database at c.Path and returns the storage.  c
// must not be nil.
func New(c *Config) (s *Storage, err error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)", c.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", c.Path, err)
	}

	// SQLite allows one writer; a single connection also makes readers wait
	// for a running sync transaction to commit.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(schema)
	if err != nil {
		return nil, fmt.Errorf("initializing schema in %q: %w", c.Path, err)
	}

	return &Storage{
		logger: c.Logger,
		clock:  c.Clock,
		db:     db,
	}, nil
}

// Close closes the underlying database.
func (s *Storage) Close() (err error) {
	return s.db.Close()
}

// dbtx is the common query interface of *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (res sql.Result, err error)
	QueryContext(ctx context.Context, query string, args ...any) (rows *sql.Rows, err error)
	QueryRowContext(ctx context.Context, query string, args ...any) (row *sql.Row)
}

// type checks
var (
	_ dbtx = (*sql.DB)(nil)
	_ dbtx = (*sql.Tx)(nil)
)

// Stats are the row counts of the cache.
type Stats struct {
	// Chunks is the number of stored chunks.
	Chunks int64

	// HashPrefixes is the number of stored hash prefixes.
	HashPrefixes int64

	// FullHashes is the number of stored full hashes, including expired
	// ones not yet overwritten.
	FullHashes int64
}

// Stats returns the row counts of the cache.
func (s *Storage) Stats(ctx context.Context) (st *Stats, err error) {
	st = &Stats{}
	counts := []struct {
		dst   *int64
		query string
	}{{
		dst:   &st.Chunks,
		query: `SELECT count(*) FROM chunk`,
	}, {
		dst:   &st.HashPrefixes,
		query: `SELECT count(*) FROM hash_prefix`,
	}, {
		dst:   &st.FullHashes,
		query: `SELECT count(*) FROM full_hash`,
	}}

	for _, c := range counts {
		err = s.db.QueryRowContext(ctx, c.query).Scan(c.dst)
		if err != nil {
			return nil, fmt.Errorf("counting rows: %w", err)
		}
	}

	return st, nil
}

// TotalCleanup deletes all cached data.
func (s *Storage) TotalCleanup(ctx context.Context) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting cleanup: %w", err)
	}

	err = purge(ctx, tx)
	if err != nil {
		return rollback(tx, fmt.Errorf("cleaning up: %w", err))
	}

	return tx.Commit()
}

// purge deletes all rows from all tables.
func purge(ctx context.Context, tx dbtx) (err error) {
	for _, table := range []string{"chunk", "hash_prefix", "full_hash", "sub_reference"} {
		_, err = tx.ExecContext(ctx, `DELETE FROM `+table)
		if err != nil {
			return fmt.Errorf("purging %s: %w", table, err)
		}
	}

	return nil
}

// rollback rolls tx back and returns err joined with the rollback error, if
// any.
func rollback(tx *sql.Tx, err error) (res error) {
	rbErr := tx.Rollback()
	if rbErr != nil {
		return fmt.Errorf("%w; also rolling back: %w", err, rbErr)
	}

	return err
}
