// Package dbopen opens the SQLite databases of domreplay with the pragmas the
// change log relies on: WAL journaling, a busy timeout long enough for the
// background flusher and the HTTP readers to share the file, and foreign keys.
//
// Pragmas are passed as _pragma DSN parameters so that every connection of
// the pool gets them, not only the first one.
//
//	db, err := dbopen.Open("data/changes.db", dbopen.WithMkdirAll())
//
// In tests:
//
//	db := dbopen.OpenMemory(t)
package dbopen

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

type options struct {
	busyTimeout int
	synchronous string
	cacheSize   int
	foreignKeys bool
	mkdirAll    bool
	schemas     []string
	maxConns    int
}

// Option customises Open.
type Option func(*options)

// WithBusyTimeout sets busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(o *options) { o.busyTimeout = ms } }

// WithSynchronous sets the synchronous mode. Default: NORMAL.
func WithSynchronous(mode string) Option { return func(o *options) { o.synchronous = mode } }

// WithCacheSize sets cache_size. Negative values are KiB.
func WithCacheSize(pages int) Option { return func(o *options) { o.cacheSize = pages } }

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() Option { return func(o *options) { o.mkdirAll = true } }

// WithSchema runs DDL once the database is open. Statements must be
// idempotent (CREATE ... IF NOT EXISTS).
func WithSchema(ddl string) Option { return func(o *options) { o.schemas = append(o.schemas, ddl) } }

// WithMaxOpenConns bounds the connection pool.
func WithMaxOpenConns(n int) Option { return func(o *options) { o.maxConns = n } }

// WithoutForeignKeys turns foreign key enforcement off.
func WithoutForeignKeys() Option { return func(o *options) { o.foreignKeys = false } }

// Open opens the database at path, creating it when missing.
func Open(path string, opts ...Option) (*sql.DB, error) {
	o := options{busyTimeout: 10_000, synchronous: "NORMAL", foreignKeys: true}
	for _, fn := range opts {
		fn(&o)
	}

	if o.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open(driverName, dsn(path, &o))
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}
	if o.maxConns > 0 {
		db.SetMaxOpenConns(o.maxConns)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: ping %s: %w", path, err)
	}
	for _, ddl := range o.schemas {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: schema: %w", err)
		}
	}
	return db, nil
}

func dsn(path string, o *options) string {
	fk := 1
	if !o.foreignKeys {
		fk = 0
	}
	pragmas := []string{
		fmt.Sprintf("foreign_keys(%d)", fk),
		fmt.Sprintf("busy_timeout(%d)", o.busyTimeout),
		"synchronous(" + o.synchronous + ")",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "journal_mode(WAL)")
	}
	if o.cacheSize != 0 {
		pragmas = append(pragmas, fmt.Sprintf("cache_size(%d)", o.cacheSize))
	}
	q := make(url.Values)
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + q.Encode()
}

// OpenMemory opens a private in-memory database for a test and closes it on
// cleanup. The pool is limited to one connection: each connection to
// ":memory:" would otherwise see its own empty database.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", append(opts, WithMaxOpenConns(1))...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
