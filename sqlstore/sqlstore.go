// Package sqlstore provides a durablemap.Backend on a relational
// table. Entries live in one two-column table; the freshness marker
// lives in a one-row meta table updated inside the same transaction as
// every mutation, or in an external Counter when the marker should not
// load the primary database.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"go.mercari.io/durablemap"

	_ "modernc.org/sqlite"
)

var _ durablemap.Backend = (*Store)(nil)
var _ durablemap.Taker = (*Store)(nil)
var _ durablemap.Ensurer = (*Store)(nil)

// Dialect selects the SQL flavor a Store speaks.
type Dialect int

const (
	// DialectSQLite is the default. Drive it with modernc.org/sqlite.
	DialectSQLite Dialect = iota
	// DialectPostgres switches to $n placeholders and BYTEA columns.
	// Drive it with github.com/jackc/pgx/v5/stdlib.
	DialectPostgres
)

// Counter is an external source for the freshness marker, used in
// place of the meta table. Increment runs after each mutation commits,
// so marker and data move separately; a crash between the two delays
// other instances by one mutation, it never corrupts them.
type Counter interface {
	Increment(ctx context.Context) (uint64, error)
	Current(ctx context.Context) (uint64, error)
}

// StoreOption configures a Store at construction time.
type StoreOption interface {
	Apply(*Store)
}

// WithDialect selects the SQL flavor. The default is DialectSQLite.
func WithDialect(d Dialect) StoreOption {
	return withDialect{d}
}

type withDialect struct{ d Dialect }

func (w withDialect) Apply(s *Store) { s.dialect = w.d }

// WithCounter moves the freshness marker to an external Counter. The
// meta table is then neither created nor touched.
func WithCounter(c Counter) StoreOption {
	return withCounter{c}
}

type withCounter struct{ c Counter }

func (w withCounter) Apply(s *Store) { s.counter = w.c }

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store is a SQL-backed Backend. The database handle is owned by the
// caller unless the Store came from OpenSQLite.
type Store struct {
	db      *sql.DB
	table   string
	meta    string
	dialect Dialect
	counter Counter
	ownsDB  bool

	qUpsert   string
	qInsertNX string
	qDelete   string
	qGet      string
	qAll      string
	qBump     string
	qVersion  string
}

// New returns a Store over db, creating the entries table (and, unless
// an external Counter is configured, the meta table) when missing.
// table must be a plain SQL identifier; the meta table is named
// "<table>_meta".
func New(ctx context.Context, db *sql.DB, table string, opts ...StoreOption) (*Store, error) {
	if !identifier.MatchString(table) {
		return nil, fmt.Errorf("sqlstore: invalid table name %q", table)
	}

	s := &Store{
		db:    db,
		table: table,
		meta:  table + "_meta",
	}
	for _, opt := range opts {
		opt.Apply(s)
	}
	s.buildStatements()

	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens (creating if needed) a SQLite database at path and
// returns a Store over it. The Store owns the handle; Close releases
// it.
func OpenSQLite(ctx context.Context, path, table string, opts ...StoreOption) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlstore: storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping sqlite db: %w", err)
	}

	opts = append(opts, WithDialect(DialectSQLite))
	store, err := New(ctx, db, table, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

// Close releases the database handle when the Store owns it.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func (s *Store) buildStatements() {
	switch s.dialect {
	case DialectPostgres:
		s.qUpsert = fmt.Sprintf(`INSERT INTO %s (k, v) VALUES ($1, $2) ON CONFLICT (k) DO UPDATE SET v = excluded.v`, s.table)
		s.qInsertNX = fmt.Sprintf(`INSERT INTO %s (k, v) VALUES ($1, $2) ON CONFLICT (k) DO NOTHING`, s.table)
		s.qDelete = fmt.Sprintf(`DELETE FROM %s WHERE k = $1`, s.table)
		s.qGet = fmt.Sprintf(`SELECT v FROM %s WHERE k = $1`, s.table)
	default:
		s.qUpsert = fmt.Sprintf(`INSERT INTO %s (k, v) VALUES (?, ?) ON CONFLICT (k) DO UPDATE SET v = excluded.v`, s.table)
		s.qInsertNX = fmt.Sprintf(`INSERT INTO %s (k, v) VALUES (?, ?) ON CONFLICT (k) DO NOTHING`, s.table)
		s.qDelete = fmt.Sprintf(`DELETE FROM %s WHERE k = ?`, s.table)
		s.qGet = fmt.Sprintf(`SELECT v FROM %s WHERE k = ?`, s.table)
	}
	s.qAll = fmt.Sprintf(`SELECT k, v FROM %s`, s.table)
	s.qBump = fmt.Sprintf(`INSERT INTO %s (id, version) VALUES (1, 1) ON CONFLICT (id) DO UPDATE SET version = %s.version + 1`, s.meta, s.meta)
	s.qVersion = fmt.Sprintf(`SELECT version FROM %s WHERE id = 1`, s.meta)
}

func (s *Store) ensureSchema(ctx context.Context) error {
	valueType := "BLOB"
	if s.dialect == DialectPostgres {
		valueType = "BYTEA"
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (k TEXT PRIMARY KEY, v %s NOT NULL)`, s.table, valueType)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sqlstore: create table: %w", err)
	}

	if s.counter != nil {
		return nil
	}
	ddl = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY CHECK (id = 1), version BIGINT NOT NULL)`, s.meta)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sqlstore: create meta table: %w", err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit: %w", err)
	}
	return nil
}

// bump moves the meta-table marker inside tx. With an external Counter
// the transaction carries no marker work; see bumpAfter.
func (s *Store) bump(ctx context.Context, tx *sql.Tx) error {
	if s.counter != nil {
		return nil
	}
	if _, err := tx.ExecContext(ctx, s.qBump); err != nil {
		return fmt.Errorf("sqlstore: bump version: %w", err)
	}
	return nil
}

func (s *Store) bumpAfter(ctx context.Context) error {
	if s.counter == nil {
		return nil
	}
	if _, err := s.counter.Increment(ctx); err != nil {
		return fmt.Errorf("sqlstore: increment counter: %w", err)
	}
	return nil
}

// Put implements durablemap.Backend.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.qUpsert, key, value); err != nil {
			return fmt.Errorf("sqlstore: upsert: %w", err)
		}
		return s.bump(ctx, tx)
	})
	if err != nil {
		return err
	}
	return s.bumpAfter(ctx)
}

// Delete implements durablemap.Backend.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	var existed bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, s.qDelete, key)
		if err != nil {
			return fmt.Errorf("sqlstore: delete: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlstore: rows affected: %w", err)
		}
		existed = affected > 0
		return s.bump(ctx, tx)
	})
	if err != nil {
		return false, err
	}
	return existed, s.bumpAfter(ctx)
}

// Snapshot implements durablemap.Backend.
func (s *Store) Snapshot(ctx context.Context) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, s.qAll)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: select all: %w", err)
	}
	defer rows.Close()

	entries := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("sqlstore: scan: %w", err)
		}
		entries[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: iterate: %w", err)
	}
	return entries, nil
}

// Version implements durablemap.Backend. A keyspace no one has written
// to yet reports 0.
func (s *Store) Version(ctx context.Context) (uint64, error) {
	if s.counter != nil {
		version, err := s.counter.Current(ctx)
		if err != nil {
			return 0, fmt.Errorf("sqlstore: read counter: %w", err)
		}
		return version, nil
	}

	var version uint64
	err := s.db.QueryRowContext(ctx, s.qVersion).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlstore: version: %w", err)
	}
	return version, nil
}

// Take implements durablemap.Taker. Read and delete share one
// transaction; an absent key leaves the marker alone.
func (s *Store) Take(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, s.qGet, key).Scan(&value); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return durablemap.ErrNoSuchKey
			}
			return fmt.Errorf("sqlstore: select: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.qDelete, key); err != nil {
			return fmt.Errorf("sqlstore: delete: %w", err)
		}
		return s.bump(ctx, tx)
	})
	if err != nil {
		return nil, err
	}
	return value, s.bumpAfter(ctx)
}

// Ensure implements durablemap.Ensurer. Insert-if-absent and the
// winner read share one transaction.
func (s *Store) Ensure(ctx context.Context, key string, value []byte) ([]byte, error) {
	var winner []byte
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.qInsertNX, key, value); err != nil {
			return fmt.Errorf("sqlstore: insert: %w", err)
		}
		if err := tx.QueryRowContext(ctx, s.qGet, key).Scan(&winner); err != nil {
			return fmt.Errorf("sqlstore: select winner: %w", err)
		}
		return s.bump(ctx, tx)
	})
	if err != nil {
		return nil, err
	}
	return winner, s.bumpAfter(ctx)
}
