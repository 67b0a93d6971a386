package sqlstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"go.mercari.io/durablemap"
	"go.mercari.io/durablemap/internal/testutils"
	"go.mercari.io/durablemap/sqlstore"
	"go.mercari.io/durablemap/testsuite"
)

// memoryCounter satisfies sqlstore.Counter without a network service.
type memoryCounter struct {
	mu      sync.Mutex
	current uint64
}

func (c *memoryCounter) Increment(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current++
	return c.current, nil
}

func (c *memoryCounter) Current(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, nil
}

func TestSQLiteStoreTestSuite(t *testing.T) {
	ctx := context.Background()
	db := testutils.SQLiteDB(t)

	for name, test := range testsuite.TestSuite {
		t.Run(name, func(t *testing.T) {
			store, err := sqlstore.New(ctx, db, testutils.UniqueName("suite"))
			if err != nil {
				t.Fatal(err)
			}
			test(ctx, t, store)
		})
	}
}

func TestSQLiteStoreWithCounterTestSuite(t *testing.T) {
	ctx := context.Background()
	db := testutils.SQLiteDB(t)

	for name, test := range testsuite.TestSuite {
		t.Run(name, func(t *testing.T) {
			store, err := sqlstore.New(ctx, db, testutils.UniqueName("suite"), sqlstore.WithCounter(&memoryCounter{}))
			if err != nil {
				t.Fatal(err)
			}
			test(ctx, t, store)
		})
	}
}

func TestPostgresStoreTestSuite(t *testing.T) {
	ctx := context.Background()
	db := testutils.PostgresDB(t)

	for name, test := range testsuite.TestSuite {
		t.Run(name, func(t *testing.T) {
			store, err := sqlstore.New(ctx, db, testutils.UniqueName("suite"), sqlstore.WithDialect(sqlstore.DialectPostgres))
			if err != nil {
				t.Fatal(err)
			}
			test(ctx, t, store)
		})
	}
}

func TestNew_RejectsUnsafeTableName(t *testing.T) {
	ctx := context.Background()
	db := testutils.SQLiteDB(t)

	if _, err := sqlstore.New(ctx, db, "entries; DROP TABLE users"); err == nil {
		t.Error("unexpected success for unsafe table name")
	}
	if _, err := sqlstore.New(ctx, db, "2fast"); err == nil {
		t.Error("unexpected success for leading digit")
	}
}

func TestOpenSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "flags.db")

	store, err := sqlstore.OpenSQLite(ctx, path, "flags")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, "rollout", []byte("0.25")); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := sqlstore.OpenSQLite(ctx, path, "flags")
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := reopened.Close(); err != nil {
			t.Fatal(err)
		}
	}()

	snapshot, err := reopened.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v := string(snapshot["rollout"]); v != "0.25" {
		t.Errorf("unexpected: %v", v)
	}
	version, err := reopened.Version(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if version != 1 {
		t.Errorf("unexpected: %v", version)
	}
}

func TestStore_VersionStartsAtZero(t *testing.T) {
	ctx := context.Background()
	db := testutils.SQLiteDB(t)

	store, err := sqlstore.New(ctx, db, testutils.UniqueName("fresh"))
	if err != nil {
		t.Fatal(err)
	}

	version, err := store.Version(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if version != 0 {
		t.Errorf("unexpected: %v", version)
	}

	if err := store.Put(ctx, "a", []byte("1")); err != nil {
		t.Fatal(err)
	}
	version, err = store.Version(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if version != 1 {
		t.Errorf("unexpected: %v", version)
	}
}

func TestStore_TakeAbsentLeavesMarker(t *testing.T) {
	ctx := context.Background()
	db := testutils.SQLiteDB(t)

	store, err := sqlstore.New(ctx, db, testutils.UniqueName("take"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, "a", []byte("1")); err != nil {
		t.Fatal(err)
	}
	before, err := store.Version(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := store.Take(ctx, "missing"); !errors.Is(err, durablemap.ErrNoSuchKey) {
		t.Errorf("unexpected: %v", err)
	}

	after, err := store.Version(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if before != after {
		t.Errorf("unexpected marker move: %v != %v", before, after)
	}
}

func TestStore_CounterReplacesMetaTable(t *testing.T) {
	ctx := context.Background()
	db := testutils.SQLiteDB(t)

	table := testutils.UniqueName("counted")
	counter := &memoryCounter{}
	store, err := sqlstore.New(ctx, db, table, sqlstore.WithCounter(counter))
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Put(ctx, "a", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}

	version, err := store.Version(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if version != 2 {
		t.Errorf("unexpected: %v", version)
	}

	var count int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table+"_meta").Scan(&count)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("unexpected meta table: %v", count)
	}
}
