package zkstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mercari.io/durablemap/internal/testutils"
	"go.mercari.io/durablemap/testsuite"
	"go.mercari.io/durablemap/zkstore"
)

func TestZKStoreTestSuite(t *testing.T) {
	ctx := context.Background()
	conn := testutils.ZKConn(t)

	for name, test := range testsuite.TestSuite {
		t.Run(name, func(t *testing.T) {
			store, err := zkstore.New(conn, "/durablemap_test/"+testutils.UniqueName("suite"))
			if err != nil {
				t.Fatal(err)
			}
			defer func() {
				if err := store.Close(); err != nil {
					t.Fatal(err)
				}
			}()
			test(ctx, t, store)
		})
	}
}

func TestNew_RejectsBadRoot(t *testing.T) {
	// Validation happens before the connection is used.
	if _, err := zkstore.New(nil, "flags"); err == nil {
		t.Error("unexpected success for relative root")
	}
	if _, err := zkstore.New(nil, "/"); err == nil {
		t.Error("unexpected success for bare /")
	}
}

func TestPut_RejectsBadKey(t *testing.T) {
	ctx := context.Background()
	conn := testutils.ZKConn(t)

	store, err := zkstore.New(conn, "/durablemap_test/"+testutils.UniqueName("keys"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			t.Fatal(err)
		}
	}()

	if err := store.Put(ctx, "a/b", []byte("1")); !errors.Is(err, zkstore.ErrBadKey) {
		t.Errorf("unexpected: %v", err)
	}
	if err := store.Put(ctx, "", []byte("1")); !errors.Is(err, zkstore.ErrBadKey) {
		t.Errorf("unexpected: %v", err)
	}
	if _, err := store.Delete(ctx, "a/b"); !errors.Is(err, zkstore.ErrBadKey) {
		t.Errorf("unexpected: %v", err)
	}
}

func TestStore_WatchSeesForeignWrites(t *testing.T) {
	ctx := context.Background()
	conn := testutils.ZKConn(t)
	root := "/durablemap_test/" + testutils.UniqueName("watch")

	writer, err := zkstore.New(conn, root)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			t.Fatal(err)
		}
	}()
	reader, err := zkstore.New(conn, root)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := reader.Close(); err != nil {
			t.Fatal(err)
		}
	}()

	before, err := reader.Version(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := writer.Put(ctx, "flag", []byte("on")); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		after, err := reader.Version(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if after != before {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("reader never saw the root move past %v", before)
		}
		time.Sleep(10 * time.Millisecond)
	}

	snapshot, err := reader.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v := string(snapshot["flag"]); v != "on" {
		t.Errorf("unexpected: %v", v)
	}
}

func TestStore_CloseIsIdempotent(t *testing.T) {
	conn := testutils.ZKConn(t)

	store, err := zkstore.New(conn, "/durablemap_test/"+testutils.UniqueName("close"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
}
