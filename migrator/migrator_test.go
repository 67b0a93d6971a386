package migrator_test

import (
	"bytes"
	"context"
	"testing"

	"go.mercari.io/durablemap/memstore"
	"go.mercari.io/durablemap/migrator"
)

func TestMigrate_CopiesEverything(t *testing.T) {
	ctx := context.Background()
	src := memstore.New()
	dst := memstore.New()

	seed := map[string][]byte{
		"text":   []byte("hello"),
		"binary": {0x00, 0xFF, 0x00},
		"empty":  {},
	}
	for k, v := range seed {
		if err := src.Put(ctx, k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := dst.Put(ctx, "text", []byte("stale")); err != nil {
		t.Fatal(err)
	}
	if err := dst.Put(ctx, "extra", []byte("kept")); err != nil {
		t.Fatal(err)
	}

	copied, err := migrator.Migrate(ctx, src, dst, false)
	if err != nil {
		t.Fatal(err)
	}
	if copied != len(seed) {
		t.Errorf("unexpected: %v", copied)
	}

	snapshot, err := dst.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(snapshot) != len(seed)+1 {
		t.Fatalf("unexpected: %v", snapshot)
	}
	for k, v := range seed {
		if !bytes.Equal(snapshot[k], v) {
			t.Errorf("unexpected: key %q holds %v", k, snapshot[k])
		}
	}
	if v := string(snapshot["extra"]); v != "kept" {
		t.Errorf("unexpected: %v", v)
	}
}

func TestMigrate_PurgeLeavesExactCopy(t *testing.T) {
	ctx := context.Background()
	src := memstore.New()
	dst := memstore.New()

	if err := src.Put(ctx, "only", []byte("value")); err != nil {
		t.Fatal(err)
	}
	if err := dst.Put(ctx, "extra", []byte("doomed")); err != nil {
		t.Fatal(err)
	}

	if _, err := migrator.Migrate(ctx, src, dst, true); err != nil {
		t.Fatal(err)
	}

	snapshot, err := dst.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(snapshot) != 1 {
		t.Fatalf("unexpected: %v", snapshot)
	}
	if v := string(snapshot["only"]); v != "value" {
		t.Errorf("unexpected: %v", v)
	}
}

func TestMigrate_MovesDestinationMarker(t *testing.T) {
	ctx := context.Background()
	src := memstore.New()
	dst := memstore.New()

	if err := src.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}

	before, err := dst.Version(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := migrator.Migrate(ctx, src, dst, false); err != nil {
		t.Fatal(err)
	}
	after, err := dst.Version(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if before == after {
		t.Errorf("unexpected: marker %d did not move", after)
	}
}
