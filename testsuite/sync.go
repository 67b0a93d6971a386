package testsuite

import (
	"context"
	"errors"
	"testing"

	"go.mercari.io/durablemap"
)

func syncCoherence(ctx context.Context, t *testing.T, backend durablemap.Backend) {
	a := newStringMap(ctx, t, backend, false)
	b := newStringMap(ctx, t, backend, false)

	if err := a.Set(ctx, "region", "asia-northeast1"); err != nil {
		t.Fatal(err)
	}

	// b has not synced and autosync is off, so the write is invisible
	if _, err := b.Get(ctx, "region"); !errors.Is(err, durablemap.ErrNoSuchKey) {
		t.Errorf("unexpected: %v", err)
	}

	refreshed, err := b.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !refreshed {
		t.Errorf("unexpected: no refresh happened")
	}

	v, err := b.Get(ctx, "region")
	if err != nil {
		t.Fatal(err)
	}
	if v != "asia-northeast1" {
		t.Errorf("unexpected: %v", v)
	}

	// writer sees its own value without any sync
	v, err = a.Get(ctx, "region")
	if err != nil {
		t.Fatal(err)
	}
	if v != "asia-northeast1" {
		t.Errorf("unexpected: %v", v)
	}
}

func syncAutosyncVisibility(ctx context.Context, t *testing.T, backend durablemap.Backend) {
	a := newStringMap(ctx, t, backend, false)
	b := newStringMap(ctx, t, backend, true)

	if err := a.Set(ctx, "flag", "on"); err != nil {
		t.Fatal(err)
	}

	// autosync picks the write up without an explicit Sync
	v, err := b.Get(ctx, "flag")
	if err != nil {
		t.Fatal(err)
	}
	if v != "on" {
		t.Errorf("unexpected: %v", v)
	}

	if err := a.Delete(ctx, "flag"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Get(ctx, "flag"); !errors.Is(err, durablemap.ErrNoSuchKey) {
		t.Errorf("unexpected: %v", err)
	}
}

func syncSnapshotInvariant(ctx context.Context, t *testing.T, backend durablemap.Backend) {
	m := newStringMap(ctx, t, backend, true)

	seed := map[string]string{"a": "1", "b": "2", "c": "3"}
	for k, v := range seed {
		if err := m.Set(ctx, k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Resync(ctx); err != nil {
		t.Fatal(err)
	}

	items, err := m.Items(ctx)
	if err != nil {
		t.Fatal(err)
	}
	snapshot, err := backend.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != len(snapshot) {
		t.Fatalf("unexpected: cache %d durable %d", len(items), len(snapshot))
	}

	enc := durablemap.StringEncoding{}
	for k, data := range snapshot {
		decoded, err := enc.Decode(data)
		if err != nil {
			t.Fatal(err)
		}
		if items[k] != decoded {
			t.Errorf("unexpected: key %q cache %q durable %q", k, items[k], decoded)
		}
	}
}

func syncMarkerMoves(ctx context.Context, t *testing.T, backend durablemap.Backend) {
	v0, err := backend.Version(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if err := backend.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	v1, err := backend.Version(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v1 == v0 {
		t.Errorf("unexpected: marker %d did not move on put", v1)
	}

	if _, err := backend.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	v2, err := backend.Version(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v2 == v1 {
		t.Errorf("unexpected: marker %d did not move on delete", v2)
	}
}
