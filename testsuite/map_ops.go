package testsuite

import (
	"context"
	"errors"
	"slices"
	"testing"

	"go.mercari.io/durablemap"
)

func putAndGet(ctx context.Context, t *testing.T, backend durablemap.Backend) {
	m := newStringMap(ctx, t, backend, true)

	if l := length(ctx, t, m); l != 0 {
		t.Fatalf("unexpected: %d", l)
	}

	if err := m.Set(ctx, "foo", "bar"); err != nil {
		t.Fatal(err)
	}
	v, err := m.Get(ctx, "foo")
	if err != nil {
		t.Fatal(err)
	}
	if v != "bar" {
		t.Errorf("unexpected: %v", v)
	}

	// the backend must hold the encoded form already
	snapshot, err := backend.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(snapshot["foo"]) != "bar" {
		t.Errorf("unexpected: %q", snapshot["foo"])
	}

	if err := m.Set(ctx, "buzz", "foogle"); err != nil {
		t.Fatal(err)
	}
	if l := length(ctx, t, m); l != 2 {
		t.Errorf("unexpected: %d", l)
	}

	if err := m.Delete(ctx, "foo"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, "foo"); !errors.Is(err, durablemap.ErrNoSuchKey) {
		t.Errorf("unexpected: %v", err)
	}
	if l := length(ctx, t, m); l != 1 {
		t.Errorf("unexpected: %d", l)
	}
}

func getDefault(ctx context.Context, t *testing.T, backend durablemap.Backend) {
	m := newStringMap(ctx, t, backend, true)

	v, err := m.GetDefault(ctx, "absent", "fallback")
	if err != nil {
		t.Fatal(err)
	}
	if v != "fallback" {
		t.Errorf("unexpected: %v", v)
	}

	if err := m.Set(ctx, "present", "stored"); err != nil {
		t.Fatal(err)
	}
	v, err = m.GetDefault(ctx, "present", "fallback")
	if err != nil {
		t.Fatal(err)
	}
	if v != "stored" {
		t.Errorf("unexpected: %v", v)
	}
}

func contains(ctx context.Context, t *testing.T, backend durablemap.Backend) {
	m := newStringMap(ctx, t, backend, true)

	ok, err := m.Contains(ctx, "flag")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Errorf("unexpected: %v", ok)
	}

	if err := m.Set(ctx, "flag", "on"); err != nil {
		t.Fatal(err)
	}
	ok, err = m.Contains(ctx, "flag")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Errorf("unexpected: %v", ok)
	}
}

func overwriteLastWriteWins(ctx context.Context, t *testing.T, backend durablemap.Backend) {
	m := newStringMap(ctx, t, backend, true)

	if err := m.Set(ctx, "owner", "first"); err != nil {
		t.Fatal(err)
	}
	if err := m.Set(ctx, "owner", "second"); err != nil {
		t.Fatal(err)
	}

	v, err := m.Get(ctx, "owner")
	if err != nil {
		t.Fatal(err)
	}
	if v != "second" {
		t.Errorf("unexpected: %v", v)
	}
	if l := length(ctx, t, m); l != 1 {
		t.Errorf("unexpected: %d", l)
	}

	// a second instance over the same store agrees
	b := newStringMap(ctx, t, backend, true)
	v, err = b.Get(ctx, "owner")
	if err != nil {
		t.Fatal(err)
	}
	if v != "second" {
		t.Errorf("unexpected: %v", v)
	}
}

func keysValuesItems(ctx context.Context, t *testing.T, backend durablemap.Backend) {
	m := newStringMap(ctx, t, backend, true)

	seed := map[string]string{"a": "1", "b": "2", "c": "3"}
	for k, v := range seed {
		if err := m.Set(ctx, k, v); err != nil {
			t.Fatal(err)
		}
	}

	keys, err := m.Keys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	slices.Sort(keys)
	if !slices.Equal(keys, []string{"a", "b", "c"}) {
		t.Errorf("unexpected: %v", keys)
	}

	values, err := m.Values(ctx)
	if err != nil {
		t.Fatal(err)
	}
	slices.Sort(values)
	if !slices.Equal(values, []string{"1", "2", "3"}) {
		t.Errorf("unexpected: %v", values)
	}

	items, err := m.Items(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != len(seed) {
		t.Fatalf("unexpected: %d", len(items))
	}
	for k, v := range seed {
		if items[k] != v {
			t.Errorf("unexpected: key %q value %q", k, items[k])
		}
	}

	// the returned map is a copy
	items["d"] = "4"
	if l := length(ctx, t, m); l != 3 {
		t.Errorf("unexpected: %d", l)
	}
}

func iterateAll(ctx context.Context, t *testing.T, backend durablemap.Backend) {
	m := newStringMap(ctx, t, backend, true)

	seed := map[string]string{"x": "10", "y": "20"}
	for k, v := range seed {
		if err := m.Set(ctx, k, v); err != nil {
			t.Fatal(err)
		}
	}

	seq, err := m.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]string{}
	for k, v := range seq {
		got[k] = v
	}
	if len(got) != len(seed) {
		t.Fatalf("unexpected: %d", len(got))
	}
	for k, v := range seed {
		if got[k] != v {
			t.Errorf("unexpected: key %q value %q", k, got[k])
		}
	}
}

func deleteIdempotent(ctx context.Context, t *testing.T, backend durablemap.Backend) {
	m := newStringMap(ctx, t, backend, true)

	if err := m.Delete(ctx, "never"); !errors.Is(err, durablemap.ErrNoSuchKey) {
		t.Errorf("unexpected: %v", err)
	}

	if err := m.Set(ctx, "once", "value"); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(ctx, "once"); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(ctx, "once"); !errors.Is(err, durablemap.ErrNoSuchKey) {
		t.Errorf("unexpected: %v", err)
	}

	// the failed second delete must not have corrupted anything
	if l := length(ctx, t, m); l != 0 {
		t.Errorf("unexpected: %d", l)
	}
	if _, err := m.Get(ctx, "once"); !errors.Is(err, durablemap.ErrNoSuchKey) {
		t.Errorf("unexpected: %v", err)
	}
}

func pop(ctx context.Context, t *testing.T, backend durablemap.Backend) {
	m := newStringMap(ctx, t, backend, true)

	if err := m.Set(ctx, "job", "running"); err != nil {
		t.Fatal(err)
	}
	v, err := m.Pop(ctx, "job")
	if err != nil {
		t.Fatal(err)
	}
	if v != "running" {
		t.Errorf("unexpected: %v", v)
	}
	if _, err := m.Get(ctx, "job"); !errors.Is(err, durablemap.ErrNoSuchKey) {
		t.Errorf("unexpected: %v", err)
	}

	// durably removed, not just locally
	b := newStringMap(ctx, t, backend, true)
	if _, err := b.Get(ctx, "job"); !errors.Is(err, durablemap.ErrNoSuchKey) {
		t.Errorf("unexpected: %v", err)
	}

	if _, err := m.Pop(ctx, "job"); !errors.Is(err, durablemap.ErrNoSuchKey) {
		t.Errorf("unexpected: %v", err)
	}
}

func popDefault(ctx context.Context, t *testing.T, backend durablemap.Backend) {
	m := newStringMap(ctx, t, backend, true)

	v, err := m.PopDefault(ctx, "missing", "fallback")
	if err != nil {
		t.Fatal(err)
	}
	if v != "fallback" {
		t.Errorf("unexpected: %v", v)
	}

	if err := m.Set(ctx, "present", "stored"); err != nil {
		t.Fatal(err)
	}
	v, err = m.PopDefault(ctx, "present", "fallback")
	if err != nil {
		t.Fatal(err)
	}
	if v != "stored" {
		t.Errorf("unexpected: %v", v)
	}
	if l := length(ctx, t, m); l != 0 {
		t.Errorf("unexpected: %d", l)
	}
}

func setDefaultInsertsDurably(ctx context.Context, t *testing.T, backend durablemap.Backend) {
	m := newStringMap(ctx, t, backend, true)

	v, err := m.SetDefault(ctx, "retries", "3")
	if err != nil {
		t.Fatal(err)
	}
	if v != "3" {
		t.Errorf("unexpected: %v", v)
	}

	// visible to a fresh instance, so the write was durable
	b := newStringMap(ctx, t, backend, true)
	v, err = b.Get(ctx, "retries")
	if err != nil {
		t.Fatal(err)
	}
	if v != "3" {
		t.Errorf("unexpected: %v", v)
	}
}

func setDefaultExistingUntouched(ctx context.Context, t *testing.T, backend durablemap.Backend) {
	m := newStringMap(ctx, t, backend, true)

	if err := m.Set(ctx, "mode", "primary"); err != nil {
		t.Fatal(err)
	}
	v, err := m.SetDefault(ctx, "mode", "fallback")
	if err != nil {
		t.Fatal(err)
	}
	if v != "primary" {
		t.Errorf("unexpected: %v", v)
	}

	// the stored value must be untouched
	b := newStringMap(ctx, t, backend, true)
	v, err = b.Get(ctx, "mode")
	if err != nil {
		t.Fatal(err)
	}
	if v != "primary" {
		t.Errorf("unexpected: %v", v)
	}
}
