package durablemap_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/MakeNowJust/heredoc/v2"

	"go.mercari.io/durablemap"
	"go.mercari.io/durablemap/memstore"
)

// countingBackend records how many round trips of each kind the Map
// issues. Embedding the interface also hides memstore's optional
// capabilities from type assertions.
type countingBackend struct {
	durablemap.Backend
	versions  int
	snapshots int
}

func (b *countingBackend) Version(ctx context.Context) (uint64, error) {
	b.versions++
	return b.Backend.Version(ctx)
}

func (b *countingBackend) Snapshot(ctx context.Context) (map[string][]byte, error) {
	b.snapshots++
	return b.Backend.Snapshot(ctx)
}

// basicBackend exposes only the required Backend methods, so the Map
// has to fall back to its generic Pop and SetDefault paths.
type basicBackend struct {
	durablemap.Backend
}

func newStringMap(t *testing.T, backend durablemap.Backend, autosync bool) *durablemap.Map[string] {
	t.Helper()

	m, err := durablemap.New[string](context.Background(), backend,
		durablemap.WithEncoding[string](durablemap.StringEncoding{}),
		durablemap.WithAutosync(autosync),
	)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestNew_RequiresBackend(t *testing.T) {
	ctx := context.Background()

	_, err := durablemap.New[string](ctx, nil)
	if !errors.Is(err, durablemap.ErrInvalidConfiguration) {
		t.Errorf("unexpected: %v", err)
	}
}

func TestNew_EncodingMismatch(t *testing.T) {
	ctx := context.Background()

	_, err := durablemap.New[int](ctx, memstore.New(),
		durablemap.WithEncoding[string](durablemap.StringEncoding{}),
	)
	if !errors.Is(err, durablemap.ErrInvalidConfiguration) {
		t.Errorf("unexpected: %v", err)
	}
}

func TestNew_InitialSync(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	if err := store.Put(ctx, "a", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, "b", []byte("2")); err != nil {
		t.Fatal(err)
	}

	// autosync is off, so anything visible came from the construction
	// sync alone
	m := newStringMap(t, store, false)

	l, err := m.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if l != 2 {
		t.Errorf("unexpected: %d", l)
	}
	v, err := m.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if v != "1" {
		t.Errorf("unexpected: %v", v)
	}
}

func TestSync_FreshnessCheckCost(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	if err := store.Put(ctx, "seed", []byte("value")); err != nil {
		t.Fatal(err)
	}

	counting := &countingBackend{Backend: store}
	m := newStringMap(t, counting, true)

	for i := 0; i < 5; i++ {
		if _, err := m.Get(ctx, "seed"); err != nil {
			t.Fatal(err)
		}
	}

	// one marker check per read plus the construction sync, but the
	// construction sync is the only full enumeration
	if counting.versions != 6 {
		t.Errorf("unexpected: %d", counting.versions)
	}
	if counting.snapshots != 1 {
		t.Errorf("unexpected: %d", counting.snapshots)
	}
}

func TestSync_ReportsRefresh(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	m := newStringMap(t, store, false)

	refreshed, err := m.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if refreshed {
		t.Errorf("unexpected: %v", refreshed)
	}

	if err := store.Put(ctx, "external", []byte("write")); err != nil {
		t.Fatal(err)
	}
	refreshed, err = m.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !refreshed {
		t.Errorf("unexpected: %v", refreshed)
	}

	v, err := m.Get(ctx, "external")
	if err != nil {
		t.Fatal(err)
	}
	if v != "write" {
		t.Errorf("unexpected: %v", v)
	}
}

func TestSync_DecodeFailureKeepsCache(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	m, err := durablemap.New[int](ctx, store,
		durablemap.WithEncoding[int](durablemap.JSONEncoding[int]{}),
		durablemap.WithAutosync(false),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Set(ctx, "a", 1); err != nil {
		t.Fatal(err)
	}
	if err := m.Set(ctx, "b", 2); err != nil {
		t.Fatal(err)
	}

	// an external writer stored a payload this encoding cannot read
	if err := store.Put(ctx, "bad", []byte("boom")); err != nil {
		t.Fatal(err)
	}

	_, err = m.Sync(ctx)
	if !errors.Is(err, durablemap.ErrEncoding) {
		t.Fatalf("unexpected: %v", err)
	}
	if !strings.Contains(err.Error(), `key "bad"`) {
		t.Errorf("unexpected: %v", err)
	}

	// the whole sync aborted; the previous cache is intact
	l, err := m.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if l != 2 {
		t.Errorf("unexpected: %d", l)
	}
	v, err := m.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 {
		t.Errorf("unexpected: %v", v)
	}
	if _, err := m.Get(ctx, "bad"); !errors.Is(err, durablemap.ErrNoSuchKey) {
		t.Errorf("unexpected: %v", err)
	}

	// once the corrupt entry is gone the next sync succeeds
	if _, err := store.Delete(ctx, "bad"); err != nil {
		t.Fatal(err)
	}
	refreshed, err := m.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !refreshed {
		t.Errorf("unexpected: %v", refreshed)
	}
}

func TestDelete_StaleCacheStillDeletesDurably(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	a := newStringMap(t, store, false)
	b := newStringMap(t, store, false)

	if err := a.Set(ctx, "ghost", "x"); err != nil {
		t.Fatal(err)
	}

	// b has never seen the key, but the durable store has it
	if err := b.Delete(ctx, "ghost"); err != nil {
		t.Fatal(err)
	}

	snapshot, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := snapshot["ghost"]; ok {
		t.Errorf("unexpected: key survived the delete")
	}
}

func TestPop_GenericFallback(t *testing.T) {
	ctx := context.Background()
	store := &basicBackend{Backend: memstore.New()}

	if _, ok := durablemap.Backend(store).(durablemap.Taker); ok {
		t.Fatal("unexpected: wrapper leaks Taker")
	}

	m := newStringMap(t, store, true)
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
	if _, err := m.Pop(ctx, "job"); !errors.Is(err, durablemap.ErrNoSuchKey) {
		t.Errorf("unexpected: %v", err)
	}

	snapshot, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := snapshot["job"]; ok {
		t.Errorf("unexpected: popped key still stored")
	}
}

func TestSetDefault_GenericFallback(t *testing.T) {
	ctx := context.Background()
	store := &basicBackend{Backend: memstore.New()}

	m := newStringMap(t, store, true)

	v, err := m.SetDefault(ctx, "retries", "3")
	if err != nil {
		t.Fatal(err)
	}
	if v != "3" {
		t.Errorf("unexpected: %v", v)
	}

	snapshot, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(snapshot["retries"]) != "3" {
		t.Errorf("unexpected: %q", snapshot["retries"])
	}

	v, err = m.SetDefault(ctx, "retries", "5")
	if err != nil {
		t.Fatal(err)
	}
	if v != "3" {
		t.Errorf("unexpected: %v", v)
	}
}

func TestMap_Logging(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	var logs []string
	logf := func(ctx context.Context, format string, args ...any) {
		t.Logf(format, args...)
		logs = append(logs, fmt.Sprintf(format, args...))
	}

	m, err := durablemap.New[string](ctx, store,
		durablemap.WithEncoding[string](durablemap.StringEncoding{}),
		durablemap.WithLogf(logf),
	)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Set(ctx, "a", "1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Sync(ctx); err != nil {
		t.Fatal(err)
	}

	if err := store.Put(ctx, "b", []byte("2")); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, "b"); err != nil {
		t.Fatal(err)
	}

	expected := heredoc.Doc(`
		durablemap.Map: cache refreshed, len=0 marker=0
		durablemap.Map: cache refreshed, len=1 marker=1
		durablemap.Map: sync skipped, marker=1 unchanged
		durablemap.Map: sync skipped, marker=1 unchanged
		durablemap.Map: cache refreshed, len=2 marker=2
	`)

	if v := strings.Join(logs, "\n") + "\n"; v != expected {
		t.Errorf("unexpected: %v", v)
	}
}
