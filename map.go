package durablemap

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Map is a string-keyed dictionary whose contents live in a durable
// Backend while reads are served from an in-process cache. The cache
// is always a complete snapshot of the keyspace as of the last
// successful sync; it is never evicted by size, only replaced by
// freshness.
//
// A Map is safe for concurrent use by multiple goroutines. It starts
// no goroutines and holds no timers; cross-process changes become
// visible only through the freshness checks performed by Sync, Resync
// and, when autosync is enabled, by every read operation. Operations
// serialize on an internal mutex, so a Map issues at most one backend
// round trip at a time.
//
// Writes always reach the Backend before returning, regardless of the
// autosync setting. Concurrent writers to the same key across
// processes race; the last write to reach the durable store wins.
type Map[V any] struct {
	backend  Backend
	encoding Encoding[V]
	autosync bool
	logf     func(ctx context.Context, format string, args ...any)

	mu     sync.Mutex
	cache  map[string]V
	marker uint64
	synced bool
}

// New returns a Map over backend and performs the initial sync. The
// sync failing is a construction failure; a Map never starts with an
// unpopulated cache.
//
// The default encoding is GobEncoding[V]; the default autosync policy
// is true.
func New[V any](ctx context.Context, backend Backend, opts ...Option) (*Map[V], error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrInvalidConfiguration)
	}

	cfg := &config{
		autosync: true,
	}
	for _, opt := range opts {
		opt.Apply(cfg)
	}
	if cfg.logf == nil {
		cfg.logf = func(ctx context.Context, format string, args ...any) {}
	}

	var encoding Encoding[V] = GobEncoding[V]{}
	if cfg.encoding != nil {
		enc, ok := cfg.encoding.(Encoding[V])
		if !ok {
			var zero V
			return nil, fmt.Errorf("%w: encoding %T does not handle %T values", ErrInvalidConfiguration, cfg.encoding, zero)
		}
		encoding = enc
	}

	m := &Map[V]{
		backend:  backend,
		encoding: encoding,
		autosync: cfg.autosync,
		logf:     cfg.logf,
	}
	if err := m.Resync(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Sync refreshes the cache when the backend freshness marker moved
// since the last refresh, and reports whether a refresh happened. The
// marker check is a single cheap backend call, so Sync is suitable for
// frequent invocation, for example once per inbound request.
func (m *Map[V]) Sync(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sync(ctx, false)
}

// Resync refreshes the cache unconditionally.
func (m *Map[V]) Resync(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.sync(ctx, true)
	return err
}

// sync holds m.mu. The marker is fetched before the snapshot, so a
// mutation landing between the two calls is covered by the following
// sync rather than lost.
func (m *Map[V]) sync(ctx context.Context, force bool) (bool, error) {
	marker, err := m.backend.Version(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: version: %w", ErrBackendUnavailable, err)
	}
	if !force && m.synced && marker == m.marker {
		m.logf(ctx, "durablemap.Map: sync skipped, marker=%d unchanged", marker)
		return false, nil
	}

	encoded, err := m.backend.Snapshot(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: snapshot: %w", ErrBackendUnavailable, err)
	}

	cache := make(map[string]V, len(encoded))
	var corrupt error
	for key, data := range encoded {
		value, err := m.encoding.Decode(data)
		if err != nil {
			corrupt = multierror.Append(corrupt, fmt.Errorf("key %q: %w", key, err))
			continue
		}
		cache[key] = value
	}
	if corrupt != nil {
		// A partially decoded snapshot would leave the cache neither
		// old nor new. Keep the previous cache and marker.
		return false, fmt.Errorf("%w: sync aborted: %w", ErrEncoding, corrupt)
	}

	m.cache = cache
	m.marker = marker
	m.synced = true
	m.logf(ctx, "durablemap.Map: cache refreshed, len=%d marker=%d", len(cache), marker)
	return true, nil
}

// refreshIfStale implements the autosync read policy. Holds m.mu.
func (m *Map[V]) refreshIfStale(ctx context.Context) error {
	if !m.autosync {
		return nil
	}
	_, err := m.sync(ctx, false)
	return err
}

// persist implements the write path: encode, store durably, then
// mirror the caller's value into the cache. The cached value is the
// one the caller handed in, not a decode of the stored payload. Holds
// m.mu.
func (m *Map[V]) persist(ctx context.Context, key string, value V) error {
	encoded, err := m.encoding.Encode(value)
	if err != nil {
		return fmt.Errorf("%w: encode %q: %w", ErrEncoding, key, err)
	}
	if err := m.backend.Put(ctx, key, encoded); err != nil {
		return fmt.Errorf("%w: put %q: %w", ErrBackendUnavailable, key, err)
	}
	m.cache[key] = value
	return nil
}

// Get returns the value stored under key, or ErrNoSuchKey.
func (m *Map[V]) Get(ctx context.Context, key string) (V, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	if err := m.refreshIfStale(ctx); err != nil {
		return zero, err
	}
	value, ok := m.cache[key]
	if !ok {
		return zero, fmt.Errorf("%w: %q", ErrNoSuchKey, key)
	}
	return value, nil
}

// GetDefault returns the value stored under key, or def when key is
// absent.
func (m *Map[V]) GetDefault(ctx context.Context, key string, def V) (V, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.refreshIfStale(ctx); err != nil {
		var zero V
		return zero, err
	}
	value, ok := m.cache[key]
	if !ok {
		return def, nil
	}
	return value, nil
}

// Contains reports whether key is present.
func (m *Map[V]) Contains(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.refreshIfStale(ctx); err != nil {
		return false, err
	}
	_, ok := m.cache[key]
	return ok, nil
}

// Len returns the number of entries.
func (m *Map[V]) Len(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.refreshIfStale(ctx); err != nil {
		return 0, err
	}
	return len(m.cache), nil
}

// Keys returns all keys in unspecified order.
func (m *Map[V]) Keys(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.refreshIfStale(ctx); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m.cache))
	for key := range m.cache {
		keys = append(keys, key)
	}
	return keys, nil
}

// Values returns all values in unspecified order.
func (m *Map[V]) Values(ctx context.Context) ([]V, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.refreshIfStale(ctx); err != nil {
		return nil, err
	}
	values := make([]V, 0, len(m.cache))
	for _, value := range m.cache {
		values = append(values, value)
	}
	return values, nil
}

// Items returns a copy of all entries. Mutating the returned map does
// not affect the Map.
func (m *Map[V]) Items(ctx context.Context) (map[string]V, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.refreshIfStale(ctx); err != nil {
		return nil, err
	}
	return maps.Clone(m.cache), nil
}

// All returns an iterator over a point-in-time copy of the entries,
// in unspecified order.
func (m *Map[V]) All(ctx context.Context) (iter.Seq2[string, V], error) {
	items, err := m.Items(ctx)
	if err != nil {
		return nil, err
	}
	return maps.All(items), nil
}

// Set stores value under key, durably and in the cache. The freshness
// marker the Map remembers is deliberately left alone; only syncs move
// it, and the just-written backend state already matches the cache.
func (m *Map[V]) Set(ctx context.Context, key string, value V) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persist(ctx, key, value)
}

// Delete removes key durably and from the cache. It returns
// ErrNoSuchKey when key was present in neither; the backend side stays
// untouched-or-removed either way, so deleting twice is safe.
func (m *Map[V]) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existed, err := m.backend.Delete(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: delete %q: %w", ErrBackendUnavailable, key, err)
	}
	_, cached := m.cache[key]
	delete(m.cache, key)
	if !existed && !cached {
		return fmt.Errorf("%w: %q", ErrNoSuchKey, key)
	}
	return nil
}

// Pop removes key and returns the value it held, or ErrNoSuchKey.
// Backends implementing Taker perform the read and the removal as one
// atomic step; otherwise the value comes from the cache and the
// removal is a separate backend call.
func (m *Map[V]) Pop(ctx context.Context, key string) (V, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	if err := m.refreshIfStale(ctx); err != nil {
		return zero, err
	}

	if taker, ok := m.backend.(Taker); ok {
		encoded, err := taker.Take(ctx, key)
		if errors.Is(err, ErrNoSuchKey) {
			delete(m.cache, key)
			return zero, fmt.Errorf("%w: %q", ErrNoSuchKey, key)
		}
		if err != nil {
			return zero, fmt.Errorf("%w: take %q: %w", ErrBackendUnavailable, key, err)
		}
		value, err := m.encoding.Decode(encoded)
		if err != nil {
			return zero, fmt.Errorf("%w: decode %q: %w", ErrEncoding, key, err)
		}
		delete(m.cache, key)
		return value, nil
	}

	value, ok := m.cache[key]
	if !ok {
		return zero, fmt.Errorf("%w: %q", ErrNoSuchKey, key)
	}
	if _, err := m.backend.Delete(ctx, key); err != nil {
		return zero, fmt.Errorf("%w: delete %q: %w", ErrBackendUnavailable, key, err)
	}
	delete(m.cache, key)
	return value, nil
}

// PopDefault removes key and returns the value it held, or def when
// key is absent.
func (m *Map[V]) PopDefault(ctx context.Context, key string, def V) (V, error) {
	value, err := m.Pop(ctx, key)
	if errors.Is(err, ErrNoSuchKey) {
		return def, nil
	}
	if err != nil {
		var zero V
		return zero, err
	}
	return value, nil
}

// SetDefault returns the value stored under key. When key is absent it
// stores def first and returns it. Backends implementing Ensurer
// resolve a racing writer atomically; the value that reached the store
// first is the one every caller gets back.
func (m *Map[V]) SetDefault(ctx context.Context, key string, def V) (V, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	if err := m.refreshIfStale(ctx); err != nil {
		return zero, err
	}
	if value, ok := m.cache[key]; ok {
		return value, nil
	}

	if ensurer, ok := m.backend.(Ensurer); ok {
		encoded, err := m.encoding.Encode(def)
		if err != nil {
			return zero, fmt.Errorf("%w: encode %q: %w", ErrEncoding, key, err)
		}
		winner, err := ensurer.Ensure(ctx, key, encoded)
		if err != nil {
			return zero, fmt.Errorf("%w: ensure %q: %w", ErrBackendUnavailable, key, err)
		}
		value, err := m.encoding.Decode(winner)
		if err != nil {
			return zero, fmt.Errorf("%w: decode %q: %w", ErrEncoding, key, err)
		}
		m.cache[key] = value
		return value, nil
	}

	if err := m.persist(ctx, key, def); err != nil {
		return zero, err
	}
	return def, nil
}
