// Package memstore provides an in-process durablemap.Backend backed
// by an ordered tree. Nothing is durable beyond the process; the
// package exists as the reference backend for tests and for
// single-process uses of the Map machinery.
package memstore

import (
	"bytes"
	"context"
	"sync"

	"github.com/zyedidia/generic"
	"github.com/zyedidia/generic/btree"

	"go.mercari.io/durablemap"
)

var _ durablemap.Backend = (*Store)(nil)
var _ durablemap.Taker = (*Store)(nil)
var _ durablemap.Ensurer = (*Store)(nil)

// entry is a tree leaf. The tree has no removal operation, so deleted
// keys stay behind as tombstones and Snapshot skips them.
type entry struct {
	value   []byte
	deleted bool
}

// Store is an in-process Backend. It implements the full optional
// capability set (Taker, Ensurer) and is safe for concurrent use.
//
// The version counter moves on every mutating call, mirroring how the
// served backends bump their shared markers, so a Store behaves in
// tests exactly like a remote store would.
type Store struct {
	mu      sync.Mutex
	tree    *btree.Tree[string, *entry]
	version uint64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		tree: btree.New[string, *entry](generic.Less[string]),
	}
}

// Put implements durablemap.Backend.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tree.Put(key, &entry{value: bytes.Clone(value)})
	s.version++
	return nil
}

// Delete implements durablemap.Backend.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.version++
	e, ok := s.tree.Get(key)
	if !ok || e.deleted {
		return false, nil
	}
	s.tree.Put(key, &entry{deleted: true})
	return true, nil
}

// Snapshot implements durablemap.Backend.
func (s *Store) Snapshot(ctx context.Context) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]byte)
	s.tree.Each(func(key string, e *entry) {
		if e.deleted {
			return
		}
		out[key] = bytes.Clone(e.value)
	})
	return out, nil
}

// Version implements durablemap.Backend.
func (s *Store) Version(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.version, nil
}

// Take implements durablemap.Taker.
func (s *Store) Take(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.version++
	e, ok := s.tree.Get(key)
	if !ok || e.deleted {
		return nil, durablemap.ErrNoSuchKey
	}
	s.tree.Put(key, &entry{deleted: true})
	return e.value, nil
}

// Ensure implements durablemap.Ensurer.
func (s *Store) Ensure(ctx context.Context, key string, value []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.version++
	if e, ok := s.tree.Get(key); ok && !e.deleted {
		return bytes.Clone(e.value), nil
	}
	s.tree.Put(key, &entry{value: bytes.Clone(value)})
	return bytes.Clone(value), nil
}
