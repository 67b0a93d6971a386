// Package boltstore provides a durablemap.Backend on a bbolt file, for
// single-host processes that want durable flags without a network
// service. Entries and the freshness marker live in nested buckets
// under one keyspace bucket and move in the same write transaction.
//
// bbolt transactions are process-local; the contexts passed to Store
// methods are not consulted.
package boltstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"go.mercari.io/durablemap"
)

var _ durablemap.Backend = (*Store)(nil)
var _ durablemap.Taker = (*Store)(nil)
var _ durablemap.Ensurer = (*Store)(nil)

var (
	bucketEntries = []byte("entries")
	bucketMeta    = []byte("meta")
	keyVersion    = []byte("version")
)

// Store is a bbolt-backed Backend. The database handle is owned by the
// caller unless the Store came from Open.
type Store struct {
	db     *bbolt.DB
	root   []byte
	ownsDB bool
}

// New returns a Store over db, creating the keyspace buckets when
// missing. Several keyspaces can share one database.
func New(db *bbolt.DB, keyspace string) (*Store, error) {
	if keyspace == "" {
		return nil, fmt.Errorf("boltstore: keyspace is required")
	}

	s := &Store{db: db, root: []byte(keyspace)}
	err := db.Update(func(tx *bbolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(s.root)
		if err != nil {
			return err
		}
		if _, err := root.CreateBucketIfNotExists(bucketEntries); err != nil {
			return err
		}
		_, err = root.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: create buckets: %w", err)
	}
	return s, nil
}

// Open opens (creating if needed) a bbolt database at path and returns
// a Store over it. The Store owns the handle; Close releases it.
func Open(path, keyspace string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("boltstore: storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open db: %w", err)
	}

	store, err := New(db, keyspace)
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

func (s *Store) entries(tx *bbolt.Tx) *bbolt.Bucket {
	return tx.Bucket(s.root).Bucket(bucketEntries)
}

func (s *Store) meta(tx *bbolt.Tx) *bbolt.Bucket {
	return tx.Bucket(s.root).Bucket(bucketMeta)
}

func bump(meta *bbolt.Bucket) error {
	var version uint64
	if raw := meta.Get(keyVersion); len(raw) == 8 {
		version = binary.BigEndian.Uint64(raw)
	}
	next := make([]byte, 8)
	binary.BigEndian.PutUint64(next, version+1)
	return meta.Put(keyVersion, next)
}

// Put implements durablemap.Backend.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := s.entries(tx).Put([]byte(key), value); err != nil {
			return err
		}
		return bump(s.meta(tx))
	})
	if err != nil {
		return fmt.Errorf("boltstore: put %q: %w", key, err)
	}
	return nil
}

// Delete implements durablemap.Backend.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	var existed bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		entries := s.entries(tx)
		existed = entries.Get([]byte(key)) != nil
		if err := entries.Delete([]byte(key)); err != nil {
			return err
		}
		return bump(s.meta(tx))
	})
	if err != nil {
		return false, fmt.Errorf("boltstore: delete %q: %w", key, err)
	}
	return existed, nil
}

// Snapshot implements durablemap.Backend. Values are copied out of the
// transaction before it closes.
func (s *Store) Snapshot(ctx context.Context) (map[string][]byte, error) {
	entries := make(map[string][]byte)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return s.entries(tx).ForEach(func(k, v []byte) error {
			entries[string(k)] = bytes.Clone(v)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: snapshot: %w", err)
	}
	return entries, nil
}

// Version implements durablemap.Backend. A keyspace no one has written
// to yet reports 0.
func (s *Store) Version(ctx context.Context) (uint64, error) {
	var version uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		if raw := s.meta(tx).Get(keyVersion); len(raw) == 8 {
			version = binary.BigEndian.Uint64(raw)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("boltstore: version: %w", err)
	}
	return version, nil
}

// Take implements durablemap.Taker. An absent key leaves the marker
// alone.
func (s *Store) Take(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.Update(func(tx *bbolt.Tx) error {
		entries := s.entries(tx)
		raw := entries.Get([]byte(key))
		if raw == nil {
			return durablemap.ErrNoSuchKey
		}
		value = bytes.Clone(raw)
		if err := entries.Delete([]byte(key)); err != nil {
			return err
		}
		return bump(s.meta(tx))
	})
	if err != nil {
		if errors.Is(err, durablemap.ErrNoSuchKey) {
			return nil, err
		}
		return nil, fmt.Errorf("boltstore: take %q: %w", key, err)
	}
	return value, nil
}

// Ensure implements durablemap.Ensurer.
func (s *Store) Ensure(ctx context.Context, key string, value []byte) ([]byte, error) {
	var winner []byte
	err := s.db.Update(func(tx *bbolt.Tx) error {
		entries := s.entries(tx)
		if existing := entries.Get([]byte(key)); existing != nil {
			winner = bytes.Clone(existing)
			return bump(s.meta(tx))
		}
		if err := entries.Put([]byte(key), value); err != nil {
			return err
		}
		winner = bytes.Clone(value)
		return bump(s.meta(tx))
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: ensure %q: %w", key, err)
	}
	return winner, nil
}
