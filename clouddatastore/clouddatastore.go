// Package clouddatastore provides a durablemap.Backend on Google
// Cloud Datastore. Entries and the freshness marker live under one
// keyspace ancestor, so snapshots run as strongly consistent ancestor
// queries and every mutation moves the marker in the same transaction.
package clouddatastore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/option"

	"go.mercari.io/durablemap"
)

var _ durablemap.Backend = (*Store)(nil)
var _ durablemap.Taker = (*Store)(nil)
var _ durablemap.Ensurer = (*Store)(nil)

const (
	kindKeyspace = "DurableMapKeyspace"
	kindEntry    = "DurableMapEntry"
	kindVersion  = "DurableMapVersion"
)

type entryEntity struct {
	Value []byte `datastore:",noindex"`
}

type versionEntity struct {
	Version int64 `datastore:",noindex"`
}

// Store is a Cloud Datastore-backed Backend. The client is owned by
// the caller unless the Store came from FromContext.
type Store struct {
	client     *datastore.Client
	parent     *datastore.Key
	ownsClient bool
}

// FromClient returns a Store over an existing client. Several
// keyspaces can share one client and one project.
func FromClient(client *datastore.Client, keyspace string) (*Store, error) {
	if keyspace == "" {
		return nil, fmt.Errorf("clouddatastore: keyspace is required")
	}
	return &Store{
		client: client,
		parent: datastore.NameKey(kindKeyspace, keyspace, nil),
	}, nil
}

// FromContext creates a client for projectID and returns a Store over
// it. The Store owns the client; Close releases it. Point
// DATASTORE_EMULATOR_HOST at an emulator to run without credentials.
func FromContext(ctx context.Context, projectID, keyspace string, opts ...option.ClientOption) (*Store, error) {
	client, err := datastore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("clouddatastore: new client: %w", err)
	}
	s, err := FromClient(client, keyspace)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.ownsClient = true
	return s, nil
}

// Close releases the client when the Store owns it.
func (s *Store) Close() error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Close()
}

func (s *Store) entryKey(key string) *datastore.Key {
	return datastore.NameKey(kindEntry, key, s.parent)
}

func (s *Store) versionKey() *datastore.Key {
	return datastore.NameKey(kindVersion, "version", s.parent)
}

// bump rewrites the version entity inside tx.
func (s *Store) bump(tx *datastore.Transaction) error {
	var version versionEntity
	err := tx.Get(s.versionKey(), &version)
	if err != nil && !errors.Is(err, datastore.ErrNoSuchEntity) {
		return err
	}
	version.Version++
	_, err = tx.Put(s.versionKey(), &version)
	return err
}

// Put implements durablemap.Backend.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("clouddatastore: key is required")
	}
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		if _, err := tx.Put(s.entryKey(key), &entryEntity{Value: value}); err != nil {
			return err
		}
		return s.bump(tx)
	})
	if err != nil {
		return fmt.Errorf("clouddatastore: put %q: %w", key, err)
	}
	return nil
}

// Delete implements durablemap.Backend.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("clouddatastore: key is required")
	}
	existed := false
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		existed = false
		var entry entryEntity
		switch err := tx.Get(s.entryKey(key), &entry); {
		case errors.Is(err, datastore.ErrNoSuchEntity):
		case err != nil:
			return err
		default:
			existed = true
		}
		if err := tx.Delete(s.entryKey(key)); err != nil {
			return err
		}
		return s.bump(tx)
	})
	if err != nil {
		return false, fmt.Errorf("clouddatastore: delete %q: %w", key, err)
	}
	return existed, nil
}

// Snapshot implements durablemap.Backend. The ancestor query is
// strongly consistent, so a snapshot taken after a mutation commits
// always contains it.
func (s *Store) Snapshot(ctx context.Context) (map[string][]byte, error) {
	query := datastore.NewQuery(kindEntry).Ancestor(s.parent)
	var entities []entryEntity
	keys, err := s.client.GetAll(ctx, query, &entities)
	if err != nil {
		return nil, fmt.Errorf("clouddatastore: snapshot: %w", err)
	}

	entries := make(map[string][]byte, len(keys))
	for i, k := range keys {
		entries[k.Name] = entities[i].Value
	}
	return entries, nil
}

// Version implements durablemap.Backend. A keyspace no one has written
// to yet reports 0.
func (s *Store) Version(ctx context.Context) (uint64, error) {
	var version versionEntity
	err := s.client.Get(ctx, s.versionKey(), &version)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("clouddatastore: version: %w", err)
	}
	return uint64(version.Version), nil
}

// Take implements durablemap.Taker. An absent key aborts the
// transaction and leaves the marker alone.
func (s *Store) Take(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("clouddatastore: key is required")
	}
	var value []byte
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entry entryEntity
		if err := tx.Get(s.entryKey(key), &entry); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return durablemap.ErrNoSuchKey
			}
			return err
		}
		value = entry.Value
		if err := tx.Delete(s.entryKey(key)); err != nil {
			return err
		}
		return s.bump(tx)
	})
	if err != nil {
		if errors.Is(err, durablemap.ErrNoSuchKey) {
			return nil, durablemap.ErrNoSuchKey
		}
		return nil, fmt.Errorf("clouddatastore: take %q: %w", key, err)
	}
	return value, nil
}

// Ensure implements durablemap.Ensurer. When the key already holds a
// value the transaction writes nothing.
func (s *Store) Ensure(ctx context.Context, key string, value []byte) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("clouddatastore: key is required")
	}
	var winner []byte
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entry entryEntity
		err := tx.Get(s.entryKey(key), &entry)
		if err == nil {
			winner = entry.Value
			return nil
		}
		if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		if _, err := tx.Put(s.entryKey(key), &entryEntity{Value: value}); err != nil {
			return err
		}
		winner = value
		return s.bump(tx)
	})
	if err != nil {
		return nil, fmt.Errorf("clouddatastore: ensure %q: %w", key, err)
	}
	return winner, nil
}
