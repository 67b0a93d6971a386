// Package mongostore provides a durablemap.Backend on MongoDB. Entries
// live in one collection per keyspace; the freshness marker is a
// counter document in a sibling collection, bumped in a separate write
// after each mutation. Multi-document transactions are deliberately
// not used, so the package works against standalone servers; a crash
// between the two writes delays other instances by one mutation, it
// never corrupts them.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.mercari.io/durablemap"
)

var _ durablemap.Backend = (*Store)(nil)
var _ durablemap.Taker = (*Store)(nil)
var _ durablemap.Ensurer = (*Store)(nil)

type entryDoc struct {
	ID    string `bson:"_id"`
	Value []byte `bson:"v"`
}

type versionDoc struct {
	Value int64 `bson:"v"`
}

// Store is a MongoDB-backed Backend. The database handle is owned by
// the caller.
type Store struct {
	entries *mongo.Collection
	meta    *mongo.Collection
}

// New returns a Store over the keyspace collection in db. The marker
// collection is named "<keyspace>_meta".
func New(db *mongo.Database, keyspace string) (*Store, error) {
	if keyspace == "" {
		return nil, fmt.Errorf("mongostore: keyspace is required")
	}
	return &Store{
		entries: db.Collection(keyspace),
		meta:    db.Collection(keyspace + "_meta"),
	}, nil
}

func (s *Store) bump(ctx context.Context) error {
	_, err := s.meta.UpdateOne(ctx,
		bson.M{"_id": "version"},
		bson.M{"$inc": bson.M{"v": 1}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongostore: bump version: %w", err)
	}
	return nil
}

// Put implements durablemap.Backend.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.entries.ReplaceOne(ctx,
		bson.M{"_id": key},
		entryDoc{ID: key, Value: value},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongostore: put %q: %w", key, err)
	}
	return s.bump(ctx)
}

// Delete implements durablemap.Backend.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	result, err := s.entries.DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return false, fmt.Errorf("mongostore: delete %q: %w", key, err)
	}
	if err := s.bump(ctx); err != nil {
		return false, err
	}
	return result.DeletedCount > 0, nil
}

// Snapshot implements durablemap.Backend.
func (s *Store) Snapshot(ctx context.Context) (map[string][]byte, error) {
	cursor, err := s.entries.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongostore: find: %w", err)
	}
	var docs []entryDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongostore: decode: %w", err)
	}

	entries := make(map[string][]byte, len(docs))
	for _, doc := range docs {
		entries[doc.ID] = doc.Value
	}
	return entries, nil
}

// Version implements durablemap.Backend. A keyspace no one has written
// to yet reports 0.
func (s *Store) Version(ctx context.Context) (uint64, error) {
	var doc versionDoc
	err := s.meta.FindOne(ctx, bson.M{"_id": "version"}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("mongostore: version: %w", err)
	}
	return uint64(doc.Value), nil
}

// Take implements durablemap.Taker. Read and delete are one atomic
// findAndModify; an absent key leaves the marker alone.
func (s *Store) Take(ctx context.Context, key string) ([]byte, error) {
	var doc entryDoc
	err := s.entries.FindOneAndDelete(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, durablemap.ErrNoSuchKey
	}
	if err != nil {
		return nil, fmt.Errorf("mongostore: take %q: %w", key, err)
	}
	if err := s.bump(ctx); err != nil {
		return nil, err
	}
	return doc.Value, nil
}

// Ensure implements durablemap.Ensurer. Insert-if-absent and the
// winner read are one atomic findAndModify.
func (s *Store) Ensure(ctx context.Context, key string, value []byte) ([]byte, error) {
	var doc entryDoc
	err := s.entries.FindOneAndUpdate(ctx,
		bson.M{"_id": key},
		bson.M{"$setOnInsert": bson.M{"v": value}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("mongostore: ensure %q: %w", key, err)
	}
	if err := s.bump(ctx); err != nil {
		return nil, err
	}
	return doc.Value, nil
}
