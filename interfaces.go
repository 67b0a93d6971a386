package durablemap

import (
	"context"
)

// Backend is the minimal capability set a durable store must expose to
// host a Map keyspace. Values crossing this interface are already
// encoded; a Backend never interprets payloads.
//
// Implementations must be safe for concurrent use. All mutations must
// be visible to subsequent Snapshot and Version calls issued from any
// process sharing the store.
type Backend interface {
	// Put upserts a single entry.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes a single entry. Deleting an absent key is not an
	// error; the returned bool reports whether the key existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Snapshot returns every entry of the keyspace at once. The result
	// must be consistent; no entry may appear partially written.
	Snapshot(ctx context.Context) (map[string][]byte, error)

	// Version returns the freshness marker of the keyspace. It must be
	// much cheaper than Snapshot, and it must differ from previously
	// returned values once a mutation succeeds from any process
	// sharing the store.
	Version(ctx context.Context) (uint64, error)
}

// Taker is an optional Backend capability used by Map.Pop. Take
// removes an entry and returns its payload in a single atomic step.
// Absent keys report ErrNoSuchKey.
type Taker interface {
	Take(ctx context.Context, key string) ([]byte, error)
}

// Ensurer is an optional Backend capability used by Map.SetDefault.
// Ensure writes value only when key is absent, in a single atomic
// step, and returns the payload that ended up stored.
type Ensurer interface {
	Ensure(ctx context.Context, key string, value []byte) ([]byte, error)
}

// Encoding converts values between their in-memory representation and
// the bytes held by a Backend. Decode must reproduce the encoded value
// exactly: Decode(Encode(v)) == v for every supported v.
type Encoding[V any] interface {
	Encode(value V) ([]byte, error)
	Decode(data []byte) (V, error)
}
