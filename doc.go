/*
Package durablemap provides a dictionary whose contents are durably
stored in an external system while reads are served from an in-process
cache.

repository https://github.com/mercari/durablemap

The problem this package solves is cache coherence across independent
processes. Many instances of the same logical dictionary, running in
many processes or on many hosts, share one durable keyspace. Each
instance answers reads from its own memory, and a cheap freshness
marker tells it when that memory went stale. Reads cost one small
round trip at most; only an actually stale cache pays for a full
refresh.

Basic usage

Create a Backend from one of the backend packages, then build a Map
over it. The Map syncs once during construction and is ready to use.

	pool := &redis.Pool{Dial: func() (redis.Conn, error) {
		return redis.Dial("tcp", "localhost:6379")
	}}
	backend := redisstore.New(pool, "features")

	m, err := durablemap.New[string](ctx, backend,
		durablemap.WithEncoding[string](durablemap.StringEncoding{}),
	)
	if err != nil {
		// ...
	}
	err = m.Set(ctx, "greeting", "hello")
	value, err := m.Get(ctx, "greeting")

The freshness protocol

Every mutation of the durable keyspace moves a marker the backend can
report cheaply, typically a counter incremented alongside each write.
A Map remembers the marker it saw at its last refresh. When the
current marker still equals the remembered one, the cache is provably
current and the read is free beyond the marker fetch. When it differs,
the Map enumerates the whole keyspace, decodes it, and replaces the
cache in one step. The cache is therefore always a complete snapshot,
never a partial one.

With the default autosync policy every read performs this check
first. Constructing the Map with WithAutosync(false) makes reads serve
from the cache unconditionally; staleness is then bounded by how often
the application calls Sync, for example once per inbound request.

Supported backends

Each backend package provides one Backend implementation.

	memstore        in-process tree, for tests and single-process use
	redisstore      Redis hash plus a counter key
	sqlstore        relational table (SQLite, PostgreSQL)
	boltstore       bbolt file
	zkstore         ZooKeeper nodes with watch-driven freshness
	clouddatastore  Google Cloud Datastore entities
	mongostore      MongoDB collection

Backends may additionally implement Taker and Ensurer. Map.Pop and
Map.SetDefault use those to resolve remove-and-read and
put-if-absent atomically instead of through two calls.

Encodings

Values cross the durable boundary through an Encoding. GobEncoding is
the default and handles arbitrary Go values; decode only trusted
payloads with it. JSONEncoding keeps stored data readable from other
languages and fails with ErrEncoding on values JSON cannot express.
RawEncoding and StringEncoding store []byte and string values as-is.

Consistency caveats

Writes are last-writer-wins. There are no cross-key transactions and
no compare-and-swap; two processes setting the same key concurrently
end with whichever write reached the store last. The package is built
for read-heavy keyspaces that change rarely, configuration flags and
feature switches being the canonical case, not for contended writes.

A decode failure during a refresh aborts the whole refresh and keeps
the previous cache, because applying half a snapshot would leave the
cache internally inconsistent. The error reports every corrupt entry.
*/
package durablemap // import "go.mercari.io/durablemap"
