// Package redisstore provides a durablemap.Backend on Redis. Entries
// live in one hash, and a counter key next to it serves as the
// freshness marker. Every mutation INCRements the counter inside the
// same MULTI/EXEC pipeline, so the marker moves atomically with the
// data for all processes sharing the keyspace.
package redisstore

import (
	"context"
	"fmt"

	"github.com/gomodule/redigo/redis"

	"go.mercari.io/durablemap"
)

var _ durablemap.Backend = (*Store)(nil)
var _ durablemap.Taker = (*Store)(nil)
var _ durablemap.Ensurer = (*Store)(nil)

// Store is a Redis-backed Backend. The pool is owned by the caller;
// every operation borrows one connection for a single pipeline.
type Store struct {
	pool     *redis.Pool
	keyspace string
	counter  string
}

// New returns a Store over pool. keyspace names the hash holding the
// entries; the freshness counter lives at "<keyspace>:last_updated".
func New(pool *redis.Pool, keyspace string) *Store {
	return &Store{
		pool:     pool,
		keyspace: keyspace,
		counter:  keyspace + ":last_updated",
	}
}

// Put implements durablemap.Backend.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redisstore: get connection: %w", err)
	}
	defer conn.Close()

	if err := conn.Send("MULTI"); err != nil {
		return fmt.Errorf("redisstore: send MULTI: %w", err)
	}
	if err := conn.Send("HSET", s.keyspace, key, value); err != nil {
		return fmt.Errorf("redisstore: send HSET: %w", err)
	}
	if err := conn.Send("INCR", s.counter); err != nil {
		return fmt.Errorf("redisstore: send INCR: %w", err)
	}
	if _, err := conn.Do("EXEC"); err != nil {
		return fmt.Errorf("redisstore: exec: %w", err)
	}
	return nil
}

// Delete implements durablemap.Backend.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return false, fmt.Errorf("redisstore: get connection: %w", err)
	}
	defer conn.Close()

	if err := conn.Send("MULTI"); err != nil {
		return false, fmt.Errorf("redisstore: send MULTI: %w", err)
	}
	if err := conn.Send("HDEL", s.keyspace, key); err != nil {
		return false, fmt.Errorf("redisstore: send HDEL: %w", err)
	}
	if err := conn.Send("INCR", s.counter); err != nil {
		return false, fmt.Errorf("redisstore: send INCR: %w", err)
	}
	replies, err := redis.Values(conn.Do("EXEC"))
	if err != nil {
		return false, fmt.Errorf("redisstore: exec: %w", err)
	}
	removed, err := redis.Int64(replies[0], nil)
	if err != nil {
		return false, fmt.Errorf("redisstore: parse HDEL reply: %w", err)
	}
	return removed > 0, nil
}

// Snapshot implements durablemap.Backend.
func (s *Store) Snapshot(ctx context.Context) (map[string][]byte, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("redisstore: get connection: %w", err)
	}
	defer conn.Close()

	fields, err := redis.StringMap(conn.Do("HGETALL", s.keyspace))
	if err != nil {
		return nil, fmt.Errorf("redisstore: HGETALL: %w", err)
	}
	entries := make(map[string][]byte, len(fields))
	for key, value := range fields {
		entries[key] = []byte(value)
	}
	return entries, nil
}

// Version implements durablemap.Backend. A keyspace no one has written
// to yet reports 0.
func (s *Store) Version(ctx context.Context) (uint64, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("redisstore: get connection: %w", err)
	}
	defer conn.Close()

	version, err := redis.Uint64(conn.Do("GET", s.counter))
	if err == redis.ErrNil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redisstore: GET counter: %w", err)
	}
	return version, nil
}

// Take implements durablemap.Taker. HGET and HDEL run in one pipeline,
// so no other client can slip between the read and the removal.
func (s *Store) Take(ctx context.Context, key string) ([]byte, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("redisstore: get connection: %w", err)
	}
	defer conn.Close()

	if err := conn.Send("MULTI"); err != nil {
		return nil, fmt.Errorf("redisstore: send MULTI: %w", err)
	}
	if err := conn.Send("HGET", s.keyspace, key); err != nil {
		return nil, fmt.Errorf("redisstore: send HGET: %w", err)
	}
	if err := conn.Send("HDEL", s.keyspace, key); err != nil {
		return nil, fmt.Errorf("redisstore: send HDEL: %w", err)
	}
	if err := conn.Send("INCR", s.counter); err != nil {
		return nil, fmt.Errorf("redisstore: send INCR: %w", err)
	}
	replies, err := redis.Values(conn.Do("EXEC"))
	if err != nil {
		return nil, fmt.Errorf("redisstore: exec: %w", err)
	}

	removed, err := redis.Int64(replies[1], nil)
	if err != nil {
		return nil, fmt.Errorf("redisstore: parse HDEL reply: %w", err)
	}
	if removed == 0 {
		return nil, durablemap.ErrNoSuchKey
	}
	value, err := redis.Bytes(replies[0], nil)
	if err != nil {
		return nil, fmt.Errorf("redisstore: parse HGET reply: %w", err)
	}
	return value, nil
}

// Ensure implements durablemap.Ensurer. HSETNX and HGET run in one
// pipeline; the HGET reply is the winning payload either way.
func (s *Store) Ensure(ctx context.Context, key string, value []byte) ([]byte, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("redisstore: get connection: %w", err)
	}
	defer conn.Close()

	if err := conn.Send("MULTI"); err != nil {
		return nil, fmt.Errorf("redisstore: send MULTI: %w", err)
	}
	if err := conn.Send("HSETNX", s.keyspace, key, value); err != nil {
		return nil, fmt.Errorf("redisstore: send HSETNX: %w", err)
	}
	if err := conn.Send("HGET", s.keyspace, key); err != nil {
		return nil, fmt.Errorf("redisstore: send HGET: %w", err)
	}
	if err := conn.Send("INCR", s.counter); err != nil {
		return nil, fmt.Errorf("redisstore: send INCR: %w", err)
	}
	replies, err := redis.Values(conn.Do("EXEC"))
	if err != nil {
		return nil, fmt.Errorf("redisstore: exec: %w", err)
	}

	winner, err := redis.Bytes(replies[1], nil)
	if err != nil {
		return nil, fmt.Errorf("redisstore: parse HGET reply: %w", err)
	}
	return winner, nil
}
