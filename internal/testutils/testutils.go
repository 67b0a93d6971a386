// Package testutils wires integration tests to the services they talk
// to. Every helper skips the calling test when the matching
// environment variable is unset, so `go test ./...` stays green on a
// machine with no services running.
package testutils

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/bradfitz/gomemcache/memcache"
	"github.com/caarlos0/env/v11"
	"github.com/go-zookeeper/zk"
	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type config struct {
	RedisAddr          string `env:"REDIS_ADDR"`
	MemcacheAddr       string `env:"MEMCACHE_ADDR"`
	ZKServers          string `env:"ZK_SERVERS"`
	MongoURI           string `env:"MONGODB_URI"`
	PostgresDSN        string `env:"PG_DSN"`
	DatastoreProjectID string `env:"DATASTORE_PROJECT_ID"`
}

func load(t *testing.T) config {
	t.Helper()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		t.Fatal(err)
	}
	return cfg
}

// UniqueName returns an identifier no other test run shares. It is
// safe as a Redis keyspace, a ZooKeeper node name, a SQL table name, a
// Mongo collection name and a Datastore kind.
func UniqueName(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// RedisPool returns a connection pool for REDIS_ADDR, or skips the
// test when it is unset.
func RedisPool(t *testing.T) *redis.Pool {
	t.Helper()

	cfg := load(t)
	if cfg.RedisAddr == "" {
		t.Skip("REDIS_ADDR is not set")
	}

	pool := &redis.Pool{
		MaxIdle: 2,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", cfg.RedisAddr)
		},
	}
	t.Cleanup(func() {
		pool.Close()
	})
	return pool
}

// MemcacheClient returns a client for MEMCACHE_ADDR, or skips the test
// when it is unset.
func MemcacheClient(t *testing.T) *memcache.Client {
	t.Helper()

	cfg := load(t)
	if cfg.MemcacheAddr == "" {
		t.Skip("MEMCACHE_ADDR is not set")
	}
	return memcache.New(cfg.MemcacheAddr)
}

// ZKConn returns a connected ZooKeeper session for ZK_SERVERS
// (comma-separated), or skips the test when it is unset.
func ZKConn(t *testing.T) *zk.Conn {
	t.Helper()

	cfg := load(t)
	if cfg.ZKServers == "" {
		t.Skip("ZK_SERVERS is not set")
	}

	conn, _, err := zk.Connect(strings.Split(cfg.ZKServers, ","), 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(conn.Close)
	return conn
}

// MongoDatabase returns a throwaway database on MONGODB_URI, or skips
// the test when it is unset. The database is dropped on cleanup.
func MongoDatabase(t *testing.T) *mongo.Database {
	t.Helper()

	cfg := load(t)
	if cfg.MongoURI == "" {
		t.Skip("MONGODB_URI is not set")
	}

	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		t.Fatal(err)
	}

	db := client.Database(UniqueName("durablemap"))
	t.Cleanup(func() {
		if err := db.Drop(ctx); err != nil {
			t.Log(err)
		}
		if err := client.Disconnect(ctx); err != nil {
			t.Log(err)
		}
	})
	return db
}

// SQLiteDB opens a throwaway SQLite database under t.TempDir. It never
// skips; SQLite needs no running service.
func SQLiteDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "durablemap.db")
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Log(err)
		}
	})
	return db
}

// PostgresDB returns a handle on PG_DSN, or skips the test when it is
// unset.
func PostgresDB(t *testing.T) *sql.DB {
	t.Helper()

	cfg := load(t)
	if cfg.PostgresDSN == "" {
		t.Skip("PG_DSN is not set")
	}

	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Log(err)
		}
	})
	return db
}

// BoltDB opens a throwaway bbolt database under t.TempDir. It never
// skips; bbolt needs no running service.
func BoltDB(t *testing.T) *bbolt.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "durablemap.bolt")
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Log(err)
		}
	})
	return db
}

// DatastoreClient returns a Cloud Datastore client for
// DATASTORE_PROJECT_ID, or skips the test when it is unset. Point
// DATASTORE_EMULATOR_HOST at an emulator to run without credentials.
func DatastoreClient(t *testing.T) *datastore.Client {
	t.Helper()

	cfg := load(t)
	if cfg.DatastoreProjectID == "" {
		t.Skip("DATASTORE_PROJECT_ID is not set")
	}

	ctx := context.Background()
	client, err := datastore.NewClient(ctx, cfg.DatastoreProjectID)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Log(err)
		}
	})
	return client
}
