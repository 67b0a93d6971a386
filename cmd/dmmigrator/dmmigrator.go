package main // import "go.mercari.io/durablemap/cmd/dmmigrator"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/gomodule/redigo/redis"

	"go.mercari.io/durablemap"
	"go.mercari.io/durablemap/boltstore"
	"go.mercari.io/durablemap/migrator"
	"go.mercari.io/durablemap/redisstore"
	"go.mercari.io/durablemap/sqlstore"
)

type config struct {
	RedisAddr  string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"durablemap.db"`
	BoltPath   string `env:"BOLT_PATH" envDefault:"durablemap.bolt.db"`
}

var (
	fromSpec = flag.String("from", "", "source, one of redis:<keyspace>, sqlite:<table>, bolt:<keyspace>")
	toSpec   = flag.String("to", "", "destination, same syntax as -from")
	purge    = flag.Bool("purge", false, "delete destination entries the source does not hold")
)

func main() {
	log.SetPrefix("dmmigrator: ")
	flag.Parse()

	if *fromSpec == "" || *toSpec == "" {
		log.Fatal("-from and -to are required")
	}

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	src, closeSrc, err := open(ctx, cfg, *fromSpec)
	if err != nil {
		log.Fatal(err)
	}
	defer closeSrc()

	dst, closeDst, err := open(ctx, cfg, *toSpec)
	if err != nil {
		log.Fatal(err)
	}
	defer closeDst()

	copied, err := migrator.Migrate(ctx, src, dst, *purge)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("copied %d entries from %s to %s", copied, *fromSpec, *toSpec)
}

func open(ctx context.Context, cfg config, spec string) (durablemap.Backend, func(), error) {
	scheme, name, ok := strings.Cut(spec, ":")
	if !ok || name == "" {
		return nil, nil, fmt.Errorf("malformed backend spec %q", spec)
	}

	switch scheme {
	case "redis":
		pool := &redis.Pool{
			MaxIdle: 2,
			Dial: func() (redis.Conn, error) {
				return redis.Dial("tcp", cfg.RedisAddr)
			},
		}
		return redisstore.New(pool, name), func() { _ = pool.Close() }, nil
	case "sqlite":
		store, err := sqlstore.OpenSQLite(ctx, cfg.SQLitePath, name)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "bolt":
		store, err := boltstore.Open(cfg.BoltPath, name)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend scheme %q", scheme)
	}
}
