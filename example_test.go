package durablemap_test

import (
	"context"
	"fmt"

	"go.mercari.io/durablemap"
	"go.mercari.io/durablemap/memstore"
)

func Example() {
	ctx := context.Background()

	m, err := durablemap.New[string](ctx, memstore.New(),
		durablemap.WithEncoding[string](durablemap.StringEncoding{}),
	)
	if err != nil {
		panic(err)
	}

	err = m.Set(ctx, "greeting", "hello")
	if err != nil {
		panic(err)
	}

	v, err := m.Get(ctx, "greeting")
	if err != nil {
		panic(err)
	}

	fmt.Println(v)
	// Output: hello
}

func Example_structValues() {
	ctx := context.Background()

	type Flag struct {
		Enabled bool    `json:"enabled"`
		Rollout float64 `json:"rollout"`
	}

	m, err := durablemap.New[Flag](ctx, memstore.New(),
		durablemap.WithEncoding[Flag](durablemap.JSONEncoding[Flag]{}),
	)
	if err != nil {
		panic(err)
	}

	err = m.Set(ctx, "new-checkout", Flag{Enabled: true, Rollout: 0.25})
	if err != nil {
		panic(err)
	}

	flag, err := m.Get(ctx, "new-checkout")
	if err != nil {
		panic(err)
	}

	fmt.Println(flag.Enabled, flag.Rollout)
	// Output: true 0.25
}

func ExampleMap_Sync() {
	ctx := context.Background()
	store := memstore.New()

	// two instances share one durable store, like two processes would
	writer, err := durablemap.New[string](ctx, store,
		durablemap.WithEncoding[string](durablemap.StringEncoding{}),
		durablemap.WithAutosync(false),
	)
	if err != nil {
		panic(err)
	}
	reader, err := durablemap.New[string](ctx, store,
		durablemap.WithEncoding[string](durablemap.StringEncoding{}),
		durablemap.WithAutosync(false),
	)
	if err != nil {
		panic(err)
	}

	err = writer.Set(ctx, "release", "v2")
	if err != nil {
		panic(err)
	}

	// without autosync the reader stays on its snapshot until it syncs
	_, err = reader.Get(ctx, "release")
	fmt.Println(err != nil)

	refreshed, err := reader.Sync(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Println(refreshed)

	v, err := reader.Get(ctx, "release")
	if err != nil {
		panic(err)
	}
	fmt.Println(v)
	// Output:
	// true
	// true
	// v2
}

func ExampleMap_SetDefault() {
	ctx := context.Background()

	m, err := durablemap.New[string](ctx, memstore.New(),
		durablemap.WithEncoding[string](durablemap.StringEncoding{}),
	)
	if err != nil {
		panic(err)
	}

	v, err := m.SetDefault(ctx, "mode", "standard")
	if err != nil {
		panic(err)
	}
	fmt.Println(v)

	// the key now exists, so the default loses
	v, err = m.SetDefault(ctx, "mode", "fallback")
	if err != nil {
		panic(err)
	}
	fmt.Println(v)
	// Output:
	// standard
	// standard
}
