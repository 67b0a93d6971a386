// Package migrator copies whole keyspaces between Backend
// implementations, preserving the encoded payloads byte for byte.
// Switching a service from one backend to another is a Migrate run
// plus a constructor change; no value is ever decoded on the way.
package migrator

import (
	"context"
	"fmt"

	"go.mercari.io/durablemap"
)

// Migrate copies every entry of src into dst, overwriting entries that
// already exist there. With purge set, entries present only in dst are
// deleted afterwards, leaving dst an exact copy. It returns the number
// of copied entries.
//
// Migrate takes no locks. Writers racing against it land in src or dst
// depending on timing; stop them first when an exact cutover matters.
func Migrate(ctx context.Context, src, dst durablemap.Backend, purge bool) (int, error) {
	entries, err := src.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("migrator: snapshot source: %w", err)
	}

	for key, value := range entries {
		if err := dst.Put(ctx, key, value); err != nil {
			return 0, fmt.Errorf("migrator: put %q: %w", key, err)
		}
	}

	if purge {
		existing, err := dst.Snapshot(ctx)
		if err != nil {
			return 0, fmt.Errorf("migrator: snapshot destination: %w", err)
		}
		for key := range existing {
			if _, ok := entries[key]; ok {
				continue
			}
			if _, err := dst.Delete(ctx, key); err != nil {
				return 0, fmt.Errorf("migrator: delete %q: %w", key, err)
			}
		}
	}
	return len(entries), nil
}
