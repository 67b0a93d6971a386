package testsuite

import (
	"context"
	"errors"
	"testing"

	"go.mercari.io/durablemap"
)

func backendTakeAbsent(ctx context.Context, t *testing.T, backend durablemap.Backend) {
	taker, ok := backend.(durablemap.Taker)
	if !ok {
		t.Skip("backend does not implement Taker")
	}

	if _, err := taker.Take(ctx, "absent"); !errors.Is(err, durablemap.ErrNoSuchKey) {
		t.Errorf("unexpected: %v", err)
	}

	if err := backend.Put(ctx, "present", []byte("payload")); err != nil {
		t.Fatal(err)
	}
	data, err := taker.Take(ctx, "present")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "payload" {
		t.Errorf("unexpected: %q", data)
	}

	snapshot, err := backend.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := snapshot["present"]; ok {
		t.Errorf("unexpected: taken key still stored")
	}
}

func backendEnsureKeepsWinner(ctx context.Context, t *testing.T, backend durablemap.Backend) {
	ensurer, ok := backend.(durablemap.Ensurer)
	if !ok {
		t.Skip("backend does not implement Ensurer")
	}

	winner, err := ensurer.Ensure(ctx, "fresh", []byte("first"))
	if err != nil {
		t.Fatal(err)
	}
	if string(winner) != "first" {
		t.Errorf("unexpected: %q", winner)
	}

	// a second ensure loses against the stored payload
	winner, err = ensurer.Ensure(ctx, "fresh", []byte("second"))
	if err != nil {
		t.Fatal(err)
	}
	if string(winner) != "first" {
		t.Errorf("unexpected: %q", winner)
	}

	snapshot, err := backend.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(snapshot["fresh"]) != "first" {
		t.Errorf("unexpected: %q", snapshot["fresh"])
	}
}
