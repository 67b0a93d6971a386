// Package testsuite provides a conformance suite for Backend
// implementations. Every backend package runs it from its own tests,
// handing each entry a freshly prepared, empty store.
package testsuite

import (
	"context"
	"testing"

	"go.mercari.io/durablemap"
)

// Test represents one conformance test. The backend must be empty and
// exclusively owned by the test.
type Test func(ctx context.Context, t *testing.T, backend durablemap.Backend)

// TestSuite contains all the test cases that this package provides.
var TestSuite = map[string]Test{
	"PutAndGet":                    putAndGet,
	"GetDefault":                   getDefault,
	"Contains":                     contains,
	"Overwrite_LastWriteWins":      overwriteLastWriteWins,
	"KeysValuesItems":              keysValuesItems,
	"Iterate_All":                  iterateAll,
	"Delete_Idempotent":            deleteIdempotent,
	"Pop":                          pop,
	"Pop_Default":                  popDefault,
	"SetDefault_InsertsDurably":    setDefaultInsertsDurably,
	"SetDefault_ExistingUntouched": setDefaultExistingUntouched,
	"Sync_Coherence":               syncCoherence,
	"Sync_AutosyncVisibility":      syncAutosyncVisibility,
	"Sync_SnapshotInvariant":       syncSnapshotInvariant,
	"Sync_MarkerMoves":             syncMarkerMoves,
	"Backend_TakeAbsent":           backendTakeAbsent,
	"Backend_EnsureKeepsWinner":    backendEnsureKeepsWinner,
}

func newStringMap(ctx context.Context, t *testing.T, backend durablemap.Backend, autosync bool) *durablemap.Map[string] {
	t.Helper()

	m, err := durablemap.New[string](ctx, backend,
		durablemap.WithEncoding[string](durablemap.StringEncoding{}),
		durablemap.WithAutosync(autosync),
	)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func length(ctx context.Context, t *testing.T, m *durablemap.Map[string]) int {
	t.Helper()

	l, err := m.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return l
}
