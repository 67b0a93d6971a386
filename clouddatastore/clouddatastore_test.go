package clouddatastore_test

import (
	"context"
	"testing"

	"go.mercari.io/durablemap/clouddatastore"
	"go.mercari.io/durablemap/internal/testutils"
	"go.mercari.io/durablemap/testsuite"
)

func TestCloudDatastoreStoreTestSuite(t *testing.T) {
	ctx := context.Background()
	client := testutils.DatastoreClient(t)

	for name, test := range testsuite.TestSuite {
		t.Run(name, func(t *testing.T) {
			store, err := clouddatastore.FromClient(client, testutils.UniqueName("suite"))
			if err != nil {
				t.Fatal(err)
			}
			test(ctx, t, store)
		})
	}
}

func TestFromClient_RequiresKeyspace(t *testing.T) {
	if _, err := clouddatastore.FromClient(nil, ""); err == nil {
		t.Error("unexpected success for empty keyspace")
	}
}

func TestStore_KeyspacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	client := testutils.DatastoreClient(t)

	a, err := clouddatastore.FromClient(client, testutils.UniqueName("tenant_a"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := clouddatastore.FromClient(client, testutils.UniqueName("tenant_b"))
	if err != nil {
		t.Fatal(err)
	}

	if err := a.Put(ctx, "flag", []byte("on")); err != nil {
		t.Fatal(err)
	}

	snapshot, err := b.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(snapshot) != 0 {
		t.Errorf("unexpected: %v", snapshot)
	}
	version, err := b.Version(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if version != 0 {
		t.Errorf("unexpected: %v", version)
	}
}
