package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"tracecore/pkg/domain"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedLedger(t *testing.T, store *Store) {
	t.Helper()
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		batch, err := tx.CreateBatch(domain.Batch{Base: domain.Base{ID: "batch-1"}, Quantity: 10, Variety: "typica", Process: "honey"})
		if err != nil {
			return err
		}
		if err := tx.Mint(batch.ID, "alice", batch.Quantity); err != nil {
			return err
		}
		if err := tx.RefreshLineage(batch.ID); err != nil {
			return err
		}
		container, err := tx.CreateContainer(domain.Container{Base: domain.Base{ID: "pallet-1"}, Name: "pallet-1"})
		if err != nil {
			return err
		}
		event, err := tx.AppendEvent(domain.AggregationEvent{Kind: domain.EventAggregate, ContainerID: container.ID, ChildIDs: []string{batch.ID}})
		if err != nil {
			return err
		}
		if _, err := tx.Aggregate(container.ID, batch.ID, domain.TokenBatch, event.ID); err != nil {
			return err
		}
		if _, err := tx.PutCommitment(domain.AggregationCommitment{ContainerID: container.ID, MerkleRoot: batch.Fingerprint, ChildCount: 1}); err != nil {
			return err
		}
		return tx.RefreshLineage(container.ID)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	store := openTestStore(t, path)
	seedLedger(t, store)
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := openTestStore(t, path)

	if _, ok := reopened.GetBatch("batch-1"); !ok {
		t.Fatalf("batch not rehydrated")
	}
	if _, ok := reopened.GetContainer("pallet-1"); !ok {
		t.Fatalf("container not rehydrated")
	}
	commitment, ok := reopened.GetCommitment("pallet-1")
	if !ok || commitment.ChildCount != 1 {
		t.Fatalf("commitment not rehydrated: %+v", commitment)
	}
	if got, _ := reopened.GetBalance("batch-1", "alice"); got != 10 {
		t.Fatalf("balance = %d, want 10", got)
	}
	entries, ok := reopened.Lineage("pallet-1")
	if !ok || len(entries) != 1 || entries[0].LeafBatchID != "batch-1" {
		t.Fatalf("lineage not rehydrated: ok=%v entries=%+v", ok, entries)
	}
	if len(reopened.ListEvents()) != 1 {
		t.Fatalf("events not rehydrated")
	}
	if reopened.LineageGeneration() == 0 {
		t.Fatalf("generation not rehydrated")
	}
}

func TestFailedTransactionNotPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	store := openTestStore(t, path)
	seedLedger(t, store)

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateBatch(domain.Batch{Base: domain.Base{ID: "batch-2"}, Quantity: 5}); err != nil {
			return err
		}
		return tx.Burn("batch-1", "alice", 999)
	})
	if err == nil {
		t.Fatalf("expected burn failure")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := openTestStore(t, path)
	if _, ok := reopened.GetBatch("batch-2"); ok {
		t.Fatalf("rolled back batch must not be persisted")
	}
	if got, _ := reopened.GetBalance("batch-1", "alice"); got != 10 {
		t.Fatalf("balance = %d, want 10", got)
	}
}

func TestSnapshotCodecRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	store := openTestStore(t, path)
	seedLedger(t, store)

	payloads, err := encodeSnapshot(store.ExportState())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for _, bucket := range snapshotBuckets {
		if _, ok := payloads[bucket]; !ok {
			t.Fatalf("missing bucket %s", bucket)
		}
	}

	decoded, err := decodeSnapshot(payloads)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Batches) != 1 || len(decoded.Containers) != 1 || len(decoded.Relationships) != 1 {
		t.Fatalf("decoded snapshot incomplete: %+v", decoded)
	}
	if decoded.Minted["batch-1"] != 10 {
		t.Fatalf("minted totals lost: %+v", decoded.Minted)
	}
	if decoded.LineageGeneration == 0 {
		t.Fatalf("generation lost")
	}
}

func TestDefaultPathFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "dir", "ledger.db")
	store := openTestStore(t, path)
	if store.Path() != path {
		t.Fatalf("path = %s, want %s", store.Path(), path)
	}
}
