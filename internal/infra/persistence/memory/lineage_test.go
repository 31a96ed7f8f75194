package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"tracecore/pkg/domain"
)

func TestLineageOfBatchIsItself(t *testing.T) {
	store := newTestStore()
	registerBatch(t, store, "batch-1", 40)

	entries, ok := store.Lineage("batch-1")
	if !ok || len(entries) != 1 {
		t.Fatalf("expected single entry, ok=%v entries=%v", ok, entries)
	}
	entry := entries[0]
	if entry.LeafBatchID != "batch-1" || entry.Depth != 0 || entry.Quantity != 40 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestLineageFlattensNestedContainers(t *testing.T) {
	store := newTestStore()
	registerBatch(t, store, "batch-1", 10)
	registerBatch(t, store, "batch-2", 20)
	registerBatch(t, store, "batch-3", 30)
	createContainer(t, store, "pallet-1")
	createContainer(t, store, "shipment-1")

	aggregate(t, store, "pallet-1", "batch-1", "batch-2")
	aggregate(t, store, "shipment-1", "pallet-1", "batch-3")

	entries, ok := store.Lineage("shipment-1")
	if !ok {
		t.Fatalf("expected lineage for shipment-1")
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 leaves, got %d", len(entries))
	}
	// Sorted by leaf batch ID.
	byID := map[string]LineageEntry{}
	for _, e := range entries {
		byID[e.LeafBatchID] = e
	}
	if byID["batch-1"].Depth != 2 || byID["batch-2"].Depth != 2 {
		t.Fatalf("nested batches should sit at depth 2: %+v", entries)
	}
	if byID["batch-3"].Depth != 1 {
		t.Fatalf("direct batch should sit at depth 1: %+v", byID["batch-3"])
	}
	var total int64
	for _, e := range entries {
		total += e.Quantity
	}
	if total != 60 {
		t.Fatalf("total quantity = %d, want 60", total)
	}
}

func TestLineageRefreshPropagatesToAncestors(t *testing.T) {
	store := newTestStore()
	registerBatch(t, store, "batch-1", 10)
	registerBatch(t, store, "batch-2", 20)
	createContainer(t, store, "pallet-1")
	createContainer(t, store, "shipment-1")

	aggregate(t, store, "pallet-1", "batch-1")
	aggregate(t, store, "shipment-1", "pallet-1")

	// Packing another batch into the inner container must refresh the
	// outer container's index in the same transaction.
	aggregate(t, store, "pallet-1", "batch-2")

	entries, ok := store.Lineage("shipment-1")
	if !ok || len(entries) != 2 {
		t.Fatalf("ancestor index stale: ok=%v entries=%v", ok, entries)
	}
}

func TestLineageDepthLimit(t *testing.T) {
	store := newTestStore()
	store.SetLineageDepthLimit(3)

	registerBatch(t, store, "batch-1", 5)
	prev := "batch-1"
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("level-%d", i)
		createContainer(t, store, id)
		aggregate(t, store, id, prev)
		prev = id
	}

	// One level deeper exceeds the ceiling during refresh.
	createContainer(t, store, "level-4")
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.Aggregate("level-4", prev, TokenContainer, "evt"); err != nil {
			return err
		}
		return tx.RefreshLineage("level-4")
	})
	var exceeded domain.DepthExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected DepthExceededError, got %v", err)
	}
	if exceeded.Limit != 3 {
		t.Fatalf("limit = %d, want 3", exceeded.Limit)
	}
}

func TestLineageUnknownProduct(t *testing.T) {
	store := newTestStore()
	if _, ok := store.Lineage("ghost"); ok {
		t.Fatalf("unknown product should have no lineage")
	}
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.RefreshLineage("ghost")
	})
	var notFound domain.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}
