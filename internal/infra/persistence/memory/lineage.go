package memory

import (
	"sort"

	"tracecore/pkg/domain"
)

// resolveLineage walks the active containment edges below productID and
// flattens the reachable leaf batches into index rows. Quantities of a
// batch reachable through several branches are summed into one row, and
// the row carries the deepest level at which the batch was found. Depth
// counts edges from the product down to the leaf; a batch queried
// directly resolves to itself at depth zero.
func resolveLineage(state *ledgerState, productID string, depthLimit int) ([]LineageEntry, error) {
	if _, ok := state.batches[productID]; !ok {
		if _, ok := state.containers[productID]; !ok {
			return nil, domain.NotFoundError{Entity: EntityContainer, ID: productID}
		}
	}

	acc := make(map[string]*LineageEntry)
	onPath := make(map[string]bool)

	var walk func(nodeID string, depth int) error
	walk = func(nodeID string, depth int) error {
		if onPath[nodeID] {
			return domain.CycleDetectedError{ProductID: productID, RepeatID: nodeID}
		}
		if depth > depthLimit {
			return domain.DepthExceededError{ProductID: productID, Limit: depthLimit}
		}

		if batch, ok := state.batches[nodeID]; ok {
			if entry, seen := acc[nodeID]; seen {
				entry.Quantity += batch.Quantity
				if depth > entry.Depth {
					entry.Depth = depth
				}
			} else {
				acc[nodeID] = &LineageEntry{
					ProductID:   productID,
					LeafBatchID: nodeID,
					Quantity:    batch.Quantity,
					Depth:       depth,
					Provenance:  cloneAnyMap(batch.Provenance),
				}
			}
			return nil
		}

		onPath[nodeID] = true
		defer delete(onPath, nodeID)

		for _, rel := range activeChildrenOf(state, nodeID) {
			if err := walk(rel.ChildID, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(productID, 0); err != nil {
		return nil, err
	}

	entries := make([]LineageEntry, 0, len(acc))
	for _, entry := range acc {
		entries = append(entries, *entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].LeafBatchID < entries[j].LeafBatchID })
	return entries, nil
}
