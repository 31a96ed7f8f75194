package memory

import "sort"

// Snapshot is a portable dump of the full ledger state used by the
// durable backends to persist and rehydrate the in-memory store.
type Snapshot struct {
	Batches           []Batch                   `json:"batches"`
	Containers        []Container               `json:"containers"`
	Relationships     []AggregationRelationship `json:"relationships"`
	Commitments       []AggregationCommitment   `json:"commitments"`
	Balances          []CustodyBalance          `json:"balances"`
	Minted            map[string]int64          `json:"minted"`
	Burned            map[string]int64          `json:"burned"`
	Events            []AggregationEvent        `json:"events"`
	Lineage           map[string][]LineageEntry `json:"lineage"`
	LineageGeneration uint64                    `json:"lineage_generation"`
}

// ExportState captures a deterministic snapshot of committed state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	view := newLedgerView(&s.state)
	snapshot := Snapshot{
		Batches:           view.ListBatches(),
		Containers:        view.ListContainers(),
		Relationships:     view.ListRelationships(),
		Commitments:       view.ListCommitments(),
		Balances:          view.ListBalances(),
		Minted:            make(map[string]int64, len(s.state.minted)),
		Burned:            make(map[string]int64, len(s.state.burned)),
		Events:            view.ListEvents(),
		Lineage:           make(map[string][]LineageEntry, len(s.state.lineage)),
		LineageGeneration: s.state.lineageGen,
	}
	for token, total := range s.state.minted {
		snapshot.Minted[token] = total
	}
	for token, total := range s.state.burned {
		snapshot.Burned[token] = total
	}
	for product, entries := range s.state.lineage {
		snapshot.Lineage[product] = cloneLineageEntries(entries)
	}
	return snapshot
}

// ImportState replaces committed state with the snapshot contents.
// Intended for backend hydration on startup, not concurrent use.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := newLedgerState()
	for _, b := range snapshot.Batches {
		state.batches[b.ID] = cloneBatch(b)
	}
	for _, c := range snapshot.Containers {
		state.containers[c.ID] = c
	}
	state.relationships = append(state.relationships, snapshot.Relationships...)
	sort.Slice(state.relationships, func(i, j int) bool {
		return state.relationships[i].AggregatedAt.Before(state.relationships[j].AggregatedAt)
	})
	for _, c := range snapshot.Commitments {
		state.commitments[c.ContainerID] = cloneCommitment(c)
	}
	for _, balance := range snapshot.Balances {
		holders := state.balances[balance.TokenID]
		if holders == nil {
			holders = make(map[string]int64)
			state.balances[balance.TokenID] = holders
		}
		holders[balance.Holder] = balance.Amount
	}
	for token, total := range snapshot.Minted {
		state.minted[token] = total
	}
	for token, total := range snapshot.Burned {
		state.burned[token] = total
	}
	for _, ev := range snapshot.Events {
		state.events = append(state.events, cloneEvent(ev))
	}
	for product, entries := range snapshot.Lineage {
		state.lineage[product] = cloneLineageEntries(entries)
	}
	state.lineageGen = snapshot.LineageGeneration
	s.state = state
}
