package domain

import "context"

// Transaction exposes the ledger operations that a persistence
// implementation must support within an atomic scope. Every mutation
// performed through a Transaction commits or fails as a unit.
type Transaction interface {
	Snapshot() TransactionView
	CreateBatch(Batch) (Batch, error)
	CreateContainer(Container) (Container, error)
	Aggregate(parentID, childID string, kind TokenKind, eventID string) (AggregationRelationship, error)
	Disaggregate(parentID, childID, eventID string) (AggregationRelationship, error)
	PutCommitment(AggregationCommitment) (AggregationCommitment, error)
	AppendEvent(AggregationEvent) (AggregationEvent, error)
	Mint(tokenID, holder string, amount int64) error
	Burn(tokenID, holder string, amount int64) error
	Transfer(tokenID, from, to string, amount int64) error
	HolderBalances(tokenID string) map[string]int64
	// RefreshLineage rebuilds the materialized lineage index for the
	// product and every ancestor reachable through active edges.
	RefreshLineage(productID string) error
	FindBatch(id string) (Batch, bool)
	FindContainer(id string) (Container, bool)
	FindCommitment(containerID string) (AggregationCommitment, bool)
	ActiveParent(childID string) (AggregationRelationship, bool)
	ActiveChildren(parentID string) []AggregationRelationship
}

// TransactionView provides read-only access to snapshot data for rules
// and derived-index readers.
type TransactionView interface {
	RuleView
	ListEvents() []AggregationEvent
	Lineage(productID string) ([]LineageEntry, bool)
	LineageGeneration() uint64
}

// PersistentStore is a minimal abstraction over durable backends. It
// mirrors the subset of store capabilities used directly by higher
// layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetBatch(id string) (Batch, bool)
	GetContainer(id string) (Container, bool)
	GetCommitment(containerID string) (AggregationCommitment, bool)
	GetBalance(tokenID, holder string) (int64, bool)
	ListBatches() []Batch
	ListContainers() []Container
	ListRelationships() []AggregationRelationship
	ListEvents() []AggregationEvent
	Lineage(productID string) ([]LineageEntry, bool)
	LineageGeneration() uint64
}
