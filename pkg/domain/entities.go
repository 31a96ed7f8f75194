// Package domain defines the core persistent entities, value types,
// error taxonomy and rule evaluation primitives used by tracecore.
package domain

import (
	"crypto/sha256"
	"fmt"
	"time"

	"tracecore/pkg/merkle"
)

type (
	// Digest aliases the merkle digest so ledger code does not need to
	// import pkg/merkle for the value type alone.
	Digest = merkle.Digest
	// Fingerprint is the digest of a batch's immutable attributes.
	Fingerprint = merkle.Digest
)

// EntityType identifies the type of record stored in the core ledger.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityBatch identifies a registered batch record.
	EntityBatch EntityType = "batch"
	// EntityContainer identifies a container record.
	EntityContainer EntityType = "container"
	// EntityRelationship identifies a parent/child containment record.
	EntityRelationship EntityType = "aggregation_relationship"
	// EntityCommitment identifies a merkle commitment record.
	EntityCommitment EntityType = "aggregation_commitment"
	// EntityBalance identifies a custody balance record.
	EntityBalance EntityType = "custody_balance"
	// EntityEvent identifies an append-only aggregation event record.
	EntityEvent EntityType = "aggregation_event"
)

// TokenKind distinguishes leaf batches from aggregate containers.
type TokenKind string

// Token kinds carried on containment edges and custody tokens.
const (
	TokenBatch     TokenKind = "batch"
	TokenContainer TokenKind = "container"
)

// EventKind identifies the direction of a containment change.
type EventKind string

// Aggregation event kinds recorded in the append-only event log.
const (
	EventAggregate    EventKind = "aggregate"
	EventDisaggregate EventKind = "disaggregate"
)

// Base contains common fields for all ledger records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Batch represents a registered physical lot. Its fingerprint is
// computed once from the immutable attributes and never mutated.
type Batch struct {
	Base
	Quantity    int64          `json:"quantity"`
	Variety     string         `json:"variety"`
	Process     string         `json:"process"`
	Fingerprint Fingerprint    `json:"fingerprint"`
	Provenance  map[string]any `json:"provenance,omitempty"`
	ContentRef  *string        `json:"content_ref,omitempty"`
}

// Container represents an aggregate unit batches are packed into.
type Container struct {
	Base
	Name       string  `json:"name"`
	Submitter  string  `json:"submitter"`
	ContentRef *string `json:"content_ref,omitempty"`
}

// AggregationRelationship is a directed containment edge. Deactivation
// never mutates history: a fresh aggregation after disaggregation
// appends a new record.
type AggregationRelationship struct {
	ID                    string     `json:"id"`
	ParentID              string     `json:"parent_id"`
	ChildID               string     `json:"child_id"`
	ChildKind             TokenKind  `json:"child_kind"`
	AggregationEventID    string     `json:"aggregation_event_id"`
	DisaggregationEventID *string    `json:"disaggregation_event_id,omitempty"`
	IsActive              bool       `json:"is_active"`
	AggregatedAt          time.Time  `json:"aggregated_at"`
	DisaggregatedAt       *time.Time `json:"disaggregated_at,omitempty"`
}

// AggregationCommitment binds a container to the merkle root over its
// children's fingerprints. Write-once; at most one per container.
type AggregationCommitment struct {
	ContainerID string         `json:"container_id"`
	MerkleRoot  Digest         `json:"merkle_root"`
	ChildCount  int            `json:"child_count"`
	CreatedAt   time.Time      `json:"created_at"`
	Submitter   string         `json:"submitter"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ContentRef  *string        `json:"content_ref,omitempty"`
}

// AggregationEvent is one entry of the append-only relationship log.
// Metadata is an opaque payload stored and returned unmodified; the
// core never branches on it.
type AggregationEvent struct {
	ID          string         `json:"id"`
	Kind        EventKind      `json:"kind"`
	ContainerID string         `json:"container_id"`
	ChildIDs    []string       `json:"child_ids"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ContentRef  *string        `json:"content_ref,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// CustodyBalance is a fungible holding of one token by one holder.
type CustodyBalance struct {
	TokenID string `json:"token_id"`
	Holder  string `json:"holder"`
	Amount  int64  `json:"amount"`
}

// LineageEntry is one row of the derived lineage index: a leaf batch
// contributing to a product, with its summed quantity and the maximum
// traversal depth at which it was observed.
type LineageEntry struct {
	ProductID   string         `json:"product_id"`
	LeafBatchID string         `json:"leaf_batch_id"`
	Quantity    int64          `json:"quantity"`
	Depth       int            `json:"depth"`
	Provenance  map[string]any `json:"provenance,omitempty"`
}

// ComputeFingerprint derives a batch fingerprint from its immutable
// attributes. Fields are NUL-delimited so concatenation is unambiguous.
func ComputeFingerprint(identifier string, quantity int64, variety, process string) Fingerprint {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%s\x00%s", identifier, quantity, variety, process)
	var out Fingerprint
	copy(out[:], h.Sum(nil))
	return out
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported mutations captured in the audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
