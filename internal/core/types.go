package core

import (
	"tracecore/internal/infra/persistence/memory"
	"tracecore/pkg/domain"
)

type (
	EntityType              = domain.EntityType
	TokenKind               = domain.TokenKind
	EventKind               = domain.EventKind
	Digest                  = domain.Digest
	Fingerprint             = domain.Fingerprint
	Base                    = domain.Base
	Batch                   = domain.Batch
	Container               = domain.Container
	AggregationRelationship = domain.AggregationRelationship
	AggregationCommitment   = domain.AggregationCommitment
	AggregationEvent        = domain.AggregationEvent
	CustodyBalance          = domain.CustodyBalance
	LineageEntry            = domain.LineageEntry
	Change                  = domain.Change
	Action                  = domain.Action
	Violation               = domain.Violation
	Result                  = domain.Result
	RulesEngine             = domain.RulesEngine
	RuleViolationError      = domain.RuleViolationError
	Transaction             = domain.Transaction
	TransactionView         = domain.TransactionView
	PersistentStore         = domain.PersistentStore
)

const (
	EntityBatch        = domain.EntityBatch
	EntityContainer    = domain.EntityContainer
	EntityRelationship = domain.EntityRelationship
	EntityCommitment   = domain.EntityCommitment
	EntityBalance      = domain.EntityBalance
	EntityEvent        = domain.EntityEvent
)

const (
	TokenBatch     = domain.TokenBatch
	TokenContainer = domain.TokenContainer
)

const (
	EventAggregate    = domain.EventAggregate
	EventDisaggregate = domain.EventDisaggregate
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)

// MemoryStore aliases the in-memory backend for callers that construct
// ephemeral stores without importing the persistence packages.
type MemoryStore = memory.Store

// DefaultLineageDepthLimit mirrors the backend traversal ceiling.
const DefaultLineageDepthLimit = memory.DefaultLineageDepthLimit

// NewMemoryStore constructs an in-memory store backed by the provided
// rules engine.
func NewMemoryStore(engine *RulesEngine) *MemoryStore {
	return memory.NewStore(engine)
}

// NewRulesEngine re-exports the domain constructor for callers that
// configure storage without importing pkg/domain directly.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}
