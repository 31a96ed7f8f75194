package memory

import "tracecore/pkg/domain"

// Local aliases keep the store readable without qualifying every
// domain type.
type (
	TokenKind               = domain.TokenKind
	Batch                   = domain.Batch
	Container               = domain.Container
	AggregationRelationship = domain.AggregationRelationship
	AggregationCommitment   = domain.AggregationCommitment
	AggregationEvent        = domain.AggregationEvent
	CustodyBalance          = domain.CustodyBalance
	LineageEntry            = domain.LineageEntry
	Change                  = domain.Change
	Result                  = domain.Result
	RulesEngine             = domain.RulesEngine
	RuleViolationError      = domain.RuleViolationError
	TransactionView         = domain.TransactionView
)

const (
	EntityBatch        = domain.EntityBatch
	EntityContainer    = domain.EntityContainer
	EntityRelationship = domain.EntityRelationship
	EntityCommitment   = domain.EntityCommitment
	EntityBalance      = domain.EntityBalance
	EntityEvent        = domain.EntityEvent

	TokenBatch     = domain.TokenBatch
	TokenContainer = domain.TokenContainer

	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
)
