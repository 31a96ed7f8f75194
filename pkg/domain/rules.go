package domain

import "context"

// RuleView provides read-only access to ledger state for rule
// evaluation.
type RuleView interface {
	ListBatches() []Batch
	ListContainers() []Container
	ListRelationships() []AggregationRelationship
	ListCommitments() []AggregationCommitment
	ListBalances() []CustodyBalance
	FindBatch(id string) (Batch, bool)
	FindContainer(id string) (Container, bool)
	FindCommitment(containerID string) (AggregationCommitment, bool)
	ActiveParent(childID string) (AggregationRelationship, bool)
	ActiveChildren(parentID string) []AggregationRelationship
	MintedTotal(tokenID string) int64
	BurnedTotal(tokenID string) int64
}

// Rule defines an evaluation executed within a transaction boundary.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Evaluate executes all registered rules and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}
