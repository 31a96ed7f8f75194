package core

import "tracecore/pkg/domain"

// Rule is re-exported so rule implementations and plugins can live
// outside pkg/domain.
type Rule = domain.Rule

// RuleView is the read-only state surface handed to rules.
type RuleView = domain.RuleView

// NewDefaultRulesEngine builds a rules engine with the built-in
// invariant set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(NewCustodyConservationRule())
	engine.Register(NewSingleActiveParentRule())
	engine.Register(NewCommitmentIntegrityRule())
	return engine
}
