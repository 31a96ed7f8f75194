package core

import (
	"context"
	"fmt"

	"tracecore/pkg/domain"
)

// NewSingleActiveParentRule returns the in-transaction rule enforcing
// that every child sits in at most one container at a time.
func NewSingleActiveParentRule() domain.Rule {
	return singleActiveParentRule{}
}

type singleActiveParentRule struct{}

func (singleActiveParentRule) Name() string { return "single_active_parent" }

func (singleActiveParentRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	parents := make(map[string][]string)
	for _, rel := range view.ListRelationships() {
		if !rel.IsActive {
			continue
		}
		parents[rel.ChildID] = append(parents[rel.ChildID], rel.ParentID)
	}

	res := domain.Result{}
	for child, active := range parents {
		if len(active) > 1 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "single_active_parent",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("child %s is active under %d containers: %v", child, len(active), active),
				Entity:   domain.EntityRelationship,
				EntityID: child,
			})
		}
	}
	return res, nil
}
