package core

import (
	"context"
	"fmt"

	"tracecore/pkg/domain"
)

// NewCommitmentIntegrityRule returns the in-transaction rule enforcing
// that every recorded commitment points at an existing container,
// carries a non-zero merkle root, and declares a positive child count.
func NewCommitmentIntegrityRule() domain.Rule {
	return commitmentIntegrityRule{}
}

type commitmentIntegrityRule struct{}

func (commitmentIntegrityRule) Name() string { return "commitment_integrity" }

func (commitmentIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, commitment := range view.ListCommitments() {
		if _, ok := view.FindContainer(commitment.ContainerID); !ok {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "commitment_integrity",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("commitment references missing container %s", commitment.ContainerID),
				Entity:   domain.EntityCommitment,
				EntityID: commitment.ContainerID,
			})
		}
		if commitment.MerkleRoot.IsZero() {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "commitment_integrity",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("commitment for container %s has zero merkle root", commitment.ContainerID),
				Entity:   domain.EntityCommitment,
				EntityID: commitment.ContainerID,
			})
		}
		if commitment.ChildCount <= 0 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "commitment_integrity",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("commitment for container %s declares non-positive child count %d", commitment.ContainerID, commitment.ChildCount),
				Entity:   domain.EntityCommitment,
				EntityID: commitment.ContainerID,
			})
		}
	}
	return res, nil
}
