package core

import (
	"context"
	"fmt"

	"tracecore/pkg/domain"
)

// NewCustodyConservationRule returns the in-transaction rule enforcing
// that no custody units appear or vanish outside mint and burn: for
// every token, the minted total minus the burned total must equal the
// sum of all holder balances, and no balance may go negative.
func NewCustodyConservationRule() domain.Rule {
	return custodyConservationRule{}
}

type custodyConservationRule struct{}

func (custodyConservationRule) Name() string { return "custody_conservation" }

func (custodyConservationRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	held := make(map[string]int64)
	res := domain.Result{}
	for _, balance := range view.ListBalances() {
		if balance.Amount < 0 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "custody_conservation",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("holder %s has negative balance %d of token %s", balance.Holder, balance.Amount, balance.TokenID),
				Entity:   domain.EntityBalance,
				EntityID: balance.TokenID,
			})
		}
		held[balance.TokenID] += balance.Amount
	}
	for token, sum := range held {
		outstanding := view.MintedTotal(token) - view.BurnedTotal(token)
		if sum != outstanding {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "custody_conservation",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("token %s holds %d units but mint/burn history accounts for %d", token, sum, outstanding),
				Entity:   domain.EntityBalance,
				EntityID: token,
			})
		}
	}
	return res, nil
}
