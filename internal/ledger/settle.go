package ledger

import (
	"time"

	"debtbook/internal/core"
)

// PlanSettlement builds the settlement transaction for paying toward the
// balance with one counterparty. Direction follows the balance sign: when
// the current user owes (netCents < 0) the record runs counterparty ->
// user, reversing the direction of the underlying debt; otherwise it runs
// user -> counterparty.
//
// The amount has no upper bound: overpaying simply flips the balance sign
// on the next aggregation pass. ID and GroupID are left for the caller to
// assign before submission.
func PlanSettlement(netCents int64, amount core.Money, currentUserID, counterpartyID string, now time.Time) (core.Transaction, error) {
	if err := amount.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if currentUserID == "" || counterpartyID == "" {
		return core.Transaction{}, core.ErrMissingParty
	}
	if currentUserID == counterpartyID {
		return core.Transaction{}, core.ErrSameParty
	}

	from, to := currentUserID, counterpartyID
	if netCents < 0 {
		from, to = counterpartyID, currentUserID
	}

	return core.Transaction{
		FromUserID:  from,
		ToUserID:    to,
		Description: core.SettlementDescription,
		Amount:      amount,
		CreatedAt:   now,
	}, nil
}
