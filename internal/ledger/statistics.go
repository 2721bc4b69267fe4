package ledger

import "debtbook/internal/core"

// Statistics summarizes the user's position across all counterparties.
// NetCents is always IncomingCents - OutgoingCents.
type Statistics struct {
	IncomingCents int64
	OutgoingCents int64
	ActiveCount   int
	NetCents      int64
}

// ComputeStatistics folds the flattened transaction list into global
// totals. IncomingCents sums amounts owed to the user, OutgoingCents sums
// amounts the user owes, and ActiveCount increments once per transaction
// where the user is a party.
//
// Settlements count toward ActiveCount like any other transaction: paying
// down a debt is itself ledger activity. See DESIGN.md for the rationale.
func ComputeStatistics(txs []core.Transaction, currentUserID string) Statistics {
	var stats Statistics
	for _, tx := range txs {
		if tx.Amount.Cents <= 0 {
			continue
		}
		switch currentUserID {
		case tx.ToUserID:
			stats.IncomingCents += tx.Amount.Cents
			stats.ActiveCount++
		case tx.FromUserID:
			stats.OutgoingCents += tx.Amount.Cents
			stats.ActiveCount++
		}
	}
	stats.NetCents = stats.IncomingCents - stats.OutgoingCents
	return stats
}
