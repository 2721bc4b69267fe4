package ledger

import (
	"sort"
	"time"

	"debtbook/internal/core"
)

// DateGroup is an audit grouping of one counterparty's transactions:
// either all ordinary debts from one local calendar day, or a single
// settlement. TotalCents is the signed sum for ordinary groups (negative
// when the current user is the debtor) and the plain settlement amount for
// settlement groups.
type DateGroup struct {
	Date         time.Time
	Transactions []core.Transaction
	TotalCents   int64
	IsSettlement bool
}

// PartitionByDate clusters one counterparty's transactions into date
// groups, newest first. Settlements always form singleton groups and are
// never merged with ordinary debts, regardless of date. Ordinary
// transactions sharing a local calendar day merge into one group; groups on
// the same day keep insertion order.
func PartitionByDate(txs []core.Transaction, currentUserID string) []DateGroup {
	var groups []DateGroup

	for _, tx := range txs {
		if tx.IsSettlement() {
			groups = append(groups, DateGroup{
				Date:         tx.CreatedAt,
				Transactions: []core.Transaction{tx},
				TotalCents:   tx.Amount.Cents,
				IsSettlement: true,
			})
			continue
		}

		delta := tx.Amount.Cents
		if tx.FromUserID == currentUserID {
			delta = -delta
		}

		day := localDay(tx.CreatedAt)
		merged := false
		for i := range groups {
			if groups[i].IsSettlement {
				continue
			}
			if localDay(groups[i].Date) == day {
				groups[i].Transactions = append(groups[i].Transactions, tx)
				groups[i].TotalCents += delta
				merged = true
				break
			}
		}
		if !merged {
			groups = append(groups, DateGroup{
				Date:         tx.CreatedAt,
				Transactions: []core.Transaction{tx},
				TotalCents:   delta,
			})
		}
	}

	// Newest first; stable so same-day groups keep insertion order.
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Date.After(groups[j].Date)
	})

	return groups
}

func localDay(t time.Time) string {
	return t.Local().Format("2006-01-02")
}
