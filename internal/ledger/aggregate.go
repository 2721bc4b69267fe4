// Package ledger implements the debt aggregation engine: pure functions
// that fold a flat, unordered set of transaction records into
// per-counterparty ledgers, global statistics, calendar-date groupings,
// settlement plans and multi-party expense splits.
//
// Every function here is deterministic over its inputs and free of shared
// state, so overlapping recomputations are always safe.
package ledger

import (
	"sort"

	"debtbook/internal/core"
)

// PlaceholderName is shown for a counterparty whose profile could not be
// resolved from the user store.
const PlaceholderName = "Loading…"

// CounterpartyLedger is the derived per-counterparty view: every
// transaction between the current user and one other user, plus the signed
// running balance. Positive NetCents means the counterparty owes the
// current user. Ledgers are rebuilt wholesale on every pass, never patched.
type CounterpartyLedger struct {
	CounterpartyID   string
	CounterpartyName string
	Transactions     []core.Transaction
	NetCents         int64
}

// Aggregate folds raw store records into per-counterparty ledgers for the
// given user. Records where the user is not a party are ignored; malformed
// records (missing party ids, non-numeric or non-positive amount,
// unparseable timestamp) are skipped without error.
//
// Iteration order of the input never affects the resulting balances, and
// re-running on an unchanged input yields identical totals.
func Aggregate(records []core.Record, currentUserID string) map[string]*CounterpartyLedger {
	ledgers := make(map[string]*CounterpartyLedger)
	if currentUserID == "" {
		return ledgers
	}

	for _, rec := range records {
		tx, err := core.ParseRecord(rec)
		if err != nil {
			continue
		}
		if tx.FromUserID != currentUserID && tx.ToUserID != currentUserID {
			continue
		}

		counterpartyID := tx.ToUserID
		if tx.FromUserID != currentUserID {
			counterpartyID = tx.FromUserID
		}

		l, ok := ledgers[counterpartyID]
		if !ok {
			l = &CounterpartyLedger{
				CounterpartyID:   counterpartyID,
				CounterpartyName: PlaceholderName,
			}
			ledgers[counterpartyID] = l
		}

		if tx.FromUserID == currentUserID {
			l.NetCents -= tx.Amount.Cents
		} else {
			l.NetCents += tx.Amount.Cents
		}
		l.Transactions = append(l.Transactions, tx)
	}

	return ledgers
}

// CounterpartyIDs returns the ledgers' counterparty ids sorted, so a batch
// user lookup issues the same request for the same ledger set.
func CounterpartyIDs(ledgers map[string]*CounterpartyLedger) []string {
	ids := make([]string, 0, len(ledgers))
	for id := range ledgers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ResolveNames fills counterparty display names from a batch user lookup.
// A counterparty without a resolvable profile keeps the placeholder name;
// name resolution never fails an aggregation pass.
func ResolveNames(ledgers map[string]*CounterpartyLedger, users []core.User) {
	byID := make(map[string]core.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	for id, l := range ledgers {
		if u, ok := byID[id]; ok {
			if name := u.DisplayName(); name != "" {
				l.CounterpartyName = name
			}
		}
	}
}

// Flatten concatenates every ledger's transactions in counterparty id
// order, the shape the statistics calculator consumes.
func Flatten(ledgers map[string]*CounterpartyLedger) []core.Transaction {
	var out []core.Transaction
	for _, id := range CounterpartyIDs(ledgers) {
		out = append(out, ledgers[id].Transactions...)
	}
	return out
}
