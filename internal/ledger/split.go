package ledger

import (
	"fmt"
	"strings"
	"time"

	"debtbook/internal/core"
)

// SharedItemSuffix tags transactions that came from an evenly divided
// shared line item, distinguishing them from personal items in the ledger.
const SharedItemSuffix = " (shared)"

type (
	// LineItem is one entered expense row.
	LineItem struct {
		Description string
		Amount      core.Money
	}

	// SplitInput is one multi-party expense submission: shared items
	// divided evenly across all participants, personal items charged to
	// their owner, everything owed to the receiver.
	SplitInput struct {
		SharedItems    []LineItem
		PersonalItems  map[string][]LineItem
		ParticipantIDs []string
		ReceiverID     string
	}
)

// ValidationError carries every violation found in a submission. Validation
// always runs to completion so the caller sees the full list before
// anything is written.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid submission:\n- %s", strings.Join(e.Reasons, "\n- "))
}

// Validate checks the whole submission and collects every violation.
func (in SplitInput) Validate() error {
	var reasons []string

	if strings.TrimSpace(in.ReceiverID) == "" {
		reasons = append(reasons, "no receiver designated")
	}
	if len(in.ParticipantIDs) == 0 {
		reasons = append(reasons, "no participants selected")
	}
	seen := make(map[string]struct{}, len(in.ParticipantIDs))
	for _, id := range in.ParticipantIDs {
		if strings.TrimSpace(id) == "" {
			reasons = append(reasons, "blank participant id")
			continue
		}
		if _, dup := seen[id]; dup {
			reasons = append(reasons, fmt.Sprintf("participant %s selected twice", id))
		}
		seen[id] = struct{}{}
	}
	for i, item := range in.SharedItems {
		if item.Amount.Cents < 0 {
			reasons = append(reasons, fmt.Sprintf("shared item %d has a negative amount", i+1))
		}
	}
	for owner, items := range in.PersonalItems {
		for i, item := range items {
			if item.Amount.Cents < 0 {
				reasons = append(reasons, fmt.Sprintf("personal item %d of %s has a negative amount", i+1, owner))
			}
		}
	}

	if len(reasons) > 0 {
		return &ValidationError{Reasons: reasons}
	}
	return nil
}

// SharedPerParticipant returns the per-head share of the summed shared
// items across n participants, rounded half-up to cents. Used as the
// preview value during entry.
func SharedPerParticipant(shared []LineItem, n int) int64 {
	if n <= 0 {
		return 0
	}
	var total int64
	for _, item := range shared {
		if item.Amount.Cents > 0 {
			total += item.Amount.Cents
		}
	}
	return core.DivideCents(total, n)
}

// SplitExpense expands a validated submission into the transaction batch
// to submit: one transaction per shared item and non-receiver participant
// at the per-head share, and one per personal item whose owner is not the
// receiver. The share divides by every participant, receiver included; the
// receiver just never owes themself. Zero-amount items are dropped, so the
// batch never contains a zero-amount transaction.
//
// All emitted transactions carry the given groupID. Transaction IDs are
// left for the caller to assign.
func SplitExpense(in SplitInput, groupID string, now time.Time) ([]core.Transaction, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	n := len(in.ParticipantIDs)
	var txs []core.Transaction

	for _, item := range in.SharedItems {
		if item.Amount.Cents <= 0 {
			continue
		}
		perHead := core.DivideCents(item.Amount.Cents, n)
		if perHead <= 0 {
			continue
		}
		desc := strings.TrimSpace(item.Description)
		if desc == "" {
			desc = core.DefaultDescription
		}
		for _, participantID := range in.ParticipantIDs {
			if participantID == in.ReceiverID {
				continue
			}
			txs = append(txs, core.Transaction{
				GroupID:     groupID,
				FromUserID:  participantID,
				ToUserID:    in.ReceiverID,
				Description: desc + SharedItemSuffix,
				Amount:      core.Money{Cents: perHead},
				CreatedAt:   now,
			})
		}
	}

	for _, participantID := range in.ParticipantIDs {
		if participantID == in.ReceiverID {
			continue
		}
		for _, item := range in.PersonalItems[participantID] {
			if item.Amount.Cents <= 0 {
				continue
			}
			desc := strings.TrimSpace(item.Description)
			if desc == "" {
				desc = core.DefaultDescription
			}
			txs = append(txs, core.Transaction{
				GroupID:     groupID,
				FromUserID:  participantID,
				ToUserID:    in.ReceiverID,
				Description: desc,
				Amount:      item.Amount,
				CreatedAt:   now,
			})
		}
	}

	return txs, nil
}
