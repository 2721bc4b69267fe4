package core

import (
	"errors"
	"strings"
	"time"
)

// SettlementDescription is the reserved description marking a transaction as
// a debt repayment. The aggregation and grouping code treats these
// transactions specially and they must never be rewritten or localized.
const SettlementDescription = "Payment of debt"

// DefaultDescription is used when a transaction is created with a blank text.
const DefaultDescription = "No description"

type (
	// User is a member of the group as returned by the remote store.
	User struct {
		ID         string
		Name       string
		SecondName string
		Email      string
		AvatarRef  string
	}

	// Transaction is a single directed debt between two users. Amount is
	// always positive; direction carries the sign.
	Transaction struct {
		ID          string
		GroupID     string
		FromUserID  string
		ToUserID    string
		Description string
		Amount      Money
		CreatedAt   time.Time
	}

	// Record is the wire shape of a transaction as the remote store returns
	// it, before any validation. Amount and CreatedAt stay raw strings so a
	// malformed record survives decoding and can be skipped during
	// aggregation instead of failing the whole fetch.
	Record struct {
		ID          string
		GroupID     string
		FromUserID  string
		ToUserID    string
		Description string
		Amount      string
		CreatedAt   string
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrMissingParty     = errors.New("missing party id")
	ErrSameParty        = errors.New("debtor and creditor are the same user")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)

// DisplayName joins the user's names the way profiles are shown.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.Name)
	second := strings.TrimSpace(u.SecondName)
	if second == "" {
		return name
	}
	return name + " " + second
}

// IsSettlement reports whether the transaction is a debt repayment.
func (t Transaction) IsSettlement() bool {
	return t.Description == SettlementDescription
}

func (t Transaction) Validate() error {
	if t.FromUserID == "" || t.ToUserID == "" {
		return ErrMissingParty
	}
	if t.FromUserID == t.ToUserID {
		return ErrSameParty
	}
	if t.Amount.Cents <= 0 {
		return ErrInvalidAmount
	}
	if t.CreatedAt.IsZero() {
		return ErrInvalidTimestamp
	}
	return nil
}

// ParseRecord validates and normalizes a raw store record into a
// Transaction. Callers are expected to skip records that fail to parse;
// a malformed record is never fatal to an aggregation pass.
func ParseRecord(rec Record) (Transaction, error) {
	from := strings.TrimSpace(rec.FromUserID)
	to := strings.TrimSpace(rec.ToUserID)
	if from == "" || to == "" {
		return Transaction{}, ErrMissingParty
	}
	if from == to {
		return Transaction{}, ErrSameParty
	}

	cents, err := ParseDecimalToCents(rec.Amount)
	if err != nil {
		return Transaction{}, err
	}

	createdAt, err := time.Parse(time.RFC3339, strings.TrimSpace(rec.CreatedAt))
	if err != nil {
		return Transaction{}, ErrInvalidTimestamp
	}

	desc := strings.TrimSpace(rec.Description)
	if desc == "" {
		desc = DefaultDescription
	}

	return Transaction{
		ID:          rec.ID,
		GroupID:     rec.GroupID,
		FromUserID:  from,
		ToUserID:    to,
		Description: desc,
		Amount:      Money{Cents: cents},
		CreatedAt:   createdAt,
	}, nil
}
