// Package memory is the in-memory ledger store used for development and
// tests. It honors the same pagination contract as the REST client.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"debtbook/internal/core"
	"debtbook/internal/store"
)

type Store struct {
	mu      sync.Mutex
	users   map[string]core.User
	records []core.Record
}

var _ store.LedgerStore = (*Store)(nil)

func New(users []core.User) *Store {
	s := &Store{users: make(map[string]core.User, len(users))}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

// Seed injects raw records directly, bypassing validation. Tests use it to
// plant malformed rows the way a sloppy backend would.
func (s *Store) Seed(records ...core.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
}

// ListTransactions returns one bounded page in insertion order.
func (s *Store) ListTransactions(_ context.Context, page store.Page) ([]core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if page.Limit <= 0 || page.Offset < 0 || page.Offset >= len(s.records) {
		return nil, nil
	}
	end := page.Offset + page.Limit
	if end > len(s.records) {
		end = len(s.records)
	}
	out := make([]core.Record, end-page.Offset)
	copy(out, s.records[page.Offset:end])
	return out, nil
}

func (s *Store) ListUsers(_ context.Context, ids []string) ([]core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.User
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Store) CreateTransaction(_ context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, core.Record{
		ID:          tx.ID,
		GroupID:     tx.GroupID,
		FromUserID:  tx.FromUserID,
		ToUserID:    tx.ToUserID,
		Description: tx.Description,
		Amount:      core.FormatCents(tx.Amount.Cents),
		CreatedAt:   tx.CreatedAt.UTC().Format(time.RFC3339),
	})
	return nil
}

func (s *Store) DeleteTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, rec := range s.records {
		if rec.ID == id {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("transaction %s not found", id)
}

// Len reports the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
