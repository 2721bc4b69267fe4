// Package services orchestrates the aggregation engine against the remote
// ledger store, the snapshot cache and the change-notification channel.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"debtbook/internal/cache"
	"debtbook/internal/core"
	"debtbook/internal/ledger"
	applog "debtbook/internal/log"
	"debtbook/internal/store"
)

// ChangePublisher announces ledger mutations to other instances. May be
// absent; publishing is best-effort and never fails a mutation.
type ChangePublisher interface {
	PublishLedgerChanged(ctx context.Context, userID, action string, count int) error
}

// SnapshotPersister saves and restores serialized snapshots across
// restarts. May be absent.
type SnapshotPersister interface {
	Save(ctx context.Context, userID string, payload []byte, computedAt time.Time) error
	Load(ctx context.Context, userID string) ([]byte, time.Time, error)
}

// Snapshot is one complete aggregation pass for one user. Snapshots are
// immutable once committed; a refresh builds a whole new one.
type Snapshot struct {
	UserID     string                                `json:"userId"`
	Ledgers    map[string]*ledger.CounterpartyLedger `json:"ledgers"`
	Statistics ledger.Statistics                     `json:"statistics"`
	ComputedAt time.Time                             `json:"computedAt"`
}

// PartialFailureError reports a batch submission where some transactions
// landed and others did not. Nothing is rolled back; already-submitted
// records stay in the store.
type PartialFailureError struct {
	FailedIDs []string
	Submitted int
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("partial batch failure: %d submitted, %d failed (%s)",
		e.Submitted, len(e.FailedIDs), strings.Join(e.FailedIDs, ", "))
}

// LedgerService exposes the ledger operations the API serves. All reads go
// through per-user snapshots that are rebuilt wholesale, never patched.
type LedgerService struct {
	store     store.LedgerStore
	snapshots *cache.LRU[Snapshot]
	persister SnapshotPersister
	publisher ChangePublisher
	pageSize  int
	ttl       time.Duration
	log       *applog.Logger

	mu        sync.Mutex
	passSeq   uint64
	committed map[string]uint64
}

type Option func(*LedgerService)

// WithPersister wires a durable snapshot store for offline fallback.
func WithPersister(p SnapshotPersister) Option {
	return func(s *LedgerService) { s.persister = p }
}

// WithPublisher wires change notifications.
func WithPublisher(p ChangePublisher) Option {
	return func(s *LedgerService) { s.publisher = p }
}

// WithPageSize overrides the store page size.
func WithPageSize(n int) Option {
	return func(s *LedgerService) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithLogger overrides the service logger.
func WithLogger(l *applog.Logger) Option {
	return func(s *LedgerService) {
		s.log = l.WithComponent(applog.ComponentLedger)
	}
}

func NewLedgerService(ledgerStore store.LedgerStore, ttl time.Duration, opts ...Option) *LedgerService {
	s := &LedgerService{
		store: ledgerStore,
		// Retention is deliberately longer than the TTL: a stale snapshot
		// keeps serving while a refresh runs or the store is down.
		snapshots: cache.NewLRU[Snapshot](500, 24*time.Hour),
		pageSize:  100,
		ttl:       ttl,
		log:       applog.New(applog.DefaultConfig()).WithComponent(applog.ComponentLedger),
		committed: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh runs a full fetch+aggregate cycle for one user and commits the
// result. Overlapping refreshes are safe: each pass is stamped, and a pass
// that completes after a newer one has landed is discarded.
func (s *LedgerService) Refresh(ctx context.Context, userID string) (Snapshot, error) {
	if userID == "" {
		return Snapshot{}, fmt.Errorf("refresh: empty user id")
	}

	s.mu.Lock()
	s.passSeq++
	seq := s.passSeq
	s.mu.Unlock()

	started := time.Now()

	records, err := s.fetchAll(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch transactions: %w", err)
	}

	ledgers := ledger.Aggregate(records, userID)

	if ids := ledger.CounterpartyIDs(ledgers); len(ids) > 0 {
		users, err := s.store.ListUsers(ctx, ids)
		if err != nil {
			// Unresolved counterparties keep the placeholder name.
			s.log.WarnContext(ctx, "User lookup failed, keeping placeholder names",
				applog.FieldError, err, applog.FieldUserID, userID, applog.FieldCount, len(ids))
		} else {
			ledger.ResolveNames(ledgers, users)
		}
	}

	snap := Snapshot{
		UserID:     userID,
		Ledgers:    ledgers,
		Statistics: ledger.ComputeStatistics(ledger.Flatten(ledgers), userID),
		ComputedAt: started,
	}

	if !s.commit(ctx, userID, seq, snap) {
		s.log.DebugContext(ctx, "Discarding stale aggregation pass",
			applog.FieldUserID, userID, "pass", seq)
		if entry, ok := s.snapshots.Get(snapshotKey(userID)); ok {
			return entry.Payload, nil
		}
	}

	s.log.InfoContext(ctx, "Ledger refreshed",
		applog.FieldUserID, userID,
		"counterparties", len(snap.Ledgers),
		applog.FieldNetCents, snap.Statistics.NetCents,
		"records", len(records))

	return snap, nil
}

// fetchAll accumulates transaction pages until a short page signals the
// end of the data set.
func (s *LedgerService) fetchAll(ctx context.Context) ([]core.Record, error) {
	var all []core.Record
	offset := 0
	for {
		page, err := s.store.ListTransactions(ctx, store.Page{Offset: offset, Limit: s.pageSize})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < s.pageSize {
			return all, nil
		}
		offset += s.pageSize
	}
}

func (s *LedgerService) commit(ctx context.Context, userID string, seq uint64, snap Snapshot) bool {
	// The sequence check and the snapshot writes happen under one lock:
	// checked separately, an older pass preempted between its check and its
	// write could land after a newer pass and overwrite the fresher state.
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq < s.committed[userID] {
		return false
	}
	s.committed[userID] = seq

	s.snapshots.SetAt(snapshotKey(userID), snap, snap.ComputedAt)

	if s.persister != nil {
		payload, err := json.Marshal(snap)
		if err == nil {
			err = s.persister.Save(ctx, userID, payload, snap.ComputedAt)
		}
		if err != nil {
			// Persistence is a fallback layer, not a correctness requirement.
			s.log.WarnContext(ctx, "Failed to persist snapshot",
				applog.FieldError, err, applog.FieldUserID, userID)
		}
	}
	return true
}

// CurrentSnapshot returns the user's latest aggregation. A cached snapshot
// serves immediately; if it is older than the TTL a background refresh
// starts without blocking the read. With no cached snapshot the call
// refreshes synchronously, falling back to the persisted snapshot and then
// to an empty ledger when the store is unreachable.
func (s *LedgerService) CurrentSnapshot(ctx context.Context, userID string) (Snapshot, error) {
	if userID == "" {
		return Snapshot{}, fmt.Errorf("snapshot: empty user id")
	}

	if entry, ok := s.snapshots.Get(snapshotKey(userID)); ok {
		if entry.StaleAfter(s.ttl) {
			go func() {
				refreshCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if _, err := s.Refresh(refreshCtx, userID); err != nil {
					s.log.Warn("Background refresh failed", applog.FieldError, err, applog.FieldUserID, userID)
				}
			}()
		}
		return entry.Payload, nil
	}

	snap, err := s.Refresh(ctx, userID)
	if err == nil {
		return snap, nil
	}
	s.log.ErrorContext(ctx, "Refresh failed, degrading to last known state",
		applog.FieldError, err, applog.FieldUserID, userID)

	if restored, ok := s.restore(ctx, userID); ok {
		return restored, nil
	}

	// Never propagate a store failure into an error page: an empty ledger
	// is the safe floor.
	return Snapshot{
		UserID:     userID,
		Ledgers:    map[string]*ledger.CounterpartyLedger{},
		ComputedAt: time.Now(),
	}, nil
}

func (s *LedgerService) restore(ctx context.Context, userID string) (Snapshot, bool) {
	if s.persister == nil {
		return Snapshot{}, false
	}
	payload, computedAt, err := s.persister.Load(ctx, userID)
	if err != nil {
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		s.log.WarnContext(ctx, "Discarding unreadable persisted snapshot",
			applog.FieldError, err, applog.FieldUserID, userID)
		return Snapshot{}, false
	}
	s.snapshots.SetAt(snapshotKey(userID), snap, computedAt)
	s.log.InfoContext(ctx, "Serving persisted snapshot",
		applog.FieldUserID, userID, applog.FieldComputedAt, computedAt)
	return snap, true
}

// DateGroups partitions one counterparty's transactions by calendar date,
// newest first, settlements isolated.
func (s *LedgerService) DateGroups(ctx context.Context, userID, counterpartyID string) ([]ledger.DateGroup, error) {
	snap, err := s.CurrentSnapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	l, ok := snap.Ledgers[counterpartyID]
	if !ok {
		return nil, nil
	}
	return ledger.PartitionByDate(l.Transactions, userID), nil
}

// CreateDebts records a batch of debt items from one debtor to one
// creditor, all linked by a fresh group id. Validation collects every
// violation before anything is submitted.
func (s *LedgerService) CreateDebts(ctx context.Context, debtorID, creditorID string, items []ledger.LineItem) ([]core.Transaction, error) {
	var reasons []string
	if strings.TrimSpace(debtorID) == "" {
		reasons = append(reasons, "no debtor selected")
	}
	if strings.TrimSpace(creditorID) == "" {
		reasons = append(reasons, "no creditor selected")
	}
	if debtorID != "" && debtorID == creditorID {
		reasons = append(reasons, "debtor and creditor are the same user")
	}
	positive := 0
	for _, item := range items {
		if item.Amount.Cents > 0 {
			positive++
		}
	}
	if positive == 0 {
		reasons = append(reasons, "no items with a positive amount")
	}
	if len(reasons) > 0 {
		return nil, &ledger.ValidationError{Reasons: reasons}
	}

	now := time.Now().UTC()
	groupID := uuid.NewString()
	var txs []core.Transaction
	for _, item := range items {
		if item.Amount.Cents <= 0 {
			continue
		}
		desc := strings.TrimSpace(item.Description)
		if desc == "" {
			desc = core.DefaultDescription
		}
		txs = append(txs, core.Transaction{
			ID:          uuid.NewString(),
			GroupID:     groupID,
			FromUserID:  debtorID,
			ToUserID:    creditorID,
			Description: desc,
			Amount:      item.Amount,
			CreatedAt:   now,
		})
	}

	if err := s.submitBatch(ctx, txs); err != nil {
		s.afterMutation(ctx, debtorID, "create", len(txs), creditorID)
		return txs, err
	}
	s.afterMutation(ctx, debtorID, "create", len(txs), creditorID)
	return txs, nil
}

// SubmitSplit expands a multi-party submission and submits the batch.
func (s *LedgerService) SubmitSplit(ctx context.Context, userID string, in ledger.SplitInput) ([]core.Transaction, error) {
	txs, err := ledger.SplitExpense(in, uuid.NewString(), time.Now().UTC())
	if err != nil {
		return nil, err
	}
	for i := range txs {
		txs[i].ID = uuid.NewString()
	}

	if err := s.submitBatch(ctx, txs); err != nil {
		s.afterMutation(ctx, userID, "create", len(txs), partyIDs(txs)...)
		return txs, err
	}
	s.afterMutation(ctx, userID, "create", len(txs), partyIDs(txs)...)
	return txs, nil
}

// Settle plans and submits a settlement toward the balance with one
// counterparty. Direction follows the current net balance sign.
func (s *LedgerService) Settle(ctx context.Context, userID, counterpartyID string, amount core.Money) (core.Transaction, error) {
	snap, err := s.CurrentSnapshot(ctx, userID)
	if err != nil {
		return core.Transaction{}, err
	}
	var net int64
	if l, ok := snap.Ledgers[counterpartyID]; ok {
		net = l.NetCents
	}

	tx, err := ledger.PlanSettlement(net, amount, userID, counterpartyID, time.Now().UTC())
	if err != nil {
		return core.Transaction{}, err
	}
	tx.ID = uuid.NewString()
	tx.GroupID = uuid.NewString()

	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		return core.Transaction{}, fmt.Errorf("submit settlement: %w", err)
	}

	s.log.InfoContext(ctx, "Settlement submitted",
		applog.FieldUserID, userID,
		applog.FieldCounterpartyID, counterpartyID,
		applog.FieldAmountCents, amount.Cents,
		applog.FieldNetCents, net)

	s.afterMutation(ctx, userID, "settle", 1, counterpartyID)
	return tx, nil
}

// DeleteTransactions removes the selected transactions concurrently,
// reporting partial failure without compensating deletes.
func (s *LedgerService) DeleteTransactions(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	failures := make([]error, len(ids))
	var g errgroup.Group
	g.SetLimit(8)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			failures[i] = s.store.DeleteTransaction(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	for i, err := range failures {
		if err != nil {
			s.log.ErrorContext(ctx, "Failed to delete transaction",
				applog.FieldError, err, applog.FieldTransactionID, ids[i])
			failed = append(failed, ids[i])
		}
	}

	s.afterMutation(ctx, userID, "delete", len(ids)-len(failed))

	if len(failed) > 0 {
		return &PartialFailureError{FailedIDs: failed, Submitted: len(ids) - len(failed)}
	}
	return nil
}

// submitBatch dispatches every transaction concurrently and awaits all of
// them. On failure the successfully submitted records stay in the store;
// the caller learns which ids failed.
func (s *LedgerService) submitBatch(ctx context.Context, txs []core.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	failures := make([]error, len(txs))
	var g errgroup.Group
	g.SetLimit(8)
	for i, tx := range txs {
		i, tx := i, tx
		g.Go(func() error {
			failures[i] = s.store.CreateTransaction(ctx, tx)
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	for i, err := range failures {
		if err != nil {
			s.log.ErrorContext(ctx, "Failed to submit transaction",
				applog.FieldError, err,
				applog.FieldTransactionID, txs[i].ID,
				applog.FieldGroupID, txs[i].GroupID)
			failed = append(failed, txs[i].ID)
		}
	}

	if len(failed) > 0 {
		return &PartialFailureError{FailedIDs: failed, Submitted: len(txs) - len(failed)}
	}
	return nil
}

// afterMutation invalidates the snapshots of everyone the mutation touched
// and announces the change. Every party is invalidated, not just the actor:
// a creditor or split participant must not keep serving a pre-mutation
// balance until the TTL runs out.
func (s *LedgerService) afterMutation(ctx context.Context, userID, action string, count int, parties ...string) {
	s.invalidate(userID)
	for _, p := range parties {
		if p != userID {
			s.invalidate(p)
		}
	}

	if s.publisher == nil || count == 0 {
		return
	}
	if err := s.publisher.PublishLedgerChanged(ctx, userID, action, count); err != nil {
		s.log.WarnContext(ctx, "Failed to publish ledger change",
			applog.FieldError, err, applog.FieldUserID, userID, "action", action)
	}
}

func (s *LedgerService) invalidate(userID string) {
	if userID != "" {
		s.snapshots.Delete(snapshotKey(userID))
	}
}

// partyIDs collects every user id appearing on either side of the
// transactions, deduplicated.
func partyIDs(txs []core.Transaction) []string {
	seen := make(map[string]bool, len(txs)*2)
	var out []string
	for _, tx := range txs {
		for _, id := range []string{tx.FromUserID, tx.ToUserID} {
			if id != "" && !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

func snapshotKey(userID string) string {
	return "snapshot:" + userID
}

// IsPartialFailure reports whether err is a partial batch failure and
// returns it for inspection.
func IsPartialFailure(err error) (*PartialFailureError, bool) {
	var pf *PartialFailureError
	if errors.As(err, &pf) {
		return pf, true
	}
	return nil, false
}
