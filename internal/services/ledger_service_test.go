package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"debtbook/internal/core"
	"debtbook/internal/ledger"
	"debtbook/internal/store"
	"debtbook/internal/store/memory"
)

const (
	alice = "user-alice"
	bob   = "user-bob"
	carol = "user-carol"
)

func testUsers() []core.User {
	return []core.User{
		{ID: alice, Name: "Alice", SecondName: "A"},
		{ID: bob, Name: "Bob", SecondName: "B"},
		{ID: carol, Name: "Carol", SecondName: "C"},
	}
}

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New(testUsers())
	s.Seed(
		core.Record{ID: "t1", FromUserID: alice, ToUserID: bob, Description: "Dinner", Amount: "100.00", CreatedAt: "2024-01-10T10:00:00Z"},
		core.Record{ID: "t2", FromUserID: bob, ToUserID: alice, Description: "Taxi", Amount: "40.00", CreatedAt: "2024-01-11T10:00:00Z"},
		core.Record{ID: "t3", FromUserID: alice, ToUserID: carol, Description: "Coffee", Amount: "12.50", CreatedAt: "2024-01-12T10:00:00Z"},
		// Malformed rows the backend should never have stored.
		core.Record{ID: "bad1", FromUserID: alice, ToUserID: bob, Amount: "abc", CreatedAt: "2024-01-12T10:00:00Z"},
		core.Record{ID: "bad2", FromUserID: "", ToUserID: bob, Amount: "5.00", CreatedAt: "2024-01-12T10:00:00Z"},
	)
	return s
}

func TestRefreshAggregatesAndResolvesNames(t *testing.T) {
	svc := NewLedgerService(seededStore(t), time.Minute)

	snap, err := svc.Refresh(context.Background(), alice)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(snap.Ledgers) != 2 {
		t.Fatalf("expected 2 counterparties, got %d", len(snap.Ledgers))
	}

	withBob := snap.Ledgers[bob]
	if withBob == nil {
		t.Fatal("missing ledger for bob")
	}
	if withBob.NetCents != -6000 {
		t.Errorf("net with bob = %d, want -6000", withBob.NetCents)
	}
	if withBob.CounterpartyName != "Bob B" {
		t.Errorf("counterparty name = %q, want %q", withBob.CounterpartyName, "Bob B")
	}
	if len(withBob.Transactions) != 2 {
		t.Errorf("expected 2 transactions with bob, got %d", len(withBob.Transactions))
	}

	if snap.Statistics.NetCents != -7250 {
		t.Errorf("overall net = %d, want -7250", snap.Statistics.NetCents)
	}
	if snap.Statistics.ActiveCount != 3 {
		t.Errorf("active count = %d, want 3", snap.Statistics.ActiveCount)
	}
}

func TestRefreshPaginatesPastPageSize(t *testing.T) {
	s := memory.New(testUsers())
	for i := 0; i < 7; i++ {
		s.Seed(core.Record{
			ID:         fmt.Sprintf("t%d", i),
			FromUserID: alice,
			ToUserID:   bob,
			Amount:     "1.00",
			CreatedAt:  "2024-01-10T10:00:00Z",
		})
	}
	svc := NewLedgerService(s, time.Minute, WithPageSize(3))

	snap, err := svc.Refresh(context.Background(), alice)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := len(snap.Ledgers[bob].Transactions); got != 7 {
		t.Errorf("expected all 7 transactions across pages, got %d", got)
	}
}

func TestCurrentSnapshotServesFromCache(t *testing.T) {
	s := seededStore(t)
	svc := NewLedgerService(s, time.Minute)

	first, err := svc.CurrentSnapshot(context.Background(), alice)
	if err != nil {
		t.Fatalf("CurrentSnapshot: %v", err)
	}

	// A new record must not show up until the snapshot is refreshed.
	s.Seed(core.Record{ID: "t9", FromUserID: alice, ToUserID: bob, Amount: "1.00", CreatedAt: "2024-01-13T10:00:00Z"})

	second, err := svc.CurrentSnapshot(context.Background(), alice)
	if err != nil {
		t.Fatalf("CurrentSnapshot: %v", err)
	}
	if !second.ComputedAt.Equal(first.ComputedAt) {
		t.Error("expected the cached snapshot to serve unchanged")
	}
	if len(second.Ledgers[bob].Transactions) != len(first.Ledgers[bob].Transactions) {
		t.Error("cached snapshot picked up new store data")
	}
}

type failingStore struct{}

func (failingStore) ListTransactions(context.Context, store.Page) ([]core.Record, error) {
	return nil, errors.New("store unreachable")
}
func (failingStore) ListUsers(context.Context, []string) ([]core.User, error) {
	return nil, errors.New("store unreachable")
}
func (failingStore) CreateTransaction(context.Context, core.Transaction) error {
	return errors.New("store unreachable")
}
func (failingStore) DeleteTransaction(context.Context, string) error {
	return errors.New("store unreachable")
}

type fakePersister struct {
	mu       sync.Mutex
	payloads map[string][]byte
	times    map[string]time.Time
}

func newFakePersister() *fakePersister {
	return &fakePersister{payloads: map[string][]byte{}, times: map[string]time.Time{}}
}

func (p *fakePersister) Save(_ context.Context, userID string, payload []byte, computedAt time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads[userID] = payload
	p.times[userID] = computedAt
	return nil
}

func (p *fakePersister) Load(_ context.Context, userID string) ([]byte, time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	payload, ok := p.payloads[userID]
	if !ok {
		return nil, time.Time{}, errors.New("not found")
	}
	return payload, p.times[userID], nil
}

func TestCurrentSnapshotFallsBackToPersistedState(t *testing.T) {
	persister := newFakePersister()

	// Warm the persisted snapshot with a healthy store.
	healthy := NewLedgerService(seededStore(t), time.Minute, WithPersister(persister))
	if _, err := healthy.Refresh(context.Background(), alice); err != nil {
		t.Fatalf("warm refresh: %v", err)
	}

	degraded := NewLedgerService(failingStore{}, time.Minute, WithPersister(persister))
	snap, err := degraded.CurrentSnapshot(context.Background(), alice)
	if err != nil {
		t.Fatalf("CurrentSnapshot: %v", err)
	}
	if len(snap.Ledgers) != 2 {
		t.Fatalf("expected restored snapshot with 2 counterparties, got %d", len(snap.Ledgers))
	}
	if snap.Ledgers[bob].NetCents != -6000 {
		t.Errorf("restored net = %d, want -6000", snap.Ledgers[bob].NetCents)
	}
}

func TestCurrentSnapshotEmptyFloorWhenEverythingFails(t *testing.T) {
	svc := NewLedgerService(failingStore{}, time.Minute)

	snap, err := svc.CurrentSnapshot(context.Background(), alice)
	if err != nil {
		t.Fatalf("expected degraded empty snapshot, got error: %v", err)
	}
	if snap.UserID != alice || len(snap.Ledgers) != 0 {
		t.Errorf("expected empty snapshot for %s, got %+v", alice, snap)
	}
}

func TestCreateDebtsSubmitsGroup(t *testing.T) {
	s := memory.New(testUsers())
	svc := NewLedgerService(s, time.Minute)

	txs, err := svc.CreateDebts(context.Background(), alice, bob, []ledger.LineItem{
		{Description: "Groceries", Amount: core.Money{Cents: 2500}},
		{Description: "", Amount: core.Money{Cents: 1000}},
		{Description: "Freebie", Amount: core.Money{Cents: 0}},
	})
	if err != nil {
		t.Fatalf("CreateDebts: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions (zero item skipped), got %d", len(txs))
	}
	if txs[0].GroupID == "" || txs[0].GroupID != txs[1].GroupID {
		t.Error("expected all items to share one group id")
	}
	if txs[1].Description != core.DefaultDescription {
		t.Errorf("blank description = %q, want %q", txs[1].Description, core.DefaultDescription)
	}
	if s.Len() != 2 {
		t.Errorf("store has %d records, want 2", s.Len())
	}
}

func TestCreateDebtsCollectsAllViolations(t *testing.T) {
	svc := NewLedgerService(memory.New(nil), time.Minute)

	_, err := svc.CreateDebts(context.Background(), "", "", nil)
	var verr *ledger.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Reasons) != 3 {
		t.Errorf("expected 3 violations reported together, got %d: %v", len(verr.Reasons), verr.Reasons)
	}
}

func TestSubmitSplitCreatesPerHeadDebts(t *testing.T) {
	s := memory.New(testUsers())
	svc := NewLedgerService(s, time.Minute)

	txs, err := svc.SubmitSplit(context.Background(), alice, ledger.SplitInput{
		SharedItems:    []ledger.LineItem{{Description: "Pizza", Amount: core.Money{Cents: 30000}}},
		ParticipantIDs: []string{alice, bob, carol},
		ReceiverID:     alice,
	})
	if err != nil {
		t.Fatalf("SubmitSplit: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions (receiver emits none), got %d", len(txs))
	}
	for _, tx := range txs {
		if tx.ID == "" {
			t.Error("expected submitted transaction to carry an id")
		}
		if tx.Amount.Cents != 10000 {
			t.Errorf("per-head amount = %d, want 10000", tx.Amount.Cents)
		}
	}
	if s.Len() != 2 {
		t.Errorf("store has %d records, want 2", s.Len())
	}
}

func TestSettleDirectionFollowsBalance(t *testing.T) {
	s := seededStore(t)
	svc := NewLedgerService(s, time.Minute)

	// Alice ends up 60.00 down against Bob, so the settlement runs from
	// Alice toward Bob.
	tx, err := svc.Settle(context.Background(), alice, bob, core.Money{Cents: 2000})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if tx.FromUserID != alice || tx.ToUserID != bob {
		t.Errorf("settlement direction %s->%s, want %s->%s", tx.FromUserID, tx.ToUserID, alice, bob)
	}
	if tx.Description != core.SettlementDescription {
		t.Errorf("description = %q, want %q", tx.Description, core.SettlementDescription)
	}
	if tx.ID == "" || tx.GroupID == "" {
		t.Error("expected settlement to carry fresh ids")
	}
}

type flakyStore struct {
	*memory.Store
	failIDs map[string]bool
}

func (f *flakyStore) CreateTransaction(ctx context.Context, tx core.Transaction) error {
	if f.failIDs[tx.Description] {
		return errors.New("rejected")
	}
	return f.Store.CreateTransaction(ctx, tx)
}

func TestSubmitBatchReportsPartialFailure(t *testing.T) {
	s := &flakyStore{Store: memory.New(testUsers()), failIDs: map[string]bool{"Broken": true}}
	svc := NewLedgerService(s, time.Minute)

	txs, err := svc.CreateDebts(context.Background(), alice, bob, []ledger.LineItem{
		{Description: "Fine", Amount: core.Money{Cents: 100}},
		{Description: "Broken", Amount: core.Money{Cents: 200}},
	})
	pf, ok := IsPartialFailure(err)
	if !ok {
		t.Fatalf("expected partial failure, got %v", err)
	}
	if pf.Submitted != 1 || len(pf.FailedIDs) != 1 {
		t.Errorf("partial failure = %+v, want 1 submitted 1 failed", pf)
	}
	if len(txs) != 2 {
		t.Errorf("expected planned transactions back even on partial failure, got %d", len(txs))
	}
}

func TestDeleteTransactionsPartialFailure(t *testing.T) {
	s := seededStore(t)
	svc := NewLedgerService(s, time.Minute)

	err := svc.DeleteTransactions(context.Background(), alice, []string{"t1", "no-such-id"})
	pf, ok := IsPartialFailure(err)
	if !ok {
		t.Fatalf("expected partial failure, got %v", err)
	}
	if pf.Submitted != 1 || len(pf.FailedIDs) != 1 || pf.FailedIDs[0] != "no-such-id" {
		t.Errorf("unexpected partial failure detail: %+v", pf)
	}
}

type recordingPublisher struct {
	mu    sync.Mutex
	calls []string
}

func (p *recordingPublisher) PublishLedgerChanged(_ context.Context, userID, action string, count int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, fmt.Sprintf("%s/%s/%d", userID, action, count))
	return nil
}

func TestMutationsPublishChanges(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewLedgerService(memory.New(testUsers()), time.Minute, WithPublisher(pub))

	_, err := svc.CreateDebts(context.Background(), alice, bob, []ledger.LineItem{
		{Description: "Lunch", Amount: core.Money{Cents: 500}},
	})
	if err != nil {
		t.Fatalf("CreateDebts: %v", err)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.calls) != 1 || pub.calls[0] != alice+"/create/1" {
		t.Errorf("published calls = %v, want [%s/create/1]", pub.calls, alice)
	}
}

func TestDateGroupsUnknownCounterparty(t *testing.T) {
	svc := NewLedgerService(seededStore(t), time.Minute)

	groups, err := svc.DateGroups(context.Background(), alice, "nobody")
	if err != nil {
		t.Fatalf("DateGroups: %v", err)
	}
	if groups != nil {
		t.Errorf("expected nil groups for unknown counterparty, got %v", groups)
	}
}

func TestDateGroupsForCounterparty(t *testing.T) {
	svc := NewLedgerService(seededStore(t), time.Minute)

	groups, err := svc.DateGroups(context.Background(), alice, bob)
	if err != nil {
		t.Fatalf("DateGroups: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 date groups, got %d", len(groups))
	}
	if !groups[0].Date.After(groups[1].Date) {
		t.Error("expected groups sorted newest first")
	}
}

// blockingStore parks every transaction fetch until the test releases it,
// so two refresh passes can be completed in a chosen order.
type blockingStore struct {
	calls chan chan []core.Record
}

func (b *blockingStore) ListTransactions(_ context.Context, _ store.Page) ([]core.Record, error) {
	reply := make(chan []core.Record)
	b.calls <- reply
	return <-reply, nil
}

func (b *blockingStore) ListUsers(context.Context, []string) ([]core.User, error) {
	return nil, nil
}

func (b *blockingStore) CreateTransaction(context.Context, core.Transaction) error {
	return nil
}

func (b *blockingStore) DeleteTransaction(context.Context, string) error {
	return nil
}

func TestOverlappingRefreshLaterPassWins(t *testing.T) {
	bs := &blockingStore{calls: make(chan chan []core.Record)}
	svc := NewLedgerService(bs, time.Minute)

	type result struct {
		snap Snapshot
		err  error
	}

	first := make(chan result, 1)
	go func() {
		snap, err := svc.Refresh(context.Background(), alice)
		first <- result{snap, err}
	}()
	// The pass holds its sequence number before it reaches the store, so
	// receiving its fetch here pins the ordering of the two passes.
	firstFetch := <-bs.calls

	second := make(chan result, 1)
	go func() {
		snap, err := svc.Refresh(context.Background(), alice)
		second <- result{snap, err}
	}()
	secondFetch := <-bs.calls

	// The later-started pass completes first and commits.
	secondFetch <- []core.Record{{ID: "t-new", FromUserID: alice, ToUserID: bob, Amount: "2.00", CreatedAt: "2024-01-11T10:00:00Z"}}
	res := <-second
	if res.err != nil {
		t.Fatalf("second refresh: %v", res.err)
	}
	if res.snap.Ledgers[bob].NetCents != -200 {
		t.Fatalf("second pass net = %d, want -200", res.snap.Ledgers[bob].NetCents)
	}

	// The earlier pass now finishes with data fetched before the newer
	// pass; its result must be discarded, and its caller gets the
	// committed state instead.
	firstFetch <- []core.Record{{ID: "t-old", FromUserID: alice, ToUserID: bob, Amount: "1.00", CreatedAt: "2024-01-10T10:00:00Z"}}
	res = <-first
	if res.err != nil {
		t.Fatalf("first refresh: %v", res.err)
	}
	if res.snap.Ledgers[bob].NetCents != -200 {
		t.Errorf("discarded pass returned net %d, want the committed -200", res.snap.Ledgers[bob].NetCents)
	}

	snap, err := svc.CurrentSnapshot(context.Background(), alice)
	if err != nil {
		t.Fatalf("CurrentSnapshot: %v", err)
	}
	l := snap.Ledgers[bob]
	if l == nil || l.NetCents != -200 {
		t.Fatalf("served snapshot = %+v, want the later pass's -200", l)
	}
	if len(l.Transactions) != 1 || l.Transactions[0].ID != "t-new" {
		t.Errorf("served transactions = %+v, want only t-new", l.Transactions)
	}
}

func TestMutationsInvalidateEveryParty(t *testing.T) {
	s := memory.New(testUsers())
	// A long TTL makes sure only invalidation, never staleness, can force
	// the recompute this test looks for.
	svc := NewLedgerService(s, time.Hour)

	for _, id := range []string{bob, carol} {
		snap, err := svc.CurrentSnapshot(context.Background(), id)
		if err != nil {
			t.Fatalf("warm snapshot for %s: %v", id, err)
		}
		if len(snap.Ledgers) != 0 {
			t.Fatalf("expected empty warm snapshot for %s", id)
		}
	}

	_, err := svc.CreateDebts(context.Background(), alice, bob, []ledger.LineItem{
		{Description: "Lunch", Amount: core.Money{Cents: 500}},
	})
	if err != nil {
		t.Fatalf("CreateDebts: %v", err)
	}

	snap, err := svc.CurrentSnapshot(context.Background(), bob)
	if err != nil {
		t.Fatalf("CurrentSnapshot for creditor: %v", err)
	}
	if l := snap.Ledgers[alice]; l == nil || l.NetCents != 500 {
		t.Errorf("creditor served stale snapshot after debt creation: %+v", snap.Ledgers)
	}

	_, err = svc.SubmitSplit(context.Background(), alice, ledger.SplitInput{
		SharedItems:    []ledger.LineItem{{Description: "Pizza", Amount: core.Money{Cents: 3000}}},
		ParticipantIDs: []string{alice, bob, carol},
		ReceiverID:     alice,
	})
	if err != nil {
		t.Fatalf("SubmitSplit: %v", err)
	}

	snap, err = svc.CurrentSnapshot(context.Background(), carol)
	if err != nil {
		t.Fatalf("CurrentSnapshot for participant: %v", err)
	}
	if l := snap.Ledgers[alice]; l == nil || l.NetCents != -1000 {
		t.Errorf("participant served stale snapshot after split: %+v", snap.Ledgers)
	}
}
