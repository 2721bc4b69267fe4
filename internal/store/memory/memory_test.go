package memory

import (
	"context"
	"testing"
	"time"

	"debtbook/internal/core"
	"debtbook/internal/store"
)

func newTx(id string) core.Transaction {
	return core.Transaction{
		ID: id, FromUserID: "u1", ToUserID: "u2",
		Description: "x", Amount: core.Money{Cents: 100},
		CreatedAt: time.Date(2024, 1, 20, 12, 0, 0, 0, time.UTC),
	}
}

func TestPagination(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.CreateTransaction(ctx, newTx(string(rune('a'+i)))); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	page1, err := s.ListTransactions(ctx, store.Page{Offset: 0, Limit: 2})
	if err != nil || len(page1) != 2 {
		t.Fatalf("page1 = %d records, err %v", len(page1), err)
	}
	page3, err := s.ListTransactions(ctx, store.Page{Offset: 4, Limit: 2})
	if err != nil || len(page3) != 1 {
		t.Fatalf("short page = %d records, err %v", len(page3), err)
	}
	empty, err := s.ListTransactions(ctx, store.Page{Offset: 10, Limit: 2})
	if err != nil || len(empty) != 0 {
		t.Fatalf("past-end page = %d records, err %v", len(empty), err)
	}
}

func TestCreateValidates(t *testing.T) {
	s := New(nil)
	bad := newTx("t1")
	bad.Amount = core.Money{}
	if err := s.CreateTransaction(context.Background(), bad); err == nil {
		t.Fatal("expected validation error")
	}
	if s.Len() != 0 {
		t.Fatal("invalid transaction was stored")
	}
}

func TestDelete(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	_ = s.CreateTransaction(ctx, newTx("t1"))
	_ = s.CreateTransaction(ctx, newTx("t2"))

	if err := s.DeleteTransaction(ctx, "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
	if err := s.DeleteTransaction(ctx, "missing"); err == nil {
		t.Fatal("expected error for unknown id")
	}
}

func TestListUsers(t *testing.T) {
	s := New([]core.User{
		{ID: "u1", Name: "Ivan"},
		{ID: "u2", Name: "Maria"},
	})
	users, err := s.ListUsers(context.Background(), []string{"u2", "missing"})
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 || users[0].ID != "u2" {
		t.Fatalf("users = %+v", users)
	}
}
