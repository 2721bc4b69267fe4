package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newRepo(t *testing.T) *SnapshotRepository {
	t.Helper()
	repo, err := NewSnapshotRepository(filepath.Join(t.TempDir(), "snapshots.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSaveAndLoad(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	at := time.Date(2024, 1, 20, 12, 0, 0, 0, time.UTC)

	if err := repo.Save(ctx, "u1", []byte(`{"net":-6000}`), at); err != nil {
		t.Fatalf("save: %v", err)
	}

	payload, computedAt, err := repo.Load(ctx, "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(payload) != `{"net":-6000}` {
		t.Fatalf("payload = %s", payload)
	}
	if !computedAt.Equal(at) {
		t.Fatalf("computedAt = %v, want %v", computedAt, at)
	}
}

func TestSaveOverwrites(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	_ = repo.Save(ctx, "u1", []byte(`old`), time.Now())
	if err := repo.Save(ctx, "u1", []byte(`new`), time.Now()); err != nil {
		t.Fatalf("second save: %v", err)
	}

	payload, _, err := repo.Load(ctx, "u1")
	if err != nil || string(payload) != "new" {
		t.Fatalf("payload = %s, err %v", payload, err)
	}
}

func TestLoadMissing(t *testing.T) {
	repo := newRepo(t)
	_, _, err := repo.Load(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestListUserIDs(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	_ = repo.Save(ctx, "b", []byte(`{}`), time.Now())
	_ = repo.Save(ctx, "a", []byte(`{}`), time.Now())

	ids, err := repo.ListUserIDs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("ids = %v", ids)
	}
}
