// Package storage persists the last-known aggregation snapshot per user so
// a restart (or an unreachable remote store) can serve the previous state
// instead of an empty ledger.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no snapshot exists for a user.
var ErrNotFound = errors.New("snapshot not found")

// SnapshotRepository stores serialized aggregation snapshots in SQLite.
type SnapshotRepository struct {
	db *sql.DB
}

func NewSnapshotRepository(dbPath string) (*SnapshotRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SnapshotRepository{db: db}, nil
}

func (r *SnapshotRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Save upserts the snapshot payload for a user.
func (r *SnapshotRepository) Save(ctx context.Context, userID string, payload []byte, computedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO snapshots (user_id, payload, computed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			payload = excluded.payload,
			computed_at = excluded.computed_at`,
		userID, string(payload), computedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save snapshot for %s: %w", userID, err)
	}

	slog.DebugContext(ctx, "Snapshot persisted",
		"user_id", userID,
		"payload_bytes", len(payload))
	return nil
}

// Load returns the stored payload and its computation time.
func (r *SnapshotRepository) Load(ctx context.Context, userID string) ([]byte, time.Time, error) {
	var payload string
	var computedAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT payload, computed_at FROM snapshots WHERE user_id = ?`, userID).
		Scan(&payload, &computedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load snapshot for %s: %w", userID, err)
	}

	at, err := time.Parse(time.RFC3339Nano, computedAt)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("parse snapshot timestamp for %s: %w", userID, err)
	}
	return []byte(payload), at, nil
}

// ListUserIDs returns every user with a persisted snapshot. The refresh
// worker uses this as its work list.
func (r *SnapshotRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id FROM snapshots ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list snapshot users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan snapshot user: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
