// Package worker rebuilds ledger snapshots in the background, both on a
// fixed schedule and in response to change notifications.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"debtbook/internal/amqp"
	"debtbook/internal/services"
)

// LedgerRefresher runs one full aggregation pass for a user.
type LedgerRefresher interface {
	Refresh(ctx context.Context, userID string) (services.Snapshot, error)
}

// KnownUserSource lists the users whose snapshots have been persisted.
// The snapshot repository satisfies this.
type KnownUserSource interface {
	ListUserIDs(ctx context.Context) ([]string, error)
}

// RefreshWorker keeps persisted snapshots warm. A ticker sweeps every known
// user; AMQP change messages trigger targeted refreshes in between sweeps.
type RefreshWorker struct {
	refresher LedgerRefresher
	users     KnownUserSource
	interval  time.Duration
}

func NewRefreshWorker(refresher LedgerRefresher, users KnownUserSource, interval time.Duration) *RefreshWorker {
	return &RefreshWorker{
		refresher: refresher,
		users:     users,
		interval:  interval,
	}
}

// HandleChangeMessage processes a single ledger change notification.
// Returning an error requeues the message.
func (w *RefreshWorker) HandleChangeMessage(ctx context.Context, msg *amqp.LedgerChangedMessage) error {
	if msg.UserID == "" {
		slog.WarnContext(ctx, "Dropping change message without user id",
			"action", msg.Action)
		return nil
	}

	slog.InfoContext(ctx, "Processing ledger change",
		"user_id", msg.UserID,
		"action", msg.Action,
		"count", msg.Count)

	if _, err := w.refresher.Refresh(ctx, msg.UserID); err != nil {
		return fmt.Errorf("refresh after %s: %w", msg.Action, err)
	}
	return nil
}

// RefreshAll sweeps every known user once. Individual failures are logged
// and skipped so one broken user cannot starve the rest.
func (w *RefreshWorker) RefreshAll(ctx context.Context) error {
	ids, err := w.users.ListUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("list known users: %w", err)
	}
	if len(ids) == 0 {
		slog.DebugContext(ctx, "No known users to refresh")
		return nil
	}

	refreshed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := w.refresher.Refresh(ctx, id); err != nil {
			slog.ErrorContext(ctx, "Scheduled refresh failed",
				"error", err, "user_id", id)
			continue
		}
		refreshed++
	}

	slog.InfoContext(ctx, "Scheduled refresh sweep completed",
		"total", len(ids),
		"refreshed", refreshed)
	return nil
}

// Run blocks, sweeping on the configured interval until the context is
// canceled. An initial sweep runs immediately so restarts do not wait a
// full interval with cold snapshots.
func (w *RefreshWorker) Run(ctx context.Context) error {
	if err := w.RefreshAll(ctx); err != nil {
		slog.ErrorContext(ctx, "Startup refresh sweep failed", "error", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Refresh worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := w.RefreshAll(ctx); err != nil {
				slog.ErrorContext(ctx, "Refresh sweep failed", "error", err)
			}
		}
	}
}
