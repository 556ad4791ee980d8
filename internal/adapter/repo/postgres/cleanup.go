// Package postgres provides PostgreSQL database adapters.
//
// It implements repository interfaces for data persistence.
// The package provides type-safe database operations with
// connection pooling and transaction support.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Tx is the minimal transaction surface CleanupService needs; it lets tests
// substitute a fake without spinning up a real database.
type Tx interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Beginner opens transactions; *pgxpool.Pool satisfies this via poolBeginner.
type Beginner interface {
	Begin(ctx context.Context) (Tx, error)
}

type poolBeginner struct{ pool *pgxpool.Pool }

// NewPoolBeginner adapts a *pgxpool.Pool to Beginner for CleanupService.
func NewPoolBeginner(pool *pgxpool.Pool) Beginner { return poolBeginner{pool: pool} }

func (b poolBeginner) Begin(ctx context.Context) (Tx, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// CleanupService enforces retention on read Notifications and terminal
// WorkflowExecutions (completed/failed), which have no other TTL mechanism;
// live domain rows (Users, Portfolios, Alerts, Workflows) are never pruned.
type CleanupService struct {
	db            Beginner
	RetentionDays int
}

// NewCleanupService creates a new cleanup service bound to a transaction
// source. retentionDays<=0 defaults to 90.
func NewCleanupService(db Beginner, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &CleanupService{db: db, RetentionDays: retentionDays}
}

// CleanupOldData deletes read notifications and terminal workflow executions
// older than the retention window, in one transaction.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.RetentionDays)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("op=cleanup.begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var deletedNotifications int64
	if err := tx.QueryRow(ctx, `
		WITH deleted AS (
			DELETE FROM notifications
			WHERE is_read = true AND created_at < $1
			RETURNING id
		)
		SELECT count(*) FROM deleted
	`, cutoff).Scan(&deletedNotifications); err != nil {
		slog.Debug("cleanup: no notifications deleted", slog.Any("error", err))
	}

	var deletedExecutions int64
	if err := tx.QueryRow(ctx, `
		WITH deleted AS (
			DELETE FROM workflow_executions
			WHERE status IN ('completed', 'failed') AND completed_at < $1
			RETURNING id
		)
		SELECT count(*) FROM deleted
	`, cutoff).Scan(&deletedExecutions); err != nil {
		slog.Debug("cleanup: no workflow executions deleted", slog.Any("error", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=cleanup.commit: %w", err)
	}

	slog.Info("data cleanup completed",
		slog.Int64("deleted_notifications", deletedNotifications),
		slog.Int64("deleted_workflow_executions", deletedExecutions),
		slog.Time("cutoff", cutoff),
	)
	return nil
}

// RunPeriodic runs CleanupOldData once immediately and then on every tick of
// interval (24h by default) until ctx is canceled.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}
