package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mclima/stock-intel-service/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// StuckExecutionSweeper periodically fails WorkflowExecution rows that have
// been stuck in "running" past maxRunningAge, orphaned by a crashed worker.
type StuckExecutionSweeper struct {
	executions    domain.ExecutionRepository
	maxRunningAge time.Duration
	interval      time.Duration
}

// NewStuckExecutionSweeper builds a sweeper; maxRunningAge defaults to 3
// minutes and interval to 1 minute when non-positive.
func NewStuckExecutionSweeper(executions domain.ExecutionRepository, maxRunningAge, interval time.Duration) *StuckExecutionSweeper {
	if executions == nil {
		return nil
	}
	if maxRunningAge <= 0 {
		maxRunningAge = 3 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StuckExecutionSweeper{
		executions:    executions,
		maxRunningAge: maxRunningAge,
		interval:      interval,
	}
}

// Run sweeps once immediately, then on every tick until ctx is canceled.
func (s *StuckExecutionSweeper) Run(ctx context.Context) {
	if s == nil || s.executions == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck execution sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StuckExecutionSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("workflow.sweeper")
	ctx, span := tracer.Start(ctx, "StuckExecutionSweeper.sweepOnce")
	defer span.End()

	cutoff := time.Now().Add(-s.maxRunningAge)
	span.SetAttributes(attribute.Float64("executions.max_running_age_seconds", s.maxRunningAge.Seconds()))

	stuck, err := s.executions.ListStuckRunning(ctx, cutoff)
	if err != nil {
		span.RecordError(err)
		slog.Error("stuck execution sweep failed to list executions", slog.Any("error", err))
		return
	}

	marked := 0
	for _, e := range stuck {
		execCtx, execSpan := tracer.Start(ctx, "StuckExecutionSweeper.markFailed")
		execSpan.SetAttributes(attribute.String("execution.id", e.ID), attribute.String("execution.workflow_id", e.WorkflowID))

		now := time.Now().UTC()
		e.Status = domain.ExecutionFailed
		e.CompletedAt = &now
		e.Errors = append(e.Errors, fmt.Sprintf("execution exceeded maximum running age %v; marked failed by sweeper", s.maxRunningAge))

		if err := s.executions.Update(execCtx, e); err != nil {
			execSpan.RecordError(err)
			slog.Error("stuck execution sweep failed to update execution", slog.String("execution_id", e.ID), slog.Any("error", err))
		} else {
			marked++
		}
		execSpan.End()
	}

	span.SetAttributes(
		attribute.Int("executions.total_checked", len(stuck)),
		attribute.Int("executions.total_marked_failed", marked),
	)
}
