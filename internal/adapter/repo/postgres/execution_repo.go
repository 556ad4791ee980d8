// Package postgres provides PostgreSQL database adapters.
//
// It implements repository interfaces for data persistence.
// The package provides type-safe database operations with
// connection pooling and transaction support.
package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mclima/stock-intel-service/internal/domain"
)

// ExecutionRepo persists and loads workflow execution records using a
// minimal pgx pool. Results and Errors are stored as jsonb.
type ExecutionRepo struct{ Pool PgxPool }

// NewExecutionRepo constructs an ExecutionRepo with the given pool.
func NewExecutionRepo(p PgxPool) *ExecutionRepo { return &ExecutionRepo{Pool: p} }

// Create inserts a new execution row and returns its id.
func (r *ExecutionRepo) Create(ctx domain.Context, e domain.WorkflowExecution) (string, error) {
	tracer := otel.Tracer("repo.executions")
	ctx, span := tracer.Start(ctx, "executions.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "workflow_executions"),
	)
	id := e.ID
	if id == "" {
		id = uuid.New().String()
	}
	results, err := json.Marshal(e.Results)
	if err != nil {
		return "", fmt.Errorf("op=execution.create.marshal_results: %w", err)
	}
	errs, err := json.Marshal(e.Errors)
	if err != nil {
		return "", fmt.Errorf("op=execution.create.marshal_errors: %w", err)
	}
	startedAt := e.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	q := `INSERT INTO workflow_executions (id, workflow_id, status, progress, current_node, results, errors, execution_time_ms, started_at, completed_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err = r.Pool.Exec(ctx, q, id, e.WorkflowID, e.Status, e.Progress, e.CurrentNode, results, errs, e.ExecutionTimeMs, startedAt, e.CompletedAt)
	if err != nil {
		return "", fmt.Errorf("op=execution.create: %w", err)
	}
	return id, nil
}

// Update overwrites an execution's progress/result/status fields.
func (r *ExecutionRepo) Update(ctx domain.Context, e domain.WorkflowExecution) error {
	tracer := otel.Tracer("repo.executions")
	ctx, span := tracer.Start(ctx, "executions.Update")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "workflow_executions"),
	)
	results, err := json.Marshal(e.Results)
	if err != nil {
		return fmt.Errorf("op=execution.update.marshal_results: %w", err)
	}
	errs, err := json.Marshal(e.Errors)
	if err != nil {
		return fmt.Errorf("op=execution.update.marshal_errors: %w", err)
	}
	q := `UPDATE workflow_executions
	      SET status=$2, progress=$3, current_node=$4, results=$5, errors=$6, execution_time_ms=$7, completed_at=$8
	      WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, e.ID, e.Status, e.Progress, e.CurrentNode, results, errs, e.ExecutionTimeMs, e.CompletedAt)
	if err != nil {
		return fmt.Errorf("op=execution.update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=execution.update: %w", domain.ErrNotFound)
	}
	return nil
}

func scanExecution(row pgx.Row) (domain.WorkflowExecution, error) {
	var e domain.WorkflowExecution
	var results, errs []byte
	if err := row.Scan(&e.ID, &e.WorkflowID, &e.Status, &e.Progress, &e.CurrentNode, &results, &errs, &e.ExecutionTimeMs, &e.StartedAt, &e.CompletedAt); err != nil {
		return domain.WorkflowExecution{}, err
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &e.Results); err != nil {
			return domain.WorkflowExecution{}, fmt.Errorf("op=execution.scan.unmarshal_results: %w", err)
		}
	}
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &e.Errors); err != nil {
			return domain.WorkflowExecution{}, fmt.Errorf("op=execution.scan.unmarshal_errors: %w", err)
		}
	}
	return e, nil
}

// Get loads an execution by id.
func (r *ExecutionRepo) Get(ctx domain.Context, id string) (domain.WorkflowExecution, error) {
	tracer := otel.Tracer("repo.executions")
	ctx, span := tracer.Start(ctx, "executions.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "workflow_executions"),
	)
	q := `SELECT id, workflow_id, status, progress, current_node, results, errors, execution_time_ms, started_at, completed_at
	      FROM workflow_executions WHERE id=$1`
	e, err := scanExecution(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.WorkflowExecution{}, fmt.Errorf("op=execution.get: %w", domain.ErrNotFound)
		}
		return domain.WorkflowExecution{}, fmt.Errorf("op=execution.get: %w", err)
	}
	return e, nil
}

// ListByWorkflow returns every execution of workflowID, newest first.
func (r *ExecutionRepo) ListByWorkflow(ctx domain.Context, workflowID string) ([]domain.WorkflowExecution, error) {
	tracer := otel.Tracer("repo.executions")
	ctx, span := tracer.Start(ctx, "executions.ListByWorkflow")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "workflow_executions"),
	)
	q := `SELECT id, workflow_id, status, progress, current_node, results, errors, execution_time_ms, started_at, completed_at
	      FROM workflow_executions WHERE workflow_id=$1 ORDER BY started_at DESC`
	rows, err := r.Pool.Query(ctx, q, workflowID)
	if err != nil {
		return nil, fmt.Errorf("op=execution.list_by_workflow: %w", err)
	}
	defer rows.Close()

	var out []domain.WorkflowExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("op=execution.list_by_workflow_scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=execution.list_by_workflow_rows: %w", err)
	}
	return out, nil
}

// Cancel transitions a pending/running execution to failed with a synthetic
// cancellation error, guarded to only affect rows not already terminal.
func (r *ExecutionRepo) Cancel(ctx domain.Context, executionID string) error {
	tracer := otel.Tracer("repo.executions")
	ctx, span := tracer.Start(ctx, "executions.Cancel")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "workflow_executions"),
	)
	now := time.Now().UTC()
	errs, err := json.Marshal([]string{"cancelled"})
	if err != nil {
		return fmt.Errorf("op=execution.cancel.marshal: %w", err)
	}
	q := `UPDATE workflow_executions SET status=$2, errors=$3, completed_at=$4
	      WHERE id=$1 AND status IN ($5, $6)`
	tag, err := r.Pool.Exec(ctx, q, executionID, domain.ExecutionFailed, errs, now, domain.ExecutionPending, domain.ExecutionRunning)
	if err != nil {
		return fmt.Errorf("op=execution.cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=execution.cancel: %w", domain.ErrNotFound)
	}
	return nil
}

// ListStuckRunning returns running executions started before cutoff, the
// sweeper's candidates for forced failure.
func (r *ExecutionRepo) ListStuckRunning(ctx domain.Context, cutoff time.Time) ([]domain.WorkflowExecution, error) {
	tracer := otel.Tracer("repo.executions")
	ctx, span := tracer.Start(ctx, "executions.ListStuckRunning")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "workflow_executions"),
	)
	q := `SELECT id, workflow_id, status, progress, current_node, results, errors, execution_time_ms, started_at, completed_at
	      FROM workflow_executions WHERE status=$1 AND started_at < $2 ORDER BY started_at ASC`
	rows, err := r.Pool.Query(ctx, q, domain.ExecutionRunning, cutoff)
	if err != nil {
		return nil, fmt.Errorf("op=execution.list_stuck_running: %w", err)
	}
	defer rows.Close()

	var out []domain.WorkflowExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("op=execution.list_stuck_running_scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=execution.list_stuck_running_rows: %w", err)
	}
	return out, nil
}

var _ domain.ExecutionRepository = (*ExecutionRepo)(nil)
