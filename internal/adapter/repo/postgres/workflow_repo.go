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

// WorkflowRepo persists and loads user-defined workflow graphs using a
// minimal pgx pool. Definition is stored as jsonb.
type WorkflowRepo struct{ Pool PgxPool }

// NewWorkflowRepo constructs a WorkflowRepo with the given pool.
func NewWorkflowRepo(p PgxPool) *WorkflowRepo { return &WorkflowRepo{Pool: p} }

// Create inserts a new workflow and returns its id.
func (r *WorkflowRepo) Create(ctx domain.Context, w domain.Workflow) (string, error) {
	tracer := otel.Tracer("repo.workflows")
	ctx, span := tracer.Start(ctx, "workflows.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "workflows"),
	)
	id := w.ID
	if id == "" {
		id = uuid.New().String()
	}
	def, err := json.Marshal(w.Definition)
	if err != nil {
		return "", fmt.Errorf("op=workflow.create.marshal: %w", err)
	}
	q := `INSERT INTO workflows (id, user_id, name, type, definition, execution_mode, cron_schedule, is_active, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err = r.Pool.Exec(ctx, q, id, w.UserID, w.Name, w.Type, def, w.ExecutionMode, w.CronSchedule, w.IsActive, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("op=workflow.create: %w", err)
	}
	return id, nil
}

func scanWorkflow(row pgx.Row) (domain.Workflow, error) {
	var w domain.Workflow
	var def []byte
	if err := row.Scan(&w.ID, &w.UserID, &w.Name, &w.Type, &def, &w.ExecutionMode, &w.CronSchedule, &w.IsActive, &w.CreatedAt); err != nil {
		return domain.Workflow{}, err
	}
	if len(def) > 0 {
		if err := json.Unmarshal(def, &w.Definition); err != nil {
			return domain.Workflow{}, fmt.Errorf("op=workflow.scan.unmarshal: %w", err)
		}
	}
	return w, nil
}

// Get loads a workflow by id.
func (r *WorkflowRepo) Get(ctx domain.Context, id string) (domain.Workflow, error) {
	tracer := otel.Tracer("repo.workflows")
	ctx, span := tracer.Start(ctx, "workflows.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "workflows"),
	)
	q := `SELECT id, user_id, name, type, definition, execution_mode, cron_schedule, is_active, created_at FROM workflows WHERE id=$1`
	w, err := scanWorkflow(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Workflow{}, fmt.Errorf("op=workflow.get: %w", domain.ErrNotFound)
		}
		return domain.Workflow{}, fmt.Errorf("op=workflow.get: %w", err)
	}
	return w, nil
}

// ListByUser returns every workflow owned by userID.
func (r *WorkflowRepo) ListByUser(ctx domain.Context, userID string) ([]domain.Workflow, error) {
	tracer := otel.Tracer("repo.workflows")
	ctx, span := tracer.Start(ctx, "workflows.ListByUser")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "workflows"),
	)
	q := `SELECT id, user_id, name, type, definition, execution_mode, cron_schedule, is_active, created_at
	      FROM workflows WHERE user_id=$1 ORDER BY created_at DESC`
	rows, err := r.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("op=workflow.list_by_user: %w", err)
	}
	defer rows.Close()
	return scanWorkflowRows(rows)
}

// ListScheduled returns every active workflow carrying a cron schedule,
// loaded at process start to re-register with Scheduler.
func (r *WorkflowRepo) ListScheduled(ctx domain.Context) ([]domain.Workflow, error) {
	tracer := otel.Tracer("repo.workflows")
	ctx, span := tracer.Start(ctx, "workflows.ListScheduled")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "workflows"),
	)
	q := `SELECT id, user_id, name, type, definition, execution_mode, cron_schedule, is_active, created_at
	      FROM workflows WHERE is_active=true AND cron_schedule IS NOT NULL`
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=workflow.list_scheduled: %w", err)
	}
	defer rows.Close()
	return scanWorkflowRows(rows)
}

func scanWorkflowRows(rows pgx.Rows) ([]domain.Workflow, error) {
	var out []domain.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("op=workflow.scan_rows: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=workflow.scan_rows_iter: %w", err)
	}
	return out, nil
}

// SetActive flips a workflow's is_active flag.
func (r *WorkflowRepo) SetActive(ctx domain.Context, id string, active bool) error {
	tracer := otel.Tracer("repo.workflows")
	ctx, span := tracer.Start(ctx, "workflows.SetActive")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "workflows"),
	)
	q := `UPDATE workflows SET is_active=$2 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, active)
	if err != nil {
		return fmt.Errorf("op=workflow.set_active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=workflow.set_active: %w", domain.ErrNotFound)
	}
	return nil
}

// Delete removes a workflow by id.
func (r *WorkflowRepo) Delete(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.workflows")
	ctx, span := tracer.Start(ctx, "workflows.Delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "DELETE"),
		attribute.String("db.sql.table", "workflows"),
	)
	q := `DELETE FROM workflows WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("op=workflow.delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=workflow.delete: %w", domain.ErrNotFound)
	}
	return nil
}

var _ domain.WorkflowRepository = (*WorkflowRepo)(nil)
