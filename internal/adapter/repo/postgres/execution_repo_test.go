package postgres_test

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mclima/stock-intel-service/internal/adapter/repo/postgres"
	"github.com/mclima/stock-intel-service/internal/domain"
)

func TestExecutionRepo_CreateUpdateGetCancel(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewExecutionRepo(m)
	ctx := context.Background()

	m.ExpectExec("INSERT INTO workflow_executions").
		WithArgs(pgxmock.AnyArg(), "wf1", domain.ExecutionRunning, 0, "", pgxmock.AnyArg(), pgxmock.AnyArg(), int64(0), pgxmock.AnyArg(), nil).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	id, err := repo.Create(ctx, domain.WorkflowExecution{WorkflowID: "wf1", Status: domain.ExecutionRunning})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	m.ExpectExec("UPDATE workflow_executions").
		WithArgs(id, domain.ExecutionCompleted, 100, "", pgxmock.AnyArg(), pgxmock.AnyArg(), int64(42), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.Update(ctx, domain.WorkflowExecution{
		ID: id, Status: domain.ExecutionCompleted, Progress: 100, ExecutionTimeMs: 42,
		Results: map[string]any{"ok": true},
	}))

	fixed := time.Now().UTC()
	rows := pgxmock.NewRows([]string{"id", "workflow_id", "status", "progress", "current_node", "results", "errors", "execution_time_ms", "started_at", "completed_at"}).
		AddRow(id, "wf1", domain.ExecutionCompleted, 100, "", []byte(`{"ok":true}`), []byte(`[]`), int64(42), fixed, &fixed)
	m.ExpectQuery(`SELECT id, workflow_id, status, progress, current_node, results, errors, execution_time_ms, started_at, completed_at\s+FROM workflow_executions WHERE id=\$1`).
		WithArgs(id).WillReturnRows(rows)
	e, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, e.Status)

	m.ExpectExec(`UPDATE workflow_executions SET status=\$2, errors=\$3, completed_at=\$4\s+WHERE id=\$1 AND status IN \(\$5, \$6\)`).
		WithArgs(id, domain.ExecutionFailed, pgxmock.AnyArg(), pgxmock.AnyArg(), domain.ExecutionPending, domain.ExecutionRunning).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.Cancel(ctx, id))

	require.NoError(t, m.ExpectationsWereMet())
}
