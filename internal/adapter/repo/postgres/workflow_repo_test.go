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

func TestWorkflowRepo_CreateGetListScheduledSetActiveDelete(t *testing.T) {
	t.Parallel()
	m, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer m.Close()
	repo := postgres.NewWorkflowRepo(m)
	ctx := context.Background()

	def := domain.WorkflowDefinition{Nodes: []domain.WorkflowNode{{ID: "a", Type: domain.NodeTypeAgent, Agent: "x", IsEntry: true, IsFinish: true}}}
	cron := "0 9 * * *"

	m.ExpectExec("INSERT INTO workflows").
		WithArgs(pgxmock.AnyArg(), "u1", "daily-brief", "custom", pgxmock.AnyArg(), domain.ExecutionModeSequential, &cron, true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	id, err := repo.Create(ctx, domain.Workflow{
		UserID: "u1", Name: "daily-brief", Type: "custom", Definition: def,
		ExecutionMode: domain.ExecutionModeSequential, CronSchedule: &cron, IsActive: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	fixed := time.Now().UTC()
	rows := pgxmock.NewRows([]string{"id", "user_id", "name", "type", "definition", "execution_mode", "cron_schedule", "is_active", "created_at"}).
		AddRow(id, "u1", "daily-brief", "custom", []byte(`{"Nodes":[],"Edges":null}`), domain.ExecutionModeSequential, &cron, true, fixed)
	m.ExpectQuery(`SELECT id, user_id, name, type, definition, execution_mode, cron_schedule, is_active, created_at FROM workflows WHERE id=\$1`).
		WithArgs(id).WillReturnRows(rows)
	w, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "daily-brief", w.Name)

	rows2 := pgxmock.NewRows([]string{"id", "user_id", "name", "type", "definition", "execution_mode", "cron_schedule", "is_active", "created_at"}).
		AddRow(id, "u1", "daily-brief", "custom", []byte(`{"Nodes":[],"Edges":null}`), domain.ExecutionModeSequential, &cron, true, fixed)
	m.ExpectQuery(`SELECT id, user_id, name, type, definition, execution_mode, cron_schedule, is_active, created_at\s+FROM workflows WHERE is_active=true AND cron_schedule IS NOT NULL`).
		WillReturnRows(rows2)
	scheduled, err := repo.ListScheduled(ctx)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)

	m.ExpectExec("UPDATE workflows SET is_active").
		WithArgs(id, false).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.SetActive(ctx, id, false))

	m.ExpectExec("DELETE FROM workflows").
		WithArgs(id).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, repo.Delete(ctx, id))

	require.NoError(t, m.ExpectationsWereMet())
}
