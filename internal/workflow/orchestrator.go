package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/mclima/stock-intel-service/internal/adapter/observability"
	"github.com/mclima/stock-intel-service/internal/domain"
)

// Orchestrator drives the full per-execution lifecycle described in spec
// §4.6: create → run → record completion, persisting transitions through
// domain.ExecutionRepository.
type Orchestrator struct {
	engine *Engine
	execs  domain.ExecutionRepository
}

// NewOrchestrator builds an Orchestrator.
func NewOrchestrator(engine *Engine, execs domain.ExecutionRepository) *Orchestrator {
	return &Orchestrator{engine: engine, execs: execs}
}

// Execute runs wf against callerContext, persisting the full lifecycle: an
// initial running execution row, in-flight current_node updates, and a
// final completed/failed row with execution_time_ms and progress=100.
func (o *Orchestrator) Execute(ctx context.Context, wf domain.Workflow, callerContext map[string]any) (domain.WorkflowExecution, error) {
	startedAt := time.Now()

	exec := domain.WorkflowExecution{
		WorkflowID: wf.ID,
		Status:     domain.ExecutionRunning,
		Progress:   0,
		StartedAt:  startedAt,
	}
	execID, err := o.execs.Create(ctx, exec)
	if err != nil {
		return domain.WorkflowExecution{}, fmt.Errorf("op=workflow.Execute create: %w", err)
	}
	exec.ID = execID

	initial := State{WorkflowID: wf.ID, ExecutionID: exec.ID, Context: callerContext, Results: map[string]any{}, Errors: nil}

	reportProgress := func(nodeID string) {
		exec.CurrentNode = nodeID
		_ = o.execs.Update(ctx, exec)
	}

	final := o.engine.Run(wf.Definition, wf.ExecutionMode, initial, reportProgress)

	completedAt := time.Now()
	exec.Results = final.Results
	exec.Errors = final.Errors
	exec.Progress = 100
	exec.ExecutionTimeMs = completedAt.Sub(startedAt).Milliseconds()
	exec.CompletedAt = &completedAt
	if len(final.Errors) == 0 {
		exec.Status = domain.ExecutionCompleted
	} else {
		exec.Status = domain.ExecutionFailed
	}

	if err := o.execs.Update(ctx, exec); err != nil {
		return exec, fmt.Errorf("op=workflow.Execute update: %w", err)
	}
	observability.RecordWorkflowExecution(string(wf.ExecutionMode), string(exec.Status), completedAt.Sub(startedAt))
	return exec, nil
}

// Cancel transitions a running/pending execution to failed with a synthetic
// cancellation error (SPEC_FULL supplemented feature, distinct from
// ScheduleWorkflow cancellation below).
func (o *Orchestrator) Cancel(ctx context.Context, executionID string) error {
	if err := o.execs.Cancel(ctx, executionID); err != nil {
		return fmt.Errorf("op=workflow.Cancel id=%s: %w", executionID, err)
	}
	return nil
}
