package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hibiken/asynq"

	"github.com/mclima/stock-intel-service/internal/adapter/observability"
	"github.com/mclima/stock-intel-service/internal/domain"
)

// Scheduler registers per-workflow cron triggers with asynq, tagging each
// entry with the workflow id so at-most-one active schedule per workflow is
// enforced (re-registering replaces the prior entry).
type Scheduler struct {
	cron         *asynq.Scheduler
	workflows    domain.WorkflowRepository
	orchestrator *Orchestrator

	mu      sync.Mutex
	entries map[string]string // workflowID -> asynq entry ID
}

// NewScheduler builds a Scheduler bound to a Redis connection string.
func NewScheduler(redisURL string, workflows domain.WorkflowRepository, orchestrator *Orchestrator) (*Scheduler, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("op=workflow.NewScheduler redis: %w", err)
	}
	return &Scheduler{
		cron:         asynq.NewScheduler(opt, nil),
		workflows:    workflows,
		orchestrator: orchestrator,
		entries:      make(map[string]string),
	}, nil
}

// Start runs the cron evaluator loop in the background. Callers should
// typically load and ScheduleWorkflow every row from ListScheduled before
// calling Start.
func (s *Scheduler) Start() error {
	if err := s.cron.Start(); err != nil {
		return fmt.Errorf("op=workflow.Scheduler.Start: %w", err)
	}
	return nil
}

// Shutdown stops the cron evaluator.
func (s *Scheduler) Shutdown() { s.cron.Shutdown() }

const taskRunWorkflow = "workflow:run"

// ScheduleWorkflow registers a cron trigger that invokes execution of
// workflowID in a fresh context. Re-registering the same workflow id
// replaces the previous cron entry.
func (s *Scheduler) ScheduleWorkflow(workflowID, cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prevEntryID, ok := s.entries[workflowID]; ok {
		if err := s.cron.Unregister(prevEntryID); err != nil {
			slog.Warn("workflow scheduler unregister previous entry failed", slog.String("workflow_id", workflowID), slog.Any("error", err))
		}
	}

	task := asynq.NewTask(taskRunWorkflow, []byte(workflowID))
	entryID, err := s.cron.Register(cronExpr, task, asynq.TaskID("workflow-"+workflowID))
	if err != nil {
		return fmt.Errorf("op=workflow.ScheduleWorkflow id=%s cron=%s: %w", workflowID, cronExpr, err)
	}
	s.entries[workflowID] = entryID
	return nil
}

// CancelWorkflow deactivates a scheduled workflow: the cron entry is
// unregistered and the workflow row is marked inactive so it is not
// re-scheduled on the next process start.
func (s *Scheduler) CancelWorkflow(ctx context.Context, workflowID string) error {
	s.mu.Lock()
	entryID, ok := s.entries[workflowID]
	delete(s.entries, workflowID)
	s.mu.Unlock()

	if ok {
		if err := s.cron.Unregister(entryID); err != nil {
			return fmt.Errorf("op=workflow.CancelWorkflow unregister id=%s: %w", workflowID, err)
		}
	}
	if err := s.workflows.SetActive(ctx, workflowID, false); err != nil {
		return fmt.Errorf("op=workflow.CancelWorkflow deactivate id=%s: %w", workflowID, err)
	}
	return nil
}

// RunHandler executes the workflow named by a "workflow:run" asynq task
// payload. Wired into the worker process's asynq.ServeMux.
func (s *Scheduler) RunHandler(ctx context.Context, t *asynq.Task) error {
	workflowID := string(t.Payload())
	wf, err := s.workflows.Get(ctx, workflowID)
	if err != nil {
		observability.RecordJobFailureByCode(taskRunWorkflow, errorCode(err))
		return fmt.Errorf("op=workflow.RunHandler load id=%s: %w", workflowID, err)
	}
	if _, err := s.orchestrator.Execute(ctx, wf, nil); err != nil {
		observability.RecordJobFailureByCode(taskRunWorkflow, errorCode(err))
		return fmt.Errorf("op=workflow.RunHandler execute id=%s: %w", workflowID, err)
	}
	return nil
}

// errorCode extracts the domain error code for metrics labelling, defaulting
// to CodeInternal when err doesn't carry a *domain.ServiceError.
func errorCode(err error) string {
	var se *domain.ServiceError
	if errors.As(err, &se) {
		return string(se.Code)
	}
	return string(domain.CodeInternal)
}
