package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go-lookflow/internal/domain"

	"github.com/google/uuid"
)

// RunContext binds step calls to one run.
type RunContext struct {
	Run      *domain.WorkflowRun
	executor *Executor
}

// Step executes a step of this run. See Executor.Execute.
func (rc *RunContext) Step(ctx context.Context, name, key string, input []byte) ([]byte, error) {
	return rc.executor.Execute(ctx, rc.Run.ID, name, key, input)
}

// Logger returns a logger tagged with the run.
func (rc *RunContext) Logger() *slog.Logger {
	return rc.executor.logger.With(
		slog.String("run_id", rc.Run.ID.String()),
		slog.String("workflow", string(rc.Run.WorkflowType)),
	)
}

// StartRun records a new running run for a registered workflow. It does not
// execute it; see Drive.
func (e *Executor) StartRun(ctx context.Context, workflowType domain.WorkflowType, args any) (*domain.WorkflowRun, error) {
	if _, ok := e.registry.Workflow(workflowType); !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownWorkflow, workflowType)
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal args for %s: %w", workflowType, err)
	}
	run, err := e.store.CreateRun(ctx, workflowType, payload)
	if err != nil {
		return nil, fmt.Errorf("create run for %s: %w", workflowType, err)
	}
	e.logger.Info("run created",
		slog.String("run_id", run.ID.String()),
		slog.String("workflow", string(workflowType)),
	)
	return run, nil
}

// Drive runs a workflow from its current cursor to a terminal status.
// Completed steps are replayed from their checkpoints, so driving a run that
// was interrupted only repeats unfinished work. A terminal run is a no-op.
//
// If ctx ends before the workflow returns, or the workflow reports
// domain.ErrRunSuspended, the run stays running and the error is returned so
// the caller can drive it again later.
func (e *Executor) Drive(ctx context.Context, runID uuid.UUID) (*domain.WorkflowRun, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.IsFinished() {
		return run, nil
	}

	log := e.logger.With(
		slog.String("run_id", run.ID.String()),
		slog.String("workflow", string(run.WorkflowType)),
	)

	wf, ok := e.registry.Workflow(run.WorkflowType)
	var wfErr error
	if !ok {
		wfErr = fmt.Errorf("%w: %s", domain.ErrUnknownWorkflow, run.WorkflowType)
	} else {
		log.Info("driving run")
		wfErr = wf.Run(ctx, &RunContext{Run: run, executor: e})
	}

	if ctx.Err() != nil {
		log.Warn("run interrupted, leaving it running", slog.String("error", ctx.Err().Error()))
		return run, ctx.Err()
	}

	// A step held or written elsewhere is a race, never a run failure.
	var consistency *domain.StoreConsistencyError
	if errors.As(wfErr, &consistency) && !errors.Is(wfErr, domain.ErrRunSuspended) {
		wfErr = fmt.Errorf("%w: %w", domain.ErrRunSuspended, wfErr)
	}
	if errors.Is(wfErr, domain.ErrRunSuspended) {
		log.Warn("run suspended, leaving it running", slog.String("error", wfErr.Error()))
		return run, wfErr
	}

	status, reason := domain.RunCompleted, ""
	if wfErr != nil {
		status, reason = domain.RunFailed, wfErr.Error()
	}

	writeCtx := context.WithoutCancel(ctx)
	if err := e.store.MarkRunStatus(writeCtx, run.ID, status, reason); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			log.Info("run already finished elsewhere")
			return e.store.GetRun(writeCtx, run.ID)
		}
		return run, fmt.Errorf("mark run %s %s: %w", run.ID, status, err)
	}

	e.metrics.RunsFinished.WithLabelValues(string(run.WorkflowType), string(status)).Inc()
	if wfErr != nil {
		log.Error("run failed", slog.String("error", reason))
	} else {
		log.Info("run completed")
	}

	if e.bus != nil {
		event := domain.RunFinishedEvent{
			RunID:        run.ID,
			WorkflowType: run.WorkflowType,
			Status:       status,
			Args:         json.RawMessage(run.Args),
			Error:        reason,
		}
		if err := e.bus.PublishRunFinished(writeCtx, event); err != nil {
			log.Warn("failed to publish run event", slog.String("error", err.Error()))
		}
	}

	return e.store.GetRun(writeCtx, run.ID)
}
