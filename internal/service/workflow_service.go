package service

import (
	"context"
	"errors"
	"fmt"
	"go-lookflow/internal/core/ports"
	"go-lookflow/internal/domain"
	"go-lookflow/internal/engine"
	"go-lookflow/internal/workflows/lookgen"
	"log/slog"

	"github.com/google/uuid"
)

var ErrInvalidRequest = errors.New("invalid request")

// RunView is a run with its step history and the looks it created.
type RunView struct {
	Run   domain.WorkflowRun     `json:"run"`
	Steps []domain.StepExecution `json:"steps"`
	Looks []domain.Look          `json:"looks"`
}

// LookService is what the surrounding application calls into.
type LookService interface {
	// Fire-and-forget: records the run, queues it, and returns its id
	StartLookGenerationRun(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)

	// Synchronous image batch for looks curated in chat
	GenerateImagesForLooks(ctx context.Context, lookIDs []uuid.UUID) (lookgen.BatchResult, error)

	GetRun(ctx context.Context, runID uuid.UUID) (*RunView, error)
}

// The Implementation
type lookService struct {
	executor *engine.Executor
	batch    *lookgen.Batch
	runs     ports.RunStore
	looks    ports.LookStore
	queue    ports.RunQueue
	logger   *slog.Logger
}

// Constructor
func NewLookService(
	executor *engine.Executor,
	batch *lookgen.Batch,
	runs ports.RunStore,
	looks ports.LookStore,
	queue ports.RunQueue,
	logger *slog.Logger,
) LookService {
	return &lookService{
		executor: executor,
		batch:    batch,
		runs:     runs,
		looks:    looks,
		queue:    queue,
		logger:   logger,
	}
}

func (s *lookService) StartLookGenerationRun(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	if userID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}

	// 1. Record the run so it survives a crash before any worker sees it
	run, err := s.executor.StartRun(ctx, domain.WorkflowLookGeneration, domain.LookGenerationArgs{UserID: userID})
	if err != nil {
		return uuid.Nil, err
	}

	// 2. Hand it to the run workers. A run that never reaches the queue is
	// still running in the store and is re-queued by worker recovery.
	if err := s.queue.Push(ctx, run.ID.String()); err != nil {
		s.logger.Error("failed to queue run",
			slog.String("run_id", run.ID.String()),
			slog.String("error", err.Error()),
		)
		return run.ID, fmt.Errorf("queue run %s: %w", run.ID, err)
	}

	return run.ID, nil
}

func (s *lookService) GenerateImagesForLooks(ctx context.Context, lookIDs []uuid.UUID) (lookgen.BatchResult, error) {
	if len(lookIDs) == 0 {
		return lookgen.BatchResult{Results: []lookgen.ImageResult{}}, fmt.Errorf("%w: no look ids", ErrInvalidRequest)
	}
	return s.batch.Generate(ctx, lookIDs), nil
}

func (s *lookService) GetRun(ctx context.Context, runID uuid.UUID) (*RunView, error) {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	steps, err := s.runs.ListSteps(ctx, runID)
	if err != nil {
		return nil, err
	}
	looks, err := s.looks.ListLooksByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &RunView{Run: *run, Steps: steps, Looks: looks}, nil
}
