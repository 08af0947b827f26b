package engine_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"go-lookflow/internal/core/ports"
	"go-lookflow/internal/domain"
	"go-lookflow/internal/engine"
	"go-lookflow/internal/infrastructure/memory"
	"go-lookflow/internal/limiter"
	"go-lookflow/internal/retry"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastPolicy retries without waiting.
func fastPolicy(maxAttempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts:    maxAttempts,
		Backoff:        retry.Constant{},
		AttemptTimeout: time.Second,
	}
}

type harness struct {
	store *memory.Store
	bus   *memory.EventBus
	reg   *engine.Registry
	exec  *engine.Executor
	runID uuid.UUID
}

func newHarness(t *testing.T, lim *limiter.Limiter, opts ...engine.ExecutorOption) *harness {
	t.Helper()
	store := memory.NewStore()
	bus := memory.NewEventBus()
	reg := engine.NewRegistry()
	opts = append([]engine.ExecutorOption{engine.WithEventBus(bus)}, opts...)
	exec := engine.NewExecutor(reg, store, lim, testLogger(), opts...)

	run, err := store.CreateRun(context.Background(), "test", []byte(`{}`))
	require.NoError(t, err)

	return &harness{store: store, bus: bus, reg: reg, exec: exec, runID: run.ID}
}

func (h *harness) step(t *testing.T, name, key string) *domain.StepExecution {
	t.Helper()
	step, err := h.store.AppendOrGetStep(context.Background(), h.runID, name, key)
	require.NoError(t, err)
	return step
}

type funcWorkflow struct {
	typ domain.WorkflowType
	fn  func(ctx context.Context, rc *engine.RunContext) error
}

func (w funcWorkflow) Type() domain.WorkflowType { return w.typ }

func (w funcWorkflow) Run(ctx context.Context, rc *engine.RunContext) error {
	return w.fn(ctx, rc)
}

// conflictingStore loses the first n claim compare-and-sets.
type conflictingStore struct {
	*memory.Store
	conflicts int
}

func (s *conflictingStore) ClaimStep(ctx context.Context, claim domain.StepClaim, project ports.Projection) (*domain.StepExecution, error) {
	if s.conflicts > 0 {
		s.conflicts--
		return nil, domain.ErrStepConflict
	}
	return s.Store.ClaimStep(ctx, claim, project)
}
