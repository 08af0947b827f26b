// Package engine runs registered steps with durable checkpoints and drives
// workflow runs to a terminal status.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go-lookflow/internal/core/ports"
	"go-lookflow/internal/domain"
	"go-lookflow/internal/limiter"
	"go-lookflow/internal/metrics"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DefaultLeaseGrace is added to the attempt timeout to form the step lease.
const DefaultLeaseGrace = 30 * time.Second

type Executor struct {
	registry   *Registry
	store      ports.RunStore
	limiter    *limiter.Limiter
	bus        ports.EventBus
	metrics    *metrics.Metrics
	logger     *slog.Logger
	owner      string
	leaseGrace time.Duration
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

type ExecutorOption func(*Executor)

func WithEventBus(bus ports.EventBus) ExecutorOption {
	return func(e *Executor) { e.bus = bus }
}

func WithMetrics(m *metrics.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithOwner sets the id written into step leases.
func WithOwner(owner string) ExecutorOption {
	return func(e *Executor) { e.owner = owner }
}

func WithLeaseGrace(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.leaseGrace = d }
}

// WithClock replaces time.Now, used by lease checks.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// WithSleep replaces the backoff wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) { e.sleep = sleep }
}

func NewExecutor(
	registry *Registry,
	store ports.RunStore,
	lim *limiter.Limiter,
	logger *slog.Logger,
	opts ...ExecutorOption,
) *Executor {
	e := &Executor{
		registry:   registry,
		store:      store,
		limiter:    lim,
		logger:     logger,
		owner:      "executor-" + uuid.New().String()[:8],
		leaseGrace: DefaultLeaseGrace,
		now:        func() time.Time { return time.Now().UTC() },
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.Nop()
	}
	if e.limiter == nil {
		e.limiter = limiter.New(limiter.DefaultCapacity, 0, e.metrics)
	}
	return e
}

func (e *Executor) Registry() *Registry { return e.registry }

// Execute runs step name for key within run runID and returns its result.
//
// A succeeded checkpoint is returned without calling the handler. A
// failed_terminal checkpoint is returned as *domain.StepFailedError. Otherwise
// the step is claimed, attempted, and recorded, retrying retryable failures
// with backoff until the policy gives up. A store-consistency failure from the
// handler is retried once without backoff and outside the attempt budget.
// Retryable failures never escape.
func (e *Executor) Execute(ctx context.Context, runID uuid.UUID, name, key string, input []byte) ([]byte, error) {
	def, ok := e.registry.Step(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownStep, name)
	}
	policy := def.Policy

	conflictRetried := false
	// Attempts spent on the one free store-consistency retry; they do not
	// count against MaxAttempts.
	free := 0
	for {
		step, err := e.store.AppendOrGetStep(ctx, runID, name, key)
		if err != nil {
			return nil, fmt.Errorf("load step %s/%s: %w", name, key, err)
		}
		log := e.stepLogger(step)

		switch step.Status {
		case domain.StepSucceeded:
			log.Debug("replaying checkpointed step", slog.Int("attempt", step.Attempt))
			return step.Result, nil
		case domain.StepFailedTerminal:
			return nil, stepFailed(step)
		}

		now := e.now()
		if !step.Claimable(now) {
			if conflictRetried {
				return nil, &domain.StoreConsistencyError{Ref: step.Ref(), Err: domain.ErrStepInFlight}
			}
			conflictRetried = true
			continue
		}

		if step.Status == domain.StepFailedRetryable && step.Attempt-free >= policy.MaxAttempts {
			// The last attempt was recorded as retryable before the cap was
			// applied; close it out without another call.
			recorded, err := e.record(ctx, def, step, step.Version, step.Attempt, nil,
				errors.New(step.Error), domain.StepFailedTerminal, domain.KindRetriesExhausted)
			if err != nil {
				return nil, err
			}
			return nil, stepFailed(recorded)
		}

		attempt := step.Attempt + 1
		claimed, err := e.store.ClaimStep(ctx, domain.StepClaim{
			StepID:          step.ID,
			ExpectedVersion: step.Version,
			Attempt:         attempt,
			Owner:           e.owner,
			StartedAt:       now,
			LeaseExpiresAt:  now.Add(policy.AttemptTimeout + e.leaseGrace),
		}, def.Project)
		if errors.Is(err, domain.ErrStepConflict) {
			if conflictRetried {
				return nil, &domain.StoreConsistencyError{Ref: step.Ref(), Err: err}
			}
			log.Warn("step claim conflict, retrying", slog.Int("attempt", attempt))
			conflictRetried = true
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("claim step %s: %w", step.Ref(), err)
		}
		conflictRetried = false

		log.Info("step attempt started", slog.Int("attempt", attempt))
		result, runErr := e.invoke(ctx, def, input)
		var (
			status domain.StepStatus
			kind   domain.ErrorKind
		)
		if runErr != nil && free == 0 && policy.Classifier(runErr) == domain.KindStoreConsistency {
			status, kind = domain.StepFailedRetryable, domain.KindStoreConsistency
		} else {
			status, kind = policy.Outcome(attempt-free, runErr)
		}

		recorded, err := e.record(ctx, def, claimed, claimed.Version, attempt, result, runErr, status, kind)
		if err != nil {
			return nil, err
		}

		switch status {
		case domain.StepSucceeded:
			return recorded.Result, nil
		case domain.StepFailedTerminal:
			return nil, stepFailed(recorded)
		}

		if kind == domain.KindStoreConsistency {
			// A race, not an external fault: retry once at once.
			free++
			log.Warn("step hit a store conflict, retrying without backoff", slog.Int("attempt", attempt))
			continue
		}

		delay := policy.Backoff.Delay(attempt - free)
		log.Info("step retry scheduled",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)
		if err := e.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// invoke calls the handler under the attempt timeout, holding a limiter token
// for expensive steps. The token is released on every exit path.
func (e *Executor) invoke(ctx context.Context, def StepDefinition, input []byte) (out []byte, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, def.Policy.AttemptTimeout)
	defer cancel()

	if def.Expensive {
		token, err := e.limiter.Acquire(attemptCtx)
		if err != nil {
			return nil, err
		}
		defer token.Release()
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = domain.NewTerminalError(fmt.Errorf("handler panic: %v", r))
		}
	}()

	start := time.Now()
	out, err = def.Handler(attemptCtx, input)
	e.metrics.StepDuration.WithLabelValues(def.Name).Observe(time.Since(start).Seconds())

	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return nil, domain.NewRetryableError(fmt.Errorf("attempt timed out after %s: %w", def.Policy.AttemptTimeout, err))
	}
	if err == nil && len(out) > 0 && !json.Valid(out) {
		return nil, domain.NewTerminalError(errors.New("handler returned a result that is not JSON"))
	}
	return out, err
}

func (e *Executor) record(
	ctx context.Context,
	def StepDefinition,
	step *domain.StepExecution,
	version, attempt int,
	result []byte,
	runErr error,
	status domain.StepStatus,
	kind domain.ErrorKind,
) (*domain.StepExecution, error) {
	outcome := domain.StepOutcome{
		StepID:          step.ID,
		RunID:           step.RunID,
		StepName:        step.StepName,
		StepKey:         step.StepKey,
		ExpectedVersion: version,
		Attempt:         attempt,
		Status:          status,
		ErrorKind:       kind,
		FinishedAt:      e.now(),
	}
	if status == domain.StepSucceeded && len(result) > 0 {
		outcome.Result = datatypes.JSON(result)
	}
	if runErr != nil {
		outcome.Error = runErr.Error()
	}

	// The handler already ran; its outcome must be written even if the
	// caller gave up meanwhile.
	writeCtx := context.WithoutCancel(ctx)
	recorded, err := e.store.RecordStepOutcome(writeCtx, outcome, def.Project)
	if errors.Is(err, domain.ErrStepConflict) {
		return nil, &domain.StoreConsistencyError{Ref: step.Ref(), Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("record step %s: %w", step.Ref(), err)
	}

	e.metrics.StepAttempts.WithLabelValues(step.StepName, string(status)).Inc()

	log := e.stepLogger(recorded).With(slog.Int("attempt", attempt), slog.String("status", string(status)))
	if runErr != nil {
		log.Warn("step attempt failed",
			slog.String("error", runErr.Error()),
			slog.String("error_kind", string(kind)),
		)
	} else {
		log.Info("step attempt succeeded")
	}

	if e.bus != nil {
		event := domain.StepFinishedEvent{
			RunID:    recorded.RunID,
			StepName: recorded.StepName,
			StepKey:  recorded.StepKey,
			Attempt:  attempt,
			Status:   status,
			Error:    outcome.Error,
		}
		if err := e.bus.PublishStepFinished(writeCtx, event); err != nil {
			log.Warn("failed to publish step event", slog.String("error", err.Error()))
		}
	}
	return recorded, nil
}

func (e *Executor) stepLogger(step *domain.StepExecution) *slog.Logger {
	return e.logger.With(
		slog.String("run_id", step.RunID.String()),
		slog.String("step", step.StepName),
		slog.String("step_key", step.StepKey),
	)
}

func stepFailed(step *domain.StepExecution) error {
	return &domain.StepFailedError{
		StepName: step.StepName,
		StepKey:  step.StepKey,
		Attempt:  step.Attempt,
		Kind:     step.ErrorKind,
		Reason:   step.Error,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
