// Package memory provides in-process implementations of the engine ports.
// All data is lost when the process exits; use it for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go-lookflow/internal/core/ports"
	"go-lookflow/internal/domain"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type stepIdentity struct {
	runID uuid.UUID
	name  string
	key   string
}

type lookSource struct {
	runID    uuid.UUID
	position int
}

// Store implements RunStore, LookStore, CatalogStore and ProfileStore behind
// one mutex, so step writes and their projections commit together.
type Store struct {
	mu       sync.Mutex
	seq      int64
	runs     map[uuid.UUID]domain.WorkflowRun
	steps    map[stepIdentity]domain.StepExecution
	stepSeq  map[uuid.UUID]int64
	looks    map[uuid.UUID]domain.Look
	sources  map[lookSource]uuid.UUID
	items    map[uuid.UUID]domain.Item
	profiles map[uuid.UUID]domain.UserProfile
}

var (
	_ ports.RunStore     = (*Store)(nil)
	_ ports.LookStore    = (*Store)(nil)
	_ ports.CatalogStore = (*Store)(nil)
	_ ports.ProfileStore = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		runs:     make(map[uuid.UUID]domain.WorkflowRun),
		steps:    make(map[stepIdentity]domain.StepExecution),
		stepSeq:  make(map[uuid.UUID]int64),
		looks:    make(map[uuid.UUID]domain.Look),
		sources:  make(map[lookSource]uuid.UUID),
		items:    make(map[uuid.UUID]domain.Item),
		profiles: make(map[uuid.UUID]domain.UserProfile),
	}
}

// ── runs ───────────────────────────────────────────

func (s *Store) CreateRun(_ context.Context, workflowType domain.WorkflowType, args datatypes.JSON) (*domain.WorkflowRun, error) {
	run := domain.NewWorkflowRun(workflowType, args)
	run.UpdatedAt = run.CreatedAt

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = *run
	out := *run
	return &out, nil
}

func (s *Store) GetRun(_ context.Context, runID uuid.UUID) (*domain.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return &run, nil
}

func (s *Store) ListRuns(_ context.Context, status domain.RunStatus) ([]domain.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var runs []domain.WorkflowRun
	for _, run := range s.runs {
		if run.Status == status {
			runs = append(runs, run)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.Before(runs[j].CreatedAt) })
	return runs, nil
}

func (s *Store) MarkRunStatus(_ context.Context, runID uuid.UUID, status domain.RunStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return domain.ErrRunNotFound
	}
	if !run.Status.CanTransition(status) {
		return domain.ErrInvalidTransition
	}
	now := time.Now().UTC()
	run.Status = status
	run.Error = reason
	run.CompletedAt = &now
	run.UpdatedAt = now
	s.runs[runID] = run
	return nil
}

// ── steps ──────────────────────────────────────────

func (s *Store) AppendOrGetStep(_ context.Context, runID uuid.UUID, stepName, stepKey string) (*domain.StepExecution, error) {
	id := stepIdentity{runID: runID, name: stepName, key: stepKey}

	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[id]
	if !ok {
		step = *domain.NewStepExecution(runID, stepName, stepKey)
		step.UpdatedAt = step.CreatedAt
		s.seq++
		s.stepSeq[step.ID] = s.seq
		s.steps[id] = step
	}
	return &step, nil
}

func (s *Store) ClaimStep(ctx context.Context, claim domain.StepClaim, project ports.Projection) (*domain.StepExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, current, err := s.stepForWrite(claim.StepID, claim.ExpectedVersion)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return nil, domain.ErrStepConflict
	}
	next := claim.Apply(current)
	if err := s.commitStep(ctx, id, next, project); err != nil {
		return nil, err
	}
	return &next, nil
}

func (s *Store) RecordStepOutcome(ctx context.Context, outcome domain.StepOutcome, project ports.Projection) (*domain.StepExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, current, err := s.stepForWrite(outcome.StepID, outcome.ExpectedVersion)
	if err != nil {
		return nil, err
	}
	next := outcome.Apply(current)

	if err := s.commitStep(ctx, id, next, project); err != nil {
		return nil, err
	}
	if outcome.Status.IsTerminal() && outcome.RunID != domain.DetachedRunID {
		if run, ok := s.runs[outcome.RunID]; ok {
			run.Cursor = next.Ref()
			s.runs[outcome.RunID] = run
		}
	}
	return &next, nil
}

func (s *Store) ListSteps(_ context.Context, runID uuid.UUID) ([]domain.StepExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var steps []domain.StepExecution
	for id, step := range s.steps {
		if id.runID == runID {
			steps = append(steps, step)
		}
	}
	sort.Slice(steps, func(i, j int) bool { return s.stepSeq[steps[i].ID] < s.stepSeq[steps[j].ID] })
	return steps, nil
}

// stepForWrite finds a step by id and checks its version. Caller holds mu.
func (s *Store) stepForWrite(stepID uuid.UUID, version int) (stepIdentity, domain.StepExecution, error) {
	for id, step := range s.steps {
		if step.ID != stepID {
			continue
		}
		if step.Version != version {
			return id, step, domain.ErrStepConflict
		}
		return id, step, nil
	}
	return stepIdentity{}, domain.StepExecution{}, domain.ErrStepConflict
}

// commitStep runs the projection against staged looks and writes the step
// and the staged looks only if it succeeds. Caller holds mu.
func (s *Store) commitStep(ctx context.Context, id stepIdentity, step domain.StepExecution, project ports.Projection) error {
	tx := s.begin()
	if project != nil {
		if err := project(ctx, tx, step); err != nil {
			return err
		}
	}
	tx.commit()
	s.steps[id] = step
	return nil
}

// ── looks ──────────────────────────────────────────

func (s *Store) CreatePendingLook(ctx context.Context, look *domain.Look) (*domain.Look, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.begin()
	out, err := tx.CreatePendingLook(ctx, look)
	if err == nil {
		tx.commit()
	}
	return out, err
}

func (s *Store) GetLook(ctx context.Context, lookID uuid.UUID) (*domain.Look, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begin().GetLook(ctx, lookID)
}

func (s *Store) ListLooksByRun(ctx context.Context, runID uuid.UUID) ([]domain.Look, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begin().ListLooksByRun(ctx, runID)
}

func (s *Store) SetLookGenerating(ctx context.Context, lookID uuid.UUID) error {
	return s.writeLook(func(tx *lookTx) error { return tx.SetLookGenerating(ctx, lookID) })
}

func (s *Store) SetLookReady(ctx context.Context, lookID uuid.UUID, assetRef string) error {
	return s.writeLook(func(tx *lookTx) error { return tx.SetLookReady(ctx, lookID, assetRef) })
}

func (s *Store) SetLookFailed(ctx context.Context, lookID uuid.UUID, reason string) error {
	return s.writeLook(func(tx *lookTx) error { return tx.SetLookFailed(ctx, lookID, reason) })
}

func (s *Store) writeLook(fn func(tx *lookTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.begin()
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// ── catalog & profiles ─────────────────────────────

// PutItem seeds the catalog.
func (s *Store) PutItem(item domain.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
}

// PutProfile seeds the profile store.
func (s *Store) PutProfile(profile domain.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.UserID] = profile
}

func (s *Store) GetItem(_ context.Context, itemID uuid.UUID) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrItemNotFound, itemID)
	}
	return &item, nil
}

func (s *Store) GetUserProfile(_ context.Context, userID uuid.UUID) (*domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProfileNotFound, userID)
	}
	return &profile, nil
}
