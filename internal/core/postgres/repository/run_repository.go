package repository

import (
	"context"
	"errors"
	"go-lookflow/internal/core/ports"
	"go-lookflow/internal/domain"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type runRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a gorm backed RunStore
func NewRunRepository(db *gorm.DB) ports.RunStore {
	return &runRepository{db: db}
}

func (r *runRepository) CreateRun(ctx context.Context, workflowType domain.WorkflowType, args datatypes.JSON) (*domain.WorkflowRun, error) {
	run := domain.NewWorkflowRun(workflowType, args)
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func (r *runRepository) GetRun(ctx context.Context, runID uuid.UUID) (*domain.WorkflowRun, error) {
	var run domain.WorkflowRun
	err := r.db.WithContext(ctx).Where("id = ?", runID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *runRepository) ListRuns(ctx context.Context, status domain.RunStatus) ([]domain.WorkflowRun, error) {
	var runs []domain.WorkflowRun
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&runs).Error
	return runs, err
}

func (r *runRepository) AppendOrGetStep(ctx context.Context, runID uuid.UUID, stepName, stepKey string) (*domain.StepExecution, error) {
	db := r.db.WithContext(ctx)

	// The unique (run_id, step_name, step_key) index makes concurrent
	// placeholders collapse into one row.
	placeholder := domain.NewStepExecution(runID, stepName, stepKey)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(placeholder).Error; err != nil {
		return nil, err
	}

	var step domain.StepExecution
	err := db.Where("run_id = ? AND step_name = ? AND step_key = ?", runID, stepName, stepKey).
		First(&step).Error
	if err != nil {
		return nil, err
	}
	return &step, nil
}

// ClaimStep uses optimistic locking: the attempt starts only if nobody else
// bumped the version since the caller read the step.
func (r *runRepository) ClaimStep(ctx context.Context, claim domain.StepClaim, project ports.Projection) (*domain.StepExecution, error) {
	var claimed domain.StepExecution
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&domain.StepExecution{}).
			Where("id = ? AND version = ?", claim.StepID, claim.ExpectedVersion).
			Where("status IN ?", []domain.StepStatus{domain.StepPending, domain.StepFailedRetryable}).
			Updates(map[string]interface{}{
				"status":           domain.StepPending,
				"attempt":          claim.Attempt,
				"version":          claim.ExpectedVersion + 1,
				"claimed_by":       claim.Owner,
				"started_at":       claim.StartedAt,
				"lease_expires_at": claim.LeaseExpiresAt,
				"finished_at":      nil,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrStepConflict
		}

		if err := tx.Where("id = ?", claim.StepID).First(&claimed).Error; err != nil {
			return err
		}
		if project != nil {
			return project(ctx, NewLookRepository(tx), claimed)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

func (r *runRepository) RecordStepOutcome(ctx context.Context, outcome domain.StepOutcome, project ports.Projection) (*domain.StepExecution, error) {
	var recorded domain.StepExecution
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&domain.StepExecution{}).
			Where("id = ? AND version = ?", outcome.StepID, outcome.ExpectedVersion).
			Updates(map[string]interface{}{
				"status":           outcome.Status,
				"attempt":          outcome.Attempt,
				"version":          outcome.ExpectedVersion + 1,
				"result":           outcome.Result,
				"error":            outcome.Error,
				"error_kind":       outcome.ErrorKind,
				"finished_at":      outcome.FinishedAt,
				"lease_expires_at": nil,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrStepConflict
		}

		if err := tx.Where("id = ?", outcome.StepID).First(&recorded).Error; err != nil {
			return err
		}

		if outcome.Status.IsTerminal() && outcome.RunID != domain.DetachedRunID {
			err := tx.Model(&domain.WorkflowRun{}).
				Where("id = ?", outcome.RunID).
				Update("cursor", recorded.Ref()).Error
			if err != nil {
				return err
			}
		}

		if project != nil {
			return project(ctx, NewLookRepository(tx), recorded)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &recorded, nil
}

func (r *runRepository) ListSteps(ctx context.Context, runID uuid.UUID) ([]domain.StepExecution, error) {
	var steps []domain.StepExecution
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("created_at ASC").
		Find(&steps).Error
	return steps, err
}

// MarkRunStatus moves a run out of running.
// The status check in the WHERE clause means a terminal run is never
// overwritten: once FAILED or COMPLETED, later calls affect no rows.
func (r *runRepository) MarkRunStatus(ctx context.Context, runID uuid.UUID, status domain.RunStatus, reason string) error {
	if !domain.RunRunning.CanTransition(status) {
		return domain.ErrInvalidTransition
	}

	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&domain.WorkflowRun{}).
		Where("id = ? AND status = ?", runID, domain.RunRunning).
		Updates(map[string]interface{}{
			"status":       status,
			"error":        reason,
			"completed_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetRun(ctx, runID); err != nil {
			return err
		}
		return domain.ErrInvalidTransition
	}
	return nil
}
