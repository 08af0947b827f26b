package ports

import (
	"context"
	"go-lookflow/internal/domain"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// RunQueue carries run ids from the triggers to the run workers.
type RunQueue interface {
	// Push a run id to the "To-Do" list
	Push(ctx context.Context, runID string) error

	// Wait (Block) until a run id is available
	Pop(ctx context.Context) (string, error)
}

// EventBus represents the lifecycle event operations
type EventBus interface {
	PublishStepFinished(ctx context.Context, event domain.StepFinishedEvent) error
	PublishRunFinished(ctx context.Context, event domain.RunFinishedEvent) error

	// Subscribe to run events (Used by Coordinator)
	SubscribeToRunEvents(ctx context.Context) (<-chan domain.RunFinishedEvent, error)
}

// Projection writes domain state derived from a step record. The store runs
// it inside the same transaction as the step write.
type Projection func(ctx context.Context, looks LookStore, step domain.StepExecution) error

// RunStore is the durable record of runs and their step checkpoints.
type RunStore interface {
	// Create a run in the running state and return it
	CreateRun(ctx context.Context, workflowType domain.WorkflowType, args datatypes.JSON) (*domain.WorkflowRun, error)

	GetRun(ctx context.Context, runID uuid.UUID) (*domain.WorkflowRun, error)

	// Runs in the given status, oldest first (used for crash recovery)
	ListRuns(ctx context.Context, status domain.RunStatus) ([]domain.WorkflowRun, error)

	// Return the step record for the key, creating a placeholder if absent
	AppendOrGetStep(ctx context.Context, runID uuid.UUID, stepName, stepKey string) (*domain.StepExecution, error)

	// Start an attempt. Fails with domain.ErrStepConflict on a stale version.
	ClaimStep(ctx context.Context, claim domain.StepClaim, project Projection) (*domain.StepExecution, error)

	// Record the outcome of an attempt. Fails with domain.ErrStepConflict on a stale version.
	RecordStepOutcome(ctx context.Context, outcome domain.StepOutcome, project Projection) (*domain.StepExecution, error)

	ListSteps(ctx context.Context, runID uuid.UUID) ([]domain.StepExecution, error)

	// Move a running run to a terminal status. Fails with
	// domain.ErrInvalidTransition if the run is already terminal.
	MarkRunStatus(ctx context.Context, runID uuid.UUID, status domain.RunStatus, reason string) error
}

// LookStore is the look record collaborator.
type LookStore interface {
	// Idempotent per (sourceRunID, position) when sourceRunID is set
	CreatePendingLook(ctx context.Context, look *domain.Look) (*domain.Look, error)
	GetLook(ctx context.Context, lookID uuid.UUID) (*domain.Look, error)
	ListLooksByRun(ctx context.Context, runID uuid.UUID) ([]domain.Look, error)
	SetLookGenerating(ctx context.Context, lookID uuid.UUID) error
	SetLookReady(ctx context.Context, lookID uuid.UUID, assetRef string) error
	SetLookFailed(ctx context.Context, lookID uuid.UUID, reason string) error
}

// CatalogStore is the catalog collaborator.
type CatalogStore interface {
	GetItem(ctx context.Context, itemID uuid.UUID) (*domain.Item, error)
}

// ProfileStore is the user profile collaborator.
type ProfileStore interface {
	GetUserProfile(ctx context.Context, userID uuid.UUID) (*domain.UserProfile, error)
}

// TextModel composes outfits from a profile.
type TextModel interface {
	ComposeOutfits(ctx context.Context, profile domain.UserProfile) ([]domain.OutfitComposition, error)
}

// ImageModel renders a try-on image and returns the asset reference.
type ImageModel interface {
	RenderTryOn(ctx context.Context, userPhotoRef string, itemImageRefs []string) (string, error)
}

// Notifier delivers "your looks are ready" style messages.
type Notifier interface {
	NotifyRunFinished(ctx context.Context, event domain.RunFinishedEvent) error
}
