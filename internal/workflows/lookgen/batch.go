package lookgen

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"go-lookflow/internal/core/ports"
	"go-lookflow/internal/domain"
	"go-lookflow/internal/engine"

	"github.com/google/uuid"
)

type ImageResult struct {
	LookID  uuid.UUID `json:"lookId"`
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
}

type BatchResult struct {
	Success bool          `json:"success"`
	Results []ImageResult `json:"results"`
}

// Batch generates images for a list of looks. It calls the same
// generate_image step through the executor, so the limiter, retries and
// per-look idempotency all apply. Looks curated by a run use that run's step
// record; the others use the detached scope. No run is created and one
// look's failure never stops the others.
type Batch struct {
	executor *engine.Executor
	looks    ports.LookStore
	logger   *slog.Logger
}

func NewBatch(executor *engine.Executor, looks ports.LookStore, logger *slog.Logger) *Batch {
	return &Batch{executor: executor, looks: looks, logger: logger}
}

// Generate processes lookIDs in order. Success is true if any look ended up
// with an image.
func (b *Batch) Generate(ctx context.Context, lookIDs []uuid.UUID) BatchResult {
	result := BatchResult{Results: make([]ImageResult, 0, len(lookIDs))}
	for _, id := range lookIDs {
		item := b.generateOne(ctx, id)
		if item.Success {
			result.Success = true
		}
		result.Results = append(result.Results, item)
	}

	b.logger.Info("image batch processed",
		slog.Int("requested", len(lookIDs)),
		slog.Bool("success", result.Success),
	)
	return result
}

func (b *Batch) generateOne(ctx context.Context, lookID uuid.UUID) ImageResult {
	// A look curated by a run shares that run's generate_image checkpoint,
	// so a step the run finished or still holds is never rendered again.
	scope := domain.DetachedRunID
	if look, err := b.looks.GetLook(ctx, lookID); err == nil {
		if look.Status == domain.LookReady {
			return ImageResult{LookID: lookID, Success: true}
		}
		if look.SourceRunID != nil {
			scope = *look.SourceRunID
		}
	}

	input, _ := json.Marshal(imageInput{LookID: lookID})
	_, err := b.executor.Execute(ctx, scope, StepGenerateImage, lookID.String(), input)
	if err == nil {
		return ImageResult{LookID: lookID, Success: true}
	}

	reason := err.Error()
	var stepErr *domain.StepFailedError
	if errors.As(err, &stepErr) && stepErr.Reason != "" {
		reason = stepErr.Reason
	}
	b.logger.Warn("look image failed",
		slog.String("look_id", lookID.String()),
		slog.String("error", reason),
	)
	return ImageResult{LookID: lookID, Success: false, Error: reason}
}
