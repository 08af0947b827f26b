// Package lookgen implements the look-generation workflow: curate outfits
// with the text model, persist them as pending looks, then render one try-on
// image per look.
package lookgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go-lookflow/internal/core/ports"
	"go-lookflow/internal/domain"
	"go-lookflow/internal/engine"
	"go-lookflow/internal/retry"

	"github.com/google/uuid"
)

const (
	StepCurateLooks   = "curate_looks"
	StepGenerateImage = "generate_image"

	MinLooks = 2
	MaxLooks = 5

	// MaxReferenceSets bounds how many image combinations one generate_image
	// attempt offers the image model.
	MaxReferenceSets = 3
)

type Deps struct {
	Looks    ports.LookStore
	Catalog  ports.CatalogStore
	Profiles ports.ProfileStore
	Text     ports.TextModel
	Image    ports.ImageModel
}

// Workflow is the look_generation engine.Workflow.
type Workflow struct {
	deps     Deps
	classify retry.Classifier
}

var _ engine.Workflow = (*Workflow)(nil)

func New(deps Deps) *Workflow {
	return &Workflow{deps: deps, classify: retry.DefaultClassifier}
}

// Register adds both steps and the workflow to reg. generate_image is
// expensive and projects its outcome onto the look.
func (w *Workflow) Register(reg *engine.Registry, curatePolicy, imagePolicy retry.Policy) error {
	if err := reg.Register(StepCurateLooks, w.curateLooks, curatePolicy); err != nil {
		return err
	}
	err := reg.Register(StepGenerateImage, w.generateImage, imagePolicy,
		engine.Expensive(),
		engine.WithProjection(ProjectLookStatus),
	)
	if err != nil {
		return err
	}
	return reg.RegisterWorkflow(w)
}

func (w *Workflow) Type() domain.WorkflowType {
	return domain.WorkflowLookGeneration
}

type curateInput struct {
	UserID uuid.UUID `json:"userId"`
}

type curateOutput struct {
	Looks []domain.OutfitComposition `json:"looks"`
}

type imageInput struct {
	LookID uuid.UUID `json:"lookId"`
}

type imageOutput struct {
	AssetRef string `json:"assetRef"`
}

// Run curates, creates the pending looks, and generates their images one at
// a time. Only a failed curation fails the run. A step held elsewhere or a
// store error suspends the run instead.
func (w *Workflow) Run(ctx context.Context, rc *engine.RunContext) error {
	log := rc.Logger()

	var args domain.LookGenerationArgs
	if err := json.Unmarshal(rc.Run.Args, &args); err != nil || args.UserID == uuid.Nil {
		return domain.NewFatalInputError("run args %s: missing userId", string(rc.Run.Args))
	}

	input, _ := json.Marshal(curateInput{UserID: args.UserID})
	out, err := rc.Step(ctx, StepCurateLooks, args.UserID.String(), input)
	if err != nil {
		return fmt.Errorf("curation: %w", resumable(err))
	}
	var curated curateOutput
	if err := json.Unmarshal(out, &curated); err != nil {
		return fmt.Errorf("decode curation result: %w", err)
	}

	looks := make([]*domain.Look, 0, len(curated.Looks))
	for i, composition := range curated.Looks {
		look := domain.NewPendingLook(args.UserID, composition)
		look.SourceRunID = &rc.Run.ID
		look.Position = i
		created, err := w.deps.Looks.CreatePendingLook(ctx, look)
		if err != nil {
			return fmt.Errorf("create look %d: %w", i, resumable(err))
		}
		looks = append(looks, created)
	}
	log.Info("pending looks created", slog.Int("count", len(looks)))

	var ready, failed, unfinished int
	var lastErr error
	for _, look := range looks {
		input, _ := json.Marshal(imageInput{LookID: look.ID})
		_, err := rc.Step(ctx, StepGenerateImage, look.ID.String(), input)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var stepErr *domain.StepFailedError
		switch {
		case err == nil:
			ready++
		case errors.As(err, &stepErr):
			failed++
			log.Warn("look image failed",
				slog.String("look_id", look.ID.String()),
				slog.String("reason", stepErr.Reason),
			)
		default:
			// Conflicts and store errors leave the step resumable.
			unfinished++
			lastErr = err
			log.Warn("look image step not finished",
				slog.String("look_id", look.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	log.Info("look images processed",
		slog.Int("ready", ready),
		slog.Int("failed", failed),
		slog.Int("unfinished", unfinished),
		slog.Int("total", len(looks)),
	)
	if unfinished > 0 {
		return fmt.Errorf("%w: %d of %d look images unfinished: %w",
			domain.ErrRunSuspended, unfinished, len(looks), lastErr)
	}
	return nil
}

// resumable passes through errors that end the run and marks every other
// error as a suspension.
func resumable(err error) error {
	var (
		stepErr *domain.StepFailedError
		fatal   *domain.FatalInputError
	)
	if errors.As(err, &stepErr) || errors.As(err, &fatal) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrRunSuspended, err)
}
