package lookgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go-lookflow/internal/core/ports"
	"go-lookflow/internal/domain"

	"github.com/google/uuid"
)

// curateLooks asks the text model for outfits and keeps the ones that
// reference active catalog items.
func (w *Workflow) curateLooks(ctx context.Context, raw []byte) ([]byte, error) {
	var in curateInput
	if err := json.Unmarshal(raw, &in); err != nil || in.UserID == uuid.Nil {
		return nil, domain.NewFatalInputError("curate input: missing userId")
	}

	profile, err := w.profile(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	compositions, err := w.deps.Text.ComposeOutfits(ctx, *profile)
	if err != nil {
		return nil, err
	}

	valid := make([]domain.OutfitComposition, 0, MaxLooks)
	for _, c := range compositions {
		if len(valid) == MaxLooks {
			break
		}
		itemIDs, err := w.usableItems(ctx, c.ItemIDs, profile.BudgetRange.Data())
		if err != nil {
			return nil, err
		}
		if len(itemIDs) == 0 {
			continue
		}
		c.ItemIDs = itemIDs
		valid = append(valid, c)
	}

	if len(valid) < MinLooks {
		return nil, domain.NewTerminalError(fmt.Errorf(
			"text model proposed %d usable outfits, need at least %d", len(valid), MinLooks))
	}
	return json.Marshal(curateOutput{Looks: valid})
}

// usableItems drops duplicates, unknown or inactive items, and items priced
// above the budget ceiling.
func (w *Workflow) usableItems(ctx context.Context, ids []uuid.UUID, budget domain.BudgetRange) ([]uuid.UUID, error) {
	var kept []uuid.UUID
	for _, id := range domain.DedupeItemIDs(ids) {
		item, err := w.deps.Catalog.GetItem(ctx, id)
		if errors.Is(err, domain.ErrItemNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !item.Active || (budget.Max > 0 && item.Price > budget.Max) {
			continue
		}
		kept = append(kept, id)
	}
	return kept, nil
}

// generateImage renders the try-on image of one look. It offers the image
// model up to MaxReferenceSets reference combinations, moving on when one is
// rejected.
func (w *Workflow) generateImage(ctx context.Context, raw []byte) ([]byte, error) {
	var in imageInput
	if err := json.Unmarshal(raw, &in); err != nil || in.LookID == uuid.Nil {
		return nil, domain.NewFatalInputError("generate_image input: missing lookId")
	}

	look, err := w.deps.Looks.GetLook(ctx, in.LookID)
	if errors.Is(err, domain.ErrLookNotFound) {
		return nil, domain.NewFatalInputError("look %s does not exist", in.LookID)
	}
	if err != nil {
		return nil, err
	}

	profile, err := w.profile(ctx, look.UserID)
	if err != nil {
		return nil, err
	}

	sets, err := w.referenceSets(ctx, look.ItemIDs)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, refs := range sets {
		assetRef, err := w.deps.Image.RenderTryOn(ctx, profile.BodyPhotoRef, refs)
		if err == nil {
			return json.Marshal(imageOutput{AssetRef: assetRef})
		}
		if w.classify(err) != domain.KindTerminal {
			return nil, err
		}
		lastErr = err
	}
	return nil, domain.NewTerminalError(fmt.Errorf("all %d reference sets rejected: %w", len(sets), lastErr))
}

// referenceSets builds set i from the i-th image of every item, falling back
// to an item's last image. Items without images are skipped.
func (w *Workflow) referenceSets(ctx context.Context, itemIDs []uuid.UUID) ([][]string, error) {
	var images [][]string
	depth := 0
	for _, id := range itemIDs {
		item, err := w.deps.Catalog.GetItem(ctx, id)
		if errors.Is(err, domain.ErrItemNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(item.Images) == 0 {
			continue
		}
		images = append(images, item.Images)
		depth = max(depth, len(item.Images))
	}
	if len(images) == 0 {
		return nil, domain.NewFatalInputError("look has no item images to render")
	}

	depth = min(depth, MaxReferenceSets)
	sets := make([][]string, 0, depth)
	for i := 0; i < depth; i++ {
		set := make([]string, len(images))
		for j, imgs := range images {
			set[j] = imgs[min(i, len(imgs)-1)]
		}
		sets = append(sets, set)
	}
	return sets, nil
}

func (w *Workflow) profile(ctx context.Context, userID uuid.UUID) (*domain.UserProfile, error) {
	profile, err := w.deps.Profiles.GetUserProfile(ctx, userID)
	if errors.Is(err, domain.ErrProfileNotFound) {
		return nil, domain.NewFatalInputError("no profile for user %s", userID)
	}
	if err != nil {
		return nil, err
	}
	if profile.BodyPhotoRef == "" {
		return nil, domain.NewFatalInputError("user %s has no body photo", userID)
	}
	return profile, nil
}

// ProjectLookStatus keeps a look's status equal to the state of its
// generate_image step. A step keyed by an unknown look projects nothing.
func ProjectLookStatus(ctx context.Context, looks ports.LookStore, step domain.StepExecution) error {
	lookID, err := uuid.Parse(step.StepKey)
	if err != nil {
		return fmt.Errorf("generate_image key %q is not a look id: %w", step.StepKey, err)
	}

	switch step.Status {
	case domain.StepPending, domain.StepFailedRetryable:
		err = looks.SetLookGenerating(ctx, lookID)
	case domain.StepSucceeded:
		var out imageOutput
		if err := json.Unmarshal(step.Result, &out); err != nil {
			return fmt.Errorf("decode generate_image result: %w", err)
		}
		err = looks.SetLookReady(ctx, lookID, out.AssetRef)
	case domain.StepFailedTerminal:
		err = looks.SetLookFailed(ctx, lookID, step.Error)
	}
	if errors.Is(err, domain.ErrLookNotFound) {
		return nil
	}
	return err
}
