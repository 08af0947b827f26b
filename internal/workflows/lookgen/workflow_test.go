package lookgen_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"go-lookflow/internal/domain"
	"go-lookflow/internal/workflows/lookgen"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestRun_AllLooksReady(t *testing.T) {
	f := newFixture(t, 3)
	run := f.startRun(t)

	finished, err := f.exec.Drive(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, finished.Status)

	looks := f.looks(t, run.ID)
	require.Len(t, looks, 3)
	for i, look := range looks {
		assert.Equal(t, i, look.Position)
		assert.Equal(t, domain.LookReady, look.Status)
		require.NotNil(t, look.ImageRef)
		assert.Equal(t, "assets/"+f.items[i].Images[0]+".png", *look.ImageRef)
	}

	for _, call := range f.image.Calls() {
		assert.Equal(t, "photos/body.jpg", call.photoRef)
	}

	events := f.bus.RunEvents()
	require.Len(t, events, 1)
	assert.Equal(t, domain.RunCompleted, events[0].Status)
	assert.Equal(t, domain.WorkflowLookGeneration, events[0].WorkflowType)
}

func TestRun_OneImageRejectedStillCompletes(t *testing.T) {
	f := newFixture(t, 3)
	f.image.render = func(photoRef string, refs []string) (string, error) {
		if slices.Contains(refs, "item1-front") || slices.Contains(refs, "item1-side") {
			return "", domain.NewTerminalError(errors.New("content policy"))
		}
		return renderFirstRef(photoRef, refs)
	}
	run := f.startRun(t)

	finished, err := f.exec.Drive(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, finished.Status)

	looks := f.looks(t, run.ID)
	require.Len(t, looks, 3)
	assert.Equal(t, domain.LookReady, looks[0].Status)
	assert.Equal(t, domain.LookGenerationFailed, looks[1].Status)
	assert.Nil(t, looks[1].ImageRef)
	assert.Contains(t, looks[1].FailureReason, "reference sets rejected")
	assert.Equal(t, domain.LookReady, looks[2].Status)

	steps, err := f.store.ListSteps(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 4)
	assert.Equal(t, lookgen.StepCurateLooks, steps[0].StepName)
	assert.Equal(t, domain.StepFailedTerminal, steps[2].Status)
	assert.Equal(t, domain.KindTerminal, steps[2].ErrorKind)
	// Rejections are not retried: one call per reference set.
	assert.Equal(t, 1, steps[2].Attempt)
}

func TestRun_CurationFailuresFailTheRun(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(f *fixture)
		textCalls  int
		wantReason string
	}{
		{
			name: "missing profile",
			setup: func(f *fixture) {
				f.user = uuid.New()
			},
			wantReason: "no profile",
		},
		{
			name: "missing body photo",
			setup: func(f *fixture) {
				f.store.PutProfile(domain.UserProfile{UserID: f.user})
			},
			wantReason: "no body photo",
		},
		{
			name: "too few usable outfits",
			setup: func(f *fixture) {
				f.items = f.items[:1]
			},
			textCalls:  1,
			wantReason: "need at least 2",
		},
		{
			name: "text model rejects request",
			setup: func(f *fixture) {
				f.text.compose = func(domain.UserProfile) ([]domain.OutfitComposition, error) {
					return nil, domain.NewTerminalError(errors.New("prompt blocked"))
				}
			},
			textCalls:  1,
			wantReason: "prompt blocked",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 3)
			tt.setup(f)
			run := f.startRun(t)

			finished, err := f.exec.Drive(context.Background(), run.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.RunFailed, finished.Status)
			assert.Contains(t, finished.Error, tt.wantReason)
			assert.Equal(t, tt.textCalls, f.text.Calls())
			assert.Empty(t, f.looks(t, run.ID))
			assert.Empty(t, f.image.Calls())
		})
	}
}

func TestRun_TextModelOutageIsRetried(t *testing.T) {
	f := newFixture(t, 2)
	compose := f.text.compose
	var failures int
	f.text.compose = func(p domain.UserProfile) ([]domain.OutfitComposition, error) {
		if failures < 2 {
			failures++
			return nil, domain.NewRetryableError(errors.New("503 from text model"))
		}
		return compose(p)
	}
	run := f.startRun(t)

	finished, err := f.exec.Drive(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, finished.Status)
	assert.Equal(t, 3, f.text.Calls())
	assert.Len(t, f.looks(t, run.ID), 2)
}

func TestRun_CurationFiltersItems(t *testing.T) {
	f := newFixture(t, 4)
	inactive, overpriced := f.items[1], f.items[2]
	inactive.Active = false
	overpriced.Price = 6000
	f.store.PutItem(inactive)
	f.store.PutItem(overpriced)

	f.text.compose = func(domain.UserProfile) ([]domain.OutfitComposition, error) {
		return []domain.OutfitComposition{
			{ItemIDs: []uuid.UUID{f.items[0].ID, f.items[0].ID, inactive.ID}, Occasion: "work"},
			{ItemIDs: []uuid.UUID{overpriced.ID, uuid.New()}, Occasion: "gala"},
			{ItemIDs: []uuid.UUID{f.items[3].ID, overpriced.ID}, Occasion: "date"},
		}, nil
	}
	run := f.startRun(t)

	finished, err := f.exec.Drive(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, finished.Status)

	looks := f.looks(t, run.ID)
	require.Len(t, looks, 2)
	assert.Equal(t, []uuid.UUID{f.items[0].ID}, []uuid.UUID(looks[0].ItemIDs))
	assert.Equal(t, "work", looks[0].Occasion)
	assert.Equal(t, []uuid.UUID{f.items[3].ID}, []uuid.UUID(looks[1].ItemIDs))
	assert.Equal(t, "date", looks[1].Occasion)
}

func TestRun_CurationKeepsAtMostFiveLooks(t *testing.T) {
	f := newFixture(t, 7)
	run := f.startRun(t)

	_, err := f.exec.Drive(context.Background(), run.ID)
	require.NoError(t, err)

	looks := f.looks(t, run.ID)
	require.Len(t, looks, lookgen.MaxLooks)
	assert.Equal(t, "look 4", looks[4].Comment)
	assert.Len(t, f.image.Calls(), lookgen.MaxLooks)
}

func TestRun_ResumeAfterInterruption(t *testing.T) {
	f := newFixture(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var renders int
	f.image.render = func(photoRef string, refs []string) (string, error) {
		renders++
		if renders == 2 {
			// The process is shutting down mid-call.
			cancel()
			return "", context.Canceled
		}
		return renderFirstRef(photoRef, refs)
	}
	run := f.startRun(t)

	_, err := f.exec.Drive(ctx, run.ID)
	require.ErrorIs(t, err, context.Canceled)

	stored, err := f.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunRunning, stored.Status)

	looks := f.looks(t, run.ID)
	require.Len(t, looks, 3)
	assert.Equal(t, domain.LookReady, looks[0].Status)
	assert.Equal(t, domain.LookGenerating, looks[1].Status)
	assert.Equal(t, domain.LookPendingGeneration, looks[2].Status)

	finished, err := f.exec.Drive(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, finished.Status)

	// Curation and the first image are replayed, not repeated.
	assert.Equal(t, 1, f.text.Calls())
	assert.Equal(t, 4, renders)

	resumed := f.looks(t, run.ID)
	require.Len(t, resumed, 3)
	for i, look := range resumed {
		assert.Equal(t, looks[i].ID, look.ID)
		assert.Equal(t, domain.LookReady, look.Status)
	}
}

func TestGenerateImage_FallsBackToNextReferenceSet(t *testing.T) {
	f := newFixture(t, 2)
	f.image.render = func(photoRef string, refs []string) (string, error) {
		if slices.Contains(refs, "item0-front") || slices.Contains(refs, "item1-front") {
			return "", domain.NewTerminalError(errors.New("pose not supported"))
		}
		return renderFirstRef(photoRef, refs)
	}
	run := f.startRun(t)

	_, err := f.exec.Drive(context.Background(), run.ID)
	require.NoError(t, err)

	looks := f.looks(t, run.ID)
	require.Len(t, looks, 2)
	require.NotNil(t, looks[0].ImageRef)
	assert.Equal(t, "assets/item0-side.png", *looks[0].ImageRef)

	calls := f.image.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, []string{"item0-front"}, calls[0].refs)
	assert.Equal(t, []string{"item0-side"}, calls[1].refs)
}

func TestGenerateImage_RetryableErrorRetriesSameSet(t *testing.T) {
	f := newFixture(t, 2)
	var renders int
	f.image.render = func(photoRef string, refs []string) (string, error) {
		renders++
		if renders == 1 {
			return "", domain.NewRetryableError(errors.New("gpu pool busy"))
		}
		return renderFirstRef(photoRef, refs)
	}
	run := f.startRun(t)

	_, err := f.exec.Drive(context.Background(), run.ID)
	require.NoError(t, err)

	calls := f.image.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, calls[0].refs, calls[1].refs)

	steps, err := f.store.ListSteps(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, steps[1].Attempt)
	assert.Equal(t, domain.StepSucceeded, steps[1].Status)
}

func TestGenerateImage_ReferenceSetsMixImageDepths(t *testing.T) {
	f := newFixture(t, 0)
	single := domain.Item{ID: uuid.New(), Active: true, Price: 100, Currency: "EUR", Images: []string{"a0"}}
	deep := domain.Item{ID: uuid.New(), Active: true, Price: 100, Currency: "EUR", Images: []string{"b0", "b1", "b2", "b3"}}
	bare := domain.Item{ID: uuid.New(), Active: true, Price: 100, Currency: "EUR"}
	for _, item := range []domain.Item{single, deep, bare} {
		f.store.PutItem(item)
	}
	f.text.compose = func(domain.UserProfile) ([]domain.OutfitComposition, error) {
		return []domain.OutfitComposition{
			{ItemIDs: []uuid.UUID{single.ID, deep.ID, bare.ID}},
			{ItemIDs: []uuid.UUID{single.ID}},
		}, nil
	}
	f.image.render = func(string, []string) (string, error) {
		return "", domain.NewTerminalError(errors.New("rejected"))
	}
	run := f.startRun(t)

	_, err := f.exec.Drive(context.Background(), run.ID)
	require.NoError(t, err)

	calls := f.image.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, []string{"a0", "b0"}, calls[0].refs)
	assert.Equal(t, []string{"a0", "b1"}, calls[1].refs)
	assert.Equal(t, []string{"a0", "b2"}, calls[2].refs)
	assert.Equal(t, []string{"a0"}, calls[3].refs)
}

func TestProjectLookStatus(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	look, err := f.store.CreatePendingLook(ctx, domain.NewPendingLook(f.user, domain.OutfitComposition{
		ItemIDs: []uuid.UUID{f.items[0].ID},
	}))
	require.NoError(t, err)

	step := *domain.NewStepExecution(domain.DetachedRunID, lookgen.StepGenerateImage, look.ID.String())

	require.NoError(t, lookgen.ProjectLookStatus(ctx, f.store, step))
	got, err := f.store.GetLook(ctx, look.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LookGenerating, got.Status)

	step.Status = domain.StepSucceeded
	step.Result = datatypes.JSON(`{"assetRef":"assets/x.png"}`)
	require.NoError(t, lookgen.ProjectLookStatus(ctx, f.store, step))
	got, err = f.store.GetLook(ctx, look.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LookReady, got.Status)
	require.NotNil(t, got.ImageRef)
	assert.Equal(t, "assets/x.png", *got.ImageRef)

	step.Status = domain.StepFailedTerminal
	step.Error = "terminal: rejected"
	require.NoError(t, lookgen.ProjectLookStatus(ctx, f.store, step))
	got, err = f.store.GetLook(ctx, look.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LookGenerationFailed, got.Status)
	assert.Equal(t, "terminal: rejected", got.FailureReason)

	unknown := *domain.NewStepExecution(domain.DetachedRunID, lookgen.StepGenerateImage, uuid.NewString())
	assert.NoError(t, lookgen.ProjectLookStatus(ctx, f.store, unknown))

	malformed := *domain.NewStepExecution(domain.DetachedRunID, lookgen.StepGenerateImage, "not-a-uuid")
	assert.Error(t, lookgen.ProjectLookStatus(ctx, f.store, malformed))
}

// holdStep claims a step of runID for another owner until lease, as a
// process that crashed mid-attempt would leave it.
func holdStep(t *testing.T, f *fixture, runID uuid.UUID, name, key string, lease time.Time) {
	t.Helper()
	ctx := context.Background()
	step, err := f.store.AppendOrGetStep(ctx, runID, name, key)
	require.NoError(t, err)
	_, err = f.store.ClaimStep(ctx, domain.StepClaim{
		StepID:          step.ID,
		ExpectedVersion: step.Version,
		Attempt:         1,
		Owner:           "crashed-executor",
		StartedAt:       time.Now().UTC(),
		LeaseExpiresAt:  lease,
	}, nil)
	require.NoError(t, err)
}

func TestRun_CurationHeldElsewhereKeepsRunRunning(t *testing.T) {
	f := newFixture(t, 3)
	run := f.startRun(t)
	holdStep(t, f, run.ID, lookgen.StepCurateLooks, f.user.String(), time.Now().Add(2*time.Minute))

	_, err := f.exec.Drive(context.Background(), run.ID)
	assert.ErrorIs(t, err, domain.ErrRunSuspended)

	stored, err := f.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunRunning, stored.Status)
	assert.Empty(t, f.looks(t, run.ID))
	assert.Equal(t, 0, f.text.Calls())
	assert.Empty(t, f.bus.RunEvents())

	holdStep(t, f, run.ID, lookgen.StepCurateLooks, f.user.String(), time.Now().Add(-time.Minute))
	finished, err := f.exec.Drive(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, finished.Status)
	assert.Equal(t, 1, f.text.Calls())
	assert.Len(t, f.looks(t, run.ID), 3)
}

func TestRun_ImageHeldElsewhereKeepsRunRunning(t *testing.T) {
	f := newFixture(t, 3)
	run := f.startRun(t)

	// The crashed process had created the first look and started its image.
	look := domain.NewPendingLook(f.user, domain.OutfitComposition{ItemIDs: []uuid.UUID{f.items[0].ID}})
	look.SourceRunID = &run.ID
	look.Position = 0
	held, err := f.store.CreatePendingLook(context.Background(), look)
	require.NoError(t, err)
	holdStep(t, f, run.ID, lookgen.StepGenerateImage, held.ID.String(), time.Now().Add(2*time.Minute))

	_, err = f.exec.Drive(context.Background(), run.ID)
	assert.ErrorIs(t, err, domain.ErrRunSuspended)

	stored, err := f.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunRunning, stored.Status)
	assert.Empty(t, f.bus.RunEvents())

	looks := f.looks(t, run.ID)
	require.Len(t, looks, 3)
	assert.Equal(t, held.ID, looks[0].ID)
	assert.Equal(t, domain.LookPendingGeneration, looks[0].Status)
	assert.Equal(t, domain.LookReady, looks[1].Status)
	assert.Equal(t, domain.LookReady, looks[2].Status)
	assert.Len(t, f.image.Calls(), 2)

	holdStep(t, f, run.ID, lookgen.StepGenerateImage, held.ID.String(), time.Now().Add(-time.Minute))
	finished, err := f.exec.Drive(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, finished.Status)
	assert.Len(t, f.image.Calls(), 3)

	looks = f.looks(t, run.ID)
	for _, l := range looks {
		assert.Equal(t, domain.LookReady, l.Status)
	}
	step, err := f.store.AppendOrGetStep(context.Background(), run.ID, lookgen.StepGenerateImage, held.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.StepSucceeded, step.Status)
	assert.Equal(t, 2, step.Attempt)
}
