package lookgen_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go-lookflow/internal/domain"
	"go-lookflow/internal/engine"
	"go-lookflow/internal/infrastructure/memory"
	"go-lookflow/internal/limiter"
	"go-lookflow/internal/retry"
	"go-lookflow/internal/workflows/lookgen"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastPolicy(maxAttempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts:    maxAttempts,
		Backoff:        retry.Constant{},
		AttemptTimeout: time.Second,
	}
}

type fakeText struct {
	mu      sync.Mutex
	calls   int
	compose func(profile domain.UserProfile) ([]domain.OutfitComposition, error)
}

func (f *fakeText) ComposeOutfits(_ context.Context, profile domain.UserProfile) ([]domain.OutfitComposition, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.compose(profile)
}

func (f *fakeText) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type renderCall struct {
	photoRef string
	refs     []string
}

type fakeImage struct {
	mu     sync.Mutex
	calls  []renderCall
	render func(photoRef string, refs []string) (string, error)
}

func (f *fakeImage) RenderTryOn(_ context.Context, photoRef string, refs []string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, renderCall{photoRef: photoRef, refs: refs})
	f.mu.Unlock()
	return f.render(photoRef, refs)
}

func (f *fakeImage) Calls() []renderCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]renderCall(nil), f.calls...)
}

// renderFirstRef returns an asset named after the first reference image.
func renderFirstRef(_ string, refs []string) (string, error) {
	return "assets/" + refs[0] + ".png", nil
}

type fixture struct {
	store *memory.Store
	bus   *memory.EventBus
	exec  *engine.Executor
	text  *fakeText
	image *fakeImage
	user  uuid.UUID
	items []domain.Item
}

// newFixture seeds a user with a photo and a 5000 budget, and itemCount
// active items priced 1000 with a front and a side image each.
func newFixture(t *testing.T, itemCount int) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.NewStore(),
		bus:   memory.NewEventBus(),
		text:  &fakeText{},
		image: &fakeImage{render: renderFirstRef},
		user:  uuid.New(),
	}

	f.store.PutProfile(domain.UserProfile{
		UserID:       f.user,
		Gender:       "female",
		BodyPhotoRef: "photos/body.jpg",
		BudgetRange:  datatypes.NewJSONType(domain.BudgetRange{Min: 0, Max: 5000}),
	})
	for i := 0; i < itemCount; i++ {
		item := domain.Item{
			ID:       uuid.New(),
			Active:   true,
			Price:    1000,
			Currency: "EUR",
			Images:   []string{fmt.Sprintf("item%d-front", i), fmt.Sprintf("item%d-side", i)},
		}
		f.store.PutItem(item)
		f.items = append(f.items, item)
	}

	// One single-item outfit per item unless a test overrides it.
	f.text.compose = func(domain.UserProfile) ([]domain.OutfitComposition, error) {
		var out []domain.OutfitComposition
		for i, item := range f.items {
			out = append(out, domain.OutfitComposition{
				ItemIDs:   []uuid.UUID{item.ID},
				StyleTags: []string{"casual"},
				Occasion:  "weekend",
				Comment:   fmt.Sprintf("look %d", i),
			})
		}
		return out, nil
	}

	reg := engine.NewRegistry()
	f.exec = engine.NewExecutor(reg, f.store, limiter.New(2, 0, nil), testLogger(), engine.WithEventBus(f.bus))
	wf := lookgen.New(lookgen.Deps{
		Looks:    f.store,
		Catalog:  f.store,
		Profiles: f.store,
		Text:     f.text,
		Image:    f.image,
	})
	require.NoError(t, wf.Register(reg, fastPolicy(3), fastPolicy(3)))
	return f
}

func (f *fixture) startRun(t *testing.T) *domain.WorkflowRun {
	t.Helper()
	run, err := f.exec.StartRun(context.Background(), domain.WorkflowLookGeneration, domain.LookGenerationArgs{UserID: f.user})
	require.NoError(t, err)
	return run
}

func (f *fixture) looks(t *testing.T, runID uuid.UUID) []domain.Look {
	t.Helper()
	looks, err := f.store.ListLooksByRun(context.Background(), runID)
	require.NoError(t, err)
	return looks
}
