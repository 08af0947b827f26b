package coordinator_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go-lookflow/internal/coordinator"
	"go-lookflow/internal/domain"
	"go-lookflow/internal/infrastructure/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.RunFinishedEvent
	fail   bool
}

func (n *recordingNotifier) NotifyRunFinished(_ context.Context, event domain.RunFinishedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	if n.fail {
		return errors.New("push gateway unavailable")
	}
	return nil
}

func (n *recordingNotifier) received(runID uuid.UUID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e.RunID == runID {
			return true
		}
	}
	return false
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// publishUntilDelivered republishes because a subscription that is not yet
// registered misses events.
func publishUntilDelivered(t *testing.T, bus *memory.EventBus, n *recordingNotifier, event domain.RunFinishedEvent) {
	t.Helper()
	require.Eventually(t, func() bool {
		assert.NoError(t, bus.PublishRunFinished(context.Background(), event))
		return n.received(event.RunID)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCoordinator_ForwardsRunEvents(t *testing.T) {
	bus := memory.NewEventBus()
	notifier := &recordingNotifier{}
	c := coordinator.NewCoordinator(bus, notifier, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	event := domain.RunFinishedEvent{
		RunID:        uuid.New(),
		WorkflowType: domain.WorkflowLookGeneration,
		Status:       domain.RunCompleted,
	}
	publishUntilDelivered(t, bus, notifier, event)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("coordinator did not stop")
	}
}

func TestCoordinator_KeepsRunningWhenNotifierFails(t *testing.T) {
	bus := memory.NewEventBus()
	notifier := &recordingNotifier{fail: true}
	c := coordinator.NewCoordinator(bus, notifier, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Start(ctx) }()

	first := domain.RunFinishedEvent{RunID: uuid.New(), Status: domain.RunFailed}
	second := domain.RunFinishedEvent{RunID: uuid.New(), Status: domain.RunCompleted}
	publishUntilDelivered(t, bus, notifier, first)
	publishUntilDelivered(t, bus, notifier, second)
}

func TestLogNotifier(t *testing.T) {
	n := coordinator.LogNotifier{Logger: testLogger()}
	assert.NoError(t, n.NotifyRunFinished(context.Background(), domain.RunFinishedEvent{RunID: uuid.New()}))
}
