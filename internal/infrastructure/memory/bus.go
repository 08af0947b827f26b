package memory

import (
	"context"
	"sync"

	"go-lookflow/internal/domain"
)

// EventBus fans events out to in-process subscribers and keeps a copy of
// everything published.
type EventBus struct {
	mu          sync.Mutex
	steps       []domain.StepFinishedEvent
	runs        []domain.RunFinishedEvent
	subscribers []chan domain.RunFinishedEvent
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

func (b *EventBus) PublishStepFinished(_ context.Context, event domain.StepFinishedEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.steps = append(b.steps, event)
	return nil
}

func (b *EventBus) PublishRunFinished(_ context.Context, event domain.RunFinishedEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runs = append(b.runs, event)

	// Like redis pub/sub, delivery is at most once: a full subscriber misses
	// the event.
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

func (b *EventBus) SubscribeToRunEvents(ctx context.Context) (<-chan domain.RunFinishedEvent, error) {
	ch := make(chan domain.RunFinishedEvent, 64)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.subscribers {
			if sub == ch {
				b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (b *EventBus) StepEvents() []domain.StepFinishedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.StepFinishedEvent(nil), b.steps...)
}

func (b *EventBus) RunEvents() []domain.RunFinishedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.RunFinishedEvent(nil), b.runs...)
}
