package memory

import (
	"context"
)

// Queue is a buffered-channel RunQueue.
type Queue struct {
	ch chan string
}

func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan string, size)}
}

func (q *Queue) Push(ctx context.Context, runID string) error {
	select {
	case q.ch <- runID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Pop(ctx context.Context) (string, error) {
	select {
	case id := <-q.ch:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
