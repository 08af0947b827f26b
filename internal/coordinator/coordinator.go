package coordinator

import (
	"context"
	"log/slog"

	"go-lookflow/internal/core/ports"
	"go-lookflow/internal/domain"
)

// Coordinator listens for finished runs and tells the notification
// collaborator about them.
type Coordinator struct {
	eventBus ports.EventBus
	notifier ports.Notifier
	logger   *slog.Logger
}

func NewCoordinator(bus ports.EventBus, notifier ports.Notifier, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		eventBus: bus,
		notifier: notifier,
		logger:   logger,
	}
}

// Start subscribes and blocks until ctx is done. Call this in main.go as a goroutine.
func (c *Coordinator) Start(ctx context.Context) error {
	events, err := c.eventBus.SubscribeToRunEvents(ctx)
	if err != nil {
		return err
	}
	c.logger.Info("coordinator started, listening for run events")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("coordinator shutting down")
			return nil

		case event, ok := <-events:
			if !ok {
				return nil
			}
			c.handleRunFinished(ctx, event)
		}
	}
}

func (c *Coordinator) handleRunFinished(ctx context.Context, event domain.RunFinishedEvent) {
	log := c.logger.With(
		slog.String("run_id", event.RunID.String()),
		slog.String("status", string(event.Status)),
	)
	if err := c.notifier.NotifyRunFinished(ctx, event); err != nil {
		log.Error("failed to notify run finished", slog.String("error", err.Error()))
		return
	}
	log.Debug("run finished notification sent")
}

// LogNotifier is the notifier used when no push service is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) NotifyRunFinished(ctx context.Context, event domain.RunFinishedEvent) error {
	n.Logger.InfoContext(ctx, "run finished",
		slog.String("run_id", event.RunID.String()),
		slog.String("workflow", string(event.WorkflowType)),
		slog.String("status", string(event.Status)),
	)
	return nil
}
