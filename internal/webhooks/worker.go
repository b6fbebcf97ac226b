package webhooks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"

	"github.com/vaultpay/backend/internal/services"
)

// ReconcileWorker drains queued provider events into the reconciler. Returned
// errors make the queue retry with backoff; acknowledged events return nil.
type ReconcileWorker struct {
	river.WorkerDefaults[ProviderEventArgs]
	reconciler *services.Reconciler
	logger     *slog.Logger
}

func NewReconcileWorker(reconciler *services.Reconciler, logger *slog.Logger) *ReconcileWorker {
	return &ReconcileWorker{reconciler: reconciler, logger: logger}
}

func (w *ReconcileWorker) Work(ctx context.Context, job *river.Job[ProviderEventArgs]) error {
	ev, err := job.Args.toEvent()
	if err != nil {
		// Malformed fee on an authenticated event: acknowledge, log loudly.
		w.logger.Error("webhook event with invalid fee, dropping",
			"provider", job.Args.Provider, "reference_id", job.Args.ReferenceID, "error", err)
		return nil
	}
	if err := w.reconciler.HandleEvent(ctx, ev); err != nil {
		return fmt.Errorf("reconciling provider event %s/%s: %w", job.Args.Provider, job.Args.ReferenceID, err)
	}
	return nil
}
