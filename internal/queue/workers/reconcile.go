package workers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/documind/internal/catalog"
	"github.com/nikhilbhutani/documind/internal/queue"
)

type Reconciler interface {
	Reconcile(ctx context.Context, userID string) (*catalog.DriftReport, error)
}

// ReconcileWorker runs the periodic drift check between blob storage and
// the vector index.
type ReconcileWorker struct {
	catalog Reconciler
}

func NewReconcileWorker(catalog Reconciler) *ReconcileWorker {
	return &ReconcileWorker{catalog: catalog}
}

func (w *ReconcileWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p queue.ReconcilePayload
	if len(t.Payload()) > 0 {
		if err := queue.Decode(t, &p); err != nil {
			return err
		}
	}

	report, err := w.catalog.Reconcile(ctx, p.UserID)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	slog.Info("reconciliation finished",
		"users", report.UsersChecked,
		"orphaned", len(report.Orphaned),
		"unindexed", len(report.Unindexed),
	)
	return nil
}

// Register wires every worker into the registry.
func Register(r *queue.HandlersRegistry, svc *catalog.Service, tasks ResumeEnqueuer) {
	r.Register(queue.TypeIngestResume, NewIngestWorker(svc, tasks))
	r.Register(queue.TypeVectorPrune, NewPruneWorker(svc))
	r.Register(queue.TypeCatalogReconcile, NewReconcileWorker(svc))
}
