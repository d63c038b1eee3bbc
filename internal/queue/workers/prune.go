package workers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/documind/internal/queue"
)

type Pruner interface {
	PruneVectors(ctx context.Context, p queue.VectorPrunePayload) (int, error)
}

// PruneWorker removes vectors left behind by a failed file delete.
type PruneWorker struct {
	catalog Pruner
}

func NewPruneWorker(catalog Pruner) *PruneWorker {
	return &PruneWorker{catalog: catalog}
}

func (w *PruneWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	return queue.HandlerFunc(w.prune).ProcessTask(ctx, t)
}

func (w *PruneWorker) prune(ctx context.Context, p queue.VectorPrunePayload) error {
	n, err := w.catalog.PruneVectors(ctx, p)
	if err != nil {
		if permanent(err) {
			return fmt.Errorf("prune %s: %v: %w", p.DocumentID, err, asynq.SkipRetry)
		}
		return fmt.Errorf("prune %s: %w", p.DocumentID, err)
	}
	slog.Info("orphaned vectors pruned", "document_id", p.DocumentID, "user_id", p.UserID, "chunks", n)
	return nil
}
