package workers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/documind/internal/models"
	"github.com/nikhilbhutani/documind/internal/queue"
	"github.com/nikhilbhutani/documind/internal/rag"
)

type Resumer interface {
	ResumeIngestion(ctx context.Context, p queue.IngestResumePayload) (*rag.IngestResult, error)
}

type ResumeEnqueuer interface {
	EnqueueIngestResume(ctx context.Context, p queue.IngestResumePayload) error
}

// IngestWorker finishes documents whose ingestion stopped part way.
type IngestWorker struct {
	catalog Resumer
	tasks   ResumeEnqueuer
}

func NewIngestWorker(catalog Resumer, tasks ResumeEnqueuer) *IngestWorker {
	return &IngestWorker{catalog: catalog, tasks: tasks}
}

// ProcessTask resumes ingestion at the payload's start chunk. If the run
// gets further before failing again, a new task is queued from the new
// failure point and this one completes; otherwise asynq retries it.
func (w *IngestWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p queue.IngestResumePayload
	if err := queue.Decode(t, &p); err != nil {
		return err
	}

	slog.Info("resuming ingestion", "document_id", p.DocumentID, "user_id", p.UserID, "start_chunk", p.StartChunk)

	res, err := w.catalog.ResumeIngestion(ctx, p)
	if err == nil {
		return nil
	}
	if permanent(err) {
		return fmt.Errorf("resume %s: %v: %w", p.DocumentID, err, asynq.SkipRetry)
	}

	if res.Partial() && res.FailedChunk > p.StartChunk && w.tasks != nil {
		next := p
		next.StartChunk = res.FailedChunk
		if qerr := w.tasks.EnqueueIngestResume(ctx, next); qerr == nil {
			slog.Warn("ingestion advanced, continuing in a new task",
				"document_id", p.DocumentID,
				"chunks_written", res.ChunksWritten,
				"chunks_total", res.ChunksTotal,
				"error", err,
			)
			return nil
		}
	}
	return fmt.Errorf("resume %s: %w", p.DocumentID, err)
}

// permanent reports whether retrying err cannot help.
func permanent(err error) bool {
	switch models.KindOf(err) {
	case models.KindValidation, models.KindNotFound, models.KindIntegrity:
		return true
	}
	return false
}
