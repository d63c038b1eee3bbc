package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/nikhilbhutani/documind/internal/models"
	"github.com/nikhilbhutani/documind/internal/queue"
	"github.com/nikhilbhutani/documind/internal/storage"
	"github.com/nikhilbhutani/documind/internal/vectorstore"
)

// DriftReport describes what Reconcile found and repaired.
type DriftReport struct {
	UsersChecked int      `json:"usersChecked"`
	Orphaned     []string `json:"orphanedDocuments"`
	ChunksPruned int      `json:"chunksPruned"`
	Unindexed    []string `json:"unindexedDocuments"`
	Incomplete   []string `json:"incompleteDocuments"`
	Requeued     int      `json:"requeued"`
}

// Reconcile compares the blob store with the vector index for userID, or
// for every known user when userID is empty. Vectors without a blob are
// deleted; blobs without vectors, or with fewer vectors than chunks, are
// queued for ingestion.
func (s *Service) Reconcile(ctx context.Context, userID string) (*DriftReport, error) {
	var (
		objs []storage.Object
		err  error
	)
	if userID == "" {
		objs, err = s.blobs.List(ctx, s.bucket)
	} else {
		objs, err = s.blobs.ListByUser(ctx, s.bucket, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStorageFailure, err)
	}

	users := []string{userID}
	if userID == "" {
		indexed, err := s.index.Users(ctx)
		if err != nil {
			return nil, err
		}
		users = union(indexed, ownerSet(objs))
	}

	report := &DriftReport{Orphaned: []string{}, Unindexed: []string{}, Incomplete: []string{}}
	for _, u := range users {
		if err := s.reconcileUser(ctx, u, objs, report); err != nil {
			return report, err
		}
		report.UsersChecked++
	}

	if len(report.Orphaned) > 0 || len(report.Unindexed) > 0 || len(report.Incomplete) > 0 {
		slog.Warn("catalog drift repaired",
			"users", report.UsersChecked,
			"orphaned", len(report.Orphaned),
			"chunks_pruned", report.ChunksPruned,
			"unindexed", len(report.Unindexed),
			"incomplete", len(report.Incomplete),
			"requeued", report.Requeued,
		)
	}
	return report, nil
}

func (s *Service) reconcileUser(ctx context.Context, userID string, objs []storage.Object, report *DriftReport) error {
	summaries, err := s.index.ListForUser(ctx, userID)
	if err != nil {
		return err
	}

	stored := make(map[string]storage.Object)
	for _, o := range objs {
		if o.UserID == userID {
			stored[o.ID] = o
		}
	}
	indexed := make(map[string]vectorstore.FileSummary, len(summaries))

	for _, sum := range summaries {
		indexed[sum.DocumentID] = sum
		if _, ok := stored[sum.DocumentID]; ok {
			continue
		}
		// The blob listing is a snapshot; an upload that landed after it
		// still has its blob and must keep its vectors.
		n, pruned, err := s.pruneUnstored(ctx, userID, sum.DocumentID)
		if err != nil {
			return err
		}
		if !pruned {
			slog.Debug("document stored after listing, keeping vectors", "document_id", sum.DocumentID, "user_id", userID)
			continue
		}
		report.Orphaned = append(report.Orphaned, sum.DocumentID)
		report.ChunksPruned += n
	}

	ids := make([]string, 0, len(stored))
	for id := range stored {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		sum, ok := indexed[id]
		switch {
		case !ok:
			report.Unindexed = append(report.Unindexed, id)
			s.requeue(ctx, queue.IngestResumePayload{DocumentID: id, UserID: userID, FileName: stored[id].Name}, report)
		case sum.ChunkCount < sum.ChunksTotal:
			// Ingestion writes chunks in order, so the indexed ones form a prefix.
			report.Incomplete = append(report.Incomplete, id)
			s.requeue(ctx, queue.IngestResumePayload{
				DocumentID: id,
				UserID:     userID,
				FileName:   stored[id].Name,
				StartChunk: sum.ChunkCount,
			}, report)
		}
	}
	return nil
}

func (s *Service) requeue(ctx context.Context, p queue.IngestResumePayload, report *DriftReport) {
	if s.tasks == nil {
		return
	}
	if err := s.tasks.EnqueueIngestResume(ctx, p); err != nil {
		slog.Error("failed to requeue ingestion", "document_id", p.DocumentID, "start_chunk", p.StartChunk, "error", err)
		return
	}
	report.Requeued++
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
