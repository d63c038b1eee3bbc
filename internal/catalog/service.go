// Package catalog keeps the blob store and the vector index consistent
// for user files: uploads, listings, deletes and drift repair.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/documind/internal/document"
	"github.com/nikhilbhutani/documind/internal/models"
	"github.com/nikhilbhutani/documind/internal/queue"
	"github.com/nikhilbhutani/documind/internal/rag"
	"github.com/nikhilbhutani/documind/internal/storage"
	"github.com/nikhilbhutani/documind/internal/vectorstore"
	"github.com/nikhilbhutani/documind/pkg/textextract"
)

// Enqueuer schedules follow-up work for failed steps.
type Enqueuer interface {
	EnqueueIngestResume(ctx context.Context, p queue.IngestResumePayload) error
	EnqueueVectorPrune(ctx context.Context, p queue.VectorPrunePayload) error
}

type Service struct {
	blobs    storage.BlobStore
	index    *vectorstore.Index
	pipeline rag.Pipeline
	fetcher  rag.Fetcher
	tasks    Enqueuer
	bucket   string
	newID    func() string
}

// NewService builds the catalog. fetcher and tasks may be nil; without
// tasks, failed steps are only reported.
func NewService(blobs storage.BlobStore, index *vectorstore.Index, pipeline rag.Pipeline, fetcher rag.Fetcher, tasks Enqueuer, bucket string) *Service {
	return &Service{
		blobs:    blobs,
		index:    index,
		pipeline: pipeline,
		fetcher:  fetcher,
		tasks:    tasks,
		bucket:   bucket,
		newID:    uuid.NewString,
	}
}

type FileInfo struct {
	FileID     string    `json:"fileId"`
	FileName   string    `json:"fileName"`
	MimeType   string    `json:"mimeType"`
	UploadTime time.Time `json:"uploadTime"`
	Size       int64     `json:"size"`
	ChunkCount int       `json:"chunkCount"`
}

type UploadRequest struct {
	UserID   string
	FileName string
	Data     []byte
}

const (
	StatusComplete = "complete"
	StatusPartial  = "partial"
)

type UploadResult struct {
	FileID        string `json:"fileId"`
	FileName      string `json:"fileName"`
	UserID        string `json:"userId"`
	ChunkCount    int    `json:"chunkCount"`
	ChunksWritten int    `json:"chunksWritten"`
	Status        string `json:"status"`
}

// Upload stores the file, then indexes it. If indexing writes nothing the
// stored file is removed again. If it stops part way the file is kept,
// the error is returned with a partial result, and the rest is queued.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", models.ErrValidation)
	}
	if req.FileName == "" {
		return nil, fmt.Errorf("%w: file name is required", models.ErrValidation)
	}
	if _, err := textextract.FormatOf(req.FileName); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrUnsupportedFormat, err)
	}

	docID := s.newID()
	obj := storage.Object{
		ID:       docID,
		Name:     req.FileName,
		MimeType: storage.MimeType(req.FileName),
		UserID:   req.UserID,
	}
	if _, err := s.blobs.Create(ctx, s.bucket, obj, req.Data); err != nil {
		return nil, fmt.Errorf("%w: store %s: %w", models.ErrStorageFailure, req.FileName, err)
	}

	res, err := s.pipeline.Ingest(ctx, rag.IngestRequest{
		DocumentID: docID,
		UserID:     req.UserID,
		FileName:   req.FileName,
		Data:       req.Data,
	})
	if err != nil {
		if res.Partial() {
			s.enqueueResume(ctx, queue.IngestResumePayload{
				DocumentID: docID,
				UserID:     req.UserID,
				FileName:   req.FileName,
				StartChunk: res.FailedChunk,
			})
			return &UploadResult{
				FileID:        docID,
				FileName:      req.FileName,
				UserID:        req.UserID,
				ChunkCount:    res.ChunksTotal,
				ChunksWritten: res.ChunksWritten,
				Status:        StatusPartial,
			}, err
		}

		// Use a fresh context so a cancelled request still cleans up.
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if delErr := s.blobs.Delete(cleanupCtx, s.bucket, docID); delErr != nil {
			slog.Warn("failed to remove file after ingestion failure",
				"document_id", docID, "user_id", req.UserID, "error", delErr)
		}
		return nil, err
	}

	slog.Info("file uploaded", "document_id", docID, "user_id", req.UserID, "file_name", req.FileName, "chunks", res.ChunksTotal)
	return &UploadResult{
		FileID:        docID,
		FileName:      req.FileName,
		UserID:        req.UserID,
		ChunkCount:    res.ChunksTotal,
		ChunksWritten: res.ChunksWritten,
		Status:        StatusComplete,
	}, nil
}

// UploadURL downloads rawURL and uploads it. fileName defaults to the
// last segment of the URL path.
func (s *Service) UploadURL(ctx context.Context, userID, rawURL, fileName string) (*UploadResult, error) {
	if s.fetcher == nil {
		return nil, fmt.Errorf("%w: url uploads are not enabled", models.ErrValidation)
	}
	if userID == "" || rawURL == "" {
		return nil, fmt.Errorf("%w: url and user_id are required", models.ErrValidation)
	}
	if fileName == "" {
		fileName = document.FileNameFromURL(rawURL)
	}
	if _, err := textextract.FormatOf(fileName); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrUnsupportedFormat, err)
	}

	data, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return s.Upload(ctx, UploadRequest{UserID: userID, FileName: fileName, Data: data})
}

// ListFiles returns the user's indexed files, enriched with blob metadata
// where it can be found. Files without a blob entry are still listed.
func (s *Service) ListFiles(ctx context.Context, userID string) ([]FileInfo, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", models.ErrValidation)
	}

	summaries, err := s.index.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	objs, err := s.blobs.ListByUser(ctx, s.bucket, userID)
	if err != nil {
		slog.Warn("blob listing failed, returning index data only", "user_id", userID, "error", err)
		objs = nil
	}
	byID := make(map[string]storage.Object)
	byName := make(map[string]storage.Object)
	for _, o := range objs {
		byID[o.ID] = o
		if _, seen := byName[o.Name]; !seen {
			byName[o.Name] = o
		}
	}

	files := make([]FileInfo, 0, len(summaries))
	for _, sum := range summaries {
		info := FileInfo{
			FileID:     sum.DocumentID,
			FileName:   sum.FileName,
			MimeType:   storage.MimeType(sum.FileName),
			ChunkCount: sum.ChunkCount,
		}
		obj, ok := byID[sum.DocumentID]
		if !ok {
			obj, ok = byName[sum.FileName]
		}
		if ok {
			if obj.MimeType != "" {
				info.MimeType = obj.MimeType
			}
			info.UploadTime = obj.CreatedAt
			info.Size = obj.Size
		}
		files = append(files, info)
	}
	return files, nil
}

// DeleteFile removes the blob, then the document's vectors, and returns
// the number of vectors removed. When the vector delete fails the blob is
// already gone; a prune is queued and ErrVectorDeleteFailure returned.
func (s *Service) DeleteFile(ctx context.Context, userID, fileID string) (int, error) {
	if userID == "" || fileID == "" {
		return 0, fmt.Errorf("%w: file id and user_id are required", models.ErrValidation)
	}

	obj, err := s.blobs.Get(ctx, s.bucket, fileID)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return 0, fmt.Errorf("%w: %s", models.ErrFileNotFound, fileID)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %w", models.ErrStorageFailure, err)
	}
	if obj.UserID != userID {
		return 0, fmt.Errorf("%w: %s", models.ErrFileNotFound, fileID)
	}

	if err := s.blobs.Delete(ctx, s.bucket, fileID); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		return 0, fmt.Errorf("%w: %w", models.ErrStorageDeleteFailure, err)
	}

	n, err := s.index.DeleteDocument(ctx, userID, fileID)
	if err != nil {
		s.enqueuePrune(ctx, queue.VectorPrunePayload{UserID: userID, DocumentID: fileID})
		return 0, fmt.Errorf("%w: %w", models.ErrVectorDeleteFailure, err)
	}

	slog.Info("file deleted", "document_id", fileID, "user_id", userID, "chunks", n)
	return n, nil
}

// DeleteFilesByName removes every file of userID called fileName, blobs
// first, then all vectors whose source is that name. It returns the number
// of vectors removed; FileNotFound means neither store held the name.
func (s *Service) DeleteFilesByName(ctx context.Context, userID, fileName string) (int, error) {
	if userID == "" || fileName == "" {
		return 0, fmt.Errorf("%w: file name and user_id are required", models.ErrValidation)
	}

	objs, err := s.blobs.ListByUser(ctx, s.bucket, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", models.ErrStorageFailure, err)
	}
	blobs := 0
	for _, o := range objs {
		if o.Name != fileName {
			continue
		}
		err := s.blobs.Delete(ctx, s.bucket, o.ID)
		if errors.Is(err, storage.ErrObjectNotFound) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("%w: %w", models.ErrStorageDeleteFailure, err)
		}
		blobs++
	}

	n, err := s.index.DeleteForUserAndSource(ctx, userID, fileName)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", models.ErrVectorDeleteFailure, err)
	}
	if n == 0 && blobs == 0 {
		return 0, fmt.Errorf("%w: %s", models.ErrFileNotFound, fileName)
	}
	slog.Info("files deleted by name", "user_id", userID, "file_name", fileName, "blobs", blobs, "chunks", n)
	return n, nil
}

// ResumeIngestion re-reads a stored document and indexes it from
// p.StartChunk. Documents deleted in the meantime are skipped.
func (s *Service) ResumeIngestion(ctx context.Context, p queue.IngestResumePayload) (*rag.IngestResult, error) {
	obj, err := s.blobs.Get(ctx, s.bucket, p.DocumentID)
	if errors.Is(err, storage.ErrObjectNotFound) {
		slog.Info("skipping resume of deleted document", "document_id", p.DocumentID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStorageFailure, err)
	}
	if obj.UserID != p.UserID {
		return nil, fmt.Errorf("%w: %s", models.ErrFileNotFound, p.DocumentID)
	}

	rc, err := s.blobs.Open(ctx, s.bucket, p.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStorageFailure, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", models.ErrStorageFailure, p.DocumentID, err)
	}

	name := p.FileName
	if name == "" {
		name = obj.Name
	}
	return s.pipeline.Ingest(ctx, rag.IngestRequest{
		DocumentID: p.DocumentID,
		UserID:     p.UserID,
		FileName:   name,
		Data:       data,
		StartChunk: p.StartChunk,
	})
}

// PruneVectors deletes the vectors of a document whose blob is gone. A
// document whose blob still exists is left alone.
func (s *Service) PruneVectors(ctx context.Context, p queue.VectorPrunePayload) (int, error) {
	n, pruned, err := s.pruneUnstored(ctx, p.UserID, p.DocumentID)
	if err == nil && !pruned {
		slog.Warn("not pruning vectors of a stored document", "document_id", p.DocumentID, "user_id", p.UserID)
	}
	return n, err
}

// pruneUnstored deletes a document's vectors only after confirming its blob
// is gone, so snapshots taken before a concurrent upload never prune it.
func (s *Service) pruneUnstored(ctx context.Context, userID, documentID string) (n int, pruned bool, err error) {
	_, err = s.blobs.Get(ctx, s.bucket, documentID)
	if err == nil {
		return 0, false, nil
	}
	if !errors.Is(err, storage.ErrObjectNotFound) {
		return 0, false, fmt.Errorf("%w: %w", models.ErrStorageFailure, err)
	}
	n, err = s.index.DeleteDocument(ctx, userID, documentID)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (s *Service) enqueueResume(ctx context.Context, p queue.IngestResumePayload) {
	if s.tasks == nil {
		slog.Warn("partial ingestion left for reconciliation", "document_id", p.DocumentID, "start_chunk", p.StartChunk)
		return
	}
	if err := s.tasks.EnqueueIngestResume(context.WithoutCancel(ctx), p); err != nil {
		slog.Error("failed to enqueue ingestion resume", "document_id", p.DocumentID, "error", err)
	}
}

func (s *Service) enqueuePrune(ctx context.Context, p queue.VectorPrunePayload) {
	if s.tasks == nil {
		slog.Warn("orphaned vectors left for reconciliation", "document_id", p.DocumentID, "user_id", p.UserID)
		return
	}
	if err := s.tasks.EnqueueVectorPrune(context.WithoutCancel(ctx), p); err != nil {
		slog.Error("failed to enqueue vector prune", "document_id", p.DocumentID, "error", err)
	}
}

func ownerSet(objs []storage.Object) []string {
	seen := make(map[string]struct{})
	var users []string
	for _, o := range objs {
		if _, ok := seen[o.UserID]; ok || strings.TrimSpace(o.UserID) == "" {
			continue
		}
		seen[o.UserID] = struct{}{}
		users = append(users, o.UserID)
	}
	return users
}
