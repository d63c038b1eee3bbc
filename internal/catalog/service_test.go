package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/documind/internal/config"
	"github.com/nikhilbhutani/documind/internal/document"
	"github.com/nikhilbhutani/documind/internal/embedding"
	"github.com/nikhilbhutani/documind/internal/llm"
	"github.com/nikhilbhutani/documind/internal/llm/llmtest"
	"github.com/nikhilbhutani/documind/internal/models"
	"github.com/nikhilbhutani/documind/internal/queue"
	"github.com/nikhilbhutani/documind/internal/rag"
	"github.com/nikhilbhutani/documind/internal/retry"
	"github.com/nikhilbhutani/documind/internal/storage"
	"github.com/nikhilbhutani/documind/internal/vectorstore"
	"github.com/nikhilbhutani/documind/pkg/chunker"
)

const (
	dim    = 256
	bucket = "documents"

	// Three chunks at three words per chunk.
	policyText = "Refunds are processed within thirty business days here."
)

var noRetry = retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}

type recordingQueue struct {
	mu      sync.Mutex
	resumes []queue.IngestResumePayload
	prunes  []queue.VectorPrunePayload
}

func (q *recordingQueue) EnqueueIngestResume(_ context.Context, p queue.IngestResumePayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resumes = append(q.resumes, p)
	return nil
}

func (q *recordingQueue) EnqueueVectorPrune(_ context.Context, p queue.VectorPrunePayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.prunes = append(q.prunes, p)
	return nil
}

type faultyBlobs struct {
	storage.BlobStore
	failList   bool
	failDelete bool
	// afterList runs once, right after the next listing is taken.
	afterList func()
}

func (b *faultyBlobs) List(ctx context.Context, bucket string) ([]storage.Object, error) {
	if b.failList {
		return nil, errors.New("storage unavailable")
	}
	objs, err := b.BlobStore.List(ctx, bucket)
	b.listed()
	return objs, err
}

func (b *faultyBlobs) ListByUser(ctx context.Context, bucket, userID string) ([]storage.Object, error) {
	if b.failList {
		return nil, errors.New("storage unavailable")
	}
	objs, err := b.BlobStore.ListByUser(ctx, bucket, userID)
	b.listed()
	return objs, err
}

func (b *faultyBlobs) listed() {
	if hook := b.afterList; hook != nil {
		b.afterList = nil
		hook()
	}
}

func (b *faultyBlobs) Delete(ctx context.Context, bucket, id string) error {
	if b.failDelete {
		return errors.New("storage unavailable")
	}
	return b.BlobStore.Delete(ctx, bucket, id)
}

type faultyVectors struct {
	*vectorstore.MemoryStore
	failDelete bool
}

func (v *faultyVectors) Delete(ctx context.Context, f vectorstore.Filter) (int, error) {
	if v.failDelete {
		return 0, errors.New("index unavailable")
	}
	return v.MemoryStore.Delete(ctx, f)
}

type poisonEmbedder struct {
	embedding.Embedder
	poisoned atomic.Bool
}

func (e *poisonEmbedder) Embed(ctx context.Context, text string, role embedding.Role) ([]float32, error) {
	if e.poisoned.Load() && strings.Contains(text, "POISON") {
		return nil, fmt.Errorf("%w: encoder crashed", models.ErrEmbeddingFailure)
	}
	return e.Embedder.Embed(ctx, text, role)
}

type fixture struct {
	svc      *Service
	blobs    *faultyBlobs
	vectors  *faultyVectors
	index    *vectorstore.Index
	pipeline rag.Pipeline
	queue    *recordingQueue
	poison   *poisonEmbedder
	ids      int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	provider := llmtest.New("fake", dim)
	gw := llm.NewGatewayWithProviders([]llm.Provider{provider}, "fake", "", noRetry)
	emb := embedding.NewService(gw, config.EmbeddingConfig{Provider: "fake", Dimension: dim}, nil)
	poison := &poisonEmbedder{Embedder: emb}

	vectors := &faultyVectors{MemoryStore: vectorstore.NewMemoryStore()}
	index := vectorstore.NewIndex(vectors, dim, noRetry)

	opts := rag.DefaultOptions()
	opts.Chunking = chunker.ChunkOptions{MaxWords: 3, Overlap: 0}
	opts.EmbedConcurrency = 1
	pipeline := rag.NewPipeline(document.NewTextExtractor(), nil, poison, index, gw, opts)

	blobs := &faultyBlobs{BlobStore: storage.NewMemoryStore()}
	q := &recordingQueue{}

	f := &fixture{blobs: blobs, vectors: vectors, index: index, pipeline: pipeline, queue: q, poison: poison}
	f.svc = NewService(blobs, index, pipeline, nil, q, bucket)
	f.svc.newID = func() string {
		f.ids++
		return fmt.Sprintf("doc-%d", f.ids)
	}
	return f
}

func (f *fixture) upload(t *testing.T, userID, name, text string) *UploadResult {
	t.Helper()
	res, err := f.svc.Upload(context.Background(), UploadRequest{UserID: userID, FileName: name, Data: []byte(text)})
	require.NoError(t, err)
	return res
}

func TestUpload_ListFiles(t *testing.T) {
	f := newFixture(t)

	res := f.upload(t, "u1", "policy.txt", policyText)
	assert.Equal(t, UploadResult{
		FileID: "doc-1", FileName: "policy.txt", UserID: "u1",
		ChunkCount: 3, ChunksWritten: 3, Status: StatusComplete,
	}, *res)

	files, err := f.svc.ListFiles(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	got := files[0]
	assert.Equal(t, "doc-1", got.FileID)
	assert.Equal(t, "policy.txt", got.FileName)
	assert.Equal(t, "text/plain", got.MimeType)
	assert.Equal(t, int64(len(policyText)), got.Size)
	assert.Equal(t, 3, got.ChunkCount)
	assert.False(t, got.UploadTime.IsZero())

	other, err := f.svc.ListFiles(context.Background(), "u2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestUpload_SameNameTwiceKeepsBothDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.upload(t, "u1", "policy.txt", "old refund rules apply")
	second := f.upload(t, "u1", "policy.txt", "new refund rules apply")
	require.NotEqual(t, first.FileID, second.FileID)

	files, err := f.svc.ListFiles(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	n, err := f.svc.DeleteFile(ctx, "u1", first.FileID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	files, err = f.svc.ListFiles(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, second.FileID, files[0].FileID)
	assert.Equal(t, 2, files[0].ChunkCount)
}

func TestUpload_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, UploadRequest{UserID: "u1", FileName: "photo.png", Data: []byte("x")})
	assert.ErrorIs(t, err, models.ErrUnsupportedFormat)

	_, err = f.svc.Upload(ctx, UploadRequest{FileName: "a.txt", Data: []byte("x")})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.svc.Upload(ctx, UploadRequest{UserID: "u1", Data: []byte("x")})
	assert.ErrorIs(t, err, models.ErrValidation)

	objs, err := f.blobs.List(ctx, bucket)
	require.NoError(t, err)
	assert.Empty(t, objs, "nothing is stored for rejected uploads")
}

func TestUpload_TotalFailureRemovesBlob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, UploadRequest{UserID: "u1", FileName: "blank.txt", Data: []byte("   ")})
	require.ErrorIs(t, err, models.ErrEmptyDocument)

	f.poison.poisoned.Store(true)
	_, err = f.svc.Upload(ctx, UploadRequest{UserID: "u1", FileName: "bad.txt", Data: []byte("POISON first chunk then more words")})
	require.ErrorIs(t, err, models.ErrIngestionFailure)

	objs, err := f.blobs.List(ctx, bucket)
	require.NoError(t, err)
	assert.Empty(t, objs)
	assert.Zero(t, f.vectors.Len())
	assert.Empty(t, f.queue.resumes)
}

func TestUpload_PartialFailureKeepsBlobAndQueuesResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.poison.poisoned.Store(true)

	res, err := f.svc.Upload(ctx, UploadRequest{UserID: "u1", FileName: "notes.txt", Data: []byte("a b c d e f POISON h i")})
	require.ErrorIs(t, err, models.ErrIngestionFailure)
	require.NotNil(t, res)
	assert.Equal(t, StatusPartial, res.Status)
	assert.Equal(t, 3, res.ChunkCount)
	assert.Equal(t, 2, res.ChunksWritten)

	require.Len(t, f.queue.resumes, 1)
	assert.Equal(t, queue.IngestResumePayload{DocumentID: res.FileID, UserID: "u1", FileName: "notes.txt", StartChunk: 2}, f.queue.resumes[0])

	_, err = f.blobs.Get(ctx, bucket, res.FileID)
	require.NoError(t, err, "blob is kept for the resume")

	f.poison.poisoned.Store(false)
	resumed, err := f.svc.ResumeIngestion(ctx, f.queue.resumes[0])
	require.NoError(t, err)
	assert.Equal(t, 3, resumed.ChunksWritten)

	files, err := f.svc.ListFiles(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, 3, files[0].ChunkCount)
}

func TestResumeIngestion_SkipsDeletedDocuments(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.ResumeIngestion(context.Background(), queue.IngestResumePayload{DocumentID: "gone", UserID: "u1"})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestDeleteFile_Completeness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.upload(t, "u1", "policy.txt", policyText)

	n, err := f.svc.DeleteFile(ctx, "u1", res.FileID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	files, err := f.svc.ListFiles(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, files)

	answer, err := f.pipeline.Answer(ctx, rag.AnswerRequest{Question: "refunds?", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, rag.NotFoundAnswer, answer.Answer)

	_, err = f.blobs.Get(ctx, bucket, res.FileID)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestDeleteFile_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.upload(t, "u1", "policy.txt", policyText)

	_, err := f.svc.DeleteFile(ctx, "u2", res.FileID)
	assert.ErrorIs(t, err, models.ErrFileNotFound)

	_, err = f.svc.DeleteFile(ctx, "u1", "unknown")
	assert.ErrorIs(t, err, models.ErrFileNotFound)

	_, err = f.blobs.Get(ctx, bucket, res.FileID)
	require.NoError(t, err, "a foreign delete leaves the blob")
	assert.Equal(t, 3, f.vectors.Len())
}

func TestDeleteFile_StorageFailureLeavesVectors(t *testing.T) {
	f := newFixture(t)
	res := f.upload(t, "u1", "policy.txt", policyText)
	f.blobs.failDelete = true

	_, err := f.svc.DeleteFile(context.Background(), "u1", res.FileID)
	require.ErrorIs(t, err, models.ErrStorageDeleteFailure)
	assert.Equal(t, 3, f.vectors.Len())
	assert.Empty(t, f.queue.prunes)
}

func TestDeleteFile_VectorFailureQueuesPrune(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.upload(t, "u1", "policy.txt", policyText)
	f.vectors.failDelete = true

	_, err := f.svc.DeleteFile(ctx, "u1", res.FileID)
	require.ErrorIs(t, err, models.ErrVectorDeleteFailure)
	require.Len(t, f.queue.prunes, 1)
	assert.Equal(t, queue.VectorPrunePayload{UserID: "u1", DocumentID: res.FileID}, f.queue.prunes[0])

	f.vectors.failDelete = false
	n, err := f.svc.PruneVectors(ctx, f.queue.prunes[0])
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Zero(t, f.vectors.Len())
}

func TestPruneVectors_LeavesStoredDocuments(t *testing.T) {
	f := newFixture(t)
	res := f.upload(t, "u1", "policy.txt", policyText)

	n, err := f.svc.PruneVectors(context.Background(), queue.VectorPrunePayload{UserID: "u1", DocumentID: res.FileID})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 3, f.vectors.Len())
}

func TestListFiles_DegradesWithoutBlobListing(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "u1", "report.pdf.txt", "quarterly numbers look fine")
	f.blobs.failList = true

	files, err := f.svc.ListFiles(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "text/plain", files[0].MimeType)
	assert.Zero(t, files[0].Size)
	assert.True(t, files[0].UploadTime.IsZero())
}

func TestListFiles_IndexedFileWithoutBlob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.index.Upsert(ctx, "legacy_0", llmtest.Vector("legacy", dim), vectorstore.Metadata{
		Source: "legacy.pdf", DocumentID: "legacy", Text: "legacy",
	}, "u1"))

	files, err := f.svc.ListFiles(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, FileInfo{FileID: "legacy", FileName: "legacy.pdf", MimeType: "application/pdf", ChunkCount: 1}, files[0])
}

func TestDeleteFilesByName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.upload(t, "u1", "policy.txt", "one two three")
	f.upload(t, "u1", "policy.txt", "four five six")
	f.upload(t, "u2", "policy.txt", "seven eight nine")

	n, err := f.svc.DeleteFilesByName(ctx, "u1", "policy.txt")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	objs, err := f.blobs.List(ctx, bucket)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "u2", objs[0].UserID)

	_, err = f.svc.DeleteFilesByName(ctx, "u1", "policy.txt")
	assert.ErrorIs(t, err, models.ErrFileNotFound)
}

func TestDeleteFilesByName_BlobWithoutVectors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.blobs.Create(ctx, bucket, storage.Object{ID: "pending", Name: "policy.txt", UserID: "u1"}, []byte("not indexed yet"))
	require.NoError(t, err)

	n, err := f.svc.DeleteFilesByName(ctx, "u1", "policy.txt")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.blobs.Get(ctx, bucket, "pending")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestDeleteFilesByName_ListingFailure(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "u1", "policy.txt", policyText)
	f.blobs.failList = true

	_, err := f.svc.DeleteFilesByName(context.Background(), "u1", "policy.txt")
	require.ErrorIs(t, err, models.ErrStorageFailure)
	assert.Equal(t, 3, f.vectors.Len())
}

func TestReconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	kept := f.upload(t, "u1", "kept.txt", "stays in both stores")

	// Vectors whose blob vanished.
	require.NoError(t, f.index.Upsert(ctx, "ghost_0", llmtest.Vector("ghost", dim), vectorstore.Metadata{
		Source: "ghost.txt", DocumentID: "ghost", Text: "ghost",
	}, "u2"))

	// A blob that never got indexed.
	_, err := f.blobs.Create(ctx, bucket, storage.Object{ID: "fresh", Name: "fresh.txt", UserID: "u3"}, []byte("fresh words"))
	require.NoError(t, err)

	report, err := f.svc.Reconcile(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, report.UsersChecked)
	assert.Equal(t, []string{"ghost"}, report.Orphaned)
	assert.Equal(t, 1, report.ChunksPruned)
	assert.Equal(t, []string{"fresh"}, report.Unindexed)
	assert.Equal(t, 1, report.Requeued)
	require.Len(t, f.queue.resumes, 1)
	assert.Equal(t, queue.IngestResumePayload{DocumentID: "fresh", UserID: "u3", FileName: "fresh.txt"}, f.queue.resumes[0])

	files, err := f.svc.ListFiles(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, kept.FileID, files[0].FileID)

	_, err = f.svc.ResumeIngestion(ctx, f.queue.resumes[0])
	require.NoError(t, err)
	again, err := f.svc.Reconcile(ctx, "u3")
	require.NoError(t, err)
	assert.Empty(t, again.Orphaned)
	assert.Empty(t, again.Unindexed)
}

func TestReconcile_KeepsDocumentsUploadedAfterListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var late *UploadResult
	f.blobs.afterList = func() {
		late = f.upload(t, "u1", "policy.txt", policyText)
	}

	report, err := f.svc.Reconcile(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, late)
	assert.Empty(t, report.Orphaned)
	assert.Zero(t, report.ChunksPruned)

	files, err := f.svc.ListFiles(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, late.FileID, files[0].FileID)
	assert.Equal(t, 3, files[0].ChunkCount)

	_, err = f.blobs.Get(ctx, bucket, late.FileID)
	require.NoError(t, err)
}

func TestReconcile_RequeuesPartiallyIndexedDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.poison.poisoned.Store(true)

	res, err := f.svc.Upload(ctx, UploadRequest{UserID: "u1", FileName: "notes.txt", Data: []byte("a b c d e f POISON h i")})
	require.ErrorIs(t, err, models.ErrIngestionFailure)
	require.Equal(t, 2, res.ChunksWritten)
	// Drop the resume the upload queued, as if it was lost.
	f.queue.resumes = nil
	f.poison.poisoned.Store(false)

	report, err := f.svc.Reconcile(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, report.Orphaned)
	assert.Empty(t, report.Unindexed)
	assert.Equal(t, []string{res.FileID}, report.Incomplete)
	assert.Equal(t, 1, report.Requeued)
	require.Len(t, f.queue.resumes, 1)
	assert.Equal(t, queue.IngestResumePayload{DocumentID: res.FileID, UserID: "u1", FileName: "notes.txt", StartChunk: 2}, f.queue.resumes[0])

	_, err = f.svc.ResumeIngestion(ctx, f.queue.resumes[0])
	require.NoError(t, err)

	again, err := f.svc.Reconcile(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, again.Incomplete)
	assert.Zero(t, again.Requeued)
}

type staticFetcher struct{ data []byte }

func (s staticFetcher) Fetch(context.Context, string) ([]byte, error) { return s.data, nil }

func TestUploadURL(t *testing.T) {
	f := newFixture(t)
	f.svc.fetcher = staticFetcher{data: []byte("remote policy text")}

	res, err := f.svc.UploadURL(context.Background(), "u1", "https://example.com/files/remote.txt?token=x", "")
	require.NoError(t, err)
	assert.Equal(t, "remote.txt", res.FileName)
	assert.Equal(t, StatusComplete, res.Status)

	_, err = f.svc.UploadURL(context.Background(), "u1", "https://example.com/files/", "")
	assert.ErrorIs(t, err, models.ErrUnsupportedFormat)
}
