package queue

const (
	TypeIngestResume     = "ingest:resume"
	TypeVectorPrune      = "vectors:prune"
	TypeCatalogReconcile = "catalog:reconcile"
)

// IngestResumePayload re-runs ingestion of a stored document from StartChunk.
type IngestResumePayload struct {
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id"`
	FileName   string `json:"file_name"`
	StartChunk int    `json:"start_chunk"`
}

// VectorPrunePayload removes the vectors of a document whose blob is gone.
type VectorPrunePayload struct {
	UserID     string `json:"user_id"`
	DocumentID string `json:"document_id"`
}

// ReconcilePayload compares both stores for one user, or every user when
// UserID is empty.
type ReconcilePayload struct {
	UserID string `json:"user_id,omitempty"`
}
