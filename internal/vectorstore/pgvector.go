package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PgVectorStore keeps vectors in vector_records and maintains the
// file_index summary table in the same transaction as every write.
type PgVectorStore struct {
	db     *pgxpool.Pool
	search SearchOptions
}

// SearchOptions tunes the HNSW scan behind Query. The index returns
// ef_search candidates before the WHERE clause runs, so a tenant filter
// can starve a plain scan; iterative scans keep walking the graph until
// LIMIT rows pass the filter.
type SearchOptions struct {
	EFSearch      int    // hnsw.ef_search, zero keeps the server default
	IterativeScan string // hnsw.iterative_scan, empty keeps the server default
}

func NewPgVectorStore(db *pgxpool.Pool, search SearchOptions) *PgVectorStore {
	return &PgVectorStore{db: db, search: search}
}

func (s *PgVectorStore) Upsert(ctx context.Context, records []Record) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	touched := make(map[string]map[string]struct{})
	for _, r := range records {
		md := r.Metadata
		_, err := tx.Exec(ctx,
			`INSERT INTO vector_records (id, document_id, user_id, source, chunk_id, chunks_total, content, token_count, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (id) DO UPDATE SET
			   document_id = EXCLUDED.document_id, user_id = EXCLUDED.user_id, source = EXCLUDED.source,
			   chunk_id = EXCLUDED.chunk_id, chunks_total = EXCLUDED.chunks_total, content = EXCLUDED.content,
			   token_count = EXCLUDED.token_count, embedding = EXCLUDED.embedding`,
			r.ID, md.DocumentID, md.UserID, md.Source, md.ChunkID, md.ChunksTotal, md.Text, r.TokenCount, pgvector.NewVector(r.Embedding),
		)
		if err != nil {
			return fmt.Errorf("upsert record %s: %w", r.ID, err)
		}
		if touched[md.UserID] == nil {
			touched[md.UserID] = make(map[string]struct{})
		}
		touched[md.UserID][md.DocumentID] = struct{}{}
	}

	for userID, docs := range touched {
		if err := refreshFileIndex(ctx, tx, userID, keys(docs)); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// Query runs in its own transaction so the scan settings apply with
// SET LOCAL semantics and never leak to other users of the pooled
// connection.
func (s *PgVectorStore) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	args := []any{pgvector.NewVector(vector), topK}
	where := filterClause(filter, &args)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, set := range s.search.settings() {
		if _, err := tx.Exec(ctx, `SELECT set_config($1, $2, true)`, set[0], set[1]); err != nil {
			return nil, fmt.Errorf("set %s: %w", set[0], err)
		}
	}

	rows, err := tx.Query(ctx, similaritySQL(where), args...)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Match, error) {
		var m Match
		md := &m.Metadata
		err := row.Scan(&m.ID, &md.Source, &md.ChunkID, &md.ChunksTotal, &md.Text, &md.UserID, &md.DocumentID, &m.Score)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan match: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit search: %w", err)
	}
	return matches, nil
}

// similaritySQL orders by distance alone so the planner can serve it from
// the HNSW index; a secondary sort key forces a full scan and sort.
func similaritySQL(where string) string {
	return `SELECT id, source, chunk_id, chunks_total, content, user_id, document_id,
	        1 - (embedding <=> $1) AS score
	 FROM vector_records` + where + `
	 ORDER BY embedding <=> $1
	 LIMIT $2`
}

// settings lists the transaction-local GUCs for one search.
func (o SearchOptions) settings() [][2]string {
	var out [][2]string
	if o.EFSearch > 0 {
		out = append(out, [2]string{"hnsw.ef_search", strconv.Itoa(o.EFSearch)})
	}
	if o.IterativeScan != "" {
		out = append(out, [2]string{"hnsw.iterative_scan", o.IterativeScan})
	}
	return out
}

func (s *PgVectorStore) ListFiles(ctx context.Context, userID string) ([]FileSummary, error) {
	rows, err := s.db.Query(ctx,
		`SELECT document_id, source, chunk_count, chunks_total
		 FROM file_index
		 WHERE user_id = $1
		 ORDER BY source, document_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list file index: %w", err)
	}
	defer rows.Close()

	var files []FileSummary
	for rows.Next() {
		var f FileSummary
		if err := rows.Scan(&f.DocumentID, &f.FileName, &f.ChunkCount, &f.ChunksTotal); err != nil {
			return nil, fmt.Errorf("scan file summary: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *PgVectorStore) Delete(ctx context.Context, filter Filter) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var args []any
	where := filterClause(filter, &args)
	rows, err := tx.Query(ctx, `DELETE FROM vector_records`+where+` RETURNING user_id, document_id`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}

	n := 0
	touched := make(map[string]map[string]struct{})
	for rows.Next() {
		var userID, docID string
		if err := rows.Scan(&userID, &docID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan deleted record: %w", err)
		}
		if touched[userID] == nil {
			touched[userID] = make(map[string]struct{})
		}
		touched[userID][docID] = struct{}{}
		n++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}

	for userID, docs := range touched {
		if err := refreshFileIndex(ctx, tx, userID, keys(docs)); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit delete: %w", err)
	}
	return n, nil
}

func (s *PgVectorStore) Users(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT user_id FROM file_index ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// refreshFileIndex recomputes the summary rows of the given documents.
// Documents with no remaining records lose their row.
func refreshFileIndex(ctx context.Context, tx pgx.Tx, userID string, docIDs []string) error {
	if _, err := tx.Exec(ctx,
		`DELETE FROM file_index WHERE user_id = $1 AND document_id = ANY($2)`,
		userID, docIDs,
	); err != nil {
		return fmt.Errorf("clear file index: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO file_index (user_id, document_id, source, chunk_count, chunks_total, updated_at)
		 SELECT user_id, document_id, max(source), count(*), max(chunks_total), now()
		 FROM vector_records
		 WHERE user_id = $1 AND document_id = ANY($2)
		 GROUP BY user_id, document_id`,
		userID, docIDs,
	); err != nil {
		return fmt.Errorf("refresh file index: %w", err)
	}
	return nil
}

// filterClause appends one positional argument per set field.
func filterClause(f Filter, args *[]any) string {
	var conds []string
	add := func(col, val string) {
		*args = append(*args, val)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(*args)))
	}
	if f.UserID != "" {
		add("user_id", f.UserID)
	}
	if f.Source != "" {
		add("source", f.Source)
	}
	if f.DocumentID != "" {
		add("document_id", f.DocumentID)
	}
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
