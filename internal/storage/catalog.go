package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ObjectStore moves raw bytes. SupabaseStorage implements it.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error
	Download(ctx context.Context, bucket, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, bucket, path string) error
}

// CatalogStore keeps file bytes in an ObjectStore and their metadata in
// the documents table.
type CatalogStore struct {
	db      *pgxpool.Pool
	objects ObjectStore
}

func NewCatalogStore(db *pgxpool.Pool, objects ObjectStore) *CatalogStore {
	return &CatalogStore{db: db, objects: objects}
}

func (s *CatalogStore) Create(ctx context.Context, bucket string, obj Object, data []byte) (*Object, error) {
	if obj.ID == "" || obj.UserID == "" {
		return nil, errors.New("object id and user id are required")
	}
	obj.Path = ObjectPath(obj)
	obj.Size = int64(len(data))

	if err := s.objects.Upload(ctx, bucket, obj.Path, data, obj.MimeType); err != nil {
		return nil, err
	}

	err := s.db.QueryRow(ctx,
		`INSERT INTO documents (id, user_id, bucket, file_name, file_path, mime_type, size_bytes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET file_path = EXCLUDED.file_path, size_bytes = EXCLUDED.size_bytes
		 RETURNING created_at`,
		obj.ID, obj.UserID, bucket, obj.Name, obj.Path, obj.MimeType, obj.Size,
	).Scan(&obj.CreatedAt)
	if err != nil {
		if delErr := s.objects.Delete(ctx, bucket, obj.Path); delErr != nil {
			slog.Warn("orphaned object after failed metadata insert", "path", obj.Path, "error", delErr)
		}
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return &obj, nil
}

const documentColumns = `id, user_id, file_name, file_path, mime_type, size_bytes, created_at`

func (s *CatalogStore) List(ctx context.Context, bucket string) ([]Object, error) {
	return s.query(ctx,
		`SELECT `+documentColumns+`
		 FROM documents
		 WHERE bucket = $1
		 ORDER BY created_at DESC`,
		bucket,
	)
}

// ListByUser is served by the (bucket, user_id) index.
func (s *CatalogStore) ListByUser(ctx context.Context, bucket, userID string) ([]Object, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	return s.query(ctx,
		`SELECT `+documentColumns+`
		 FROM documents
		 WHERE bucket = $1 AND user_id = $2
		 ORDER BY created_at DESC`,
		bucket, userID,
	)
}

func (s *CatalogStore) query(ctx context.Context, sql string, args ...any) ([]Object, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var objs []Object
	for rows.Next() {
		var o Object
		if err := rows.Scan(&o.ID, &o.UserID, &o.Name, &o.Path, &o.MimeType, &o.Size, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		objs = append(objs, o)
	}
	return objs, rows.Err()
}

func (s *CatalogStore) Get(ctx context.Context, bucket, id string) (*Object, error) {
	var o Object
	err := s.db.QueryRow(ctx,
		`SELECT `+documentColumns+`
		 FROM documents
		 WHERE bucket = $1 AND id = $2`,
		bucket, id,
	).Scan(&o.ID, &o.UserID, &o.Name, &o.Path, &o.MimeType, &o.Size, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &o, nil
}

func (s *CatalogStore) Open(ctx context.Context, bucket, id string) (io.ReadCloser, error) {
	obj, err := s.Get(ctx, bucket, id)
	if err != nil {
		return nil, err
	}
	return s.objects.Download(ctx, bucket, obj.Path)
}

// Delete removes the bytes, then the metadata row. Bytes that are already
// gone do not block removing the row.
func (s *CatalogStore) Delete(ctx context.Context, bucket, id string) error {
	obj, err := s.Get(ctx, bucket, id)
	if err != nil {
		return err
	}
	if err := s.objects.Delete(ctx, bucket, obj.Path); err != nil && !errors.Is(err, ErrObjectNotFound) {
		return err
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM documents WHERE bucket = $1 AND id = $2`, bucket, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}
