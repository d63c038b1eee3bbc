package storage

import (
	"context"
	"errors"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

// Object describes a stored file. ID is the document id; Name is the
// original filename and is display-only.
type Object struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	MimeType  string    `json:"mimeType"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
	UserID    string    `json:"userId"`
	Path      string    `json:"-"`
}

// BlobStore owns user files and their metadata.
type BlobStore interface {
	Create(ctx context.Context, bucket string, obj Object, data []byte) (*Object, error)
	List(ctx context.Context, bucket string) ([]Object, error)
	// ListByUser lists only the objects owned by userID.
	ListByUser(ctx context.Context, bucket, userID string) ([]Object, error)
	Get(ctx context.Context, bucket, id string) (*Object, error)
	Open(ctx context.Context, bucket, id string) (io.ReadCloser, error)
	Delete(ctx context.Context, bucket, id string) error
}

// ObjectPath is where an object's bytes live inside its bucket.
func ObjectPath(obj Object) string {
	return obj.UserID + "/" + obj.ID + "/" + obj.Name
}

var mimeTypes = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain",
	".csv":  "text/csv",
}

// MimeType guesses a content type from a filename's extension.
func MimeType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := mimeTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
