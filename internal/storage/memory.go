package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a BlobStore for tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string]memObject
	now     func() time.Time
}

type memObject struct {
	Object
	data []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]map[string]memObject),
		now:     time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, bucket string, obj Object, data []byte) (*Object, error) {
	if obj.ID == "" || obj.UserID == "" {
		return nil, errors.New("object id and user id are required")
	}
	obj.Path = ObjectPath(obj)
	obj.Size = int64(len(data))
	obj.CreatedAt = s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[bucket]
	if !ok {
		b = make(map[string]memObject)
		s.buckets[bucket] = b
	}
	b[obj.ID] = memObject{Object: obj, data: append([]byte(nil), data...)}
	return &obj, nil
}

func (s *MemoryStore) List(_ context.Context, bucket string) ([]Object, error) {
	return s.list(bucket, ""), nil
}

func (s *MemoryStore) ListByUser(_ context.Context, bucket, userID string) ([]Object, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	return s.list(bucket, userID), nil
}

// list returns newest first. An empty userID matches every owner.
func (s *MemoryStore) list(bucket, userID string) []Object {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objs := make([]Object, 0, len(s.buckets[bucket]))
	for _, o := range s.buckets[bucket] {
		if userID == "" || o.UserID == userID {
			objs = append(objs, o.Object)
		}
	}
	sort.Slice(objs, func(i, j int) bool {
		if !objs[i].CreatedAt.Equal(objs[j].CreatedAt) {
			return objs[i].CreatedAt.After(objs[j].CreatedAt)
		}
		return objs[i].ID < objs[j].ID
	})
	return objs
}

func (s *MemoryStore) Get(_ context.Context, bucket, id string) (*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.buckets[bucket][id]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", id, ErrObjectNotFound)
	}
	obj := o.Object
	return &obj, nil
}

func (s *MemoryStore) Open(_ context.Context, bucket, id string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.buckets[bucket][id]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", id, ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(o.data)), nil
}

func (s *MemoryStore) Delete(_ context.Context, bucket, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buckets[bucket][id]; !ok {
		return fmt.Errorf("object %s: %w", id, ErrObjectNotFound)
	}
	delete(s.buckets[bucket], id)
	return nil
}
