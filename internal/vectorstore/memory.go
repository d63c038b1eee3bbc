package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryStore is a brute-force cosine backend for tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Upsert(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		r.Embedding = append([]float32(nil), r.Embedding...)
		s.records[r.ID] = r
	}
	return nil
}

func (s *MemoryStore) Query(_ context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]Match, 0, len(s.records))
	for _, r := range s.records {
		if !filter.matches(r.Metadata) {
			continue
		}
		matches = append(matches, Match{
			ID:       r.ID,
			Score:    cosine(vector, r.Embedding),
			Metadata: r.Metadata,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *MemoryStore) ListFiles(_ context.Context, userID string) ([]FileSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byDoc := make(map[string]*FileSummary)
	for _, r := range s.records {
		if r.Metadata.UserID != userID {
			continue
		}
		fs, ok := byDoc[r.Metadata.DocumentID]
		if !ok {
			fs = &FileSummary{DocumentID: r.Metadata.DocumentID, FileName: r.Metadata.Source}
			byDoc[r.Metadata.DocumentID] = fs
		}
		fs.ChunkCount++
		fs.ChunksTotal = max(fs.ChunksTotal, r.Metadata.ChunksTotal)
	}

	files := make([]FileSummary, 0, len(byDoc))
	for _, fs := range byDoc {
		files = append(files, *fs)
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].FileName != files[j].FileName {
			return files[i].FileName < files[j].FileName
		}
		return files[i].DocumentID < files[j].DocumentID
	})
	return files, nil
}

func (s *MemoryStore) Delete(_ context.Context, filter Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, r := range s.records {
		if filter.matches(r.Metadata) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Users(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, r := range s.records {
		seen[r.Metadata.UserID] = struct{}{}
	}
	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

// Len reports how many records are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (f Filter) matches(md Metadata) bool {
	if f.UserID != "" && md.UserID != f.UserID {
		return false
	}
	if f.Source != "" && md.Source != f.Source {
		return false
	}
	if f.DocumentID != "" && md.DocumentID != f.DocumentID {
		return false
	}
	return true
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
