package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

type memoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]Vector
}

// NewMemory returns an in-process Store keyed by namespace. It is the
// fallback when no vector service is configured and the backing store for
// tests.
func NewMemory() Store {
	return &memoryStore{data: make(map[string]map[string]Vector)}
}

func (s *memoryStore) Upsert(_ context.Context, namespace string, vectors []Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.data[namespace]
	if !ok {
		ns = make(map[string]Vector)
		s.data[namespace] = ns
	}
	for _, v := range vectors {
		id := strings.TrimSpace(v.ID)
		if id == "" {
			return fmt.Errorf("memory upsert: vector id is required")
		}
		cp := Vector{ID: id, Values: append([]float32(nil), v.Values...)}
		if len(v.Metadata) > 0 {
			cp.Metadata = make(map[string]any, len(v.Metadata))
			for k, val := range v.Metadata {
				cp.Metadata[k] = val
			}
		}
		ns[id] = cp
	}
	return nil
}

func (s *memoryStore) Query(_ context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]Match, error) {
	if len(q) == 0 {
		return nil, fmt.Errorf("memory query: query vector required")
	}
	if topK <= 0 {
		topK = 10
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.data[namespace]
	out := make([]Match, 0, len(ns))
	for _, v := range ns {
		if !matchesFilter(v.Metadata, filter) {
			continue
		}
		score := cosine(q, v.Values)
		out = append(out, Match{ID: v.ID, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (s *memoryStore) Delete(_ context.Context, namespace string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.data[namespace]
	for _, id := range ids {
		delete(ns, id)
	}
	return nil
}

func matchesFilter(meta map[string]any, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := meta[k]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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
