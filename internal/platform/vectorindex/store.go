package vectorindex

import "context"

// Vector is one embedded item to index. Metadata is stored alongside the
// vector and is filterable at query time.
type Vector struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

// Match is a ranked query hit. Higher score is more similar.
type Match struct {
	ID    string
	Score float64
}

// Store is the external similarity index. Every query carries a filter so
// that ranking only ever sees one owner's vectors.
type Store interface {
	Upsert(ctx context.Context, namespace string, vectors []Vector) error
	Query(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]Match, error)
	Delete(ctx context.Context, namespace string, ids []string) error
}
