package vectorindex

import (
	"context"
	"math"
	"testing"
)

func TestMemoryQueryOrdersByCosine(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	err := s.Upsert(ctx, "ns", []Vector{
		{ID: "orthogonal", Values: []float32{0, 1}},
		{ID: "exact", Values: []float32{1, 0}},
		{ID: "diagonal", Values: []float32{1, 1}},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	matches, err := s.Query(ctx, "ns", []float32{1, 0}, 10, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	if matches[0].ID != "exact" || matches[1].ID != "diagonal" || matches[2].ID != "orthogonal" {
		t.Fatalf("unexpected order: %v", matches)
	}
	if math.Abs(matches[0].Score-1.0) > 1e-6 {
		t.Fatalf("exact match should score 1.0, got %f", matches[0].Score)
	}
	if math.Abs(matches[1].Score-math.Sqrt2/2) > 1e-6 {
		t.Fatalf("diagonal should score ~0.707, got %f", matches[1].Score)
	}
}

func TestMemoryQueryTopK(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	err := s.Upsert(ctx, "ns", []Vector{
		{ID: "a", Values: []float32{1, 0}},
		{ID: "b", Values: []float32{0.9, 0.1}},
		{ID: "c", Values: []float32{0.5, 0.5}},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	matches, err := s.Query(ctx, "ns", []float32{1, 0}, 2, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
}

func TestMemoryQueryFilter(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	err := s.Upsert(ctx, "ns", []Vector{
		{ID: "turn", Values: []float32{1, 0}, Metadata: map[string]any{"source_kind": "turn"}},
		{ID: "doc", Values: []float32{1, 0}, Metadata: map[string]any{"source_kind": "document"}},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	matches, err := s.Query(ctx, "ns", []float32{1, 0}, 10, map[string]any{"source_kind": "document"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "doc" {
		t.Fatalf("filter mismatch: %v", matches)
	}
}

func TestMemoryNamespaceIsolation(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	if err := s.Upsert(ctx, "a", []Vector{{ID: "v", Values: []float32{1, 0}}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	matches, err := s.Query(ctx, "b", []float32{1, 0}, 10, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no cross-namespace matches, got %d", len(matches))
	}
}

func TestMemoryUpsertReplacesAndDelete(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	if err := s.Upsert(ctx, "ns", []Vector{{ID: "v", Values: []float32{0, 1}}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Upsert(ctx, "ns", []Vector{{ID: "v", Values: []float32{1, 0}}}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	matches, err := s.Query(ctx, "ns", []float32{1, 0}, 1, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 1 || math.Abs(matches[0].Score-1.0) > 1e-6 {
		t.Fatalf("upsert did not replace vector: %v", matches)
	}

	if err := s.Delete(ctx, "ns", []string{"v"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	matches, err = s.Query(ctx, "ns", []float32{1, 0}, 1, nil)
	if err != nil {
		t.Fatalf("query after delete: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("vector survived delete: %v", matches)
	}
}

func TestMemoryUpsertRejectsEmptyID(t *testing.T) {
	s := NewMemory()
	if err := s.Upsert(context.Background(), "ns", []Vector{{ID: "  ", Values: []float32{1}}}); err == nil {
		t.Fatal("expected error for empty vector id")
	}
}
