package retrieval

import (
	"context"
	"math"
	"reflect"
	"testing"

	"github.com/kalambet/pdfqa/internal/storage"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	x, err := OpenIndex(storage.MemoryPath)
	if err != nil {
		t.Fatalf("OpenIndex(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { x.Close() })
	return x
}

func page(n int) *int { return &n }

func TestEncodeDecodeFloat32s(t *testing.T) {
	in := []float32{0, -1.5, 3.25, float32(math.Pi)}
	out, err := decodeFloat32s(encodeFloat32s(in))
	if err != nil {
		t.Fatalf("decodeFloat32s: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip = %v, want %v", out, in)
	}
	if _, err := decodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}

func TestSearchRanksByCosine(t *testing.T) {
	x := openTestIndex(t)
	ctx := context.Background()

	err := x.Insert(ctx, []Chunk{
		{ID: "east", Source: "a.pdf", Page: page(1), Text: "east", Embedding: []float32{1, 0}},
		{ID: "north", Source: "a.pdf", Page: page(2), Text: "north", Embedding: []float32{0, 1}},
		{ID: "northeast", Source: "b.pdf", Text: "ne", Embedding: []float32{1, 1}},
		{ID: "west", Source: "b.pdf", Text: "west", Embedding: []float32{-1, 0}},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := x.Search(ctx, []float32{1, 0.1}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 || got[0].ID != "east" || got[1].ID != "northeast" {
		t.Fatalf("Search = %+v", got)
	}
	if got[0].Page == nil || *got[0].Page != 1 || got[1].Page != nil {
		t.Errorf("pages = %v, %v", got[0].Page, got[1].Page)
	}
	if got[0].Score < got[1].Score {
		t.Error("results not sorted by score")
	}
}

func TestSearchZeroVector(t *testing.T) {
	x := openTestIndex(t)
	got, err := x.Search(context.Background(), []float32{0, 0}, 3)
	if err != nil || got != nil {
		t.Errorf("Search(zero) = %v, %v", got, err)
	}
}

func TestDeleteSourceAndCount(t *testing.T) {
	x := openTestIndex(t)
	ctx := context.Background()
	x.Insert(ctx, []Chunk{
		{ID: "1", Source: "a.pdf", Text: "a", Embedding: []float32{1}},
		{ID: "2", Source: "a.pdf", Text: "b", Embedding: []float32{1}},
		{ID: "3", Source: "b.pdf", Text: "c", Embedding: []float32{1}},
	})

	n, err := x.DeleteSource(ctx, "a.pdf")
	if err != nil || n != 2 {
		t.Fatalf("DeleteSource = %d, %v; want 2", n, err)
	}
	count, err := x.Count(ctx)
	if err != nil || count != 1 {
		t.Errorf("Count = %d, %v; want 1", count, err)
	}
	sources, err := x.Sources(ctx)
	if err != nil || !reflect.DeepEqual(sources, []string{"b.pdf"}) {
		t.Errorf("Sources = %v, %v", sources, err)
	}
}
