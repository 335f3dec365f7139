package retrieval

import (
	"context"
	"errors"
	"testing"
)

func TestRetrieve(t *testing.T) {
	x := openTestIndex(t)
	ctx := context.Background()
	x.Insert(ctx, []Chunk{
		{ID: "short", Source: "a.pdf", Page: page(1), Text: "abc", Embedding: []float32{3, 1}},
		{ID: "long", Source: "b.pdf", Page: page(7), Text: "abcdefghij", Embedding: []float32{10, 1}},
	})

	r := NewRetriever(NewEmbedder(&mockEmbedClient{embedFn: lengthEmbedding}, "m"), x)
	got, err := r.Retrieve(ctx, "abcdefghi", 1)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 || got[0].ID != "long" || got[0].Source != "b.pdf" {
		t.Errorf("Retrieve = %+v", got)
	}
}

func TestRetrieveEmbedError(t *testing.T) {
	x := openTestIndex(t)
	boom := errors.New("ollama down")
	mock := &mockEmbedClient{embedFn: func(context.Context, string, ...string) ([][]float32, error) { return nil, boom }}

	_, err := NewRetriever(NewEmbedder(mock, "m"), x).Retrieve(context.Background(), "q", 3)
	if !errors.Is(err, boom) {
		t.Errorf("Retrieve error = %v", err)
	}
}
