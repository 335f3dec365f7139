package retrieval

import (
	"context"
	"fmt"
)

// Retriever embeds a question and searches the index for its nearest chunks.
type Retriever struct {
	embedder *Embedder
	index    *Index
}

func NewRetriever(embedder *Embedder, index *Index) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

// Retrieve returns up to k chunks relevant to question, best first.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int) ([]Scored, error) {
	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}
	results, err := r.index.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}
	return results, nil
}
