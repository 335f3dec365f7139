package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// EmbedBatchSize is the number of texts sent per embedding request.
const EmbedBatchSize = 16

// EmbeddingClient produces one embedding per input text.
// *ollama.Client implements it.
type EmbeddingClient interface {
	Embed(ctx context.Context, model string, texts ...string) ([][]float32, error)
}

// Embedder generates embeddings with a fixed model.
type Embedder struct {
	client EmbeddingClient
	model  string
}

func NewEmbedder(client EmbeddingClient, model string) *Embedder {
	return &Embedder{client: client, model: model}
}

// Embed returns the embedding of a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.client.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in batches of EmbedBatchSize, at most four batches
// in flight. Results are in input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for start := 0; start < len(texts); start += EmbedBatchSize {
		end := min(start+EmbedBatchSize, len(texts))
		g.Go(func() error {
			vecs, err := e.client.Embed(gCtx, e.model, texts[start:end]...)
			if err != nil {
				return fmt.Errorf("embedding texts %d-%d: %w", start, end-1, err)
			}
			copy(results[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
