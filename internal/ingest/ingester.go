// Package ingest extracts text from PDF documents, splits it into chunks
// and indexes their embeddings.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/kalambet/pdfqa/internal/retrieval"
)

// ChunkIndex stores chunks. *retrieval.Index implements it.
type ChunkIndex interface {
	Insert(ctx context.Context, chunks []retrieval.Chunk) error
	DeleteSource(ctx context.Context, source string) (int64, error)
}

// BatchEmbedder embeds texts in input order. *retrieval.Embedder implements it.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Options tunes an Ingester. Zero values select the defaults.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	// Extract reads the pages of a document; defaults to ExtractPDF.
	Extract func(path string) ([]Page, error)
}

// Ingester turns documents into indexed chunks.
type Ingester struct {
	index    ChunkIndex
	embedder BatchEmbedder
	extract  func(path string) ([]Page, error)
	size     int
	overlap  int
	logger   *slog.Logger
}

func New(index ChunkIndex, embedder BatchEmbedder, opts Options) *Ingester {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkOverlap <= 0 {
		opts.ChunkOverlap = DefaultChunkOverlap
	}
	if opts.Extract == nil {
		opts.Extract = ExtractPDF
	}
	return &Ingester{
		index:    index,
		embedder: embedder,
		extract:  opts.Extract,
		size:     opts.ChunkSize,
		overlap:  opts.ChunkOverlap,
		logger:   slog.Default(),
	}
}

// IngestFile indexes the document at path, replacing any chunks previously
// indexed for it, and returns the number of chunks written.
func (in *Ingester) IngestFile(ctx context.Context, path string) (int, error) {
	source := filepath.Clean(path)
	pages, err := in.extract(source)
	if err != nil {
		return 0, err
	}

	var chunks []retrieval.Chunk
	var texts []string
	for _, p := range pages {
		number := p.Number
		for _, text := range Split(p.Text, in.size, in.overlap) {
			chunks = append(chunks, retrieval.Chunk{
				ID:     uuid.NewString(),
				Source: source,
				Page:   &number,
				Text:   text,
			})
			texts = append(texts, text)
		}
	}

	vecs, err := in.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding %s: %w", source, err)
	}
	for i := range chunks {
		chunks[i].Embedding = vecs[i]
	}

	if _, err := in.index.DeleteSource(ctx, source); err != nil {
		return 0, err
	}
	if err := in.index.Insert(ctx, chunks); err != nil {
		return 0, fmt.Errorf("indexing %s: %w", source, err)
	}

	in.logger.Info("document indexed", "source", source, "pages", len(pages), "chunks", len(chunks))
	return len(chunks), nil
}

// Report summarizes a directory ingestion.
type Report struct {
	Files  int
	Chunks int
	Failed []string
}

// IngestDir indexes every PDF under dir. A failing document is logged and
// listed in the report; it does not stop the walk.
func (in *Ingester) IngestDir(ctx context.Context, dir string) (Report, error) {
	var rep Report
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !isPDF(path) {
			return nil
		}

		n, err := in.IngestFile(ctx, path)
		if err != nil {
			in.logger.Warn("document ingest failed", "source", path, "error", err)
			rep.Failed = append(rep.Failed, path)
			return nil
		}
		rep.Files++
		rep.Chunks += n
		return nil
	})
	if err != nil {
		return rep, fmt.Errorf("walking %s: %w", dir, err)
	}
	return rep, nil
}

// Remove drops every chunk indexed for path.
func (in *Ingester) Remove(ctx context.Context, path string) error {
	n, err := in.index.DeleteSource(ctx, filepath.Clean(path))
	if err != nil {
		return err
	}
	in.logger.Info("document removed", "source", path, "chunks", n)
	return nil
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}
