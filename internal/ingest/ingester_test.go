package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/pdfqa/internal/retrieval"
	"github.com/kalambet/pdfqa/internal/storage"
)

type mockEmbedder struct {
	err error
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

// textPages treats a file's contents as pages separated by form feeds.
func textPages(path string) ([]Page, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pages []Page
	for i, p := range strings.Split(string(b), "\f") {
		if strings.TrimSpace(p) != "" {
			pages = append(pages, Page{Number: i + 1, Text: p})
		}
	}
	return pages, nil
}

func newTestIngester(t *testing.T, emb BatchEmbedder) (*Ingester, *retrieval.Index) {
	t.Helper()
	x, err := retrieval.OpenIndex(storage.MemoryPath)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	t.Cleanup(func() { x.Close() })
	return New(x, emb, Options{ChunkSize: 40, ChunkOverlap: 10, Extract: textPages}), x
}

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestIngestFileKeepsPageNumbers(t *testing.T) {
	in, x := newTestIngester(t, &mockEmbedder{})
	ctx := context.Background()
	path := writeDoc(t, t.TempDir(), "manual.pdf", "page one text\fpage two text")

	n, err := in.IngestFile(ctx, path)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if n != 2 {
		t.Fatalf("IngestFile = %d chunks, want 2", n)
	}

	got, err := x.Search(ctx, []float32{13, 1}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	pages := map[int]bool{}
	for _, c := range got {
		if c.Source != path || c.Page == nil {
			t.Errorf("chunk = %+v", c.Chunk)
			continue
		}
		pages[*c.Page] = true
	}
	if !pages[1] || !pages[2] {
		t.Errorf("pages = %v, want 1 and 2", pages)
	}
}

func TestIngestFileReplacesPreviousChunks(t *testing.T) {
	in, x := newTestIngester(t, &mockEmbedder{})
	ctx := context.Background()
	dir := t.TempDir()
	path := writeDoc(t, dir, "a.pdf", "one\ftwo\fthree")

	if _, err := in.IngestFile(ctx, path); err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	writeDoc(t, dir, "a.pdf", "only one page now")
	if _, err := in.IngestFile(ctx, path); err != nil {
		t.Fatalf("IngestFile: %v", err)
	}

	if n, _ := x.Count(ctx); n != 1 {
		t.Errorf("Count = %d after re-ingest, want 1", n)
	}
}

func TestIngestFileEmbedError(t *testing.T) {
	boom := errors.New("embed failed")
	in, x := newTestIngester(t, &mockEmbedder{err: boom})
	path := writeDoc(t, t.TempDir(), "a.pdf", "text")

	if _, err := in.IngestFile(context.Background(), path); !errors.Is(err, boom) {
		t.Errorf("IngestFile error = %v", err)
	}
	if n, _ := x.Count(context.Background()); n != 0 {
		t.Errorf("Count = %d after failure, want 0", n)
	}
}

func TestIngestDir(t *testing.T) {
	in, x := newTestIngester(t, &mockEmbedder{})
	ctx := context.Background()
	dir := t.TempDir()
	writeDoc(t, dir, "a.pdf", "alpha")
	writeDoc(t, dir, "B.PDF", "bravo\fcharlie")
	writeDoc(t, dir, "notes.txt", "ignored")
	os.Mkdir(filepath.Join(dir, "sub"), 0o755)
	writeDoc(t, filepath.Join(dir, "sub"), "c.pdf", "delta")

	rep, err := in.IngestDir(ctx, dir)
	if err != nil {
		t.Fatalf("IngestDir: %v", err)
	}
	if rep.Files != 3 || rep.Chunks != 4 || len(rep.Failed) != 0 {
		t.Errorf("report = %+v", rep)
	}
	sources, _ := x.Sources(ctx)
	if len(sources) != 3 {
		t.Errorf("sources = %v", sources)
	}
}

func TestIngestDirReportsFailures(t *testing.T) {
	x, err := retrieval.OpenIndex(storage.MemoryPath)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	defer x.Close()
	in := New(x, &mockEmbedder{}, Options{})
	dir := t.TempDir()
	writeDoc(t, dir, "broken.pdf", "this is not a pdf")

	rep, err := in.IngestDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("IngestDir: %v", err)
	}
	if rep.Files != 0 || len(rep.Failed) != 1 {
		t.Errorf("report = %+v", rep)
	}
}

func TestExtractPDFMissingFile(t *testing.T) {
	if _, err := ExtractPDF(filepath.Join(t.TempDir(), "missing.pdf")); err == nil {
		t.Error("expected error for missing file")
	}
}
