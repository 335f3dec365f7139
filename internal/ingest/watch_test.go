package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatchIndexesAndRemoves(t *testing.T) {
	in, x := newTestIngester(t, &mockEmbedder{})
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- in.Watch(ctx, dir, ready) }()
	<-ready

	path := writeDoc(t, dir, "new.pdf", "fresh page\fsecond page")
	writeDoc(t, dir, "ignored.txt", "nope")

	count := func() int {
		n, _ := x.Count(context.Background())
		return n
	}
	waitFor(t, func() bool { return count() == 2 })

	if err := os.Remove(path); err != nil {
		t.Fatalf("removing: %v", err)
	}
	waitFor(t, func() bool { return count() == 0 })

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch returned %v", err)
	}
}

func TestWatchMissingDir(t *testing.T) {
	in, _ := newTestIngester(t, &mockEmbedder{})
	err := in.Watch(context.Background(), filepath.Join(t.TempDir(), "missing"), nil)
	if err == nil {
		t.Error("expected error for missing directory")
	}
}
