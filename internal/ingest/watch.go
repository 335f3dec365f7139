package ingest

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// Watch keeps the index in sync with the PDFs in dir until ctx is done:
// created or modified files are re-ingested and removed or renamed files are
// dropped. ready, when non-nil, is closed once the watch is established.
func (in *Ingester) Watch(ctx context.Context, dir string, ready chan<- struct{}) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	in.logger.Info("watching for documents", "dir", dir)
	if ready != nil {
		close(ready)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isPDF(ev.Name) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
				if _, err := in.IngestFile(ctx, ev.Name); err != nil {
					in.logger.Warn("document ingest failed", "source", ev.Name, "error", err)
				}
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				if err := in.Remove(ctx, ev.Name); err != nil {
					in.logger.Warn("document removal failed", "source", ev.Name, "error", err)
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			in.logger.Warn("watcher error", "error", err)
		}
	}
}
