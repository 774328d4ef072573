package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch keeps ingesting archives dropped into dir until ctx is
// cancelled. New files go through the same per file pipeline as Run, so
// a broken upload is logged and skipped while store errors end the
// watch.
func (d *Driver) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("could not create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("could not watch %s: %w", dir, err)
	}

	d.logger.Info("watching for new reports", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil || info.IsDir() {
				continue
			}
			if _, err := d.ingestFile(ctx, event.Name, filepath.Base(event.Name)); err != nil {
				if isStoreError(err) {
					return err
				}
				d.logger.Warn("skipping broken report file", "file", event.Name, "err", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Error("watcher error", "err", err)
		}
	}
}
