package filestore

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of events a single rename produces.
const reloadDebounce = 100 * time.Millisecond

// Watch calls onChange whenever another process replaces the store file.
// The directory is watched rather than the file because every commit swaps
// the inode. Watch blocks until ctx is done.
func (p *TokenPersister) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("filestore: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		return fmt.Errorf("filestore: watch %s: %w", filepath.Dir(p.path), err)
	}

	target := filepath.Clean(p.path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create | fsnotify.Write | fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			timer = nil
			if p.writtenByUs() {
				continue
			}
			p.logger.Info("Token store changed on disk", slog.String("path", p.path))
			onChange()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("Token store watcher error", slog.String("error", err.Error()))
		}
	}
}
