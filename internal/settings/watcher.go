package settings

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/mossy-p/huddle/internal/models"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads the document when the file is edited outside the process
// and calls onChange with the new contents. It returns once the watcher is
// running; the watcher stops when ctx is done.
func (s *Store) Watch(ctx context.Context, onChange func(models.Settings)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	// Watch the directory: atomic replaces swap the inode under a file watch.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch settings dir: %w", err)
	}

	go s.watchLoop(ctx, watcher, onChange)
	return nil
}

func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, onChange func(models.Settings)) {
	defer watcher.Close()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				before := s.Get()
				doc, err := s.Reload()
				if err != nil {
					s.logger.Warn("Settings reload failed", zap.Error(err))
					return
				}
				if doc != before && onChange != nil {
					s.logger.Info("Settings changed on disk", zap.String("path", s.path))
					onChange(doc)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("Settings watcher error", zap.Error(err))
		}
	}
}
