package preview

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/kikiluvv/framecut/internal/timeline"
)

// Watch reloads the timeline whenever the file at path is written. Editors
// that save by rename are covered by watching the parent directory.
func (s *Session) Watch(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	s.logger.Info().Str("path", abs).Msg("watching timeline")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			tl, err := timeline.Load(abs)
			if err != nil {
				// partial writes fail to parse; the next write event retries
				s.logger.Debug().Err(err).Msg("timeline reload failed")
				continue
			}
			s.SetTimeline(tl)
			s.logger.Info().Int64("revision", s.Revision()).Msg("timeline reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Msg("watch error")
		}
	}
}
