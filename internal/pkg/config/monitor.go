package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/gethiox/seqmidi/internal/pkg/logger"
	"go.uber.org/zap"
)

// Monitor reports paths of given files whenever they get written or recreated.
// Parent directories are watched so files replaced by editors are still noticed.
// Returned channel is closed once ctx is done.
func Monitor(ctx context.Context, paths ...string) (<-chan string, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("cannot create watcher: %w", err)
	}

	watched := make(map[string]string)
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			_ = watcher.Close()
			return nil, err
		}
		watched[abs] = path
		if err = watcher.Add(filepath.Dir(abs)); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("cannot watch \"%s\": %w", path, err)
		}
	}

	var change = make(chan string)

	go func() {
		<-ctx.Done()
		err := watcher.Close()
		if err != nil {
			log.Info(fmt.Sprintf("closing watcher failed: %v", err), logger.Debug)
		}
	}()

	go func() {
		defer close(change)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				path, ok := watched[filepath.Clean(event.Name)]
				if !ok {
					continue
				}
				log.Info("config change detected", zap.String("path", path), logger.Info)
				select {
				case change <- path:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Info("watcher error", zap.Error(err), logger.Warning)
			}
		}
	}()

	return change, nil
}
