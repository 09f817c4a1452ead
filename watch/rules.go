// Package watch reloads the moderation rules file when it changes on disk.
package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"mindpulse/moderation"
)

const (
	defaultDebounce = 500 * time.Millisecond
	readAttempts    = 3
	readRetryDelay  = 100 * time.Millisecond
	reAddDelay      = 100 * time.Millisecond
)

// Reloader applies new rules and re-filters stored data.
type Reloader interface {
	ReloadRules(ctx context.Context, rules moderation.Rules) (int, error)
}

// RulesWatcher watches a single rules file. Editors that save by renaming a
// temp file over the original are handled by re-adding the watch.
type RulesWatcher struct {
	path     string
	reloader Reloader
	logger   *zap.Logger
	debounce time.Duration
}

func NewRulesWatcher(path string, reloader Reloader, logger *zap.Logger) *RulesWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RulesWatcher{
		path:     path,
		reloader: reloader,
		logger:   logger.Named("watch").With(zap.String("file", path)),
		debounce: defaultDebounce,
	}
}

// Run blocks until ctx is cancelled.
func (w *RulesWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.path); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	w.logger.Info("watching rules file")

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Chmod) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}

			if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				go func() {
					time.Sleep(reAddDelay)
					if err := watcher.Add(w.path); err != nil {
						w.logger.Warn("failed to re-add watch", zap.Error(err))
					}
				}()
			}

			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() { w.reload(ctx) })
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *RulesWatcher) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	var (
		rules moderation.Rules
		err   error
	)
	for i := 0; i < readAttempts; i++ {
		if i > 0 {
			time.Sleep(readRetryDelay)
		}
		rules, err = moderation.LoadRules(w.path)
		if err == nil {
			break
		}
		w.logger.Warn("failed to load rules", zap.Int("attempt", i+1), zap.Error(err))
	}
	if err != nil {
		w.logger.Error("keeping previous rules", zap.Error(err))
		return
	}

	removed, err := w.reloader.ReloadRules(ctx, rules)
	if err != nil {
		w.logger.Error("failed to apply rules", zap.Error(err))
		return
	}
	w.logger.Info("rules reloaded", zap.Int("removed", removed))
}
