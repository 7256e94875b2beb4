package store

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/postsync/internal/slug"
)

const reconcileDebounce = 200 * time.Millisecond

// ReconcileCallback receives the report of every watcher-triggered
// reconcile pass that changed something.
type ReconcileCallback func(ReconcileReport)

// Watch observes the backing-file tree under root and runs a debounced
// Reconcile after out-of-band changes until ctx is cancelled.
func (s *Store) Watch(ctx context.Context, root string, cb ReconcileCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, dir := range []string{draftsDir, postsDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return err
		}
	}
	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	s.logger.Info("watcher: started", slog.String("root", root))

	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(reconcileDebounce)
			timerCh = timer.C
		} else {
			timer.Reset(reconcileDebounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			s.logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			report, err := s.Reconcile(ctx)
			if err != nil {
				s.logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
				continue
			}
			if !report.Empty() && cb != nil {
				cb(report)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						s.logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					schedule()
					continue
				}
			}
			if !strings.HasSuffix(ev.Name, slug.Ext) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
}
