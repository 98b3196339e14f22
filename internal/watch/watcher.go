package watch

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes the plugin roots and triggers a registry reload after the
// filesystem settles. Installing a plugin writes several files; the debounce
// collapses that churn into one rebuild.
type Watcher struct {
	dirs     []string
	reload   func(ctx context.Context) error
	debounce time.Duration
	log      *slog.Logger
}

// New constructs a watcher calling reload after changes under dirs.
func New(dirs []string, reload func(ctx context.Context) error, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		dirs:     dirs,
		reload:   reload,
		debounce: 500 * time.Millisecond,
		log:      log,
	}
}

// Run blocks until the context is cancelled, reloading on settled change
// bursts. Roots that do not exist yet are skipped; a later reload picks them
// up if they appear.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	watching := 0
	for _, dir := range w.dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			w.log.Warn("cannot watch plugin root", "dir", dir, "error", err)
			continue
		}
		watching++
	}
	if watching == 0 {
		w.log.Info("no plugin roots to watch")
		<-ctx.Done()
		return ctx.Err()
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("plugin watcher error", "error", err)
		case <-fire:
			timer = nil
			fire = nil
			w.log.Info("plugin directory changed, reloading registry")
			if err := w.reload(ctx); err != nil {
				w.log.Error("registry reload failed", "error", err)
			}
		}
	}
}
