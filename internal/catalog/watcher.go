package catalog

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"

	"github.com/opencli/daemon/internal/bus"
)

// Watcher watches a manifest directory after startup and publishes
// bus.TopicCatalogUpdated whenever a manifest file changes and still
// validates. It never mutates the already-published domain.Registry —
// see the package doc comment for why — so the event is informational:
// an operator watching the bus (or the status dashboard) learns a
// manifest changed and that picking it up needs a restart.
type Watcher struct {
	dir    string
	bus    *bus.Bus
	logger *slog.Logger
}

func NewWatcher(dir string, eventBus *bus.Bus, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dir: dir, bus: eventBus, logger: logger}
}

// Start begins watching in a background goroutine. A missing directory is
// not an error: manifest support is optional, and the directory may be
// created later.
func (w *Watcher) Start(ctx context.Context) error {
	if w.dir == "" {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		w.logger.Warn("manifest directory not watchable yet", "dir", w.dir, "error", err)
		return nil
	}

	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				w.announce(ev)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("catalog watcher error", "error", err)
			}
		}
	}()
	return nil
}

// announce re-validates every manifest currently in the directory and
// publishes the resulting task_type set, regardless of whether it matches
// what the registry actually has loaded — it is a "here is what's on
// disk now" signal, not a live catalog.
func (w *Watcher) announce(ev fsnotify.Event) {
	manifests, err := LoadDir(w.dir)
	if err != nil {
		w.logger.Warn("manifest directory change failed validation", "path", ev.Name, "op", ev.Op.String(), "error", err)
		return
	}

	var taskTypes []string
	for _, m := range manifests {
		taskTypes = append(taskTypes, m.TaskTypes...)
	}
	w.logger.Info("manifest directory changed; restart to apply", "path", ev.Name, "op", ev.Op.String(), "task_types", taskTypes)
	w.bus.Publish(bus.TopicCatalogUpdated, bus.CatalogUpdatedEvent{TaskTypes: taskTypes})
}
