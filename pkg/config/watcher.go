package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"northstar-hq/polaris/pkg/telemetry/events"
	"northstar-hq/polaris/pkg/telemetry/logging"
)

// DefaultDebounce is the quiet period before a file change triggers a
// reload. Editors commonly produce several write events per save.
const DefaultDebounce = 100 * time.Millisecond

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Path is the configuration file to watch. Required.
	Path string

	// Debounce is the quiet period before a reload fires. Zero means
	// DefaultDebounce.
	Debounce time.Duration

	// History receives validated snapshots. Optional.
	History *History

	// Emitter receives configuration_loaded and configuration_rollback
	// events. Nil discards.
	Emitter events.Emitter

	// Logger receives watcher diagnostics. Nil is silent.
	Logger *logging.Logger

	// OnChange is called with each validated configuration after it is
	// recorded. Optional.
	OnChange func(*Config)
}

// Watcher hot-reloads the configuration file on change. A reload that
// fails to parse or validate is discarded: the running configuration
// stands and a configuration_rollback event records the failure.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	history  *History
	emitter  events.Emitter
	logger   *logging.Logger
	onChange func(*Config)

	mu      sync.Mutex
	timer   *time.Timer
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher creates a watcher for the given configuration file.
func NewWatcher(opts WatcherOptions) (*Watcher, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("config: watch path is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Emitter == nil {
		opts.Emitter = events.Discard
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		watcher:  fw,
		path:     opts.Path,
		debounce: opts.Debounce,
		history:  opts.History,
		emitter:  opts.Emitter,
		logger:   opts.Logger,
		onChange: opts.OnChange,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Watch blocks processing file events until ctx is cancelled or Stop is
// called. Watching the parent directory rather than the file itself
// survives the rename-and-replace writes editors and configuration
// management tools produce.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("config: watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(w.doneCh)
	}()

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watching %q: %w", dir, err)
	}

	w.logger.Info("configuration watcher started",
		"path", w.path,
		"debounce_ms", w.debounce.Milliseconds(),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("configuration watcher stopped", "reason", "context cancelled")
			return nil

		case <-w.stopCh:
			w.logger.Info("configuration watcher stopped")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("config: watcher events channel closed")
			}
			if !w.shouldProcess(event) {
				continue
			}
			w.logger.Debug("configuration file event",
				"path", event.Name,
				"op", event.Op.String(),
			)
			w.trigger(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("config: watcher errors channel closed")
			}
			w.logger.Error("configuration watcher error", "error", err)
		}
	}
}

// Stop halts the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	return w.watcher.Close()
}

// shouldProcess filters events down to content changes of the watched
// file.
func (w *Watcher) shouldProcess(event fsnotify.Event) bool {
	if event.Op&fsnotify.Chmod == fsnotify.Chmod {
		return false
	}
	return filepath.Clean(event.Name) == filepath.Clean(w.path)
}

// trigger debounces rapid event bursts into one reload.
func (w *Watcher) trigger(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		w.Reload(ctx)
	})
}

// Reload loads and validates the file now. On success the new snapshot
// becomes current; on failure the previous configuration stands.
// Exposed so the management server can force a reload.
func (w *Watcher) Reload(ctx context.Context) (*Config, error) {
	cfg, err := LoadWithEnvOverrides(w.path)
	now := time.Now().UTC()
	if err != nil {
		w.logger.Error("configuration reload failed, keeping previous",
			"path", w.path,
			"error", err,
		)
		w.emitter.Emit(ctx, events.Event{
			Name:      events.ConfigurationRollback,
			Timestamp: now,
			Fields: map[string]any{
				"path":  w.path,
				"error": err.Error(),
			},
		})
		return nil, err
	}

	if w.history != nil {
		w.history.Push(cfg, w.path, now)
	}
	w.emitter.Emit(ctx, events.Event{
		Name:      events.ConfigurationLoaded,
		Timestamp: now,
		Fields: map[string]any{
			"path":      w.path,
			"keys":      len(cfg.Keys),
			"policies":  len(cfg.Policies),
			"providers": len(cfg.Providers),
		},
	})
	w.logger.Info("configuration reloaded",
		"path", w.path,
		"keys", len(cfg.Keys),
		"policies", len(cfg.Policies),
	)
	if w.onChange != nil {
		w.onChange(cfg)
	}
	return cfg, nil
}
