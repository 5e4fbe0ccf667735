package metadata

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Source hands out the registry in effect. In-flight requests keep the
// registry they started with.
type Source interface {
	Registry() *Registry
}

// Builder produces a fresh, frozen registry.
type Builder func() (*Registry, error)

// Holder swaps registries atomically on reload. A failed rebuild keeps the
// registry that is currently serving.
type Holder struct {
	current atomic.Pointer[Registry]
	build   Builder
	logger  zerolog.Logger

	mu        sync.Mutex
	onChange  []func(*Registry)
	onFailure []func(error)
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHolder builds the initial registry.
func NewHolder(build Builder, logger zerolog.Logger) (*Holder, error) {
	reg, err := build()
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}
	h := &Holder{build: build, logger: logger, stopCh: make(chan struct{})}
	h.current.Store(reg)
	return h, nil
}

func (h *Holder) Registry() *Registry {
	return h.current.Load()
}

// Reload rebuilds the registry and swaps it in.
func (h *Holder) Reload() error {
	reg, err := h.build()
	if err != nil {
		h.logger.Error().Err(err).Msg("schema reload failed, keeping current registry")
		h.mu.Lock()
		failed := append([]func(error){}, h.onFailure...)
		h.mu.Unlock()
		for _, fn := range failed {
			fn(err)
		}
		return fmt.Errorf("reload schemas: %w", err)
	}
	h.current.Store(reg)

	h.mu.Lock()
	listeners := append([]func(*Registry){}, h.onChange...)
	h.mu.Unlock()
	for _, fn := range listeners {
		fn(reg)
	}

	h.logger.Info().Int("schemas", len(reg.Slugs())).Msg("schemas reloaded")
	return nil
}

// OnChange registers a callback run after every successful reload.
func (h *Holder) OnChange(fn func(*Registry)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// OnFailure registers a callback run when a rebuild fails.
func (h *Holder) OnFailure(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onFailure = append(h.onFailure, fn)
}

// WatchFiles reloads whenever one of the files is written or recreated.
func (h *Holder) WatchFiles(paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	names := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			watcher.Close()
			return fmt.Errorf("absolute path: %w", err)
		}
		names[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	// Watch directories so editors that save by rename still trigger.
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("watch directory: %w", err)
		}
	}

	h.mu.Lock()
	h.watcher = watcher
	h.mu.Unlock()

	go h.watchLoop(watcher, names)
	h.logger.Info().Strs("files", paths).Msg("watching schema files for changes")
	return nil
}

// Stop ends file watching.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) watchLoop(watcher *fsnotify.Watcher, names map[string]bool) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !names[abs] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				h.logger.Debug().Str("event", event.Op.String()).Str("file", event.Name).Msg("schema file changed")
				_ = h.Reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("schema watcher error")
		case <-h.stopCh:
			return
		}
	}
}
