// Package storagewatch rehydrates a store when its file backend is changed
// by another process.
//
// The plugin watches the directory of a storage.Dir or storage.Mmap backend.
// When the file holding the store's record is written or replaced, and its
// content differs from the last payload the store wrote itself, the plugin
// triggers a hydration run after a short debounce.
package storagewatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/statesync/pkg/log"
	"github.com/bft-labs/statesync/pkg/persist"
	"github.com/bft-labs/statesync/pkg/storage"
)

// ErrUnsupportedBackend is returned by Initialize when the backend does not
// keep its records in files.
var ErrUnsupportedBackend = errors.New("storagewatch: backend has no file path")

// Plugin implements storage watching.
type Plugin struct {
	mu sync.Mutex

	debounceDelay time.Duration
	strict        bool

	path          string
	dir           string
	watcher       *fsnotify.Watcher
	ctx           context.Context
	logger        log.Logger
	rehydrate     func()
	lastPersisted func() (string, bool)
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	debounce      *time.Timer
}

// Config holds configuration options for the storage watcher plugin.
type Config struct {
	// DebounceDelay is the delay to wait after a change before rehydrating.
	// Default: 100 milliseconds
	DebounceDelay time.Duration

	// Strict makes Initialize fail when the backend cannot be watched.
	// Otherwise the plugin logs a warning and stays idle.
	Strict bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DebounceDelay: 100 * time.Millisecond,
	}
}

// New creates a new storage watcher plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 100 * time.Millisecond
	}
	return &Plugin{
		debounceDelay: cfg.DebounceDelay,
		strict:        cfg.Strict,
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "storagewatch"
}

// Initialize resolves the record file and starts the watch loop.
func (p *Plugin) Initialize(ctx context.Context, cfg persist.PluginConfig) error {
	p.mu.Lock()
	p.logger = cfg.Logger
	if p.logger == nil {
		p.logger = log.NewNoopLogger()
	}
	p.lastPersisted = cfg.LastPersisted
	p.rehydrate = func() {
		if cfg.Rehydrate != nil {
			cfg.Rehydrate()
		}
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	path, ok := recordPath(cfg.Backend, cfg.Name)
	if !ok {
		if p.strict {
			p.cancel()
			return ErrUnsupportedBackend
		}
		p.logger.Warn("storage watcher disabled: backend has no file path")
		return nil
	}
	if err := p.watch(path); err != nil {
		p.cancel()
		return err
	}

	p.logger.Info("storage watcher plugin initialized", log.String("path", path))
	return nil
}

// OnStorageChange moves the watch to the record file of the new storage.
// A backend without files leaves the plugin idle until the next change.
func (p *Plugin) OnStorageChange(_ context.Context, cfg persist.PluginConfig) error {
	path, ok := recordPath(cfg.Backend, cfg.Name)
	if !ok {
		p.unwatch()
		p.logger.Warn("storage watcher idle: backend has no file path")
		return nil
	}
	if path == p.Path() {
		return nil
	}
	if err := p.watch(path); err != nil {
		return err
	}
	p.logger.Info("storage watcher moved", log.String("path", path))
	return nil
}

// watch points the watcher at path. The watch loop starts on first use.
func (p *Plugin) watch(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ctx.Err(); err != nil {
		return err
	}
	if p.watcher == nil {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		p.watcher = watcher
		p.wg.Add(1)
		go p.watchLoop(p.ctx, watcher)
	}
	if dir != p.dir {
		if err := p.watcher.Add(dir); err != nil {
			return err
		}
		if p.dir != "" {
			_ = p.watcher.Remove(p.dir)
		}
		p.dir = dir
	}
	p.path = path
	return nil
}

func (p *Plugin) unwatch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watcher != nil && p.dir != "" {
		_ = p.watcher.Remove(p.dir)
	}
	p.dir, p.path = "", ""
}

// Shutdown stops the storage watcher.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Lock()
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

// Path returns the watched file, or "" when the plugin is idle.
func (p *Plugin) Path() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.path
}

func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.Path() {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			p.debounceRehydrate(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("storage watcher error", log.Err(err))
		}
	}
}

func (p *Plugin) debounceRehydrate(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}

	p.debounce = time.AfterFunc(p.debounceDelay, func() {
		if ctx.Err() != nil {
			return
		}
		if p.isOwnWrite() {
			p.logger.Debug("storage watcher: skipping own write")
			return
		}
		p.logger.Info("storage watcher: record changed, rehydrating")
		p.rehydrate()
	})
}

// isOwnWrite reports whether the file holds exactly what the store last wrote.
func (p *Plugin) isOwnWrite() bool {
	if p.lastPersisted == nil {
		return false
	}
	last, ok := p.lastPersisted()
	if !ok {
		return false
	}
	path := p.Path()
	if path == "" {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return string(data) == last
}

type pather interface {
	Path(name string) string
}

type unwrapper interface {
	Unwrap() storage.Backend
}

func recordPath(b storage.Backend, name string) (string, bool) {
	for b != nil {
		if p, ok := b.(pather); ok {
			return filepath.Clean(p.Path(name)), true
		}
		u, ok := b.(unwrapper)
		if !ok {
			break
		}
		b = u.Unwrap()
	}
	return "", false
}

// Ensure Plugin implements persist.Plugin and follows storage changes.
var (
	_ persist.Plugin          = (*Plugin)(nil)
	_ persist.StorageObserver = (*Plugin)(nil)
)
