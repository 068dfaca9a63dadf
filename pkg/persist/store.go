package persist

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/bft-labs/statesync/pkg/deferred"
	"github.com/bft-labs/statesync/pkg/log"
	"github.com/bft-labs/statesync/pkg/store"
)

// Container is the state container a Store wraps.
type Container[S any] interface {
	Get() S
	Set(update func(S) S)
	Replace(next S)
	SetInitialState(initial S)
}

// SetFunc applies an update to the state and persists the result.
type SetFunc[S any] func(update func(S) S)

// Initializer computes the initial state. set and get are the Store's own
// entry points; calling set persists like Store.Set.
type Initializer[S any] func(set SetFunc[S], get func() S) S

// Store persists the state of a Container.
type Store[S, P any] struct {
	container Container[S]
	opts      atomic.Pointer[Options[S, P]]
	initial   S

	logger  log.Logger
	events  EventHandler
	metrics Metrics
	cfg     config

	hydrated atomic.Bool
	phase    atomic.Int32
	closed   atomic.Bool

	// callbacks counts hydration callbacks in progress.
	callbacks atomic.Int32

	hydrateMu     sync.Mutex
	lastHydration *deferred.Deferred[struct{}]

	// snapshotMu makes reading the state and taking a write slot one step.
	snapshotMu    sync.Mutex
	writeMu       sync.Mutex
	lastWrite     *deferred.Deferred[struct{}]
	lastPersisted atomic.Pointer[string]

	onHydrate listeners[S]
	onFinish  listeners[S]

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Store backed by a store.Store seeded with the result of init.
func New[S, P any](init Initializer[S], opts Options[S, P], options ...Option) (*Store[S, P], error) {
	var zero S
	return Wrap[S, P](store.New(zero), init, opts, options...)
}

// Wrap creates a Store around an existing container. The container state and
// its initial state slot are overwritten with the result of init, then the
// first hydration runs unless opts.SkipHydration is set.
func Wrap[S, P any](container Container[S], init Initializer[S], opts Options[S, P], options ...Option) (*Store[S, P], error) {
	if container == nil {
		return nil, errors.New("persist: container is required")
	}
	if init == nil {
		return nil, errors.New("persist: initializer is required")
	}
	if err := validateModuleVersions(); err != nil {
		return nil, err
	}
	resolved, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	for _, opt := range options {
		if opt != nil {
			opt(&cfg)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store[S, P]{
		container:     container,
		logger:        cfg.logger.With(log.String("store", resolved.Name)),
		events:        cfg.events,
		metrics:       cfg.metrics,
		cfg:           cfg,
		lastHydration: deferred.Resolve(struct{}{}),
		lastWrite:     deferred.Resolve(struct{}{}),
		ctx:           ctx,
		cancel:        cancel,
	}
	s.opts.Store(&resolved)

	s.initial = init(s.Set, container.Get)
	container.Replace(s.initial)
	container.SetInitialState(s.initial)

	pluginCfg := s.pluginConfig(&resolved)
	for i, p := range cfg.plugins {
		if err := p.Initialize(ctx, pluginCfg); err != nil {
			s.logger.Error("plugin initialization failed",
				log.String("plugin", p.Name()),
				log.Err(err))
			s.shutdownPlugins(context.Background(), cfg.plugins[:i])
			cancel()
			return nil, err
		}
		s.logger.Info("plugin initialized", log.String("plugin", p.Name()))
	}

	if !resolved.SkipHydration {
		s.Rehydrate()
	}
	return s, nil
}

// Get returns the current state of the container.
func (s *Store[S, P]) Get() S {
	return s.container.Get()
}

// InitialState returns the result of the initializer.
func (s *Store[S, P]) InitialState() S {
	return s.initial
}

// Container returns the wrapped container.
func (s *Store[S, P]) Container() Container[S] {
	return s.container
}

// LastPersisted returns the payload of the last successful write.
func (s *Store[S, P]) LastPersisted() (string, bool) {
	if v := s.lastPersisted.Load(); v != nil {
		return *v, true
	}
	return "", false
}

func (s *Store[S, P]) shutdownPlugins(ctx context.Context, plugins []Plugin) error {
	var errs []error
	for i := len(plugins) - 1; i >= 0; i-- {
		p := plugins[i]
		if err := p.Shutdown(ctx); err != nil {
			s.logger.Error("plugin shutdown failed",
				log.String("plugin", p.Name()),
				log.Err(err))
			errs = append(errs, err)
			continue
		}
		s.logger.Info("plugin shutdown complete", log.String("plugin", p.Name()))
	}
	return errors.Join(errs...)
}

func (s *Store[S, P]) pluginConfig(o *Options[S, P]) PluginConfig {
	pc := PluginConfig{
		Name:          o.Name,
		Logger:        s.cfg.logger,
		Rehydrate:     s.Rehydrate,
		LastPersisted: s.LastPersisted,
	}
	if o.Storage != nil {
		pc.Backend = o.Storage.Backend()
	}
	return pc
}

// sequence starts op once *tail has settled and makes op's outcome the new
// tail. The tail is advanced under mu, so ops start in call order. op itself
// runs without mu held and may call back into the Store.
func sequence(mu *sync.Mutex, tail **deferred.Deferred[struct{}], op func() *deferred.Deferred[struct{}]) *deferred.Deferred[struct{}] {
	mu.Lock()
	prev, next, settle := reserve(tail)
	mu.Unlock()

	runAfter(prev, op, settle)
	return next
}

// reserve swaps *tail for a pending deferred. The caller holds the lock
// guarding tail.
func reserve(tail **deferred.Deferred[struct{}]) (prev, next *deferred.Deferred[struct{}], settle func(struct{}, error)) {
	next, settle = deferred.Pending[struct{}]()
	prev = *tail
	*tail = next
	return prev, next, settle
}

// runAfter starts op once prev has settled and settles the reserved slot with
// op's outcome.
func runAfter(prev *deferred.Deferred[struct{}], op func() *deferred.Deferred[struct{}], settle func(struct{}, error)) {
	done := deferred.Always(prev, func(struct{}, error) *deferred.Deferred[struct{}] {
		return op()
	})
	deferred.Always(done, func(v struct{}, err error) *deferred.Deferred[struct{}] {
		settle(v, err)
		return nil
	})
}

// listeners is an ordered set of hydration callbacks.
type listeners[S any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []listener[S]
}

type listener[S any] struct {
	id uint64
	fn func(S)
}

func (l *listeners[S]) add(fn func(S)) func() {
	if fn == nil {
		return func() {}
	}
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.entries = append(l.entries, listener[S]{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, e := range l.entries {
				if e.id == id {
					l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
					return
				}
			}
		})
	}
}

func (l *listeners[S]) snapshot() []func(S) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fns := make([]func(S), len(l.entries))
	for i, e := range l.entries {
		fns[i] = e.fn
	}
	return fns
}

// each calls every listener with state. A panicking listener is logged and
// does not stop the others.
func (l *listeners[S]) each(logger log.Logger, kind string, state S) {
	for _, fn := range l.snapshot() {
		safely(logger, kind, func() { fn(state) })
	}
}

func safely(logger log.Logger, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("callback panicked",
				log.String("callback", what),
				log.Err(&deferred.PanicError{Value: r}))
		}
	}()
	fn()
}
