package persist

import (
	"encoding/json"
	"reflect"

	"go.opentelemetry.io/otel/trace"

	"github.com/bft-labs/statesync/pkg/log"
	"github.com/bft-labs/statesync/pkg/storage"
)

// Options configures what a Store persists and how it hydrates.
// S is the live state type, P the persisted projection.
type Options[S, P any] struct {
	// Name is the storage key. Required.
	Name string

	// Storage is the adapter used for every read and write. A nil Storage
	// means no storage is available: writes still apply in memory and log
	// ErrStorageUnavailable, hydration does nothing.
	Storage *storage.JSON

	// Partialize projects the live state onto what is persisted. It runs on
	// every write while the write is being queued and must not write to the
	// Store.
	// Defaults to identity when P and S are the same type.
	Partialize func(state S) P

	// Version is written with every record. Defaults to 0.
	Version int

	// Migrate converts a stored state written under another version.
	Migrate func(persisted json.RawMessage, version int) (P, error)

	// Merge combines the persisted state (nil when absent) with the current
	// state. Must not block. Defaults to MergeShallow.
	Merge func(persisted *P, current S) (S, error)

	// SkipHydration disables the hydration run performed by New.
	SkipHydration bool

	// OnRehydrateStorage is called with the current state at the start of
	// every hydration run. The func it returns, if any, is called when the run
	// ends, with the merged state or the error.
	OnRehydrateStorage func(state S) func(state S, err error)
}

// DefaultOptions returns Options persisting under name to the file backend
// in storage.DefaultDir.
func DefaultOptions[S, P any](name string) Options[S, P] {
	return Options[S, P]{
		Name:    name,
		Storage: storage.NewJSON(storage.Default()),
	}
}

// withDefaults fills unset functions and validates the result.
func (o Options[S, P]) withDefaults() (Options[S, P], error) {
	if o.Name == "" {
		return o, ErrNameRequired
	}
	if o.Partialize == nil {
		if !sameType[S, P]() {
			return o, ErrPartializeRequired
		}
		o.Partialize = func(state S) P {
			return any(state).(P)
		}
	}
	if o.Merge == nil {
		o.Merge = MergeShallow[S, P]
	}
	return o, nil
}

func sameType[S, P any]() bool {
	return reflect.TypeOf((*S)(nil)).Elem() == reflect.TypeOf((*P)(nil)).Elem()
}

// Option configures optional behavior of a Store.
type Option func(*config)

type config struct {
	logger  log.Logger
	events  EventHandler
	metrics Metrics
	tracer  trace.Tracer
	plugins []Plugin
}

func defaultConfig() config {
	return config{
		logger:  log.NewNoopLogger(),
		events:  NoopEventHandler{},
		metrics: noopMetrics{},
		tracer:  defaultTracer(),
	}
}

// WithLogger sets the logger. If not provided, nothing is logged.
func WithLogger(logger log.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithEventHandler sets a handler for store events.
func WithEventHandler(handler EventHandler) Option {
	return func(c *config) {
		if handler != nil {
			c.events = handler
		}
	}
}

// WithMetrics sets the metrics sink, e.g. NewPrometheusMetrics.
func WithMetrics(m Metrics) Option {
	return func(c *config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracer sets the tracer used for hydration spans.
// Defaults to the global otel tracer provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *config) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithPlugin registers a plugin.
func WithPlugin(plugin Plugin) Option {
	return func(c *config) {
		if plugin != nil {
			c.plugins = append(c.plugins, plugin)
		}
	}
}
