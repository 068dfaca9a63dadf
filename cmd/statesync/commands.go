package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/bft-labs/statesync/pkg/log"
	"github.com/bft-labs/statesync/pkg/migrate"
	"github.com/bft-labs/statesync/pkg/persist"
	"github.com/bft-labs/statesync/pkg/storage"
	"github.com/bft-labs/statesync/plugins/storagewatch"
)

// rawStore persists documents as they are, without a Go type behind them.
type rawStore = persist.Store[json.RawMessage, json.RawMessage]

const shutdownTimeout = 5 * time.Second

// openBackend builds the configured backend and returns it with a func that
// releases it.
func (a *app) openBackend() (storage.Backend, func(), error) {
	b, err := a.cfg.StorageFactory()()
	if err != nil {
		return nil, nil, fmt.Errorf("open %s backend: %w", a.cfg.Backend, err)
	}
	release := func() {
		inner := b
		if u, ok := inner.(interface{ Unwrap() storage.Backend }); ok {
			inner = u.Unwrap()
		}
		if c, ok := inner.(io.Closer); ok {
			if err := c.Close(); err != nil {
				a.logger.Warn("close backend", log.Err(err))
			}
		}
	}
	return b, release, nil
}

// openStore creates a raw store over backend. Hydration is left to the caller.
func (a *app) openStore(backend storage.Backend, update func(o *persist.Options[json.RawMessage, json.RawMessage]), options ...persist.Option) (*rawStore, error) {
	opts := persist.Options[json.RawMessage, json.RawMessage]{
		Name:          a.cfg.Name,
		Storage:       storage.NewJSON(storage.Static(backend)),
		Version:       a.cfg.Version,
		SkipHydration: true,
	}
	if update != nil {
		update(&opts)
	}
	init := func(persist.SetFunc[json.RawMessage], func() json.RawMessage) json.RawMessage {
		return json.RawMessage("null")
	}
	options = append([]persist.Option{persist.WithLogger(a.logger)}, options...)
	return persist.New(init, opts, options...)
}

// replaceState shows the stored document as is. A removed record reads as null.
func replaceState(persisted *json.RawMessage, _ json.RawMessage) (json.RawMessage, error) {
	if persisted == nil {
		return json.RawMessage("null"), nil
	}
	return *persisted, nil
}

func (a *app) closeStore(s *rawStore) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Close(ctx)
}

func (a *app) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored record names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, release, err := a.openBackend()
			if err != nil {
				return err
			}
			defer release()

			lister, ok := backend.(storage.Lister)
			if !ok {
				return fmt.Errorf("%s backend cannot list names", a.cfg.Backend)
			}
			names, err := lister.Names(cmd.Context())
			if err != nil {
				return fmt.Errorf("list names: %w", err)
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func (a *app) getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the record stored under --name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, release, err := a.openBackend()
			if err != nil {
				return err
			}
			defer release()

			record, err := storage.NewJSON(storage.Static(backend)).GetItem(cmd.Context(), a.cfg.Name).Wait(cmd.Context())
			if err != nil {
				return fmt.Errorf("read %q: %w", a.cfg.Name, err)
			}
			if record == nil {
				return fmt.Errorf("no record stored under %q", a.cfg.Name)
			}
			out, err := json.MarshalIndent(record, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func (a *app) putCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "put <json>",
		Short: "Store a state document under --name with --state-version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state := json.RawMessage(args[0])
			if !json.Valid(state) {
				return fmt.Errorf("state is not valid JSON")
			}

			backend, release, err := a.openBackend()
			if err != nil {
				return err
			}
			defer release()

			s, err := a.openStore(backend, nil)
			if err != nil {
				return err
			}
			s.Replace(state)
			flushErr := s.Flush(cmd.Context())
			return errors.Join(flushErr, a.closeStore(s))
		},
	}
}

func (a *app) clearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the record stored under --name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, release, err := a.openBackend()
			if err != nil {
				return err
			}
			defer release()

			s, err := a.openStore(backend, nil)
			if err != nil {
				return err
			}
			_, clearErr := s.ClearStorage().Wait(cmd.Context())
			return errors.Join(clearErr, a.closeStore(s))
		},
	}
}

// hydrationResult records the outcome of the last hydration run.
type hydrationResult struct {
	persist.NoopEventHandler
	migrated bool
}

func (h *hydrationResult) OnHydration(event persist.HydrationEvent) {
	h.migrated = event.Migrated
}

func (a *app) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Rewrite the record under --name to --state-version using the configured migrations",
		Long: `Rewrite the record under --name to --state-version.

Migrations are read from the [migrations] table of the config file. Each entry
maps a source version to an expression producing the next version's state:

  [migrations]
  1 = 'set(state, "count", state.count * 10)'
  2 = 'unset(state, "legacy")'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := migrate.Compile(a.cfg.Version, a.cfg.Migrations)
			if err != nil {
				return fmt.Errorf("compile migrations: %w", err)
			}

			backend, release, err := a.openBackend()
			if err != nil {
				return err
			}
			defer release()

			result := &hydrationResult{}
			var hydrateErr error
			s, err := a.openStore(backend, func(o *persist.Options[json.RawMessage, json.RawMessage]) {
				o.Migrate = migrate.Func[json.RawMessage](plan, nil)
				o.OnRehydrateStorage = func(json.RawMessage) func(json.RawMessage, error) {
					return func(_ json.RawMessage, err error) { hydrateErr = err }
				}
			}, persist.WithEventHandler(result))
			if err != nil {
				return err
			}

			if _, err := s.Rehydrate().Wait(cmd.Context()); err != nil {
				return errors.Join(err, a.closeStore(s))
			}
			flushErr := s.Flush(cmd.Context())
			if err := errors.Join(hydrateErr, flushErr, a.closeStore(s)); err != nil {
				return err
			}

			if result.migrated {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: migrated to version %d\n", a.cfg.Name, a.cfg.Version)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: nothing to migrate\n", a.cfg.Name)
			}
			return nil
		},
	}
}

func (a *app) watchCommand() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the record under --name every time another process changes it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			backend, release, err := a.openBackend()
			if err != nil {
				return err
			}
			defer release()

			options := []persist.Option{
				storagewatch.WithStorageWatch(storagewatch.Config{
					DebounceDelay: a.cfg.Debounce,
					Strict:        true,
				}),
			}

			var server *http.Server
			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				options = append(options, persist.WithMetrics(persist.NewPrometheusMetrics(reg, "statesync")))
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
				server = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("metrics server", log.Err(err))
					}
				}()
			}

			s, err := a.openStore(backend, func(o *persist.Options[json.RawMessage, json.RawMessage]) {
				o.Merge = replaceState
			}, options...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			s.OnFinishHydration(func(state json.RawMessage) {
				fmt.Fprintf(out, "%s %s\n", time.Now().Format(time.RFC3339), state)
			})
			s.Rehydrate()

			a.logger.Info("watching for changes; press Ctrl+C to stop")
			<-ctx.Done()

			var shutdownErr error
			if server != nil {
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				shutdownErr = server.Shutdown(sctx)
				cancel()
			}
			return errors.Join(shutdownErr, a.closeStore(s))
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address (disabled when empty)")
	return cmd
}
