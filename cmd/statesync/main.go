package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/statesync/internal/cliconfig"
	"github.com/bft-labs/statesync/pkg/log"
)

const helpDescription = `
Inspect and maintain the records written by statesync stores.

A record is a JSON document {"state": ..., "version": N} kept under a name in
one of the supported backends: a directory of files, the same directory read
through memory maps, or a SQLite table.

Configure via file ($HOME/.statesync/config.toml), STATESYNC_* environment
variables, or flags. Flags win over the environment, which wins over the file.
`

var exampleUsage = strings.TrimSpace(`
  statesync list --dir ./state
  statesync get --name settings
  statesync put --name settings '{"theme":"dark"}'
  statesync migrate --config ./statesync.toml
  statesync watch --backend sqlite --metrics-addr :9102
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// app carries the resolved configuration to subcommands.
type app struct {
	cfg    cliconfig.Config
	logger *log.ZerologAdapter
}

func main() {
	a := &app{cfg: cliconfig.DefaultConfig()}
	var cfgPath string

	root := &cobra.Command{
		Use:           "statesync",
		Short:         "Inspect and maintain persisted state records",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load config file first (default $HOME/.statesync/config.toml), then env, then flags
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&a.cfg, fc, changed); err != nil {
					return err
				}
			}

			if err := cliconfig.ApplyEnvConfig(&a.cfg, changed); err != nil {
				return fmt.Errorf("apply env: %w", err)
			}

			if err := a.cfg.Validate(); err != nil {
				return err
			}

			a.logger = log.NewConsoleAdapter(os.Stderr, log.ParseLevel(a.cfg.LogLevel))
			a.logger.Debug("configuration",
				log.String("backend", a.cfg.Backend),
				log.String("dir", a.cfg.Dir),
				log.String("name", a.cfg.Name),
				log.Int("version", a.cfg.Version),
				log.Bool("async", a.cfg.Async),
			)
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.statesync/config.toml)")
	flags.StringVar(&a.cfg.Backend, "backend", a.cfg.Backend, "storage backend: dir, mmap or sqlite")
	flags.StringVar(&a.cfg.Dir, "dir", a.cfg.Dir, "storage directory (default: <user config dir>/statesync)")
	flags.StringVar(&a.cfg.DSN, "dsn", a.cfg.DSN, "SQLite data source (default: <dir>/statesync.db)")
	flags.StringVar(&a.cfg.Table, "table", a.cfg.Table, "SQLite table holding records")
	flags.BoolVar(&a.cfg.Async, "async", a.cfg.Async, "dispatch storage calls off the calling goroutine")
	flags.StringVar(&a.cfg.Name, "name", a.cfg.Name, "record name")
	flags.IntVar(&a.cfg.Version, "state-version", a.cfg.Version, "state version written with records")
	flags.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "log level: debug, info, warn, error")
	flags.DurationVar(&a.cfg.Debounce, "debounce", a.cfg.Debounce, "delay before reloading after a change (watch)")

	root.AddCommand(
		a.listCommand(),
		a.getCommand(),
		a.putCommand(),
		a.clearCommand(),
		a.migrateCommand(),
		a.watchCommand(),
	)

	if err := root.Execute(); err != nil {
		logger := a.logger
		if logger == nil {
			logger = log.NewZerologAdapter()
		}
		logger.Error("statesync", log.Err(err))
		os.Exit(1)
	}
}
