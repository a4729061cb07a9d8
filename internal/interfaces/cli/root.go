// Package cli assembles the syncbridge command tree: `serve` runs the event
// pipeline and operational HTTP surface, `sync` runs a one-shot batch
// reconciliation.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/syncbridge/syncbridge/internal/config"
	"github.com/syncbridge/syncbridge/internal/infrastructure/monitoring/logging"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
}

// runtime carries the dependencies initialized once in PersistentPreRunE.
type runtime struct {
	cfg      *config.Config
	logger   logging.Logger
	levelCtl *logging.LevelControl
}

// initRuntime loads configuration (file if --config given, environment
// otherwise) and builds the root logger.  --log-level overrides the
// configured level.
func initRuntime(opts *rootOptions) (*runtime, error) {
	var cfg *config.Config
	var err error
	if opts.configPath != "" {
		cfg, err = config.Load(opts.configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	logger, levelCtl, err := logging.NewLoggerWithLevelControl(logging.Config{
		Level:       level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
	})
	if err != nil {
		return nil, err
	}

	return &runtime{cfg: cfg, logger: logger, levelCtl: levelCtl}, nil
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:     "syncbridge",
		Short:   "Resilient event queue and adaptive batch synchronizer",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),

		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "config file path (default: environment only)")
	pf.StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}
