// Package cli is the article-capture command line: every workflow of the
// service as a cobra subcommand sharing one configuration and wiring.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/article-capture/pkg/config"
	"github.com/user/article-capture/pkg/logger"
)

type rootOptions struct {
	configFile string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "capture",
		Short:         "Captures fully expanded article screenshots and tracks them in a job store.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "Config file (yaml, json or toml).")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level override (debug, info, warn, error).")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format override (json or text).")

	cmd.AddCommand(
		newDiscoverCommand(opts),
		newRunCommand(opts),
		newRetryFailedCommand(opts),
		newAddCommand(opts),
		newStatusCommand(opts),
		newStatsCommand(opts),
		newPurgeCommand(opts),
		newAuthCommand(opts),
		newSearchExtractCommand(opts),
		newImportCommand(opts),
		newConfigCommand(opts),
		newServeCommand(opts),
	)
	return cmd
}

func (o *rootOptions) load() error {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	l, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.logger = l
	return nil
}

// ExecuteContext runs the CLI and returns the process exit code.
func ExecuteContext(ctx context.Context, args []string) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		return 1
	}
	return 0
}
