package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"claude-bridge/internal/config"
	"claude-bridge/internal/logging"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

// Execute runs the CLI with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	root := newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "claude-bridge",
		Short: "OpenAI-compatible chat completions backed by the Anthropic Messages API",
		Long: `claude-bridge accepts chat completion requests in the OpenAI wire schema and
serves them from the Anthropic Messages API, streaming or not.

Examples:
  claude-bridge serve --config config.yaml
  claude-bridge translate --config config.yaml --file request.json
  claude-bridge models --config config.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML configuration file (required)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(opts),
		newTranslateCmd(opts),
		newModelsCmd(opts),
	)
	return root
}

// load reads the configuration and installs the process logger.
func (o *rootOptions) load() (config.Config, *slog.Logger, error) {
	if o.configPath == "" {
		return config.Config{}, nil, errors.New("--config <path> is required")
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}

	logger, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("configure logging: %w", err)
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}
