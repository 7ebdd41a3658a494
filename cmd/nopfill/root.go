package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ryanscovill/jp-work-automation/internal/config"
	"github.com/ryanscovill/jp-work-automation/internal/logging"
)

const defaultConfigPath = "config.yaml"

// app carries what PersistentPreRunE prepares for the subcommands.
type app struct {
	configPath string
	cfg        config.Config
	logger     *zap.Logger
	flush      func()
}

// newRootCmd builds a fresh command tree so tests never share flag state.
func newRootCmd() (*cobra.Command, *app) {
	a := &app{logger: zap.NewNop(), flush: func() {}}

	root := &cobra.Command{
		Use:           "nopfill",
		Short:         "Fill the WorkSafeBC Notice of Project form from a data record.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.flush()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "",
		fmt.Sprintf("config file (default $%s or ./%s)", config.EnvConfigPath, defaultConfigPath))

	root.AddCommand(
		newFillCmd(a),
		newServeCmd(a),
		newPagesCmd(a),
		newPreviewCmd(a),
		newExtractCmd(a),
	)
	return root, a
}

// setup loads the config and builds the logger. serve over stdio keeps the
// console quiet because stdout and stderr carry the protocol.
func (a *app) setup(cmd *cobra.Command) error {
	path := a.configPath
	if path == "" {
		path = os.Getenv(config.EnvConfigPath)
	}
	if path == "" {
		path = defaultConfigPath
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port, _ := cmd.Flags().GetInt("sse-port"); port > 0 {
		cfg.MCP.SSEPort = port
	}
	a.cfg = cfg

	opts := logging.Options{Console: cmd.ErrOrStderr()}
	if cmd.Name() == "serve" && cfg.MCP.SSEPort == 0 {
		opts.DisableConsole = true
	}
	a.logger, a.flush = logging.New(cfg.Log, opts)
	a.logger.Debug("config loaded", zap.String("path", path), zap.String("backend", cfg.Browser.BackendName()))
	return nil
}
