package main

import (
	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/curvesale/internal/config"
	"github.com/rovshanmuradov/curvesale/internal/utils/logger"
)

type rootOptions struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "curvesale",
		Short: "Bonding-curve token sale simulator",
		Long: `curvesale prices linear bonding-curve token sales and replays trading
scenarios against in-memory sale, vesting and liquidity engines.

Settings come from a YAML config file and CURVESALE_* environment variables.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the config file")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(newQuoteCmd(opts), newSimulateCmd(opts), newWatchCmd(opts))
	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.debug {
		cfg.DebugLogging = true
	}
	return cfg, nil
}

// newLogger builds the process logger. With a buffer the console sink is
// replaced by the buffer.
func newLogger(cfg *config.Config, buffer *logger.LogBuffer) (*logger.Logger, error) {
	logCfg := logger.DefaultConfig()
	logCfg.LogFile = cfg.LogFile
	logCfg.Development = cfg.DebugLogging
	if buffer != nil {
		logCfg.Quiet = true
		logCfg.Buffer = buffer
	}
	return logger.New(logCfg)
}
