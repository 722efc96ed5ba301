package main

import (
	"os"

	"github.com/spf13/cobra"

	"backtester/internal/config"
)

const defaultConfigPath = "config/backtester.yaml"

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "backtester",
		Short: "Backtest single-asset trading strategies",
		Long: `Backtester replays a strategy over a bar series. Orders go through a
simulated broker with trading costs, noisy prices and partial fills, and
the run reports the resulting PnL.

Market data comes from Alpha Vantage or Alpaca and is cached in parquet
files under the data directory. Completed runs are journaled in SQLite.

Configuration is read from --config, $BACKTESTER_CONFIG or
config/backtester.yaml, in that order; environment variables override it.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to the YAML configuration file")

	cmd.AddCommand(
		newRunCmd(opts),
		newServeCmd(opts),
		newFetchCmd(opts),
		newStrategiesCmd(),
		newRunsCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// loadConfig resolves the configuration path and loads it. The default path
// is optional; an explicit one must exist.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	path := o.configPath
	if path == "" {
		path = os.Getenv("BACKTESTER_CONFIG")
	}
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		}
	}
	return config.Load(path)
}
