package main

import (
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"backtester/internal/domain"
	"backtester/internal/gather"
)

func newFetchCmd(root *rootOptions) *cobra.Command {
	var (
		intervals []string
		workers   int
	)

	cmd := &cobra.Command{
		Use:   "fetch [SYMBOL...]",
		Short: "Prefetch bars into the parquet cache",
		Long: `Fetch downloads the bar series of each symbol and interval from the
configured provider and merges them into the parquet cache, so later runs
can use the offline "parquet" provider. Without arguments the symbols come
from gather.symbols, or the default backtest ticker.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if a.upstream == nil {
				return errors.New("fetch needs a network provider; market_data.provider is parquet")
			}

			symbols := cfg.Symbols()
			if len(args) > 0 {
				symbols = make([]string, len(args))
				for i, s := range args {
					symbols[i] = strings.ToUpper(s)
				}
			}

			if !cmd.Flags().Changed("interval") {
				intervals = cfg.Gather.Intervals
			}
			ivs := make([]domain.Interval, 0, len(intervals))
			for _, s := range intervals {
				iv, err := domain.ParseInterval(s)
				if err != nil {
					return err
				}
				ivs = append(ivs, iv)
			}

			if !cmd.Flags().Changed("workers") {
				workers = cfg.Gather.MaxWorkers
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			g := gather.NewBarGatherer(a.upstream, a.bars, symbols, ivs, workers, a.log)
			if err := g.Run(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "fetched %d bars for %d symbols into %s\n",
				g.Fetched(), len(symbols), cfg.Storage.DataDir)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&intervals, "interval", "i", nil, "intervals to fetch (repeatable)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "concurrent fetches")
	return cmd
}
