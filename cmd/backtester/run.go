package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"backtester/internal/domain"
	"backtester/internal/engine"
)

type runOptions struct {
	strategy string
	ticker   string
	interval string
	window   int
	capital  int64
	longQty  int64
	shortQty int64
	seed     uint64
	output   string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one backtest",
		Long: `Run backtests a strategy over the configured ticker and interval and
prints the report. Flags override the backtest section of the config.

Example:
  backtester run --strategy ma_crossover --ticker AAPL --window 90`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			req := opts.apply(cmd, defaultRequest(cfg))

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			report, err := a.engine.Run(ctx, req)
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), report, opts.output)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.strategy, "strategy", "s", "", "strategy name (see 'backtester strategies')")
	f.StringVarP(&opts.ticker, "ticker", "t", "", "ticker symbol")
	f.StringVarP(&opts.interval, "interval", "i", "", "bar interval: minute, hour, day, week, month")
	f.IntVarP(&opts.window, "window", "w", 0, "lookback window in bars")
	f.Int64Var(&opts.capital, "capital", 0, "starting capital")
	f.Int64Var(&opts.longQty, "long-qty", 0, "shares to hold when long")
	f.Int64Var(&opts.shortQty, "short-qty", 0, "shares to hold when short (negative)")
	f.Uint64Var(&opts.seed, "seed", 0, "broker random seed (0 picks one)")
	f.StringVarP(&opts.output, "output", "o", "text", "output format: text or json")
	return cmd
}

// apply overlays the flags the user set on req.
func (o *runOptions) apply(cmd *cobra.Command, req engine.Request) engine.Request {
	f := cmd.Flags()
	if f.Changed("strategy") {
		req.Strategy = o.strategy
	}
	if f.Changed("ticker") {
		req.Ticker = o.ticker
	}
	if f.Changed("interval") {
		req.Interval = domain.Interval(o.interval)
	}
	if f.Changed("window") {
		req.Window = o.window
	}
	if f.Changed("capital") {
		req.Capital = o.capital
	}
	if f.Changed("long-qty") {
		req.LongQty = o.longQty
	}
	if f.Changed("short-qty") {
		req.ShortQty = o.shortQty
	}
	if f.Changed("seed") {
		req.Seed = o.seed
	}
	return req
}

func printReport(w io.Writer, r *engine.Report, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "text", "":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", r.RunID)
	fmt.Fprintf(tw, "strategy\t%s (window %d)\n", r.Strategy, r.Window)
	fmt.Fprintf(tw, "ticker\t%s %s\n", r.Ticker, r.Interval)
	fmt.Fprintf(tw, "seed\t%d\n", r.Seed)
	fmt.Fprintf(tw, "trades\t%d\n", r.NTrades)
	fmt.Fprintf(tw, "position\t%d\n", r.Position)
	fmt.Fprintf(tw, "pnl\t%.2f\n", r.PnL)
	fmt.Fprintf(tw, "final capital\t%.2f\n", r.FinalCapital)
	fmt.Fprintf(tw, "total return\t%.4f%%\n", r.TotalReturn*100)
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(r.Trades) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "time\tticker\tqty\tprice\tcosts\t")
	for _, t := range r.Trades {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.4f\t%.2f\t\n",
			t.Timestamp.Format(time.DateTime), t.Ticker, t.Quantity, t.Price, t.TradingCosts)
	}
	return tw.Flush()
}
