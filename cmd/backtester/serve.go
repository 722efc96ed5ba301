package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"backtester/internal/api"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve backtests over HTTP and gRPC",
		Long: `Serve starts the HTTP API on server.port and the gRPC service on
server.grpc_port. When redis.addr is set, backtest submissions are limited
to redis.max_requests per client every redis.period_sec seconds.`,
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

			opts := []api.Option{
				api.WithDefaults(defaultRequest(cfg)),
				api.WithMetrics(a.metrics, a.registry),
				api.WithLogger(a.log),
			}

			if cfg.Redis.Addr != "" {
				rdb := redis.NewClient(&redis.Options{
					Addr:     cfg.Redis.Addr,
					Password: cfg.Redis.Password,
					DB:       cfg.Redis.DB,
				})
				defer rdb.Close()
				if err := rdb.Ping(cmd.Context()).Err(); err != nil {
					return fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
				}
				rl := api.NewRateLimiter(
					api.NewRedisCounter(rdb),
					cfg.Redis.MaxRequests,
					time.Duration(cfg.Redis.PeriodSec)*time.Second,
					a.metrics,
					a.log,
				)
				opts = append(opts, api.WithRateLimiter(rl))
				a.log.Info("rate limit enabled", "redis", cfg.Redis.Addr,
					"maxRequests", cfg.Redis.MaxRequests, "periodSec", cfg.Redis.PeriodSec)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			srv := api.NewServer(a.engine, cfg.Server.Addr(), cfg.Server.GRPCAddr(), opts...)
			return srv.ListenAndServe(ctx)
		},
	}
}
