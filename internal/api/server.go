// Package api serves backtests over HTTP (gin) and gRPC. Both transports
// share one Backtester, the same error mapping and the per-client request
// limit.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"backtester/internal/engine"
	"backtester/internal/metrics"
)

// Backtester is the engine surface exposed by the server.
type Backtester interface {
	Run(ctx context.Context, req engine.Request) (*engine.Report, error)
	GetRun(ctx context.Context, id string) (*engine.Report, error)
	ListRuns(ctx context.Context, limit int) ([]engine.Report, error)
	Strategies() []string
}

// Compile-time interface check.
var _ Backtester = (*engine.Engine)(nil)

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	backtester Backtester
	defaults   engine.Request
	limiter    *RateLimiter
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	log        *slog.Logger

	httpAddr string
	grpcAddr string
	http     *http.Server
	grpc     *grpc.Server
}

// Option configures a Server.
type Option func(*Server)

// WithDefaults sets the request values used for fields a client omits.
func WithDefaults(req engine.Request) Option {
	return func(s *Server) { s.defaults = req }
}

// WithRateLimiter limits backtest submissions per client.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Server) { s.limiter = rl }
}

// WithMetrics records requests on m and serves g on /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithLogger sets the server logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// NewServer creates a Server listening on httpAddr and grpcAddr. An empty
// grpcAddr disables the gRPC listener.
func NewServer(bt Backtester, httpAddr, grpcAddr string, opts ...Option) *Server {
	s := &Server{
		backtester: bt,
		httpAddr:   httpAddr,
		grpcAddr:   grpcAddr,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "api")
	return s
}

// Handler returns the HTTP router.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.observe())

	r.GET("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")
	v1.GET("/strategies", s.handleStrategies)
	v1.GET("/backtests", s.handleListBacktests)
	v1.GET("/backtests/:id", s.handleGetBacktest)
	v1.POST("/backtests", s.limit(), s.handleRunBacktest)
	return r
}

// GRPCServer returns a gRPC server with the Backtester service registered.
func (s *Server) GRPCServer() *grpc.Server {
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(s.observeUnary(), s.limitUnary()))
	RegisterBacktesterServer(gs, &grpcService{bt: s.backtester, defaults: s.defaults})
	return gs
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a fatal error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 2)

	s.http = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		s.log.Info("http listening", "addr", s.httpAddr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if s.grpcAddr != "" {
		lis, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			_ = s.http.Close()
			return fmt.Errorf("listening on %s: %w", s.grpcAddr, err)
		}
		s.grpc = s.GRPCServer()
		go func() {
			s.log.Info("grpc listening", "addr", s.grpcAddr)
			if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errCh:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		return err
	}
}

// Shutdown performs a graceful shutdown of the HTTP and gRPC servers.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.grpc != nil {
		done := make(chan struct{})
		go func() {
			s.grpc.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.grpc.Stop()
		}
	}
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
	}
	s.log.Info("stopped")
	return nil
}

// observe records the latency and status of every HTTP request.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordRequest("http", route, fmt.Sprint(c.Writer.Status()), time.Since(start))
		s.log.Debug("request",
			"method", c.Request.Method,
			"route", route,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start).Round(time.Microsecond),
		)
	}
}
