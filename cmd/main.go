package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/angeloszaimis/conn-dispatcher/config"
	"github.com/angeloszaimis/conn-dispatcher/internal/circuitbreaker"
	"github.com/angeloszaimis/conn-dispatcher/internal/handler"
	"github.com/angeloszaimis/conn-dispatcher/internal/healthcheck"
	"github.com/angeloszaimis/conn-dispatcher/internal/httpserver"
	"github.com/angeloszaimis/conn-dispatcher/internal/metrics"
	"github.com/angeloszaimis/conn-dispatcher/internal/server"
	"github.com/angeloszaimis/conn-dispatcher/internal/strategy"
	"github.com/angeloszaimis/conn-dispatcher/internal/upstream"
	"github.com/angeloszaimis/conn-dispatcher/pkg/logger"
)

const metricsBufferSize = 1000

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "httpserver",
		Short: "Serve files or relay to an upstream over raw TCP",
		Long: `httpserver accepts TCP connections and answers each one with a single
HTTP/1.0 response, either from a directory (--files) or by relaying the
connection to an upstream host (--proxy).

How connections are served is chosen with --strategy:
  serial   one at a time on the accepting goroutine
  process  a child process per connection
  thread   a goroutine per connection
  pool     --num-threads workers fed by a FIFO queue`,
		Example: `  httpserver --files www/ --port 8000 --strategy pool --num-threads 5
  httpserver --proxy inst.eecs.berkeley.edu:80 --strategy thread`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			log := logger.New(cfg.Logging.Level, cfg.Logging.AddSource, cfg.Server.Environment)

			if strategy.IsChild() {
				return serveChild(cfg, log)
			}

			return run(cmd.Context(), cfg, log, os.Args[1:])
		},
	}

	config.RegisterFlags(cmd.Flags())

	return cmd
}

// serveChild handles the one connection inherited from a process-strategy
// parent.
func serveChild(cfg *config.Config, log *slog.Logger) error {
	signal.Ignore(syscall.SIGPIPE)

	h, _, err := buildHandler(cfg, log, nil)
	if err != nil {
		return err
	}

	return strategy.ServeChild(h, log)
}

// run serves until ctx is cancelled or SIGINT/SIGTERM arrives. childArgs are
// passed to children of the process strategy.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger, childArgs []string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	signal.Ignore(syscall.SIGPIPE)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector(metricsBufferSize, log, nil)
	collector.Start(ctx)

	h, up, err := buildHandler(cfg, log, collector)
	if err != nil {
		return err
	}

	strat, err := strategy.New(strategy.Settings{
		Name:          cfg.Server.Strategy,
		Workers:       cfg.Server.Workers,
		QueueCapacity: cfg.Server.QueueCapacity,
		ChildArgs:     childArgs,
	}, h, log, collector)
	if err != nil {
		return fmt.Errorf("create strategy: %w", err)
	}
	defer stopStrategy(strat, log)

	if err := registerStrategyGauges(collector, strat); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	if up != nil && cfg.HealthInterval() > 0 {
		go healthcheck.HealthCheck(ctx, up, cfg.HealthInterval(), log, collector)
	}

	ln, err := server.Listen(cfg.Server.Port, cfg.Server.Backlog)
	if err != nil {
		return err
	}

	srv := server.New(ln, strat, log, collector)

	var admin *httpserver.Server
	if cfg.Admin.Address != "" {
		ready := func() bool {
			return admin.Ready() && (up == nil || up.IsHealthy())
		}

		admin, err = httpserver.New(cfg.Admin.Address, newRouter(collector, ready))
		if err != nil {
			srv.Close()
			return fmt.Errorf("create admin server: %w", err)
		}

		go func() {
			if err := admin.Start(); err != nil {
				log.Error("Admin server failed", slog.Any("err", err))
			}
		}()
	}

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- srv.Serve()
	}()

	log.Info("Server started",
		slog.String("mode", string(cfg.Mode())),
		slog.String("addr", srv.Addr().String()),
		slog.String("strategy", strat.Name()))

	if admin != nil {
		admin.SetReady(true)
	}

	select {
	case <-ctx.Done():
		// Restore default signal handling so a second interrupt kills the
		// process outright.
		stop()
		log.Info("Shutting down, in-flight connections are abandoned")
		if err := srv.Close(); err != nil {
			log.Error("Error closing listener", slog.Any("err", err))
		}
	case err := <-serveErrCh:
		if err != nil {
			log.Error("Accept loop failed", slog.Any("err", err))
			return err
		}
	}

	if admin != nil {
		if err := admin.Shutdown(context.Background()); err != nil {
			log.Error("Error during admin shutdown", slog.Any("err", err))
		}
	}

	return nil
}

func buildHandler(cfg *config.Config, log *slog.Logger, collector *metrics.Collector) (handler.Handler, *upstream.Upstream, error) {
	switch cfg.Mode() {
	case config.ModeProxy:
		host, port := cfg.ProxyHost()
		up := upstream.New(host, port)

		breaker := circuitbreaker.NewCircuitBreaker(cfg.Proxy.BreakerThreshold, cfg.BreakerTimeout())
		breaker.OnStateChange(func(from, to circuitbreaker.State) {
			log.Warn("Upstream circuit breaker changed state",
				slog.String("upstream", up.Address()),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			if collector != nil {
				collector.Emit(metrics.MetricEvent{
					Type:         metrics.EventBreakerStateChanged,
					BreakerState: int(to),
				})
			}
		})

		opts := []handler.ProxyOption{handler.WithBreaker(breaker)}
		if collector != nil {
			opts = append(opts, handler.WithCollector(collector))
		}

		return handler.NewProxyHandler(up, log, opts...), up, nil

	default:
		info, err := os.Stat(cfg.Files.Directory)
		if err != nil {
			return nil, nil, fmt.Errorf("files directory: %w", err)
		}
		if !info.IsDir() {
			return nil, nil, fmt.Errorf("files directory: %s is not a directory", cfg.Files.Directory)
		}

		return handler.NewFilesHandler(cfg.Files.Directory, log, collector), nil, nil
	}
}

func registerStrategyGauges(collector *metrics.Collector, strat strategy.Strategy) error {
	switch s := strat.(type) {
	case *strategy.Pool:
		if err := collector.RegisterGaugeFunc("queue_depth", "Connections waiting for a pool worker.",
			func() float64 { return float64(s.QueueDepth()) }); err != nil {
			return err
		}
		return collector.RegisterGaugeFunc("pool_workers", "Workers in the connection pool.",
			func() float64 { return float64(s.Workers()) })

	case *strategy.Process:
		return collector.RegisterGaugeFunc("child_processes", "Child processes that have not been reaped.",
			func() float64 { return float64(s.Active()) })
	}

	return nil
}

// stopStrategy closes a pool's queue so an accept loop blocked on a full
// queue is released. Busy workers are not waited for.
func stopStrategy(strat strategy.Strategy, log *slog.Logger) {
	if p, ok := strat.(*strategy.Pool); ok {
		p.Stop()
		log.Info("Strategy stopped", slog.String("strategy", strat.Name()))
	}
}
