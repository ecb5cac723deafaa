package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kadirpekel/delver/pkg/observability"
	"github.com/kadirpekel/delver/pkg/server"
)

// ServeCmd starts the session HTTP server.
type ServeCmd struct {
	Host    string `help:"Listen host (overrides config)."`
	Port    int    `help:"Listen port (overrides config)."`
	Metrics bool   `help:"Expose Prometheus metrics on /metrics."`
	Tracing bool   `help:"Enable stdout trace export."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	if err := applyLoggerConfig(&cfg.Logger); err != nil {
		return err
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	if _, err := observability.InitGlobalTracer(ctx, observability.TracerConfig{
		Enabled:     c.Tracing,
		ServiceName: observability.DefaultServiceName,
	}); err != nil {
		return err
	}

	var metrics *observability.Metrics
	if c.Metrics {
		metrics, err = observability.NewMetrics(&observability.MetricsConfig{Enabled: true})
		if err != nil {
			return err
		}
		observability.SetGlobalMetrics(metrics)
	}

	manager, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}

	srv := server.New(&cfg.Server, manager, server.WithMetrics(metrics))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
