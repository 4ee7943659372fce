package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/mandate/internal/config"
	"github.com/ppiankov/mandate/internal/metrics"
	"github.com/ppiankov/mandate/internal/monitor"
	"github.com/ppiankov/mandate/internal/server"
)

var (
	serveListen  string
	serveMetrics string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "gRPC listen address (overrides server.listen)")
	serveCmd.Flags().StringVar(&serveMetrics, "metrics-listen", "", "Prometheus listen address (overrides server.metrics_listen)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC authority server",
	Long:  "Runs mandate as a central authority server over gRPC. Clients authorize requests remotely;\nthe monitor scans for alerts and due expiries in the background.\nSupports hot-reload of the monitor section of the config file.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Server.Listen = serveListen
	}
	if serveMetrics != "" {
		cfg.Server.MetricsListen = serveMetrics
	}
	logger, err := newLogger(cfg, os.Stderr, false)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	svc := newService(cfg, store, m, logger)
	mon := monitor.New(cfg.MonitorSettings(), store, m, logger)
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	srv := server.New(server.Config{Listen: cfg.Server.Listen, ConfigPath: path}, svc, mon, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Serve)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down authority server")
		srv.GracefulStop()
		return nil
	})
	g.Go(func() error { return mon.Run(gctx) })
	g.Go(func() error { return sweepExpiries(gctx, svc, mon, logger) })

	if reloader, err := server.NewReloader(srv, []string{path}); err != nil {
		logger.Warn("hot-reload disabled", "error", err)
	} else {
		g.Go(func() error { return reloader.Run(gctx) })
	}

	if cfg.Server.MetricsListen != "" {
		httpSrv := &http.Server{
			Addr:              cfg.Server.MetricsListen,
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics listening", "addr", cfg.Server.MetricsListen)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}
