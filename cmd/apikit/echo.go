package main

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

	apihttp "github.com/artpar/apikit/adapters/http"
	"github.com/artpar/apikit/config"
)

var (
	echoAddr        string
	echoMaxBody     int64
	echoWithMetrics bool
)

var echoCmd = &cobra.Command{
	Use:   "echo",
	Short: "Run a local httpbin-style echo service",
	Long: `Run an HTTP service that echoes requests back as JSON.

Endpoints:
  /get /post /put /patch /delete   echo the request (method must match)
  /anything/*                      echo any method
  /status/{code}                   answer with the given status
  /health                          liveness
  /metrics                         Prometheus metrics (--metrics)

Point a spec's base_url at it to try gateways without a real API.

Examples:
  apikit echo
  apikit echo --addr :9090 --metrics`,
	Args: cobra.NoArgs,
	RunE: runEcho,
}

func init() {
	rootCmd.AddCommand(echoCmd)

	echoCmd.Flags().StringVar(&echoAddr, "addr", "127.0.0.1:8080", "listen address")
	echoCmd.Flags().Int64Var(&echoMaxBody, "max-body", 10<<20, "maximum request body in bytes")
	echoCmd.Flags().BoolVar(&echoWithMetrics, "metrics", false, "expose /metrics")
}

func runEcho(cmd *cobra.Command, args []string) error {
	// The echo service needs no config file; fall back to defaults.
	logCfg := config.Default().Logging
	logCfg.Format = "auto"
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	logger := newLogger(logCfg, os.Stderr)

	echoCfg := apihttp.EchoConfig{MaxBodyBytes: echoMaxBody}
	if echoWithMetrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		echoCfg.Gatherer = reg
	}

	server := &http.Server{
		Addr:              echoAddr,
		Handler:           apihttp.NewEchoRouter(logger, echoCfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", echoAddr).Msg("starting echo server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
