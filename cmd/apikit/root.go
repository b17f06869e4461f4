package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/artpar/apikit/app"
	"github.com/artpar/apikit/config"
)

var (
	// Global flags
	cfgFile  string
	envFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "apikit",
	Short: "Declarative HTTP API gateways",
	Long: `apikit turns declarative endpoint specifications into callable gateways.

Specs declare where a request goes (base_url, url, method), how the input is
validated and encoded (request_schema), and how the response is decoded and
shaped (response_schema, select). Specs extend each other; the nearest
declaration of a field wins.

Quick start:
  apikit echo                       # Local httpbin-style echo service
  apikit call echo '{"foo":"1"}'    # Call a spec with a JSON value

Inspection:
  apikit specs                      # List specs and their resolved fields
  apikit validate                   # Validate configuration and build every spec`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile == "" {
			return nil
		}
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "apikit.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")
}

// loadConfig loads the config file and applies command line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// openRegistry loads the config and builds a registry from it. With
// metrics.enabled the registry's collector registers with gatherer.
func openRegistry(gatherer *prometheus.Registry) (*app.Registry, *config.Config, zerolog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, zerolog.Nop(), err
	}
	logger := newLogger(cfg.Logging, os.Stderr)

	reg, err := app.NewRegistry(cfg, app.RegistryOptions{
		BaseDir:    filepath.Dir(cfgFile),
		Logger:     logger,
		Registerer: gatherer,
	})
	if err != nil {
		return nil, nil, logger, err
	}
	return reg, cfg, logger, nil
}

// newLogger builds the process logger. Format "auto" writes console output
// when out is a terminal and JSON otherwise.
func newLogger(c config.LoggingConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil || c.Level == "" {
		level = zerolog.InfoLevel
	}

	console := c.Format == "console"
	if c.Format == "auto" {
		console = isTerminal(out)
	}
	if console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// writeMetrics dumps every gathered family in the Prometheus text format.
func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
