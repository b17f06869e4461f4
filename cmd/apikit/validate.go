package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/apikit/app"
	"github.com/artpar/apikit/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and build every spec",
	Long: `Validate the apikit configuration file.

Checks:
  - YAML syntax is valid and references resolve
  - Schemas compile
  - Every spec builds a gateway (url and method present, select compiles)

Specs that only serve as parents may omit url or method; use
--allow-incomplete to report them without failing.

With --watch the command keeps running, reloads the file when it changes
or on SIGHUP, and reports every spec again after each reload.

Examples:
  apikit validate
  apikit validate --config /etc/apikit/apikit.yaml
  apikit validate --watch`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

var (
	validateAllowIncomplete bool
	validateWatch           bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateAllowIncomplete, "allow-incomplete", false, "do not fail on specs that cannot build")
	validateCmd.Flags().BoolVarP(&validateWatch, "watch", "w", false, "keep validating as the config file changes")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Fprintf(out, "  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Fprintf(out, "  %s Config file exists\n", checkMark)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(out, "  %s Config syntax valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config syntax valid\n", checkMark)

	logger := newLogger(config.LoggingConfig{Level: "error", Format: cfg.Logging.Format}, cmd.ErrOrStderr())
	reg, err := app.NewRegistry(cfg, app.RegistryOptions{
		BaseDir:    filepath.Dir(cfgFile),
		Logger:     logger,
		Registerer: prometheus.NewRegistry(),
	})
	if err != nil {
		fmt.Fprintf(out, "  %s Schemas and sessions build\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	defer reg.Close()
	fmt.Fprintf(out, "  %s Schemas: %d, sessions: %d, cache: %s\n", checkMark, len(cfg.Schemas), len(cfg.Sessions), cfg.Cache.Driver)

	failures := reportSpecs(cmd.Context(), out, reg)
	if validateWatch {
		return watchConfig(cmd, reg, logger)
	}

	fmt.Fprintln(out)
	if len(failures) > 0 && !validateAllowIncomplete {
		names := make([]string, 0, len(failures))
		for n := range failures {
			names = append(names, n)
		}
		sort.Strings(names)
		return fmt.Errorf("%d spec(s) cannot be built: %v", len(failures), names)
	}
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}

// reportSpecs builds every spec of reg and prints one line per spec.
func reportSpecs(ctx context.Context, out io.Writer, reg *app.Registry) map[string]error {
	failures := reg.Check(ctx)
	for _, name := range reg.Names() {
		if err, failed := failures[name]; failed {
			fmt.Fprintf(out, "  %s Spec %s\n", crossMark, name)
			fmt.Fprintf(out, "      Error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "  %s Spec %s\n", checkMark, name)
	}
	return failures
}

// watchConfig hot-reloads the config into reg until the command's context
// ends or the process is interrupted.
func watchConfig(cmd *cobra.Command, reg *app.Registry, logger zerolog.Logger) error {
	out := cmd.OutOrStdout()

	h, err := config.NewHolder(cfgFile, logger)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	defer h.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Registry.Watch registers first, so the report sees the applied specs.
	reg.Watch(h)
	var mu sync.Mutex
	h.OnChange(func(*config.Config) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, "\nReloaded %s\n", h.Path())
		reportSpecs(ctx, out, reg)
	})

	if err := h.WatchFile(); err != nil {
		return err
	}
	h.WatchSignals()

	mu.Lock()
	fmt.Fprintf(out, "\nWatching %s for changes (Ctrl+C to stop)\n", h.Path())
	mu.Unlock()

	<-ctx.Done()
	return nil
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
