// Package commands implements CLI command handlers for codedup.
package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/codedup/internal/config"
	"github.com/Sumatoshi-tech/codedup/internal/observability"
	"github.com/Sumatoshi-tech/codedup/pkg/engine"
	"github.com/Sumatoshi-tech/codedup/pkg/extract"
	"github.com/Sumatoshi-tech/codedup/pkg/store"
)

// metricsReadTimeout bounds slow scrape clients.
const metricsReadTimeout = 10 * time.Second

// Globals holds flags shared by every subcommand.
type Globals struct {
	ConfigPath string
	Verbose    bool
	Quiet      bool
}

// logger builds the stderr logger for the selected verbosity.
func (g *Globals) logger() *slog.Logger {
	if g.Quiet {
		return slog.New(slog.DiscardHandler)
	}

	level := slog.LevelInfo
	if g.Verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// runtime is everything one verb invocation needs.
type runtime struct {
	cfg     *config.Config
	store   *store.Badger
	engine  *engine.Engine
	log     *slog.Logger
	metrics *http.Server
}

// newRuntime loads configuration, opens the store, and assembles the engine.
// overrides mutate the loaded config from command flags before validation of
// derived options.
func newRuntime(globals *Globals, overrides func(cfg *config.Config)) (*runtime, error) {
	cfg, err := config.LoadConfig(globals.ConfigPath)
	if err != nil {
		return nil, err
	}

	if overrides != nil {
		overrides(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts, err := cfg.EngineOptions()
	if err != nil {
		return nil, err
	}

	log := globals.logger()

	st, err := store.Open(cfg.Store.Path, log)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, store: st, log: log}

	var metrics engine.Metrics

	if cfg.Metrics.Addr != "" {
		metrics, err = rt.startMetrics(cfg.Metrics.Addr)
		if err != nil {
			_ = st.Close()

			return nil, err
		}
	}

	rt.engine, err = engine.New(st, extract.NewAuto(), opts, log, metrics)
	if err != nil {
		_ = st.Close()

		return nil, err
	}

	return rt, nil
}

// startMetrics serves the Prometheus scrape endpoint in the background.
func (rt *runtime) startMetrics(addr string) (engine.Metrics, error) {
	meter, handler, err := observability.NewPrometheus()
	if err != nil {
		return nil, err
	}

	metrics, err := observability.NewMetrics(meter)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	rt.metrics = &http.Server{Addr: addr, Handler: mux, ReadTimeout: metricsReadTimeout}

	go func() {
		serveErr := rt.metrics.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			rt.log.Warn("metrics endpoint failed", "addr", addr, "error", serveErr)
		}
	}()

	rt.log.Info("serving metrics", "addr", addr)

	return metrics, nil
}

// close releases the store and stops the metrics endpoint.
func (rt *runtime) close() error {
	if rt.metrics != nil {
		_ = rt.metrics.Close()
	}

	if err := rt.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}

	return nil
}

// applyChanged applies a flag override only when the user set the flag.
func applyChanged(cmd *cobra.Command, name string, apply func()) {
	if cmd.Flags().Changed(name) {
		apply()
	}
}
