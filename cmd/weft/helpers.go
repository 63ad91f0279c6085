package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kingrea/weft/internal/config"
	"github.com/kingrea/weft/internal/executor"
	"github.com/kingrea/weft/internal/workflow"
	"github.com/kingrea/weft/internal/workflow/engine"
	"github.com/kingrea/weft/internal/workflow/plan"
)

type rootOptions struct {
	projectDir string
}

// project resolves the project directory to an absolute path.
func (o *rootOptions) project() (string, error) {
	dir := strings.TrimSpace(o.projectDir)
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("determine working directory: %w", err)
		}
		dir = cwd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve project dir: %w", err)
	}
	return abs, nil
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	dir, err := o.project()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// pipelinePath returns the explicit pipeline file or the default one inside
// the project directory.
func pipelinePath(cfg *config.Config, explicit string) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	return filepath.Join(cfg.ProjectDir, workflow.DefaultDefinitionFile)
}

type engineSettings struct {
	expansions []workflow.Expansion
	logOutput  io.Writer
	metrics    *engine.Metrics
}

func newEngine(cfg *config.Config, settings engineSettings) (*engine.Engine, error) {
	opts := []engine.Option{
		engine.FromConfig(cfg),
		engine.WithHooks(plan.Hooks(settings.expansions)...),
	}
	if settings.logOutput != nil {
		opts = append(opts, engine.WithLogMirror(settings.logOutput))
	}
	if settings.metrics != nil {
		opts = append(opts, engine.WithMetrics(settings.metrics))
	}
	return engine.New(cfg.RunsDir(), executor.NewCommand(cfg.Project.Executor), opts...)
}

// metricsServer exposes a private registry over HTTP for the lifetime of a
// run.
type metricsServer struct {
	registry *prometheus.Registry
	server   *http.Server
	errs     chan error
}

func startMetrics(addr string) (*metricsServer, *engine.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := engine.NewMetrics(reg)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &metricsServer{
		registry: reg,
		server:   &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		errs:     make(chan error, 1),
	}
	go func() {
		if err := srv.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.errs <- err
		}
		close(srv.errs)
	}()
	return srv, metrics
}

func (m *metricsServer) stop(w io.Writer) {
	if m == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = m.server.Shutdown(ctx)
	if err := <-m.errs; err != nil {
		fmt.Fprintf(w, "metrics server: %v\n", err)
	}
}
