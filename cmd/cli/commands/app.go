package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/synthcert/cmd/cli/config"
	"github.com/inferloop/synthcert/internal/observability/health"
	"github.com/inferloop/synthcert/internal/observability/metrics"
	"github.com/inferloop/synthcert/internal/storage"
	"github.com/inferloop/synthcert/pkg/interfaces"
)

// App carries what every command shares: configuration, logger, metrics and
// a lazily connected storage backend
type App struct {
	Config  *config.CLIConfig
	Logger  *logrus.Logger
	Metrics interfaces.MetricsRecorder

	prom    *metrics.PrometheusMetrics
	monitor *health.HealthMonitor
	factory *storage.Factory

	mu      sync.Mutex
	backend interfaces.Storage
}

// NewApp wires the shared services from cfg
func NewApp(cfg *config.CLIConfig, logger *logrus.Logger) (*App, error) {
	app := &App{}
	if err := app.Init(cfg, logger); err != nil {
		return nil, err
	}
	return app, nil
}

// Init wires an App in place. The root command calls it once the
// configuration has been read.
func (a *App) Init(cfg *config.CLIConfig, logger *logrus.Logger) error {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logrus.New()
	}

	prom, err := metrics.NewPrometheusMetrics(&cfg.Metrics, logger)
	if err != nil {
		return err
	}

	a.Config = cfg
	a.Logger = logger
	a.Metrics = prom
	a.prom = prom
	a.monitor = health.NewHealthMonitor(0, logger)
	a.factory = storage.NewFactory(logger)
	return nil
}

// Start serves metrics when they are enabled
func (a *App) Start() error {
	return a.prom.Start(a.monitor)
}

// Shutdown stops the metrics server and closes the storage backend
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := a.prom.Stop(ctx); err != nil {
		firstErr = err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.backend != nil {
		if err := a.backend.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		a.backend = nil
	}
	return firstErr
}

func (a *App) connect(ctx context.Context) (interfaces.Storage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.backend != nil {
		return a.backend, nil
	}

	backend, err := a.factory.CreateStorage(&a.Config.Storage)
	if err != nil {
		return nil, err
	}
	if err := backend.Connect(ctx); err != nil {
		return nil, err
	}

	a.monitor.RegisterCheck("storage", backend.Ping, true)
	a.backend = backend
	return backend, nil
}

// ReportStore returns the configured backend as a report store
func (a *App) ReportStore(ctx context.Context) (interfaces.ReportStore, error) {
	backend, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	store, ok := backend.(interfaces.ReportStore)
	if !ok {
		return nil, fmt.Errorf("storage type %q cannot store evaluation reports", a.Config.Storage.Type)
	}
	return store, nil
}

// RunStore returns the configured backend as a run store
func (a *App) RunStore(ctx context.Context) (interfaces.RunStore, error) {
	backend, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	store, ok := backend.(interfaces.RunStore)
	if !ok {
		return nil, fmt.Errorf("storage type %q cannot store training runs", a.Config.Storage.Type)
	}
	return store, nil
}

// writeJSON writes v indented to path, or to out when path is "-" or empty
func writeJSON(out io.Writer, path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	data = append(data, '\n')

	if path == "" || path == "-" {
		_, err = out.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
