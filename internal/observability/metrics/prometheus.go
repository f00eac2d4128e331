package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/synthcert/internal/observability/health"
	"github.com/inferloop/synthcert/pkg/constants"
)

// PrometheusMetrics records privacy and evaluation measurements on its own
// registry. It implements interfaces.MetricsRecorder.
type PrometheusMetrics struct {
	logger   *logrus.Logger
	registry *prometheus.Registry
	server   *http.Server
	config   *PrometheusConfig
	mu       sync.Mutex

	configValidationsTotal *prometheus.CounterVec
	evaluationsTotal       *prometheus.CounterVec
	evaluationDuration     *prometheus.HistogramVec
	epsilonSpent           prometheus.Histogram
	budgetExceededTotal    prometheus.Counter
	budgetViolationsTotal  prometheus.Counter
	riskAssessmentsTotal   *prometheus.CounterVec
	riskScore              prometheus.Histogram
}

// PrometheusConfig configures Prometheus metrics
type PrometheusConfig struct {
	Enabled    bool   `mapstructure:"enabled" json:"enabled"`
	Addr       string `mapstructure:"addr" json:"addr"`
	Path       string `mapstructure:"path" json:"path"`
	HealthPath string `mapstructure:"health_path" json:"health_path"`
	Namespace  string `mapstructure:"namespace" json:"namespace"`
	Subsystem  string `mapstructure:"subsystem" json:"subsystem"`
}

// NewPrometheusMetrics creates a new Prometheus metrics instance
func NewPrometheusMetrics(config *PrometheusConfig, logger *logrus.Logger) (*PrometheusMetrics, error) {
	if config == nil {
		config = DefaultPrometheusConfig()
	}

	if logger == nil {
		logger = logrus.New()
	}

	pm := &PrometheusMetrics{
		logger:   logger,
		registry: prometheus.NewRegistry(),
		config:   config,
	}

	pm.initializeMetrics()

	if err := pm.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return pm, nil
}

// DefaultPrometheusConfig returns the settings used when none are given
func DefaultPrometheusConfig() *PrometheusConfig {
	return &PrometheusConfig{
		Enabled:    false,
		Addr:       fmt.Sprintf(":%d", constants.DefaultMetricsPort),
		Path:       constants.DefaultMetricsPath,
		HealthPath: constants.DefaultHealthPath,
		Namespace:  "synthcert",
	}
}

// RecordConfigValidation counts a privacy configuration check
func (pm *PrometheusMetrics) RecordConfigValidation(valid bool, overridden bool) {
	pm.configValidationsTotal.WithLabelValues(strconv.FormatBool(valid), strconv.FormatBool(overridden)).Inc()
}

// RecordEvaluation counts one evaluation section and observes its duration
func (pm *PrometheusMetrics) RecordEvaluation(section, status string, duration time.Duration) {
	pm.evaluationsTotal.WithLabelValues(section, status).Inc()
	pm.evaluationDuration.WithLabelValues(section).Observe(duration.Seconds())
}

// RecordPrivacySpend observes the epsilon of a finalized training run
func (pm *PrometheusMetrics) RecordPrivacySpend(epsilon float64, exceeded bool) {
	pm.epsilonSpent.Observe(epsilon)
	if exceeded {
		pm.budgetExceededTotal.Inc()
	}
}

// RecordBudgetViolation counts a run rejected for critical overspend
func (pm *PrometheusMetrics) RecordBudgetViolation() {
	pm.budgetViolationsTotal.Inc()
}

// RecordRiskAssessment counts an assessment by level and observes its score
func (pm *PrometheusMetrics) RecordRiskAssessment(level string, score float64) {
	pm.riskAssessmentsTotal.WithLabelValues(level).Inc()
	pm.riskScore.Observe(score)
}

// Handler routes the metrics and health endpoints. monitor may be nil, in
// which case the health endpoint always reports healthy.
func (pm *PrometheusMetrics) Handler(monitor *health.HealthMonitor) http.Handler {
	router := mux.NewRouter()
	router.Handle(pm.config.Path, promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})).Methods(http.MethodGet)

	router.HandleFunc(pm.config.HealthPath, func(w http.ResponseWriter, r *http.Request) {
		status := &health.SystemStatus{OverallStatus: health.StatusHealthy}
		if monitor != nil {
			status = monitor.Check(r.Context())
		}

		code := http.StatusOK
		if status.OverallStatus == health.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(status); err != nil {
			pm.logger.WithError(err).Error("Failed to write health status")
		}
	}).Methods(http.MethodGet)

	return router
}

// Start serves the metrics endpoint in the background
func (pm *PrometheusMetrics) Start(monitor *health.HealthMonitor) error {
	if !pm.config.Enabled {
		pm.logger.Debug("Prometheus metrics disabled")
		return nil
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.server != nil {
		return nil
	}

	pm.server = &http.Server{
		Addr:              pm.config.Addr,
		Handler:           pm.Handler(monitor),
		ReadHeaderTimeout: 10 * time.Second,
	}

	pm.logger.WithFields(logrus.Fields{
		"addr": pm.config.Addr,
		"path": pm.config.Path,
	}).Info("Starting Prometheus metrics server")

	server := pm.server
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			pm.logger.WithError(err).Error("Prometheus metrics server error")
		}
	}()

	return nil
}

// Stop stops the Prometheus metrics server
func (pm *PrometheusMetrics) Stop(ctx context.Context) error {
	pm.mu.Lock()
	server := pm.server
	pm.server = nil
	pm.mu.Unlock()

	if server == nil {
		return nil
	}

	pm.logger.Info("Stopping Prometheus metrics server")
	return server.Shutdown(ctx)
}

// GetRegistry returns the Prometheus registry
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

func (pm *PrometheusMetrics) initializeMetrics() {
	namespace := pm.config.Namespace
	subsystem := pm.config.Subsystem

	pm.configValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "config_validations_total",
			Help:      "Total number of privacy configuration validations",
		},
		[]string{"valid", "overridden"},
	)

	pm.evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "evaluations_total",
			Help:      "Total number of evaluation sections by outcome",
		},
		[]string{"section", "status"},
	)

	pm.evaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "evaluation_duration_seconds",
			Help:      "Evaluation section duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"section"},
	)

	pm.epsilonSpent = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "privacy_epsilon_spent",
			Help:      "Epsilon spent by finalized training runs",
			Buckets:   []float64{0.1, 0.5, 1, 2, 3, 5, 10, 20, 50},
		},
	)

	pm.budgetExceededTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "privacy_budget_exceeded_total",
			Help:      "Total number of finalized runs that spent more than their target epsilon",
		},
	)

	pm.budgetViolationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "privacy_budget_violations_total",
			Help:      "Total number of runs rejected for critical overspend",
		},
	)

	pm.riskAssessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "risk_assessments_total",
			Help:      "Total number of risk assessments by level",
		},
		[]string{"level"},
	)

	pm.riskScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "risk_score",
			Help:      "Overall risk score of assessed datasets",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		},
	)
}

func (pm *PrometheusMetrics) registerMetrics() error {
	metrics := []prometheus.Collector{
		pm.configValidationsTotal,
		pm.evaluationsTotal,
		pm.evaluationDuration,
		pm.epsilonSpent,
		pm.budgetExceededTotal,
		pm.budgetViolationsTotal,
		pm.riskAssessmentsTotal,
		pm.riskScore,
	}

	for _, metric := range metrics {
		if err := pm.registry.Register(metric); err != nil {
			return fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return nil
}
