package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/synthcert/internal/observability/health"
	"github.com/inferloop/synthcert/pkg/interfaces"
)

var _ interfaces.MetricsRecorder = (*PrometheusMetrics)(nil)

func newTestMetrics(t *testing.T) *PrometheusMetrics {
	t.Helper()
	pm, err := NewPrometheusMetrics(nil, logrus.New())
	require.NoError(t, err)
	return pm
}

func TestRecordEvaluation(t *testing.T) {
	pm := newTestMetrics(t)

	pm.RecordEvaluation("privacy", "completed", 2*time.Second)
	pm.RecordEvaluation("privacy", "completed", time.Second)
	pm.RecordEvaluation("ml_utility", "skipped", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(pm.evaluationsTotal.WithLabelValues("privacy", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.evaluationsTotal.WithLabelValues("ml_utility", "skipped")))
	assert.Equal(t, 2, testutil.CollectAndCount(pm.evaluationDuration))
}

func TestRecordPrivacyMeasurements(t *testing.T) {
	pm := newTestMetrics(t)

	pm.RecordConfigValidation(true, false)
	pm.RecordConfigValidation(false, true)
	pm.RecordPrivacySpend(0.8, false)
	pm.RecordPrivacySpend(4.2, true)
	pm.RecordBudgetViolation()

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.configValidationsTotal.WithLabelValues("true", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.configValidationsTotal.WithLabelValues("false", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.budgetExceededTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.budgetViolationsTotal))
}

func TestRecordRiskAssessment(t *testing.T) {
	pm := newTestMetrics(t)

	pm.RecordRiskAssessment("low", 28)
	pm.RecordRiskAssessment("high", 72)
	pm.RecordRiskAssessment("high", 80)

	assert.Equal(t, 2.0, testutil.ToFloat64(pm.riskAssessmentsTotal.WithLabelValues("high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.riskAssessmentsTotal.WithLabelValues("low")))
}

func TestMetricsEndpoint(t *testing.T) {
	pm := newTestMetrics(t)
	pm.RecordEvaluation("statistical_similarity", "completed", time.Second)

	server := httptest.NewServer(pm.Handler(nil))
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "synthcert_evaluations_total")
	assert.Contains(t, string(body), `section="statistical_similarity"`)
}

func TestHealthEndpoint(t *testing.T) {
	pm := newTestMetrics(t)
	monitor := health.NewHealthMonitor(time.Second, logrus.New())
	monitor.RegisterCheck("storage", func(context.Context) error { return errors.New("down") }, true)

	server := httptest.NewServer(pm.Handler(monitor))
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var status health.SystemStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, health.StatusUnhealthy, status.OverallStatus)
	assert.Equal(t, []string{"storage"}, status.CriticalIssues)

	resp, err = http.Post(server.URL+"/healthz", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStartDisabledIsNoop(t *testing.T) {
	pm := newTestMetrics(t)

	require.NoError(t, pm.Start(nil))
	require.NoError(t, pm.Stop(context.Background()))
}
