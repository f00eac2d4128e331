package validation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/synthcert/pkg/constants"
	"github.com/inferloop/synthcert/pkg/interfaces"
	"github.com/inferloop/synthcert/pkg/models"
)

type recordingMetrics struct {
	interfaces.NopRecorder
	mu       sync.Mutex
	sections map[string]string
}

func (r *recordingMetrics) RecordEvaluation(section, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sections == nil {
		r.sections = make(map[string]string)
	}
	r.sections[section] = status
}

func testEngineConfig() *EngineConfig {
	return &EngineConfig{
		Timeout:     time.Minute,
		Statistical: getDefaultStatisticalEvaluatorConfig(),
		Utility:     &UtilityEvaluatorConfig{Forest: testForest(), Seed: 42},
		Privacy:     &PrivacyEvaluatorConfig{Forest: testForest(), Workers: 2, Seed: 42},
	}
}

func TestEngineEvaluate(t *testing.T) {
	recorder := &recordingMetrics{}
	engine := NewEngine(testEngineConfig(), logrus.New(), recorder)

	realData := customers(t, 120, 1)
	synthetic := customers(t, 120, 2)
	spend := &models.PrivacySpend{Epsilon: 1.2, Delta: 1e-5, TargetEpsilon: 1}

	report, err := engine.Evaluate(context.Background(), &EvaluationRequest{
		Real:             realData,
		Synthetic:        synthetic,
		TargetColumn:     "label",
		SensitiveColumns: []string{"segment"},
		PrivacySpend:     spend,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, report.ID)
	assert.False(t, report.CreatedAt.IsZero())
	assert.Equal(t, 120, report.RealRows)
	assert.Equal(t, 120, report.SyntheticRows)
	assert.Same(t, spend, report.DifferentialPrivacy)

	require.NotNil(t, report.StatisticalSimilarity)
	assert.True(t, report.StatisticalSimilarity.IsCompleted())
	require.NotNil(t, report.MLUtility)
	assert.True(t, report.MLUtility.IsCompleted())
	require.NotNil(t, report.Privacy)
	assert.True(t, report.Privacy.IsCompleted())
	assert.NotNil(t, report.Privacy.Tests.AttributeInference)

	assert.Equal(t, map[string]string{
		constants.SectionStatistical: constants.StatusCompleted,
		constants.SectionMLUtility:   constants.StatusCompleted,
		constants.SectionPrivacy:     constants.StatusCompleted,
	}, recorder.sections)
}

func TestEngineSkipsUtilityWithoutTarget(t *testing.T) {
	engine := NewEngine(testEngineConfig(), logrus.New(), nil)
	realData := customers(t, 40, 1)

	report, err := engine.Evaluate(context.Background(), &EvaluationRequest{Real: realData, Synthetic: realData})
	require.NoError(t, err)

	require.NotNil(t, report.MLUtility)
	assert.Equal(t, constants.StatusSkipped, report.MLUtility.Status)
	assert.Equal(t, constants.LevelUnknown, report.MLUtility.Summary.QualityLevel)
	assert.Nil(t, report.Privacy.Tests.AttributeInference)
	assert.Nil(t, report.DifferentialPrivacy)
}

func TestEngineReportsAreNotReused(t *testing.T) {
	engine := NewEngine(testEngineConfig(), logrus.New(), nil)
	realData := customers(t, 30, 1)
	req := &EvaluationRequest{Real: realData, Synthetic: realData}

	first, err := engine.Evaluate(context.Background(), req)
	require.NoError(t, err)
	second, err := engine.Evaluate(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestEngineSelectedSections(t *testing.T) {
	config := testEngineConfig()
	config.Sections = []string{constants.SectionStatistical, "bogus"}
	recorder := &recordingMetrics{}
	engine := NewEngine(config, logrus.New(), recorder)

	realData := customers(t, 30, 1)
	report, err := engine.Evaluate(context.Background(), &EvaluationRequest{Real: realData, Synthetic: realData})
	require.NoError(t, err)

	assert.NotNil(t, report.StatisticalSimilarity)
	assert.Nil(t, report.MLUtility)
	assert.Nil(t, report.Privacy)
	assert.Equal(t, constants.StatusError, recorder.sections["bogus"])
}

func TestEngineCancelledContext(t *testing.T) {
	engine := NewEngine(testEngineConfig(), logrus.New(), nil)
	realData := customers(t, 60, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := engine.Evaluate(ctx, &EvaluationRequest{Real: realData, Synthetic: realData, TargetColumn: "label"})
	require.NoError(t, err)

	assert.Equal(t, constants.StatusSkipped, report.Privacy.Tests.DistanceToClosestRecord.Status)
	assert.Equal(t, constants.StatusSkipped, report.Privacy.Tests.MembershipInference.Status)
	assert.Equal(t, constants.StatusSkipped, report.MLUtility.Models.Baseline.Status)
	assert.Equal(t, constants.LevelUnknown, report.Privacy.Summary.OverallPrivacyLevel)
}

func TestEngineRejectsMissingData(t *testing.T) {
	engine := NewEngine(nil, logrus.New(), nil)

	_, err := engine.Evaluate(context.Background(), nil)
	assert.Error(t, err)

	_, err = engine.Evaluate(context.Background(), &EvaluationRequest{Real: customers(t, 5, 1)})
	assert.Error(t, err)
}
