package storage

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/synthcert/internal/storage/implementations/redis"
	"github.com/inferloop/synthcert/internal/storage/implementations/s3"
	"github.com/inferloop/synthcert/pkg/constants"
	"github.com/inferloop/synthcert/pkg/errors"
	"github.com/inferloop/synthcert/pkg/interfaces"
	"github.com/inferloop/synthcert/pkg/models"
)

func TestFactorySupportedTypes(t *testing.T) {
	factory := NewFactory(logrus.New())

	assert.Equal(t, []string{"memory", "postgres", "redis", "s3"}, factory.GetSupportedTypes())
	assert.True(t, factory.IsSupported(constants.StorageTypeRedis))
	assert.False(t, factory.IsSupported("influxdb"))
}

func TestFactoryRejectsUnknownType(t *testing.T) {
	factory := NewFactory(logrus.New())

	_, err := factory.CreateStorage(&Config{Type: "influxdb"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")

	_, err = factory.CreateStorage(nil)
	assert.Error(t, err)
}

func TestFactoryRegisterStorage(t *testing.T) {
	factory := NewFactory(logrus.New())

	assert.Error(t, factory.RegisterStorage("", func(*Config) (interfaces.Storage, error) { return nil, nil }))
	assert.Error(t, factory.RegisterStorage("custom", nil))

	require.NoError(t, factory.RegisterStorage("custom", func(*Config) (interfaces.Storage, error) {
		return NewMemoryStorage(nil), nil
	}))
	store, err := factory.CreateRunStore(&Config{Type: "custom"})
	require.NoError(t, err)
	assert.NotNil(t, store)
}

func TestFactoryBackendCapabilities(t *testing.T) {
	factory := NewFactory(logrus.New())

	_, err := factory.CreateReportStore(&Config{Type: constants.StorageTypeS3, S3: &s3.S3Config{Bucket: "reports"}})
	require.NoError(t, err)

	_, err = factory.CreateRunStore(&Config{Type: constants.StorageTypeS3, S3: &s3.S3Config{Bucket: "reports"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot store training runs")

	_, err = factory.CreateRunStore(&Config{Type: constants.StorageTypePostgres})
	assert.Error(t, err)
}

func TestFactoryRedisDefaults(t *testing.T) {
	factory := NewFactory(logrus.New())
	config := &Config{Type: constants.StorageTypeRedis, Redis: &redis.RedisConfig{TTL: time.Hour}}

	store, err := factory.CreateRunStore(config)
	require.NoError(t, err)
	assert.NotNil(t, store)
	assert.Equal(t, "localhost:6379", config.Redis.Addr)
	assert.Equal(t, "synthcert", config.Redis.KeyPrefix)
}

func newMemory(t *testing.T) *MemoryStorage {
	t.Helper()
	store := NewMemoryStorage(logrus.New())
	require.NoError(t, store.Connect(context.Background()))
	return store
}

func TestMemoryStorageReports(t *testing.T) {
	store := newMemory(t)
	ctx := context.Background()

	report := &models.EvaluationReport{ID: "r-1", RealRows: 10, SyntheticRows: 12}
	require.NoError(t, store.SaveReport(ctx, report))

	// mutating the caller's copy does not reach the stored record
	report.RealRows = 99
	got, err := store.GetReport(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, 10, got.RealRows)

	err = store.SaveReport(ctx, report)
	assert.True(t, errors.IsDuplicateRecord(err))

	_, err = store.GetReport(ctx, "nope")
	assert.True(t, errors.IsNotFound(err))

	assert.Error(t, store.SaveReport(ctx, &models.EvaluationReport{}))
}

func TestMemoryStorageAssessments(t *testing.T) {
	store := newMemory(t)
	ctx := context.Background()

	assessment := &models.RiskAssessment{ID: "a-1", OverallScore: 28, RiskLevel: constants.RiskLevelLow, SafeForRelease: true}
	require.NoError(t, store.SaveAssessment(ctx, assessment))

	got, err := store.GetAssessment(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, assessment, got)
	assert.True(t, errors.IsDuplicateRecord(store.SaveAssessment(ctx, assessment)))
}

func TestMemoryStorageRunsFreezeOnFinalize(t *testing.T) {
	store := newMemory(t)
	ctx := context.Background()

	run := &models.TrainingRun{ID: "run-1", Status: "training"}
	require.NoError(t, store.SaveRun(ctx, run))

	run.Status = "training"
	run.Spend = &models.PrivacySpend{Epsilon: 0.4}
	require.NoError(t, store.SaveRun(ctx, run))

	finalized := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	run.Status = "completed"
	run.FinalizedAt = &finalized
	run.Spend = &models.PrivacySpend{Epsilon: 0.8}
	require.NoError(t, store.SaveRun(ctx, run))

	run.Spend = &models.PrivacySpend{Epsilon: 0.1}
	err := store.SaveRun(ctx, run)
	assert.True(t, errors.IsRunFinalized(err))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 0.8, got.Spend.Epsilon)
	assert.Equal(t, "completed", got.Status)
}

func TestMemoryStorageConnection(t *testing.T) {
	store := NewMemoryStorage(nil)
	ctx := context.Background()

	assert.Error(t, store.Ping(ctx))
	assert.Error(t, store.SaveReport(ctx, &models.EvaluationReport{ID: "x"}))

	require.NoError(t, store.Connect(ctx))
	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Close())
	assert.Error(t, store.Ping(ctx))
}
