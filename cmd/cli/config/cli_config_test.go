package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/synthcert/pkg/constants"
)

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synthcert.yaml")
	content := `
log:
  level: debug
  format: json
risk:
  privacy_weight: 0.5
evaluation:
  timeout: 2m
  sections: [privacy, ml_utility, statistical_similarity]
storage:
  type: redis
  redis:
    addr: cache:6379
    ttl: 12h
metrics:
  enabled: true
  addr: ":9191"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 0.5, cfg.Risk.PrivacyWeight)
	assert.Equal(t, 2*time.Minute, cfg.Evaluation.Timeout)
	assert.Equal(t, []string{constants.SectionPrivacy, constants.SectionMLUtility, constants.SectionStatistical}, cfg.Evaluation.Sections)
	assert.Equal(t, constants.StorageTypeRedis, cfg.Storage.Type)
	require.NotNil(t, cfg.Storage.Redis)
	assert.Equal(t, "cache:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, 12*time.Hour, cfg.Storage.Redis.TTL)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9191", cfg.Metrics.Addr)

	// untouched sections keep their defaults
	assert.Equal(t, Default().Validator, cfg.Validator)
	assert.Equal(t, constants.DefaultMetricsPath, cfg.Metrics.Path)
}

func TestLoadConfigEnvironmentOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synthcert.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0o644))
	t.Setenv("SYNTHCERT_LOG_LEVEL", "warn")
	t.Setenv("SYNTHCERT_RISK_PRIVACY_WEIGHT", "0.8")

	cfg, err := LoadConfig(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 0.8, cfg.Risk.PrivacyWeight)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Log.Format = "xml"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Risk.PrivacyWeight = 1.5
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Budget.Override = true
	assert.Error(t, cfg.Validate())
}
