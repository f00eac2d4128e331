package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/inferloop/synthcert/internal/observability/metrics"
	"github.com/inferloop/synthcert/internal/privacy"
	"github.com/inferloop/synthcert/internal/storage"
	"github.com/inferloop/synthcert/internal/validation"
	"github.com/inferloop/synthcert/pkg/constants"
)

// EnvPrefix is the prefix of every environment override, e.g.
// SYNTHCERT_LOG_LEVEL=debug
const EnvPrefix = "SYNTHCERT"

type CLIConfig struct {
	Log        LogConfig                `mapstructure:"log"`
	Validator  privacy.ValidatorLimits  `mapstructure:"validator"`
	Budget     privacy.BudgetPolicy     `mapstructure:"budget"`
	Evaluation validation.EngineConfig  `mapstructure:"evaluation"`
	Risk       RiskConfig               `mapstructure:"risk"`
	Storage    storage.Config           `mapstructure:"storage"`
	Metrics    metrics.PrometheusConfig `mapstructure:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RiskConfig struct {
	PrivacyWeight float64 `mapstructure:"privacy_weight"`
}

// Default returns the configuration used when no file or environment
// override is present
func Default() *CLIConfig {
	return &CLIConfig{
		Log: LogConfig{
			Level:  constants.DefaultLogLevel,
			Format: constants.DefaultLogFormat,
		},
		Validator: privacy.DefaultValidatorLimits(),
		Budget:    privacy.DefaultBudgetPolicy(),
		Evaluation: validation.EngineConfig{
			Sections: []string{
				constants.SectionStatistical,
				constants.SectionMLUtility,
				constants.SectionPrivacy,
			},
			Timeout: constants.DefaultEvaluationTimeout,
		},
		Risk:    RiskConfig{PrivacyWeight: constants.DefaultPrivacyWeight},
		Storage: storage.Config{Type: constants.StorageTypeMemory},
		Metrics: *metrics.DefaultPrometheusConfig(),
	}
}

// LoadConfig reads cfgFile, or $HOME/.synthcert.yaml when it is empty, on
// top of the defaults. A missing default file is not an error.
func LoadConfig(v *viper.Viper, cfgFile string) (*CLIConfig, error) {
	config := Default()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName(".synthcert")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys must be known to viper for environment overrides to apply
	v.SetDefault("log.level", config.Log.Level)
	v.SetDefault("log.format", config.Log.Format)
	v.SetDefault("risk.privacy_weight", config.Risk.PrivacyWeight)
	v.SetDefault("budget.violation_factor", config.Budget.ViolationFactor)
	v.SetDefault("evaluation.timeout", config.Evaluation.Timeout)
	v.SetDefault("storage.type", config.Storage.Type)
	v.SetDefault("metrics.enabled", config.Metrics.Enabled)
	v.SetDefault("metrics.addr", config.Metrics.Addr)
	v.SetDefault("metrics.path", config.Metrics.Path)
	v.SetDefault("metrics.health_path", config.Metrics.HealthPath)
	v.SetDefault("metrics.namespace", config.Metrics.Namespace)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects settings that no command can run with
func (c *CLIConfig) Validate() error {
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	if c.Risk.PrivacyWeight < 0 || c.Risk.PrivacyWeight > 1 {
		return fmt.Errorf("risk.privacy_weight must be within [0, 1], got %g", c.Risk.PrivacyWeight)
	}
	if c.Budget.Override && c.Budget.OverrideReason == "" {
		return fmt.Errorf("budget.override requires budget.override_reason")
	}
	return nil
}
