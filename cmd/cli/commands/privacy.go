package commands

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inferloop/synthcert/internal/dataset"
	"github.com/inferloop/synthcert/internal/privacy"
	"github.com/inferloop/synthcert/pkg/constants"
	"github.com/inferloop/synthcert/pkg/errors"
	"github.com/inferloop/synthcert/pkg/models"
)

type scheduleFlags struct {
	DatasetSize     int
	Epochs          int
	BatchSize       int
	TargetEpsilon   float64
	TargetDelta     float64
	MaxGradNorm     float64
	NoiseMultiplier float64
}

func (f *scheduleFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.DatasetSize, "dataset-size", 0, "Number of training records (required)")
	cmd.Flags().IntVar(&f.Epochs, "epochs", 0, "Training epochs (required)")
	cmd.Flags().IntVar(&f.BatchSize, "batch-size", 0, "Batch size (required)")
	cmd.Flags().Float64Var(&f.TargetEpsilon, "epsilon", constants.DefaultEpsilon, "Target epsilon")
	cmd.Flags().Float64Var(&f.TargetDelta, "delta", 0, "Target delta (default 1/dataset-size)")
	cmd.Flags().Float64Var(&f.MaxGradNorm, "max-grad-norm", constants.DefaultMaxGradNorm, "Per-sample gradient clipping norm")
	cmd.Flags().Float64Var(&f.NoiseMultiplier, "noise-multiplier", 0, "Noise multiplier (calibrated when zero)")

	cmd.MarkFlagRequired("dataset-size")
	cmd.MarkFlagRequired("epochs")
	cmd.MarkFlagRequired("batch-size")
}

func (f *scheduleFlags) privacyConfig() models.PrivacyConfig {
	cfg := models.PrivacyConfig{
		Epochs:        f.Epochs,
		BatchSize:     f.BatchSize,
		DatasetSize:   f.DatasetSize,
		TargetEpsilon: f.TargetEpsilon,
		TargetDelta:   f.TargetDelta,
		MaxGradNorm:   f.MaxGradNorm,
	}
	if f.NoiseMultiplier > 0 {
		nm := f.NoiseMultiplier
		cfg.NoiseMultiplier = &nm
	}
	return cfg
}

type ValidateConfigOptions struct {
	scheduleFlags
	Override       bool
	OverrideReason string
	OutputFile     string
}

func NewValidateConfigCmd(app *App) *cobra.Command {
	opts := &ValidateConfigOptions{}

	cmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Check whether a DP training configuration can meet its guarantee",
		Example: `  # Check a typical DP-SGD schedule
  synthcert validate-config --dataset-size 60000 --epochs 10 --batch-size 256 --epsilon 3

  # Accept a rejected configuration with a recorded reason
  synthcert validate-config --dataset-size 500 --epochs 100 --batch-size 500 \
    --override --override-reason "approved by privacy review"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidateConfig(cmd, app, opts)
		},
	}

	opts.register(cmd)
	cmd.Flags().BoolVar(&opts.Override, "override", false, "Accept blocking findings")
	cmd.Flags().StringVar(&opts.OverrideReason, "override-reason", "", "Reason recorded with an override")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "-", "Output file (- for stdout)")

	return cmd
}

func runValidateConfig(cmd *cobra.Command, app *App, opts *ValidateConfigOptions) error {
	req := privacy.RequestFromConfig(opts.privacyConfig())
	req.Override = opts.Override
	req.OverrideReason = opts.OverrideReason

	result := privacy.ValidateConfig(req, app.Config.Validator)
	app.Metrics.RecordConfigValidation(result.IsValid, result.Overridden)

	app.Logger.WithFields(logrus.Fields{
		"valid":      result.IsValid,
		"errors":     len(result.Errors),
		"warnings":   len(result.Warnings),
		"overridden": result.Overridden,
	}).Info("Privacy configuration validated")

	if err := writeJSON(cmd.OutOrStdout(), opts.OutputFile, result); err != nil {
		return err
	}
	return result.Err()
}

type CalibrateOptions struct {
	scheduleFlags
	OutputFile string
}

// CalibrationResult is the output of the calibrate command
type CalibrationResult struct {
	NoiseMultiplier float64               `json:"noise_multiplier,omitempty"`
	Steps           int                   `json:"steps"`
	SamplingRate    float64               `json:"sampling_rate"`
	TargetEpsilon   float64               `json:"target_epsilon"`
	TargetDelta     float64               `json:"target_delta"`
	Feasible        bool                  `json:"feasible"`
	Reason          string                `json:"reason,omitempty"`
	Alternatives    []errors.ParameterSet `json:"alternatives,omitempty"`
}

func NewCalibrateCmd(app *App) *cobra.Command {
	opts := &CalibrateOptions{}

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Estimate the noise multiplier for a target privacy guarantee",
		Example: `  synthcert calibrate --dataset-size 60000 --epochs 10 --batch-size 256 --epsilon 3 --delta 1e-5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalibrate(cmd, app, opts)
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "-", "Output file (- for stdout)")

	return cmd
}

func runCalibrate(cmd *cobra.Command, app *App, opts *CalibrateOptions) error {
	cfg := opts.privacyConfig()
	if err := cfg.Check(); err != nil {
		return err
	}

	result := &CalibrationResult{
		Steps:         cfg.TotalSteps(),
		SamplingRate:  cfg.SamplingRate(),
		TargetEpsilon: cfg.TargetEpsilon,
		TargetDelta:   cfg.EffectiveDelta(),
	}

	noise, calErr := privacy.CalibrateNoiseForConfig(cfg)
	if calErr == nil {
		result.Feasible = true
		result.NoiseMultiplier = noise
		app.Logger.WithFields(logrus.Fields{
			"noise_multiplier": noise,
			"steps":            result.Steps,
		}).Info("Noise calibrated")
	} else {
		var infeasible *errors.InfeasibleConfigurationError
		if !errors.As(calErr, &infeasible) {
			return calErr
		}
		result.Reason = infeasible.Message
		result.Alternatives = infeasible.Alternatives
		app.Logger.WithField("alternatives", len(infeasible.Alternatives)).Warn("Configuration is infeasible")
	}

	if err := writeJSON(cmd.OutOrStdout(), opts.OutputFile, result); err != nil {
		return err
	}
	return calErr
}

type AccountOptions struct {
	scheduleFlags
	RunID      string
	StepsFile  string
	Store      bool
	OutputFile string
}

func NewAccountCmd(app *App) *cobra.Command {
	opts := &AccountOptions{}

	cmd := &cobra.Command{
		Use:   "account",
		Short: "Account the privacy spend of a training run and report it",
		Long: `Replays a training schedule through the RDP accountant, freezes the
resulting spend and prints a privacy report. Without --steps-file the
configured schedule is replayed at a fixed noise multiplier; with it, every
row (noise_multiplier, sampling_rate) is one optimizer step.`,
		Example: `  # Account the full schedule at a calibrated noise multiplier
  synthcert account --dataset-size 60000 --epochs 10 --batch-size 256 --epsilon 3

  # Account a recorded schedule and keep the run
  synthcert account --dataset-size 60000 --epochs 10 --batch-size 256 \
    --steps-file steps.csv --run-id run-42 --store`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccount(cmd, app, opts)
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "Run identifier (generated when empty)")
	cmd.Flags().StringVar(&opts.StepsFile, "steps-file", "", "CSV of recorded steps with noise_multiplier and sampling_rate columns")
	cmd.Flags().BoolVar(&opts.Store, "store", false, "Save the finalized run to the configured storage")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "-", "Output file (- for stdout)")

	return cmd
}

func runAccount(cmd *cobra.Command, app *App, opts *AccountOptions) error {
	ctx := cmd.Context()
	cfg := opts.privacyConfig()

	budget, err := privacy.NewTrainingBudget(cfg, app.Config.Budget, app.Logger,
		privacy.WithMetrics(app.Metrics),
		privacy.WithRunID(opts.RunID))
	if err != nil {
		return err
	}

	metadata := map[string]interface{}{"run_id": budget.ID()}
	if opts.StepsFile != "" {
		steps, err := loadSteps(opts.StepsFile)
		if err != nil {
			return err
		}
		for _, step := range steps {
			if err := budget.Record(step); err != nil {
				return err
			}
		}
		metadata["steps_file"] = opts.StepsFile
	} else {
		noise, err := privacy.CalibrateNoiseForConfig(cfg)
		if err != nil {
			return err
		}
		if err := budget.RecordSchedule(noise); err != nil {
			return err
		}
		metadata["noise_multiplier"] = noise
	}

	spend, finalizeErr := budget.Finalize()
	if spend == nil {
		return finalizeErr
	}

	if opts.Store {
		store, err := app.RunStore(ctx)
		if err != nil {
			return err
		}
		if err := store.SaveRun(ctx, budget.Run()); err != nil {
			return err
		}
		app.Logger.WithField("run_id", budget.ID()).Info("Training run stored")
	}

	report := privacy.BuildPrivacyReport(spend, cfg, metadata)
	if err := writeJSON(cmd.OutOrStdout(), opts.OutputFile, report); err != nil {
		return err
	}
	return finalizeErr
}

// loadSteps reads one training step per CSV row
func loadSteps(path string) ([]models.TrainingStep, error) {
	frame, err := dataset.LoadCSV(path, dataset.DefaultCSVOptions())
	if err != nil {
		return nil, err
	}

	noise, ok := frame.Column("noise_multiplier")
	if !ok || noise.Kind != dataset.KindNumeric {
		return nil, fmt.Errorf("%s: numeric column noise_multiplier is required", path)
	}
	rate, ok := frame.Column("sampling_rate")
	if !ok || rate.Kind != dataset.KindNumeric {
		return nil, fmt.Errorf("%s: numeric column sampling_rate is required", path)
	}

	steps := make([]models.TrainingStep, frame.Rows())
	for i := range steps {
		if math.IsNaN(noise.Numeric[i]) || math.IsNaN(rate.Numeric[i]) {
			return nil, fmt.Errorf("%s: row %d has a missing value", path, i+1)
		}
		steps[i] = models.TrainingStep{NoiseMultiplier: noise.Numeric[i], SamplingRate: rate.Numeric[i]}
	}
	return steps, nil
}
