package commands

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inferloop/synthcert/internal/dataset"
	"github.com/inferloop/synthcert/internal/risk"
	"github.com/inferloop/synthcert/internal/validation"
	"github.com/inferloop/synthcert/pkg/models"
)

type EvaluateOptions struct {
	RealFile         string
	SyntheticFile    string
	TargetColumn     string
	SensitiveColumns []string
	Categorical      []string
	Sections         []string
	SpendFile        string
	RunID            string
	Store            bool
	Assess           bool
	OutputFile       string
}

func NewEvaluateCmd(app *App) *cobra.Command {
	opts := &EvaluateOptions{}

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate synthetic data against the real data it was trained on",
		Long: `Runs the statistical similarity, ML utility and privacy attack evaluations
and prints the evaluation report. The privacy spend of the training run can
be attached from a JSON file or from a stored run.`,
		Example: `  # Full evaluation with a classification target
  synthcert evaluate --real real.csv --synthetic synth.csv --target churned

  # Attach the stored training run, keep the report and assess it
  synthcert evaluate --real real.csv --synthetic synth.csv --target churned \
    --sensitive income --run-id run-42 --store --assess`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(cmd, app, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.RealFile, "real", "r", "", "Real dataset CSV (required)")
	cmd.Flags().StringVarP(&opts.SyntheticFile, "synthetic", "s", "", "Synthetic dataset CSV (required)")
	cmd.Flags().StringVarP(&opts.TargetColumn, "target", "t", "", "Target column for the ML utility evaluation")
	cmd.Flags().StringSliceVar(&opts.SensitiveColumns, "sensitive", nil, "Columns to attack with attribute inference")
	cmd.Flags().StringSliceVar(&opts.Categorical, "categorical", nil, "Columns to read as categorical even if numeric")
	cmd.Flags().StringSliceVar(&opts.Sections, "sections", nil, "Sections to run (default all)")
	cmd.Flags().StringVar(&opts.SpendFile, "spend", "", "JSON file with the privacy spend of the training run")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "Stored training run whose spend is attached")
	cmd.Flags().BoolVar(&opts.Store, "store", false, "Save the report (and assessment) to the configured storage")
	cmd.Flags().BoolVar(&opts.Assess, "assess", false, "Also compute the risk assessment")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "-", "Output file (- for stdout)")

	cmd.MarkFlagRequired("real")
	cmd.MarkFlagRequired("synthetic")

	return cmd
}

// EvaluationOutput is printed by evaluate; Assessment is set with --assess
type EvaluationOutput struct {
	Report     *models.EvaluationReport `json:"report"`
	Assessment *models.RiskAssessment   `json:"assessment,omitempty"`
}

func runEvaluate(cmd *cobra.Command, app *App, opts *EvaluateOptions) error {
	ctx := cmd.Context()

	if opts.SpendFile != "" && opts.RunID != "" {
		return fmt.Errorf("--spend and --run-id are mutually exclusive")
	}

	csvOpts := dataset.DefaultCSVOptions()
	csvOpts.Categorical = opts.Categorical

	realFrame, err := dataset.LoadCSV(opts.RealFile, csvOpts)
	if err != nil {
		return err
	}
	synthFrame, err := dataset.LoadCSV(opts.SyntheticFile, csvOpts)
	if err != nil {
		return err
	}

	req := &validation.EvaluationRequest{
		Real:             realFrame,
		Synthetic:        synthFrame,
		TargetColumn:     opts.TargetColumn,
		SensitiveColumns: opts.SensitiveColumns,
	}

	switch {
	case opts.SpendFile != "":
		var spend models.PrivacySpend
		if err := readJSON(opts.SpendFile, &spend); err != nil {
			return err
		}
		req.PrivacySpend = &spend
	case opts.RunID != "":
		store, err := app.RunStore(ctx)
		if err != nil {
			return err
		}
		run, err := store.GetRun(ctx, opts.RunID)
		if err != nil {
			return err
		}
		if run.Spend == nil {
			return fmt.Errorf("training run %s has not been finalized", opts.RunID)
		}
		req.PrivacySpend = run.Spend
	}

	engineConfig := app.Config.Evaluation
	if len(opts.Sections) > 0 {
		engineConfig.Sections = opts.Sections
	}

	engine := validation.NewEngine(&engineConfig, app.Logger, app.Metrics)
	report, err := engine.Evaluate(ctx, req)
	if err != nil {
		return err
	}

	out := &EvaluationOutput{Report: report}
	if opts.Assess {
		assessor := risk.NewAssessor(app.Config.Risk.PrivacyWeight, app.Logger, app.Metrics)
		if out.Assessment, err = assessor.Assess(report); err != nil {
			return err
		}
	}

	if opts.Store {
		store, err := app.ReportStore(ctx)
		if err != nil {
			return err
		}
		if err := store.SaveReport(ctx, report); err != nil {
			return err
		}
		if out.Assessment != nil {
			if err := store.SaveAssessment(ctx, out.Assessment); err != nil {
				return err
			}
		}
		app.Logger.WithFields(logrus.Fields{
			"report_id": report.ID,
			"storage":   app.Config.Storage.Type,
		}).Info("Evaluation report stored")
	}

	return writeJSON(cmd.OutOrStdout(), opts.OutputFile, out)
}

type AssessOptions struct {
	ReportFile    string
	ReportID      string
	PrivacyWeight float64
	Store         bool
	OutputFile    string
}

func NewAssessCmd(app *App) *cobra.Command {
	opts := &AssessOptions{}

	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Score the release risk of an evaluation report",
		Example: `  # Assess a report written by evaluate
  synthcert assess --report report.json

  # Weigh privacy and quality equally for a stored report
  synthcert assess --report-id 5f1c... --privacy-weight 0.5 --store`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssess(cmd, app, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ReportFile, "report", "", "Evaluation report JSON file")
	cmd.Flags().StringVar(&opts.ReportID, "report-id", "", "Stored evaluation report ID")
	cmd.Flags().Float64Var(&opts.PrivacyWeight, "privacy-weight", -1, "Weight of privacy risk in [0, 1] (default from config)")
	cmd.Flags().BoolVar(&opts.Store, "store", false, "Save the assessment to the configured storage")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "-", "Output file (- for stdout)")

	return cmd
}

func runAssess(cmd *cobra.Command, app *App, opts *AssessOptions) error {
	ctx := cmd.Context()

	if (opts.ReportFile == "") == (opts.ReportID == "") {
		return fmt.Errorf("exactly one of --report and --report-id is required")
	}

	var report *models.EvaluationReport
	if opts.ReportFile != "" {
		report = &models.EvaluationReport{}
		if err := readReport(opts.ReportFile, report); err != nil {
			return err
		}
	} else {
		store, err := app.ReportStore(ctx)
		if err != nil {
			return err
		}
		if report, err = store.GetReport(ctx, opts.ReportID); err != nil {
			return err
		}
	}

	weight := app.Config.Risk.PrivacyWeight
	if cmd.Flags().Changed("privacy-weight") {
		weight = opts.PrivacyWeight
	}

	assessment, err := risk.NewAssessor(weight, app.Logger, app.Metrics).Assess(report)
	if err != nil {
		return err
	}

	if opts.Store {
		store, err := app.ReportStore(ctx)
		if err != nil {
			return err
		}
		if err := store.SaveAssessment(ctx, assessment); err != nil {
			return err
		}
	}

	return writeJSON(cmd.OutOrStdout(), opts.OutputFile, assessment)
}

// readReport accepts either a bare report or the output of evaluate
func readReport(path string, report *models.EvaluationReport) error {
	var wrapped EvaluationOutput
	if err := readJSON(path, &wrapped); err == nil && wrapped.Report != nil {
		*report = *wrapped.Report
		return nil
	}
	return readJSON(path, report)
}
