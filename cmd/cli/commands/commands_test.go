package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/synthcert/cmd/cli/config"
	"github.com/inferloop/synthcert/internal/privacy"
	"github.com/inferloop/synthcert/pkg/errors"
	"github.com/inferloop/synthcert/pkg/models"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	app, err := NewApp(config.Default(), logrus.New())
	require.NoError(t, err)
	t.Cleanup(func() { app.Shutdown(context.Background()) })
	return app
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	cmd.SilenceUsage = true
	err := cmd.Execute()
	return out.String(), err
}

func writeCustomers(t *testing.T, path string, n int, seed int64) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))

	var b strings.Builder
	b.WriteString("x1,x2,spend,label\n")
	for i := 0; i < n; i++ {
		x1 := rng.NormFloat64()
		x2 := rng.NormFloat64()
		label := "no"
		if x1 > 0 {
			label = "yes"
		}
		fmt.Fprintf(&b, "%.4f,%.4f,%.4f,%s\n", x1, x2, 3*x1+0.5*x2+0.1*rng.NormFloat64(), label)
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
}

func TestValidateConfigCommand(t *testing.T) {
	app := newTestApp(t)

	out, err := execute(t, NewValidateConfigCmd(app),
		"--dataset-size", "10000", "--epochs", "300", "--batch-size", "500",
		"--epsilon", "10", "--delta", "1e-5")
	require.NoError(t, err)

	var result privacy.ConfigValidation
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.IsValid)
	assert.Equal(t, 6000, result.Steps)
}

func TestValidateConfigCommandRejects(t *testing.T) {
	app := newTestApp(t)

	out, err := execute(t, NewValidateConfigCmd(app),
		"--dataset-size", "500", "--epochs", "300", "--batch-size", "500", "--epsilon", "10")
	require.Error(t, err)

	var cfgErr *errors.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, out, `"is_valid": false`)
}

func TestValidateConfigCommandRequiresFlags(t *testing.T) {
	app := newTestApp(t)

	_, err := execute(t, NewValidateConfigCmd(app), "--epochs", "3")
	assert.Error(t, err)
}

func TestCalibrateCommand(t *testing.T) {
	app := newTestApp(t)

	out, err := execute(t, NewCalibrateCmd(app),
		"--dataset-size", "10000", "--epochs", "300", "--batch-size", "500",
		"--epsilon", "10", "--delta", "1e-5")
	require.NoError(t, err)

	var result CalibrationResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Feasible)
	assert.InDelta(t, 37.17, result.NoiseMultiplier, 0.01)
	assert.Equal(t, 6000, result.Steps)
}

func TestAccountCommandStoresRun(t *testing.T) {
	app := newTestApp(t)

	out, err := execute(t, NewAccountCmd(app),
		"--dataset-size", "1000", "--epochs", "2", "--batch-size", "100",
		"--epsilon", "3", "--run-id", "run-1", "--store")
	require.NoError(t, err)

	var report models.PrivacyReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 20, report.PrivacyBudget.Steps)
	assert.Equal(t, 3.0, report.PrivacyBudget.TargetEpsilon)
	assert.Equal(t, "run-1", report.TrainingMetadata["run_id"])

	store, err := app.RunStore(context.Background())
	require.NoError(t, err)
	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, run.Spend)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.InDelta(t, report.PrivacyBudget.EpsilonSpent, run.Spend.Epsilon, 1e-12)
}

func TestAccountCommandStepsFile(t *testing.T) {
	app := newTestApp(t)
	path := filepath.Join(t.TempDir(), "steps.csv")
	require.NoError(t, os.WriteFile(path, []byte("noise_multiplier,sampling_rate\n1.1,0.01\n1.1,0.01\n0.9,0.02\n"), 0o644))

	out, err := execute(t, NewAccountCmd(app),
		"--dataset-size", "1000", "--epochs", "1", "--batch-size", "10",
		"--epsilon", "3", "--steps-file", path)
	require.NoError(t, err)

	var report models.PrivacyReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 3, report.PrivacyBudget.Steps)
	assert.Greater(t, report.PrivacyBudget.EpsilonSpent, 0.0)

	bad := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("noise,rate\n1,0.1\n"), 0o644))
	_, err = execute(t, NewAccountCmd(app),
		"--dataset-size", "1000", "--epochs", "1", "--batch-size", "10", "--steps-file", bad)
	assert.Error(t, err)
}

func TestEvaluateAndAssessCommands(t *testing.T) {
	app := newTestApp(t)
	dir := t.TempDir()
	realPath := filepath.Join(dir, "real.csv")
	synthPath := filepath.Join(dir, "synthetic.csv")
	writeCustomers(t, realPath, 200, 1)
	writeCustomers(t, synthPath, 200, 2)

	spendPath := filepath.Join(dir, "spend.json")
	spend, err := json.Marshal(models.PrivacySpend{Epsilon: 2.5, Delta: 1e-5, TargetEpsilon: 3, TargetDelta: 1e-5})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(spendPath, spend, 0o644))

	out, err := execute(t, NewEvaluateCmd(app),
		"--real", realPath, "--synthetic", synthPath, "--target", "label",
		"--sensitive", "spend", "--spend", spendPath, "--store", "--assess")
	require.NoError(t, err)

	var result EvaluationOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.NotNil(t, result.Report)
	require.NotNil(t, result.Assessment)
	assert.NotEmpty(t, result.Report.ID)
	assert.Equal(t, 200, result.Report.RealRows)
	assert.NotNil(t, result.Report.StatisticalSimilarity)
	assert.NotNil(t, result.Report.MLUtility)
	assert.NotNil(t, result.Report.Privacy)
	require.NotNil(t, result.Report.DifferentialPrivacy)
	assert.Equal(t, 2.5, result.Report.DifferentialPrivacy.Epsilon)
	assert.Equal(t, result.Report.ID, result.Assessment.ReportID)
	assert.Len(t, result.Assessment.Recommendations, 7)

	reportPath := filepath.Join(dir, "evaluation.json")
	require.NoError(t, os.WriteFile(reportPath, []byte(out), 0o644))

	out, err = execute(t, NewAssessCmd(app), "--report", reportPath, "--privacy-weight", "0.5")
	require.NoError(t, err)
	var fromFile models.RiskAssessment
	require.NoError(t, json.Unmarshal([]byte(out), &fromFile))
	assert.Equal(t, 0.5, fromFile.PrivacyWeight)
	assert.Equal(t, result.Report.ID, fromFile.ReportID)

	out, err = execute(t, NewAssessCmd(app), "--report-id", result.Report.ID, "--store")
	require.NoError(t, err)
	var stored models.RiskAssessment
	require.NoError(t, json.Unmarshal([]byte(out), &stored))
	assert.Equal(t, 0.6, stored.PrivacyWeight)
	assert.Equal(t, result.Assessment.OverallScore, stored.OverallScore)

	store, err := app.ReportStore(context.Background())
	require.NoError(t, err)
	_, err = store.GetAssessment(context.Background(), stored.ID)
	assert.NoError(t, err)
}

func TestEvaluateCommandRejectsConflictingSpend(t *testing.T) {
	app := newTestApp(t)

	_, err := execute(t, NewEvaluateCmd(app),
		"--real", "a.csv", "--synthetic", "b.csv", "--spend", "s.json", "--run-id", "r")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestEvaluateCommandUnfinalizedRun(t *testing.T) {
	app := newTestApp(t)
	dir := t.TempDir()
	realPath := filepath.Join(dir, "real.csv")
	writeCustomers(t, realPath, 20, 1)

	store, err := app.RunStore(context.Background())
	require.NoError(t, err)
	require.NoError(t, store.SaveRun(context.Background(), &models.TrainingRun{ID: "open", Status: models.RunStatusTraining}))

	_, err = execute(t, NewEvaluateCmd(app), "--real", realPath, "--synthetic", realPath, "--run-id", "open")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has not been finalized")
}

func TestAssessCommandNeedsOneSource(t *testing.T) {
	app := newTestApp(t)

	_, err := execute(t, NewAssessCmd(app))
	assert.Error(t, err)

	_, err = execute(t, NewAssessCmd(app), "--report", "a.json", "--report-id", "b")
	assert.Error(t, err)
}

func TestWriteJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, writeJSON(nil, path, map[string]int{"steps": 3}))

	var decoded map[string]int
	require.NoError(t, readJSON(path, &decoded))
	assert.Equal(t, 3, decoded["steps"])
}
