package privacy

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/inferloop/synthcert/pkg/constants"
	"github.com/inferloop/synthcert/pkg/models"
)

// Budget statuses
const (
	BudgetWithin   = "Within Budget"
	BudgetExceeded = "Budget Exceeded"
)

// Epsilon at or above which the sensitive-data note flips to false
const sensitiveDataEpsilon = 10.0

type privacyLevel struct {
	upper          float64
	level          string
	score          int
	interpretation string
}

var privacyLevels = []privacyLevel{
	{0.1, "Exceptional", 10, "Negligible privacy loss; individual records are effectively indistinguishable."},
	{1, "Very Strong", 9, "Strong formal protection suitable for public release of highly sensitive data."},
	{3, "Strong", 8, "Strong protection; the usual range for sensitive production datasets."},
	{5, "Good", 7, "Good protection with a reasonable privacy-utility balance."},
	{10, "Moderate", 6, "Moderate protection; acceptable for internal use of sensitive data."},
	{15, "Fair", 5, "Limited protection; suitable for low-sensitivity data only."},
	{20, "Weak", 4, "Weak protection; membership of individual records may be inferable."},
	{50, "Very Weak", 3, "Very weak protection; the formal guarantee has little practical meaning."},
	{math.Inf(1), "Insufficient", 1, "Insufficient protection; treat the output as if no differential privacy was applied."},
}

// AssessEpsilon maps epsilon onto the ten-level qualitative scale
func AssessEpsilon(epsilon float64) models.PrivacyAssessment {
	for _, pl := range privacyLevels {
		if epsilon < pl.upper {
			return models.PrivacyAssessment{
				Level:          pl.level,
				Score:          pl.score,
				Interpretation: pl.interpretation,
			}
		}
	}
	last := privacyLevels[len(privacyLevels)-1]
	return models.PrivacyAssessment{Level: last.level, Score: last.score, Interpretation: last.interpretation}
}

// ComplianceFor returns the framework notes for epsilon
func ComplianceFor(epsilon float64) models.ComplianceNotes {
	notes := models.ComplianceNotes{
		SuitableForSensitiveData: epsilon < sensitiveDataEpsilon,
		SuitableForPublicRelease: epsilon < 1,
		Notes:                    []string{},
	}

	switch {
	case epsilon < 1:
		notes.GDPR = "Supports an anonymisation claim under Recital 26 when combined with an attack assessment."
	case epsilon < sensitiveDataEpsilon:
		notes.GDPR = "Supports a pseudonymisation argument; keep the data inside the controller's safeguards."
	default:
		notes.GDPR = "Does not support an anonymisation or pseudonymisation claim on its own."
	}

	switch {
	case epsilon < 3:
		notes.HIPAA = "Compatible with an expert determination of de-identification."
	case epsilon < sensitiveDataEpsilon:
		notes.HIPAA = "Expert determination possible only with additional safeguards such as access controls."
	default:
		notes.HIPAA = "Not sufficient for de-identification of protected health information."
	}

	if epsilon < sensitiveDataEpsilon {
		notes.CCPA = "Consistent with the deidentified-information standard when paired with contractual controls."
	} else {
		notes.CCPA = "Not consistent with the deidentified-information standard."
	}

	if epsilon < 1 {
		notes.Notes = append(notes.Notes, "Epsilon below 1 meets the strictest published guidance for public statistical releases.")
	}
	if !notes.SuitableForSensitiveData {
		notes.Notes = append(notes.Notes, fmt.Sprintf("Epsilon of %.0f or more is not acceptable for special-category or health data.", sensitiveDataEpsilon))
	}

	return notes
}

// BuildPrivacyReport explains a privacy spend against its configuration.
// metadata is copied into the report unchanged.
func BuildPrivacyReport(spend *models.PrivacySpend, cfg models.PrivacyConfig, metadata map[string]interface{}) *models.PrivacyReport {
	assessment := AssessEpsilon(spend.Epsilon)
	compliance := ComplianceFor(spend.Epsilon)

	if spend.StepsCapped {
		compliance.Notes = append(compliance.Notes,
			fmt.Sprintf("Accounting stopped at %d steps; the reported epsilon is a lower bound.", spend.Steps))
	}
	if cfg.DatasetSize > 0 && spend.Delta > 1.0/float64(cfg.DatasetSize) {
		compliance.Notes = append(compliance.Notes,
			fmt.Sprintf("Delta %.2g is larger than 1/dataset_size (%.2g); a single record may be exposed with non-negligible probability.",
				spend.Delta, 1.0/float64(cfg.DatasetSize)))
	}

	var copied map[string]interface{}
	if len(metadata) > 0 {
		copied = make(map[string]interface{}, len(metadata))
		for k, v := range metadata {
			copied[k] = v
		}
	}

	return &models.PrivacyReport{
		ID:          uuid.New().String(),
		GeneratedAt: time.Now().UTC(),
		PrivacyBudget: models.PrivacyBudgetSummary{
			EpsilonSpent:  spend.Epsilon,
			Delta:         spend.Delta,
			TargetEpsilon: spend.TargetEpsilon,
			TargetDelta:   spend.TargetDelta,
			Steps:         spend.Steps,
			StepsCapped:   spend.StepsCapped,
		},
		Assessment:       assessment,
		Compliance:       compliance,
		Tradeoff:         analyzeTradeoff(spend, cfg, metadata),
		Configuration:    cfg,
		TrainingMetadata: copied,
		Recommendations:  privacyRecommendations(spend, assessment, compliance),
	}
}

func analyzeTradeoff(spend *models.PrivacySpend, cfg models.PrivacyConfig, metadata map[string]interface{}) models.TradeoffAnalysis {
	t := models.TradeoffAnalysis{
		BudgetStatus:      BudgetWithin,
		SamplingRate:      cfg.SamplingRate(),
		NoiseMultiplier:   noiseFromConfig(cfg, metadata),
		TuningSuggestions: []string{},
	}
	if spend.TargetEpsilon > 0 {
		t.BudgetUtilization = spend.Epsilon / spend.TargetEpsilon * 100
	}

	switch {
	case spend.TargetEpsilon > 0 && spend.Epsilon > spend.TargetEpsilon:
		t.BudgetStatus = BudgetExceeded
		t.OverspendPercent = (spend.Epsilon - spend.TargetEpsilon) / spend.TargetEpsilon * 100
		t.Narrative = fmt.Sprintf("The run spent epsilon %.3f against a target of %.3f, overspending by %.1f%%.",
			spend.Epsilon, spend.TargetEpsilon, t.OverspendPercent)

		ratio := spend.Epsilon / spend.TargetEpsilon
		if t.NoiseMultiplier > 0 {
			t.TuningSuggestions = append(t.TuningSuggestions,
				fmt.Sprintf("Increase the noise multiplier from %.2f to about %.2f.", t.NoiseMultiplier, t.NoiseMultiplier*ratio))
		}
		if cfg.Epochs > 1 {
			epochs := int(math.Max(1, math.Floor(float64(cfg.Epochs)/(ratio*ratio))))
			t.TuningSuggestions = append(t.TuningSuggestions,
				fmt.Sprintf("Reduce epochs from %d to about %d.", cfg.Epochs, epochs))
		}
	case t.BudgetUtilization < 50:
		t.Narrative = fmt.Sprintf("The run used %.1f%% of its budget; utility could be improved at the same target.", t.BudgetUtilization)
		if t.NoiseMultiplier > 0 {
			t.TuningSuggestions = append(t.TuningSuggestions,
				fmt.Sprintf("Lower the noise multiplier from %.2f or train for more epochs to use the remaining budget.", t.NoiseMultiplier))
		}
	default:
		t.Narrative = fmt.Sprintf("The run used %.1f%% of its budget.", t.BudgetUtilization)
	}

	if t.SamplingRate > constants.SamplingRateWarningThreshold {
		t.TuningSuggestions = append(t.TuningSuggestions,
			fmt.Sprintf("Reduce the sampling rate from %.3f below %.2f to benefit from privacy amplification.",
				t.SamplingRate, constants.SamplingRateWarningThreshold))
	}
	if spend.StepsCapped {
		t.TuningSuggestions = append(t.TuningSuggestions,
			"Shorten the schedule below the accounting cap so the spend can be measured exactly.")
	}

	return t
}

func noiseFromConfig(cfg models.PrivacyConfig, metadata map[string]interface{}) float64 {
	if cfg.NoiseMultiplier != nil {
		return *cfg.NoiseMultiplier
	}
	switch v := metadata["noise_multiplier"].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

func privacyRecommendations(spend *models.PrivacySpend, assessment models.PrivacyAssessment, compliance models.ComplianceNotes) []string {
	recs := []string{}
	if spend.Exceeded() {
		recs = append(recs, "Do not release this data under the original privacy target; retrain with more noise or fewer epochs.")
	}
	switch {
	case assessment.Score >= 8:
		recs = append(recs, "Privacy protection is strong; the data can be shared under standard agreements.")
	case compliance.SuitableForSensitiveData:
		recs = append(recs, "Restrict sharing to trusted parties and pair the release with an attack assessment.")
	default:
		recs = append(recs, "Treat the output as personal data; it is not suitable for sensitive-category records.")
	}
	return recs
}
