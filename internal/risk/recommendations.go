package risk

import (
	"github.com/inferloop/synthcert/pkg/constants"
	"github.com/inferloop/synthcert/pkg/models"
)

// Tier is the coarse band a component score falls into
type Tier int

const (
	TierLow Tier = iota
	TierMedium
	TierHigh
)

// TierOf splits a component's range into thirds
func TierOf(score, ceiling float64) Tier {
	switch {
	case score <= ceiling/3:
		return TierLow
	case score <= 2*ceiling/3:
		return TierMedium
	default:
		return TierHigh
	}
}

const noDPRecommendation = "No differential privacy was applied during training. Retrain with a DP-enabled method such as DP-SGD and a target epsilon below 10."

var recommendationTable = map[string][3]string{
	"dp_epsilon": {
		"Differential privacy budget is strong; no action needed.",
		"Epsilon is moderate. Consider a target epsilon below 3 for sensitive data.",
		"Privacy budget is weak. Lower the target epsilon or raise the noise multiplier before release.",
	},
	"reidentification": {
		"Synthetic records keep a safe distance from real records.",
		"Some synthetic records lie close to real records. Review the nearest matches before release.",
		"Synthetic records are near-copies of real records. Remove close matches and retrain with stronger regularisation or more noise.",
	},
	"membership_inference": {
		"Membership inference attack gains no meaningful advantage.",
		"Membership inference attack has a measurable advantage. Consider more training noise or fewer epochs.",
		"Synthetic data is easily distinguished from real data. Reduce overfitting of the generator before release.",
	},
	"statistical_fidelity": {
		"Marginal distributions and correlations are well preserved.",
		"Some columns or correlations drift from the real data. Inspect the failed column tests.",
		"Statistical fidelity is poor. Revisit the generator configuration or training length.",
	},
	"ml_utility": {
		"ML utility is preserved; no action needed.",
		"Models trained on synthetic data lose some accuracy. Consider more training epochs or a larger synthetic sample.",
		"Models trained on synthetic data perform much worse than on real data. The dataset is not suitable for ML use as is.",
	},
	"completeness": {
		"Synthetic data covers the real schema.",
		"Some columns are missing or their missing-value rates differ. Check the schema mapping.",
		"Synthetic data covers too little of the real schema. Generate the missing columns.",
	},
}

var releaseRecommendation = map[string]string{
	constants.RiskLevelLow:    "Overall risk is low; the dataset meets the release criteria.",
	constants.RiskLevelMedium: "Overall risk is medium. Address the findings above before external release.",
	constants.RiskLevelHigh:   "Overall risk is high. Do not release this dataset.",
}

// Recommend derives the recommendations from the band each component fell
// into. hasDP tells whether the report carried a privacy spend.
func Recommend(a *models.RiskAssessment, hasDP bool) []string {
	p, q := a.PrivacyRisk.Breakdown, a.QualityRisk.Breakdown

	out := make([]string, 0, 7)
	if hasDP {
		out = append(out, pick("dp_epsilon", p.DPEpsilonRisk, MaxDPEpsilonRisk))
	} else {
		out = append(out, noDPRecommendation)
	}
	out = append(out,
		pick("reidentification", p.ReidentificationRisk, MaxReidentificationRisk),
		pick("membership_inference", p.MembershipInferenceRisk, MaxMembershipInferenceRisk),
		pick("statistical_fidelity", q.StatisticalFidelityRisk, MaxStatisticalFidelityRisk),
		pick("ml_utility", q.MLUtilityRisk, MaxMLUtilityRisk),
		pick("completeness", q.CompletenessRisk, MaxCompletenessRisk),
	)
	if msg, ok := releaseRecommendation[a.RiskLevel]; ok {
		out = append(out, msg)
	}
	return out
}

func pick(component string, score, ceiling float64) string {
	return recommendationTable[component][TierOf(score, ceiling)]
}
