package privacy

import (
	"fmt"
	"math"

	"github.com/inferloop/synthcert/pkg/constants"
	"github.com/inferloop/synthcert/pkg/errors"
	"github.com/inferloop/synthcert/pkg/models"
)

// Alternative levers offered with an infeasibility error
const (
	LeverEpochs    = "epochs"
	LeverBatchSize = "batch_size"
	LeverEpsilon   = "epsilon"
)

// schedule describes a training schedule. Epochs, batch size and dataset size
// are zero when only the step count is known.
type schedule struct {
	steps         int
	samplingRate  float64
	epochs        int
	batchSize     int
	datasetSize   int
	targetEpsilon float64
	targetDelta   float64
}

func (s schedule) stepsPerEpoch() int {
	if s.batchSize <= 0 {
		return 0
	}
	return s.datasetSize / s.batchSize
}

// CalibrateNoise returns the noise multiplier needed to reach the target
// guarantee over steps optimizer steps. An explicit noiseMultiplier is
// returned unchanged. The sampling rate is validated to lie in (0, 1] but does
// not enter the estimate.
func CalibrateNoise(steps int, samplingRate, targetEpsilon, targetDelta float64, noiseMultiplier *float64) (float64, error) {
	if noiseMultiplier != nil {
		return *noiseMultiplier, nil
	}

	return calibrate(schedule{
		steps:         steps,
		samplingRate:  samplingRate,
		targetEpsilon: targetEpsilon,
		targetDelta:   targetDelta,
	})
}

// CalibrateNoiseForConfig calibrates noise for a full configuration, so that
// infeasibility alternatives can name concrete epochs and batch sizes.
func CalibrateNoiseForConfig(cfg models.PrivacyConfig) (float64, error) {
	if cfg.NoiseMultiplier != nil {
		return *cfg.NoiseMultiplier, nil
	}

	return calibrate(schedule{
		steps:         cfg.TotalSteps(),
		samplingRate:  cfg.SamplingRate(),
		epochs:        cfg.Epochs,
		batchSize:     cfg.BatchSize,
		datasetSize:   cfg.DatasetSize,
		targetEpsilon: cfg.TargetEpsilon,
		targetDelta:   cfg.EffectiveDelta(),
	})
}

func calibrate(s schedule) (float64, error) {
	if err := checkSchedule(s); err != nil {
		return 0, err
	}

	logTerm := math.Log(1 / s.targetDelta)
	product := 2 * float64(s.steps) * logTerm
	if product > constants.MaxNoiseProduct {
		return 0, errors.NewInfeasibleConfigurationError(
			fmt.Sprintf("2*steps*ln(1/delta) = %.3g exceeds %.0e; no finite noise multiplier delivers epsilon %.4g over %d steps",
				product, constants.MaxNoiseProduct, s.targetEpsilon, s.steps),
			feasibleAlternatives(s))
	}

	noise := math.Sqrt(product) / s.targetEpsilon
	if noise < constants.MinNoiseMultiplier {
		return 0, errors.NewInfeasibleConfigurationError(
			fmt.Sprintf("required noise multiplier %.4f is below the minimum of %.1f; the target epsilon %.4g cannot be reached at a meaningful noise level",
				noise, constants.MinNoiseMultiplier, s.targetEpsilon),
			feasibleAlternatives(s))
	}

	return clampNoise(noise), nil
}

func checkSchedule(s schedule) error {
	switch {
	case s.steps <= 0:
		return errors.NewConfigurationError(
			fmt.Sprintf("training schedule has %d optimizer steps", s.steps),
			"use batch_size <= dataset_size and at least one epoch so that at least one step runs")
	case !(s.samplingRate > 0 && s.samplingRate <= 1):
		return errors.NewConfigurationError(
			fmt.Sprintf("sampling rate %g must be in (0, 1]", s.samplingRate),
			"use a batch_size between 1 and dataset_size")
	case !(s.targetEpsilon > 0) || math.IsInf(s.targetEpsilon, 0):
		return errors.NewConfigurationError(
			fmt.Sprintf("target epsilon %g is not a positive finite number", s.targetEpsilon),
			fmt.Sprintf("set target_epsilon to a value such as %.1f", constants.DefaultEpsilon))
	case !(s.targetDelta > 0 && s.targetDelta < 1):
		return errors.NewConfigurationError(
			fmt.Sprintf("target delta %g must be in (0, 1) for calibration", s.targetDelta),
			fmt.Sprintf("set target_delta to %g or to 1/dataset_size", constants.DefaultDelta))
	}
	return nil
}

func clampNoise(noise float64) float64 {
	return math.Max(constants.MinNoiseMultiplier, math.Min(constants.MaxNoiseMultiplier, noise))
}

func estimateNoise(steps int, epsilon, logTerm float64) float64 {
	return math.Sqrt(2*float64(steps)*logTerm) / epsilon
}

func feasibleSteps(steps int, epsilon, logTerm float64) bool {
	if steps <= 0 {
		return false
	}
	product := 2 * float64(steps) * logTerm
	return product <= constants.MaxNoiseProduct && math.Sqrt(product)/epsilon >= constants.MinNoiseMultiplier
}

// feasibleAlternatives proposes one parameter set per lever. Each set moves
// the schedule to the nearest step count (or epsilon) for which a noise
// multiplier inside the safety band exists.
func feasibleAlternatives(s schedule) []errors.ParameterSet {
	logTerm := math.Log(1 / s.targetDelta)

	minSteps := int(math.Ceil(math.Pow(constants.MinNoiseMultiplier*s.targetEpsilon, 2) / (2 * logTerm)))
	maxSteps := int(math.Floor(constants.MaxNoiseProduct / (2 * logTerm)))
	if minSteps < 1 {
		minSteps = 1
	}
	target := s.steps
	if target < minSteps {
		target = minSteps
	}
	if target > maxSteps {
		target = maxSteps
	}
	growing := target > s.steps

	alternatives := make([]errors.ParameterSet, 0, 3)
	if alt, ok := epochsAlternative(s, target, growing, logTerm); ok {
		alternatives = append(alternatives, alt)
	}
	if alt, ok := batchAlternative(s, target, growing, logTerm); ok {
		alternatives = append(alternatives, alt)
	}
	alternatives = append(alternatives, epsilonAlternative(s, target, logTerm))
	return alternatives
}

func epochsAlternative(s schedule, target int, growing bool, logTerm float64) (errors.ParameterSet, bool) {
	spe := s.stepsPerEpoch()
	if s.epochs <= 0 || spe <= 0 {
		if !feasibleSteps(target, s.targetEpsilon, logTerm) {
			return errors.ParameterSet{}, false
		}
		return errors.ParameterSet{
			Lever:           LeverEpochs,
			Steps:           target,
			TargetEpsilon:   s.targetEpsilon,
			TargetDelta:     s.targetDelta,
			NoiseMultiplier: clampNoise(estimateNoise(target, s.targetEpsilon, logTerm)),
			Description:     fmt.Sprintf("change the number of training steps from %d to %d", s.steps, target),
		}, true
	}

	var epochs int
	if growing {
		epochs = int(math.Ceil(float64(target) / float64(spe)))
	} else {
		epochs = target / spe
	}
	if epochs < 1 {
		epochs = 1
	}
	steps := epochs * spe
	if !feasibleSteps(steps, s.targetEpsilon, logTerm) {
		return errors.ParameterSet{}, false
	}

	return errors.ParameterSet{
		Lever:           LeverEpochs,
		Epochs:          epochs,
		BatchSize:       s.batchSize,
		Steps:           steps,
		TargetEpsilon:   s.targetEpsilon,
		TargetDelta:     s.targetDelta,
		NoiseMultiplier: clampNoise(estimateNoise(steps, s.targetEpsilon, logTerm)),
		Description:     fmt.Sprintf("change epochs from %d to %d (%d steps)", s.epochs, epochs, steps),
	}, true
}

func batchAlternative(s schedule, target int, growing bool, logTerm float64) (errors.ParameterSet, bool) {
	if s.epochs <= 0 || s.datasetSize <= 0 {
		if !feasibleSteps(target, s.targetEpsilon, logTerm) {
			return errors.ParameterSet{}, false
		}
		factor := float64(s.steps) / float64(target)
		return errors.ParameterSet{
			Lever:           LeverBatchSize,
			Steps:           target,
			TargetEpsilon:   s.targetEpsilon,
			TargetDelta:     s.targetDelta,
			NoiseMultiplier: clampNoise(estimateNoise(target, s.targetEpsilon, logTerm)),
			Description:     fmt.Sprintf("scale the batch size by %.3g so that the run takes %d steps", factor, target),
		}, true
	}

	var spe, batch int
	if growing {
		spe = int(math.Ceil(float64(target) / float64(s.epochs)))
		batch = s.datasetSize / spe
	} else {
		spe = target / s.epochs
		if spe < 1 {
			return errors.ParameterSet{}, false
		}
		batch = int(math.Ceil(float64(s.datasetSize) / float64(spe)))
	}
	if batch < 1 || batch > s.datasetSize {
		return errors.ParameterSet{}, false
	}
	steps := s.epochs * (s.datasetSize / batch)
	if !feasibleSteps(steps, s.targetEpsilon, logTerm) {
		return errors.ParameterSet{}, false
	}

	return errors.ParameterSet{
		Lever:           LeverBatchSize,
		Epochs:          s.epochs,
		BatchSize:       batch,
		Steps:           steps,
		TargetEpsilon:   s.targetEpsilon,
		TargetDelta:     s.targetDelta,
		NoiseMultiplier: clampNoise(estimateNoise(steps, s.targetEpsilon, logTerm)),
		Description:     fmt.Sprintf("change batch_size from %d to %d (%d steps)", s.batchSize, batch, steps),
	}, true
}

// epsilonAlternative keeps the schedule when it is within the feasible step
// range and moves epsilon into the window where the estimated noise lies in
// [MinNoiseMultiplier, MaxNoiseMultiplier].
func epsilonAlternative(s schedule, target int, logTerm float64) errors.ParameterSet {
	root := math.Sqrt(2 * float64(target) * logTerm)
	lo := math.Ceil(root/constants.MaxNoiseMultiplier*100) / 100
	hi := math.Floor(root/constants.MinNoiseMultiplier*100) / 100
	if hi < lo {
		lo, hi = root/constants.MaxNoiseMultiplier, root/constants.MinNoiseMultiplier
	}

	epsilon := math.Min(math.Max(s.targetEpsilon, lo), hi)
	verb := "relax"
	if epsilon < s.targetEpsilon {
		verb = "tighten"
	}

	desc := fmt.Sprintf("%s target_epsilon from %.4g to %.4g", verb, s.targetEpsilon, epsilon)
	if target != s.steps {
		desc += fmt.Sprintf(" with %d steps", target)
	}

	alt := errors.ParameterSet{
		Lever:           LeverEpsilon,
		Epochs:          s.epochs,
		BatchSize:       s.batchSize,
		Steps:           target,
		TargetEpsilon:   epsilon,
		TargetDelta:     s.targetDelta,
		NoiseMultiplier: clampNoise(root / epsilon),
		Description:     desc,
	}
	if target != s.steps {
		alt.Epochs = 0
		alt.BatchSize = 0
	}
	return alt
}
