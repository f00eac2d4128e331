package privacy

import (
	"fmt"
	"math"
	"time"

	"github.com/inferloop/synthcert/pkg/constants"
	"github.com/inferloop/synthcert/pkg/errors"
	"github.com/inferloop/synthcert/pkg/models"
)

// Ledger is an RDP accountant for the subsampled Gaussian mechanism.
//
// Steps are grouped by their (noise multiplier, sampling rate) pair into one
// segment with a count, so Step is O(1) and each distinct pair contributes
// count times its per-step RDP. The per-step RDP is computed once per pair no
// matter how often the schedule switches between pairs.
//
// A Ledger belongs to exactly one training run and is not safe for
// concurrent use.
type Ledger struct {
	orders   []float64
	segments []*segment
	index    map[stepKey]*segment
	last     *segment
	steps    int
	stepCap  int
	capped   bool
	dropped  int
}

type stepKey struct {
	noiseMultiplier float64
	samplingRate    float64
}

type segment struct {
	stepKey
	count int
	rdp   []float64
}

func (s *segment) perStepRDP(orders []float64) []float64 {
	if s.rdp == nil {
		s.rdp = ComputeRDP(s.samplingRate, s.noiseMultiplier, orders)
	}
	return s.rdp
}

// LedgerOption configures a Ledger
type LedgerOption func(*Ledger)

// WithOrders replaces the default Rényi order grid
func WithOrders(orders []float64) LedgerOption {
	return func(l *Ledger) {
		if len(orders) > 0 {
			l.orders = append([]float64(nil), orders...)
		}
	}
}

// WithStepCap replaces the default hard cap on ingested steps
func WithStepCap(stepCap int) LedgerOption {
	return func(l *Ledger) {
		if stepCap > 0 {
			l.stepCap = stepCap
		}
	}
}

// NewLedger creates an empty ledger
func NewLedger(opts ...LedgerOption) *Ledger {
	l := &Ledger{
		orders:  DefaultOrders,
		index:   make(map[stepKey]*segment),
		stepCap: constants.MaxLedgerSteps,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Step records one optimizer step
func (l *Ledger) Step(noiseMultiplier, samplingRate float64) error {
	return l.StepN(noiseMultiplier, samplingRate, 1)
}

// StepN records n optimizer steps that share the same parameters. Steps
// beyond the cap are dropped and the ledger is marked as capped.
func (l *Ledger) StepN(noiseMultiplier, samplingRate float64, n int) error {
	if err := validateStep(noiseMultiplier, samplingRate); err != nil {
		return err
	}
	if n < 0 {
		return errors.NewInvalidStepError(noiseMultiplier, samplingRate, fmt.Sprintf("negative step count %d", n))
	}

	if remaining := l.stepCap - l.steps; n > remaining {
		l.dropped += n - remaining
		l.capped = true
		n = remaining
	}
	if n == 0 {
		return nil
	}

	key := stepKey{noiseMultiplier: noiseMultiplier, samplingRate: samplingRate}
	seg := l.last
	if seg == nil || seg.stepKey != key {
		var ok bool
		if seg, ok = l.index[key]; !ok {
			seg = &segment{stepKey: key}
			l.index[key] = seg
			l.segments = append(l.segments, seg)
		}
		l.last = seg
	}
	seg.count += n
	l.steps += n
	return nil
}

func validateStep(noiseMultiplier, samplingRate float64) error {
	switch {
	case math.IsNaN(noiseMultiplier) || math.IsInf(noiseMultiplier, 0):
		return errors.NewInvalidStepError(noiseMultiplier, samplingRate, "noise multiplier must be finite")
	case noiseMultiplier <= 0:
		return errors.NewInvalidStepError(noiseMultiplier, samplingRate, "noise multiplier must be positive")
	case math.IsNaN(samplingRate) || samplingRate <= 0 || samplingRate > 1:
		return errors.NewInvalidStepError(noiseMultiplier, samplingRate, "sampling rate must be in (0, 1]")
	}
	return nil
}

// Steps returns the number of ingested steps
func (l *Ledger) Steps() int {
	return l.steps
}

// StepsCapped reports whether steps were dropped at the cap, in which case
// the reported epsilon is a lower bound
func (l *Ledger) StepsCapped() bool {
	return l.capped
}

// DroppedSteps returns how many steps were ignored past the cap
func (l *Ledger) DroppedSteps() int {
	return l.dropped
}

// Homogeneous reports whether every ingested step used the same parameters
func (l *Ledger) Homogeneous() bool {
	return len(l.segments) <= 1
}

// EpsilonAt returns the tightest epsilon achievable at delta given every
// step ingested so far
func (l *Ledger) EpsilonAt(delta float64) (float64, error) {
	eps, _, err := l.epsilonWithOrder(delta)
	return eps, err
}

func (l *Ledger) epsilonWithOrder(delta float64) (float64, float64, error) {
	if !(delta > 0 && delta <= 1) {
		return 0, 0, errors.NewValidationError(errors.CodeOutOfRange,
			fmt.Sprintf("delta must be in (0, 1], got %g", delta))
	}
	if l.steps == 0 {
		return 0, 0, nil
	}

	eps, order := RDPToEpsilon(l.orders, l.composedRDP(), delta)
	return eps, order, nil
}

func (l *Ledger) composedRDP() []float64 {
	if len(l.segments) == 1 {
		seg := l.segments[0]
		perStep := seg.perStepRDP(l.orders)
		total := make([]float64, len(perStep))
		for i, r := range perStep {
			total[i] = float64(seg.count) * r
		}
		return total
	}

	total := make([]float64, len(l.orders))
	for _, seg := range l.segments {
		for i, r := range seg.perStepRDP(l.orders) {
			total[i] += float64(seg.count) * r
		}
	}
	return total
}

// Spend freezes the current state into a PrivacySpend measured at the target
// delta
func (l *Ledger) Spend(targetEpsilon, targetDelta float64) (*models.PrivacySpend, error) {
	eps, order, err := l.epsilonWithOrder(targetDelta)
	if err != nil {
		return nil, err
	}
	return &models.PrivacySpend{
		Epsilon:       eps,
		Delta:         targetDelta,
		TargetEpsilon: targetEpsilon,
		TargetDelta:   targetDelta,
		Steps:         l.steps,
		StepsCapped:   l.capped,
		OptimalOrder:  order,
		ComputedAt:    time.Now().UTC(),
	}, nil
}
