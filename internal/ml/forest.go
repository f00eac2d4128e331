package ml

import (
	"context"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/inferloop/synthcert/pkg/constants"
)

// ForestConfig controls a random forest
type ForestConfig struct {
	Trees          int   `mapstructure:"trees" json:"trees"`
	MaxDepth       int   `mapstructure:"max_depth" json:"max_depth"`
	MinSamplesLeaf int   `mapstructure:"min_samples_leaf" json:"min_samples_leaf"`
	MaxFeatures    int   `mapstructure:"max_features" json:"max_features"`
	Seed           int64 `mapstructure:"seed" json:"seed"`
	Workers        int   `mapstructure:"workers" json:"workers"`
}

// DefaultForestConfig returns the forest used by the evaluators
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:          constants.DefaultForestTrees,
		MaxDepth:       constants.DefaultForestMaxDepth,
		MinSamplesLeaf: 1,
		Seed:           constants.DefaultRandomSeed,
		Workers:        runtime.NumCPU(),
	}
}

// RandomForest is a bagged ensemble of CART trees with feature subsampling
// at each split. Tree i is seeded from Seed and i, so fitting is
// deterministic regardless of worker scheduling.
type RandomForest struct {
	cfg      ForestConfig
	task     Task
	nClasses int
	trees    []*DecisionTree
}

// NewRandomForestClassifier creates an unfitted classifier
func NewRandomForestClassifier(cfg ForestConfig, nClasses int) *RandomForest {
	return &RandomForest{cfg: cfg, task: Classification, nClasses: nClasses}
}

// NewRandomForestRegressor creates an unfitted regressor
func NewRandomForestRegressor(cfg ForestConfig) *RandomForest {
	return &RandomForest{cfg: cfg, task: Regression}
}

// Task returns the forest's learning problem
func (f *RandomForest) Task() Task {
	return f.task
}

// FitClassifier fits the forest on labels in [0, nClasses)
func (f *RandomForest) FitClassifier(ctx context.Context, X [][]float64, y []int) error {
	if err := checkLabels(X, y, f.nClasses); err != nil {
		return err
	}
	return f.fit(ctx, X, y, nil)
}

// FitRegressor fits the forest on finite targets
func (f *RandomForest) FitRegressor(ctx context.Context, X [][]float64, y []float64) error {
	if err := checkTargets(X, y); err != nil {
		return err
	}
	return f.fit(ctx, X, nil, y)
}

func (f *RandomForest) fit(ctx context.Context, X [][]float64, yc []int, yr []float64) error {
	nTrees := f.cfg.Trees
	if nTrees <= 0 {
		nTrees = constants.DefaultForestTrees
	}
	workers := f.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	treeCfg := TreeConfig{
		MaxDepth:       f.cfg.MaxDepth,
		MinSamplesLeaf: f.cfg.MinSamplesLeaf,
		MaxFeatures:    f.maxFeatures(len(X[0])),
	}

	trees := make([]*DecisionTree, nTrees)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := 0; i < nTrees; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			seed := f.cfg.Seed*1_000_003 + int64(i)
			rng := rand.New(rand.NewSource(seed))

			cfg := treeCfg
			cfg.Seed = seed
			var tree *DecisionTree
			if f.task == Classification {
				tree = NewClassificationTree(cfg, f.nClasses)
			} else {
				tree = NewRegressionTree(cfg)
			}

			rows := bootstrap(len(X), rng)
			if err := tree.fitRows(gctx, X, yc, yr, rows, rng); err != nil {
				return err
			}
			trees[i] = tree
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	f.trees = trees
	return nil
}

func (f *RandomForest) maxFeatures(d int) int {
	if f.cfg.MaxFeatures > 0 {
		return f.cfg.MaxFeatures
	}
	var m int
	if f.task == Classification {
		m = int(math.Round(math.Sqrt(float64(d))))
	} else {
		m = int(math.Ceil(float64(d) / 3))
	}
	if m < 1 {
		m = 1
	}
	return m
}

func bootstrap(n int, rng *rand.Rand) []int {
	rows := make([]int, n)
	for i := range rows {
		rows[i] = rng.Intn(n)
	}
	return rows
}

// PredictProba averages the class distributions of all trees
func (f *RandomForest) PredictProba(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, x := range X {
		probs := make([]float64, f.nClasses)
		for _, t := range f.trees {
			for c, p := range t.PredictProba(x) {
				probs[c] += p
			}
		}
		for c := range probs {
			probs[c] /= float64(len(f.trees))
		}
		out[i] = probs
	}
	return out
}

// PredictClass returns the most probable class of each row. Ties go to the
// lowest class code.
func (f *RandomForest) PredictClass(X [][]float64) []int {
	probs := f.PredictProba(X)
	out := make([]int, len(X))
	for i, p := range probs {
		best := 0
		for c := 1; c < len(p); c++ {
			if p[c] > p[best] {
				best = c
			}
		}
		out[i] = best
	}
	return out
}

// Predict returns the mean regression estimate of all trees
func (f *RandomForest) Predict(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, x := range X {
		sum := 0.0
		for _, t := range f.trees {
			sum += t.PredictValue(x)
		}
		out[i] = sum / float64(len(f.trees))
	}
	return out
}
