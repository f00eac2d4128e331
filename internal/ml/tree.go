// Package ml provides the small set of supervised learners used to measure
// downstream utility and to mount inference attacks: CART decision trees and
// bagged random forests for classification and regression.
package ml

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"github.com/inferloop/synthcert/pkg/errors"
)

// Task selects the learning problem
type Task string

const (
	Classification Task = "classification"
	Regression     Task = "regression"
)

// minImpurityDecrease is the smallest split gain accepted
const minImpurityDecrease = 1e-12

// TreeConfig controls tree growth
type TreeConfig struct {
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	// MaxFeatures is the number of features drawn at each split; zero means
	// all features.
	MaxFeatures int
	Seed        int64
}

func (c TreeConfig) withDefaults() TreeConfig {
	if c.MaxDepth <= 0 {
		c.MaxDepth = 32
	}
	if c.MinSamplesSplit < 2 {
		c.MinSamplesSplit = 2
	}
	if c.MinSamplesLeaf < 1 {
		c.MinSamplesLeaf = 1
	}
	return c
}

type node struct {
	feature   int
	threshold float64
	left      *node
	right     *node

	leaf  bool
	value float64
	dist  []float64
}

// DecisionTree is a CART tree. Classification splits minimise Gini
// impurity, regression splits minimise the squared error.
type DecisionTree struct {
	cfg       TreeConfig
	task      Task
	nClasses  int
	nFeatures int
	root      *node
}

// NewClassificationTree creates an unfitted classifier over nClasses labels
func NewClassificationTree(cfg TreeConfig, nClasses int) *DecisionTree {
	return &DecisionTree{cfg: cfg.withDefaults(), task: Classification, nClasses: nClasses}
}

// NewRegressionTree creates an unfitted regressor
func NewRegressionTree(cfg TreeConfig) *DecisionTree {
	return &DecisionTree{cfg: cfg.withDefaults(), task: Regression}
}

// FitClassifier grows the tree on every row of X. Labels must lie in
// [0, nClasses).
func (t *DecisionTree) FitClassifier(ctx context.Context, X [][]float64, y []int) error {
	if err := checkLabels(X, y, t.nClasses); err != nil {
		return err
	}
	return t.fitRows(ctx, X, y, nil, allRows(len(X)), rand.New(rand.NewSource(t.cfg.Seed)))
}

// FitRegressor grows the tree on every row of X
func (t *DecisionTree) FitRegressor(ctx context.Context, X [][]float64, y []float64) error {
	if err := checkTargets(X, y); err != nil {
		return err
	}
	return t.fitRows(ctx, X, nil, y, allRows(len(X)), rand.New(rand.NewSource(t.cfg.Seed)))
}

func (t *DecisionTree) fitRows(ctx context.Context, X [][]float64, yc []int, yr []float64, rows []int, rng *rand.Rand) error {
	if len(rows) == 0 {
		return errors.NewValidationError(errors.CodeInsufficientData, "cannot fit a tree on zero rows")
	}
	t.nFeatures = len(X[rows[0]])

	b := &treeBuilder{ctx: ctx, X: X, yc: yc, yr: yr, tree: t, rng: rng}
	root, err := b.build(rows, 0)
	if err != nil {
		return err
	}
	t.root = root
	return nil
}

// PredictProba returns the class distribution of the leaf x falls in
func (t *DecisionTree) PredictProba(x []float64) []float64 {
	return t.leafFor(x).dist
}

// PredictValue returns the regression estimate for x
func (t *DecisionTree) PredictValue(x []float64) float64 {
	return t.leafFor(x).value
}

// Depth returns the depth of the fitted tree
func (t *DecisionTree) Depth() int {
	return depth(t.root)
}

func depth(n *node) int {
	if n == nil || n.leaf {
		return 0
	}
	l, r := depth(n.left), depth(n.right)
	if l > r {
		return l + 1
	}
	return r + 1
}

func (t *DecisionTree) leafFor(x []float64) *node {
	n := t.root
	for !n.leaf {
		if x[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n
}

type treeBuilder struct {
	ctx  context.Context
	X    [][]float64
	yc   []int
	yr   []float64
	tree *DecisionTree
	rng  *rand.Rand
}

func (b *treeBuilder) build(rows []int, level int) (*node, error) {
	if err := b.ctx.Err(); err != nil {
		return nil, err
	}

	leaf, impurity := b.leaf(rows)
	cfg := b.tree.cfg
	if level >= cfg.MaxDepth || len(rows) < cfg.MinSamplesSplit || impurity <= minImpurityDecrease {
		return leaf, nil
	}

	feature, threshold, ok := b.bestSplit(rows, impurity)
	if !ok {
		return leaf, nil
	}

	var left, right []int
	for _, r := range rows {
		if b.X[r][feature] <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}

	n := &node{feature: feature, threshold: threshold}
	var err error
	if n.left, err = b.build(left, level+1); err != nil {
		return nil, err
	}
	if n.right, err = b.build(right, level+1); err != nil {
		return nil, err
	}
	return n, nil
}

// leaf returns the leaf node for rows and the node's total impurity
// (n times Gini for classification, the sum of squared errors for regression)
func (b *treeBuilder) leaf(rows []int) (*node, float64) {
	n := float64(len(rows))
	if b.tree.task == Classification {
		counts := make([]float64, b.tree.nClasses)
		for _, r := range rows {
			counts[b.yc[r]]++
		}
		sumSq := 0.0
		dist := make([]float64, len(counts))
		for c, cnt := range counts {
			dist[c] = cnt / n
			sumSq += cnt * cnt
		}
		return &node{leaf: true, dist: dist}, n - sumSq/n
	}

	sum, sumSq := 0.0, 0.0
	for _, r := range rows {
		sum += b.yr[r]
		sumSq += b.yr[r] * b.yr[r]
	}
	return &node{leaf: true, value: sum / n}, math.Max(0, sumSq-sum*sum/n)
}

func (b *treeBuilder) candidateFeatures() []int {
	d := b.tree.nFeatures
	m := b.tree.cfg.MaxFeatures
	if m <= 0 || m >= d {
		return allRows(d)
	}
	return b.rng.Perm(d)[:m]
}

func (b *treeBuilder) bestSplit(rows []int, parentImpurity float64) (int, float64, bool) {
	minLeaf := b.tree.cfg.MinSamplesLeaf
	n := len(rows)

	bestScore := parentImpurity - minImpurityDecrease
	bestFeature, bestThreshold := -1, 0.0

	sorted := make([]int, n)
	for _, f := range b.candidateFeatures() {
		copy(sorted, rows)
		sort.Slice(sorted, func(i, j int) bool { return b.X[sorted[i]][f] < b.X[sorted[j]][f] })

		scan := b.regressionScan
		if b.tree.task == Classification {
			scan = b.classificationScan
		}
		score, pos := scan(sorted, f, minLeaf)
		if pos >= 0 && score < bestScore {
			bestScore = score
			bestFeature = f
			bestThreshold = (b.X[sorted[pos]][f] + b.X[sorted[pos+1]][f]) / 2
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}

// classificationScan returns the lowest weighted Gini impurity over split
// positions of sorted and the index of the last row going left
func (b *treeBuilder) classificationScan(sorted []int, f, minLeaf int) (float64, int) {
	k := b.tree.nClasses
	n := len(sorted)
	left := make([]float64, k)
	right := make([]float64, k)
	for _, r := range sorted {
		right[b.yc[r]]++
	}

	best, bestPos := math.Inf(1), -1
	for i := 0; i < n-1; i++ {
		c := b.yc[sorted[i]]
		left[c]++
		right[c]--

		if b.X[sorted[i]][f] == b.X[sorted[i+1]][f] {
			continue
		}
		nl, nr := float64(i+1), float64(n-i-1)
		if i+1 < minLeaf || n-i-1 < minLeaf {
			continue
		}

		sl, sr := 0.0, 0.0
		for j := 0; j < k; j++ {
			sl += left[j] * left[j]
			sr += right[j] * right[j]
		}
		score := (nl - sl/nl) + (nr - sr/nr)
		if score < best {
			best, bestPos = score, i
		}
	}
	return best, bestPos
}

// regressionScan returns the lowest total squared error over split positions
func (b *treeBuilder) regressionScan(sorted []int, f, minLeaf int) (float64, int) {
	n := len(sorted)
	totalSum, totalSq := 0.0, 0.0
	for _, r := range sorted {
		totalSum += b.yr[r]
		totalSq += b.yr[r] * b.yr[r]
	}

	best, bestPos := math.Inf(1), -1
	leftSum, leftSq := 0.0, 0.0
	for i := 0; i < n-1; i++ {
		y := b.yr[sorted[i]]
		leftSum += y
		leftSq += y * y

		if b.X[sorted[i]][f] == b.X[sorted[i+1]][f] {
			continue
		}
		if i+1 < minLeaf || n-i-1 < minLeaf {
			continue
		}

		nl, nr := float64(i+1), float64(n-i-1)
		rightSum, rightSq := totalSum-leftSum, totalSq-leftSq
		score := (leftSq - leftSum*leftSum/nl) + (rightSq - rightSum*rightSum/nr)
		if score < best {
			best, bestPos = score, i
		}
	}
	return best, bestPos
}

func allRows(n int) []int {
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return rows
}

func checkLabels(X [][]float64, y []int, nClasses int) error {
	if len(X) == 0 || len(X) != len(y) {
		return errors.NewValidationError(errors.CodeInvalidInput, "features and labels must be non-empty and of equal length")
	}
	for _, l := range y {
		if l < 0 || l >= nClasses {
			return errors.NewValidationError(errors.CodeOutOfRange, "label outside [0, nClasses)")
		}
	}
	return nil
}

func checkTargets(X [][]float64, y []float64) error {
	if len(X) == 0 || len(X) != len(y) {
		return errors.NewValidationError(errors.CodeInvalidInput, "features and targets must be non-empty and of equal length")
	}
	for _, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.NewValidationError(errors.CodeInvalidInput, "targets must be finite")
		}
	}
	return nil
}
