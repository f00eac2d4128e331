package dataset

import (
	"math"
	"math/rand"
	"sort"
)

// SampleIndices returns k distinct row indices out of n, chosen
// deterministically from seed and sorted ascending. When k >= n every index
// is returned.
func SampleIndices(n, k int, seed int64) []int {
	if k >= n {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all
	}
	if k <= 0 {
		return []int{}
	}
	rng := rand.New(rand.NewSource(seed))
	idx := rng.Perm(n)[:k]
	sort.Ints(idx)
	return idx
}

// Sample returns at most k rows of f chosen deterministically from seed
func Sample(f *Frame, k int, seed int64) *Frame {
	if k >= f.Rows() {
		return f
	}
	return f.Select(SampleIndices(f.Rows(), k, seed))
}

// SplitIndices shuffles 0..n-1 with seed and splits off a test share. Both
// parts are non-empty when n >= 2.
func SplitIndices(n int, testFraction float64, seed int64) (train, test []int) {
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(n)

	nTest := int(math.Round(float64(n) * testFraction))
	if n >= 2 {
		if nTest < 1 {
			nTest = 1
		}
		if nTest > n-1 {
			nTest = n - 1
		}
	} else {
		nTest = 0
	}

	test = append([]int(nil), perm[:nTest]...)
	train = append([]int(nil), perm[nTest:]...)
	return train, test
}

// StratifiedSplitIndices splits per label so that each class keeps its share
// in both parts. Classes with a single row go to the training part.
func StratifiedSplitIndices(labels []string, testFraction float64, seed int64) (train, test []int) {
	groups := make(map[string][]int)
	var order []string
	for i, l := range labels {
		if _, ok := groups[l]; !ok {
			order = append(order, l)
		}
		groups[l] = append(groups[l], i)
	}
	sort.Strings(order)

	for gi, label := range order {
		rows := groups[label]
		if len(rows) < 2 {
			train = append(train, rows...)
			continue
		}
		tr, te := SplitIndices(len(rows), testFraction, seed+int64(gi))
		for _, i := range tr {
			train = append(train, rows[i])
		}
		for _, i := range te {
			test = append(test, rows[i])
		}
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test
}
