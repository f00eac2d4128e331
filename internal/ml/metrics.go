package ml

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// ClassificationScores are accuracy plus support-weighted precision, recall
// and F1
type ClassificationScores struct {
	Accuracy  float64
	Precision float64
	Recall    float64
	F1        float64
}

// RegressionScores are the usual regression error measures
type RegressionScores struct {
	R2   float64
	MSE  float64
	RMSE float64
	MAE  float64
}

// Accuracy returns the share of matching labels
func Accuracy(yTrue, yPred []int) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	hits := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(yTrue))
}

// ScoreClassification computes accuracy and weighted precision, recall and
// F1. Classes with no predictions contribute a precision of zero.
func ScoreClassification(yTrue, yPred []int, nClasses int) ClassificationScores {
	scores := ClassificationScores{Accuracy: Accuracy(yTrue, yPred)}
	if len(yTrue) == 0 {
		return scores
	}

	tp := make([]float64, nClasses)
	predicted := make([]float64, nClasses)
	support := make([]float64, nClasses)
	for i := range yTrue {
		support[yTrue[i]]++
		if yPred[i] >= 0 && yPred[i] < nClasses {
			predicted[yPred[i]]++
		}
		if yTrue[i] == yPred[i] {
			tp[yTrue[i]]++
		}
	}

	total := float64(len(yTrue))
	for c := 0; c < nClasses; c++ {
		if support[c] == 0 {
			continue
		}
		var precision, recall, f1 float64
		if predicted[c] > 0 {
			precision = tp[c] / predicted[c]
		}
		recall = tp[c] / support[c]
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}
		w := support[c] / total
		scores.Precision += w * precision
		scores.Recall += w * recall
		scores.F1 += w * f1
	}
	return scores
}

// ScoreRegression computes R², MSE, RMSE and MAE. R² of a constant target
// is 1 for a perfect fit and 0 otherwise.
func ScoreRegression(yTrue, yPred []float64) RegressionScores {
	var scores RegressionScores
	if len(yTrue) == 0 {
		return scores
	}

	var sq, abs float64
	for i := range yTrue {
		d := yTrue[i] - yPred[i]
		sq += d * d
		abs += math.Abs(d)
	}
	n := float64(len(yTrue))
	scores.MSE = sq / n
	scores.RMSE = math.Sqrt(scores.MSE)
	scores.MAE = abs / n

	if len(yTrue) < 2 || stat.Variance(yTrue, nil) == 0 {
		if sq == 0 {
			scores.R2 = 1
		}
		return scores
	}
	scores.R2 = stat.RSquaredFrom(yPred, yTrue, nil)
	return scores
}
