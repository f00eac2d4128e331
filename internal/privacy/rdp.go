package privacy

import (
	"math"
)

// DefaultOrders is the Rényi order grid used by the accountant: 1.1 to 10.9 in
// steps of 0.1, then the integers 12 to 63.
var DefaultOrders = buildDefaultOrders()

func buildDefaultOrders() []float64 {
	orders := make([]float64, 0, 99+52)
	for x := 1; x < 100; x++ {
		orders = append(orders, 1+float64(x)/10)
	}
	for a := 12; a < 64; a++ {
		orders = append(orders, float64(a))
	}
	return orders
}

// fracSeriesCutoff ends the fractional-order series once both terms fall
// below exp(-30).
const fracSeriesCutoff = -30.0

// ComputeRDP returns the Rényi DP of one step of the sampled Gaussian
// mechanism at each order. q is the sampling rate and sigma the noise
// multiplier.
func ComputeRDP(q, sigma float64, orders []float64) []float64 {
	rdp := make([]float64, len(orders))
	for i, alpha := range orders {
		rdp[i] = computeSingleOrderRDP(q, sigma, alpha)
	}
	return rdp
}

func computeSingleOrderRDP(q, sigma, alpha float64) float64 {
	switch {
	case q == 0:
		return 0
	case sigma == 0:
		return math.Inf(1)
	case q == 1:
		return alpha / (2 * sigma * sigma)
	case math.IsInf(alpha, 1):
		return math.Inf(1)
	}
	return computeLogA(q, sigma, alpha) / (alpha - 1)
}

func computeLogA(q, sigma, alpha float64) float64 {
	if alpha == math.Trunc(alpha) {
		return computeLogAInt(q, sigma, int(alpha))
	}
	return computeLogAFrac(q, sigma, alpha)
}

// computeLogAInt expands the binomial series exactly for integer orders.
func computeLogAInt(q, sigma float64, alpha int) float64 {
	logA := math.Inf(-1)
	logQ, log1mQ := math.Log(q), math.Log1p(-q)
	a := float64(alpha)
	for i := 0; i <= alpha; i++ {
		fi := float64(i)
		logCoef := logBinomial(a, fi) + fi*logQ + (a-fi)*log1mQ
		s := logCoef + (fi*fi-fi)/(2*sigma*sigma)
		logA = logAddExp(logA, s)
	}
	return logA
}

// computeLogAFrac evaluates the two-sided series for fractional orders.
func computeLogAFrac(q, sigma, alpha float64) float64 {
	logA0, logA1 := math.Inf(-1), math.Inf(-1)
	logQ, log1mQ := math.Log(q), math.Log1p(-q)
	z0 := sigma*sigma*math.Log(1/q-1) + 0.5
	sqrt2Sigma := math.Sqrt2 * sigma

	for i := 0; ; i++ {
		fi := float64(i)
		logCoef, sign := logBinomialSigned(alpha, fi)
		j := alpha - fi

		logT0 := logCoef + fi*logQ + j*log1mQ
		logT1 := logCoef + j*logQ + fi*log1mQ

		logE0 := math.Log(0.5) + logErfc((fi-z0)/sqrt2Sigma)
		logE1 := math.Log(0.5) + logErfc((z0-j)/sqrt2Sigma)

		logS0 := logT0 + (fi*fi-fi)/(2*sigma*sigma) + logE0
		logS1 := logT1 + (j*j-j)/(2*sigma*sigma) + logE1

		if sign > 0 {
			logA0 = logAddExp(logA0, logS0)
			logA1 = logAddExp(logA1, logS1)
		} else {
			logA0 = logSubExp(logA0, logS0)
			logA1 = logSubExp(logA1, logS1)
		}

		if math.Max(logS0, logS1) < fracSeriesCutoff {
			break
		}
	}
	return logAddExp(logA0, logA1)
}

// logBinomial returns log C(n, k) for real n >= k >= 0.
func logBinomial(n, k float64) float64 {
	l, _ := logBinomialSigned(n, k)
	return l
}

// logBinomialSigned returns log|C(n, k)| and its sign for real n and integer k.
func logBinomialSigned(n, k float64) (float64, int) {
	lgN, _ := math.Lgamma(n + 1)
	lgK, _ := math.Lgamma(k + 1)
	lgNK, sign := math.Lgamma(n - k + 1)
	return lgN - lgK - lgNK, sign
}

func logAddExp(x, y float64) float64 {
	a, b := math.Min(x, y), math.Max(x, y)
	if math.IsInf(a, -1) {
		return b
	}
	return math.Log1p(math.Exp(a-b)) + b
}

// logSubExp returns log(exp(x) - exp(y)) for x >= y.
func logSubExp(x, y float64) float64 {
	if math.IsInf(y, -1) {
		return x
	}
	if x <= y {
		return math.Inf(-1)
	}
	return math.Log(math.Expm1(x-y)) + y
}

// logErfc returns log(erfc(x)) without underflowing for large x.
func logErfc(x float64) float64 {
	if x < 20 {
		return math.Log(math.Erfc(x))
	}
	// asymptotic expansion of erfc for large x
	x2 := x * x
	return -x2 - math.Log(x) - 0.5*math.Log(math.Pi) + math.Log1p(-1/(2*x2)+3/(4*x2*x2))
}

// RDPToEpsilon converts accumulated RDP into the tightest (epsilon, delta)
// guarantee over the order grid and returns the epsilon with its order.
func RDPToEpsilon(orders, rdp []float64, delta float64) (float64, float64) {
	if delta <= 0 || len(orders) == 0 {
		return math.Inf(1), 0
	}
	logDelta := math.Log(delta)

	best, bestOrder := math.Inf(1), 0.0
	for i, alpha := range orders {
		if alpha <= 1 || math.IsNaN(rdp[i]) || math.IsInf(rdp[i], 1) {
			continue
		}
		eps := rdp[i] - (logDelta+math.Log(alpha))/(alpha-1) + math.Log((alpha-1)/alpha)
		if eps < best {
			best, bestOrder = eps, alpha
		}
	}
	if math.IsInf(best, 1) {
		return best, 0
	}
	return math.Max(best, 0), bestOrder
}
