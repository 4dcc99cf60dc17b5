package hhh4

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// logPMF is the log probability of observing y under the predictive
// distribution with mean mu and overdispersion psi (+Inf for Poisson).
func logPMF(y, mu, psi float64) float64 {
	if math.IsInf(psi, 1) {
		return distuv.Poisson{Lambda: mu}.LogProb(y)
	}
	lgNum, _ := math.Lgamma(y + psi)
	lgPsi, _ := math.Lgamma(psi)
	lgY, _ := math.Lgamma(y + 1)
	return lgNum - lgPsi - lgY + psi*math.Log(psi/(psi+mu)) + y*math.Log(mu/(psi+mu))
}

// LogScore is the negative log predictive probability of the observed
// count. Lower is better.
func LogScore(y, mu, psi float64) float64 {
	return -logPMF(y, mu, psi)
}

// SquaredErrorScore is the squared difference between the observed
// count and the predictive mean.
func SquaredErrorScore(y, mu float64) float64 {
	d := y - mu
	return d * d
}

// DawidSebastianiScore scores the first two predictive moments:
// (y-mu)^2/v + log v with v the predictive variance.
func DawidSebastianiScore(y, mu, psi float64) float64 {
	v := mu
	if !math.IsInf(psi, 1) {
		v += mu * mu / psi
	}
	d := y - mu
	return d*d/v + math.Log(v)
}

// RankedProbabilityScore sums the squared differences between the
// predictive CDF and the observation's step function. The sum is
// truncated once the predictive CDF is numerically one beyond the
// observation.
func RankedProbabilityScore(y, mu, psi float64) float64 {
	sd := math.Sqrt(mu + func() float64 {
		if math.IsInf(psi, 1) {
			return 0
		}
		return mu * mu / psi
	}())

	kmax := int(math.Ceil(math.Max(y, mu+10*sd))) + 1

	score := 0.0
	cdf := 0.0
	for k := 0; k <= kmax; k++ {
		cdf += math.Exp(logPMF(float64(k), mu, psi))
		step := 0.0
		if y <= float64(k) {
			step = 1
		}
		d := cdf - step
		score += d * d
		if step == 1 && 1-cdf < 1e-12 {
			break
		}
	}
	return score
}
