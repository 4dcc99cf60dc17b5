package hhh4

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"surveillance-platform/internal/sts"
)

// Family selects the conditional count distribution.
type Family int

const (
	// Poisson has variance equal to the mean.
	Poisson Family = iota
	// NegBin is negative binomial with one shared overdispersion
	// parameter: variance mu + mu^2/psi.
	NegBin
	// NegBinM is negative binomial with one overdispersion parameter
	// per unit.
	NegBinM
)

func (f Family) String() string {
	switch f {
	case Poisson:
		return "poisson"
	case NegBin:
		return "negbin"
	case NegBinM:
		return "negbinM"
	default:
		return "unknown"
	}
}

// WeightScheme selects how transmission weights between units are built
// from the neighbourhood order matrix.
type WeightScheme int

const (
	// AdjacencyWeights puts weight 1 on first-order neighbours.
	AdjacencyWeights WeightScheme = iota
	// PowerLawWeights decays with neighbourhood order o as o^-d.
	PowerLawWeights
)

// LagScheme selects the distribution of the epidemic components over
// past periods.
type LagScheme int

const (
	// FirstLag uses only the previous period.
	FirstLag LagScheme = iota
	// GeometricLags weights lag l proportional to p*(1-p)^(l-1).
	GeometricLags
	// PoissonLags weights lag l proportional to p^(l-1)*exp(-p)/(l-1)!.
	PoissonLags
)

// ComponentControl describes the log-linear predictor of one model
// component.
type ComponentControl struct {
	Enabled        bool
	UnitIntercepts bool     // one intercept per unit instead of a shared one
	Trend          bool     // linear time trend t/freq
	Seasons        int      // number of harmonic pairs sin/cos(2*pi*s*t/freq)
	Covariates     []string // names resolved against Control.Covariates
}

// WeightsControl configures the neighbourhood weight matrix.
type WeightsControl struct {
	Scheme        WeightScheme
	MaxOrder      int     // orders beyond this get zero weight; 0 keeps all
	Decay         float64 // power-law decay d, used when EstimateDecay is false
	EstimateDecay bool    // estimate d by profile likelihood
}

// LagControl configures the distribution over past lags.
type LagControl struct {
	Scheme        LagScheme
	MaxLag        int
	Decay         float64 // lag-decay parameter, used when EstimateDecay is false
	EstimateDecay bool
}

// Control specifies a full model: which terms enter each component, the
// count family, weighting, lags and the fitting window.
type Control struct {
	Endemic       ComponentControl
	AR            ComponentControl
	Neighbourhood ComponentControl

	Family           Family
	PopulationOffset bool

	Weights WeightsControl
	Lags    LagControl

	// Covariates maps names to T x K matrices aligned with the series.
	Covariates map[string]*mat.Dense

	// Fitting window rows [Start, End). End == 0 means the series
	// length. Start is raised to the maximum lag when zero.
	Start, End int

	MaxIter int
}

// maxLag returns the number of past periods the epidemic components
// reach back.
func (c *Control) maxLag() int {
	if c.Lags.Scheme == FirstLag || c.Lags.MaxLag < 1 {
		return 1
	}
	return c.Lags.MaxLag
}

// normalized validates the control against a series and fills defaults.
func (c Control) normalized(series *sts.CountSeries) (Control, error) {
	if series == nil {
		return c, errors.New("series must not be nil")
	}
	t := series.Len()
	k := series.NumUnits()

	c.Endemic.Enabled = true
	if c.Lags.Scheme == FirstLag {
		c.Lags.MaxLag = 1
	}
	if c.Lags.MaxLag < 1 {
		return c, fmt.Errorf("max lag %d must be at least 1", c.Lags.MaxLag)
	}
	if c.MaxIter <= 0 {
		c.MaxIter = 500
	}

	if c.Start == 0 {
		c.Start = c.maxLag()
	}
	if c.End == 0 {
		c.End = t
	}
	if c.Start < c.maxLag() {
		return c, fmt.Errorf("window start %d is inside the lag range (max lag %d)", c.Start, c.maxLag())
	}
	if c.End > t || c.Start >= c.End {
		return c, fmt.Errorf("invalid fitting window [%d, %d) for series of length %d", c.Start, c.End, t)
	}

	if c.Neighbourhood.Enabled {
		if k < 2 {
			return c, errors.New("neighbourhood component needs at least two units")
		}
		if series.NeighbourhoodOrder() == nil {
			return c, errors.New("neighbourhood component needs a neighbourhood order matrix on the series")
		}
	}
	if c.PopulationOffset && series.Population() == nil {
		return c, errors.New("population offset needs population fractions on the series")
	}

	if c.Weights.Scheme == PowerLawWeights && !c.Weights.EstimateDecay && c.Weights.Decay <= 0 {
		return c, errors.New("power-law decay must be positive")
	}
	switch c.Lags.Scheme {
	case GeometricLags:
		if !c.Lags.EstimateDecay && (c.Lags.Decay <= 0 || c.Lags.Decay >= 1) {
			return c, errors.New("geometric lag decay must lie in (0, 1)")
		}
	case PoissonLags:
		if !c.Lags.EstimateDecay && c.Lags.Decay <= 0 {
			return c, errors.New("poisson lag decay must be positive")
		}
	}

	for _, comp := range []ComponentControl{c.Endemic, c.AR, c.Neighbourhood} {
		if !comp.Enabled {
			continue
		}
		if comp.Seasons < 0 {
			return c, errors.New("seasons must be non-negative")
		}
		for _, name := range comp.Covariates {
			m, ok := c.Covariates[name]
			if !ok {
				return c, fmt.Errorf("unknown covariate %q", name)
			}
			r, cc := m.Dims()
			if r != t || cc != k {
				return c, fmt.Errorf("covariate %q is %dx%d, want %dx%d", name, r, cc, t, k)
			}
		}
	}

	return c, nil
}
