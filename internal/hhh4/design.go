package hhh4

import (
	"fmt"
	"math"

	"surveillance-platform/internal/sts"
)

// term is one regressor of a component's log-linear predictor.
type term struct {
	name string
	// eval returns the regressor value for row t and unit i. Rows are
	// indexed over the full series; terms derived from the calendar
	// (intercepts, trend, harmonics) extrapolate beyond the series
	// length, covariate-backed terms do not.
	eval      func(t, i int) float64
	needsData bool
}

// componentDesign is the ordered term list of one component.
type componentDesign struct {
	enabled bool
	terms   []term
}

func (c *componentDesign) size() int {
	return len(c.terms)
}

func (c *componentDesign) names() []string {
	out := make([]string, len(c.terms))
	for i, tm := range c.terms {
		out[i] = tm.name
	}
	return out
}

// linearPredictor evaluates eta(t, i) for the coefficient slice beta.
func (c *componentDesign) linearPredictor(beta []float64, t, i int) float64 {
	eta := 0.0
	for k, tm := range c.terms {
		eta += beta[k] * tm.eval(t, i)
	}
	return eta
}

// extrapolates reports whether all terms are calendar-derived and can
// be evaluated beyond the observed rows.
func (c *componentDesign) extrapolates() bool {
	for _, tm := range c.terms {
		if tm.needsData {
			return false
		}
	}
	return true
}

// hasTrend reports whether the component carries a linear time trend.
func (c *componentDesign) hasTrend() bool {
	for _, tm := range c.terms {
		if tm.name == "t" {
			return true
		}
	}
	return false
}

// design bundles the three component designs and the endemic offset.
type design struct {
	endemic componentDesign
	ar      componentDesign
	ne      componentDesign
	offset  []float64 // e_i per unit, all ones without a population offset
}

func buildComponent(comp ComponentControl, prefix string, series *sts.CountSeries, ctrl *Control) (componentDesign, error) {
	des := componentDesign{enabled: comp.Enabled}
	if !comp.Enabled {
		return des, nil
	}

	units := series.Units()
	freq := float64(series.Freq())
	_, startPeriod := series.Start()

	if comp.UnitIntercepts {
		for j, name := range units {
			j := j
			des.terms = append(des.terms, term{
				name: prefix + ".1." + name,
				eval: func(t, i int) float64 {
					if i == j {
						return 1
					}
					return 0
				},
			})
		}
	} else {
		des.terms = append(des.terms, term{
			name: prefix + ".1",
			eval: func(t, i int) float64 { return 1 },
		})
	}

	if comp.Trend {
		des.terms = append(des.terms, term{
			name: "t",
			eval: func(t, i int) float64 { return float64(t) / freq },
		})
	}

	for s := 1; s <= comp.Seasons; s++ {
		omega := 2 * math.Pi * float64(s) / freq
		s := s
		des.terms = append(des.terms,
			term{
				name: fmt.Sprintf("%s.sin%d", prefix, s),
				eval: func(t, i int) float64 {
					return math.Sin(omega * float64(startPeriod-1+t))
				},
			},
			term{
				name: fmt.Sprintf("%s.cos%d", prefix, s),
				eval: func(t, i int) float64 {
					return math.Cos(omega * float64(startPeriod-1+t))
				},
			},
		)
	}

	rows := series.Len()
	for _, name := range comp.Covariates {
		m := ctrl.Covariates[name]
		name := name
		des.terms = append(des.terms, term{
			name:      prefix + "." + name,
			needsData: true,
			eval: func(t, i int) float64 {
				if t >= rows {
					return math.NaN()
				}
				return m.At(t, i)
			},
		})
	}

	return des, nil
}

func buildDesign(series *sts.CountSeries, ctrl *Control) (*design, error) {
	endemic, err := buildComponent(ctrl.Endemic, "end", series, ctrl)
	if err != nil {
		return nil, err
	}
	ar, err := buildComponent(ctrl.AR, "ar", series, ctrl)
	if err != nil {
		return nil, err
	}
	ne, err := buildComponent(ctrl.Neighbourhood, "ne", series, ctrl)
	if err != nil {
		return nil, err
	}

	k := series.NumUnits()
	offset := make([]float64, k)
	for i := range offset {
		offset[i] = 1
	}
	if ctrl.PopulationOffset {
		copy(offset, series.Population())
	}

	return &design{endemic: endemic, ar: ar, ne: ne, offset: offset}, nil
}
