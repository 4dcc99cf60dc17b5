package sts

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// CountSeries is a multivariate count time series: T periods by K
// regions, with frequency periods per year starting at (startYear,
// startPeriod). startPeriod is 1-based.
type CountSeries struct {
	counts      *mat.Dense
	units       []string
	freq        int
	startYear   int
	startPeriod int
	nbOrder     *mat.Dense
	population  []float64
}

// New constructs a CountSeries from a T x K matrix of counts. Counts
// must be non-negative integers. The matrix is copied.
func New(counts *mat.Dense, units []string, freq, startYear, startPeriod int) (*CountSeries, error) {
	if counts == nil {
		return nil, errors.New("counts matrix must not be nil")
	}
	t, k := counts.Dims()
	if t == 0 || k == 0 {
		return nil, errors.New("counts matrix must not be empty")
	}
	if len(units) != k {
		return nil, fmt.Errorf("got %d unit names for %d columns", len(units), k)
	}
	if freq <= 0 {
		return nil, errors.New("frequency must be positive")
	}
	if startPeriod < 1 || startPeriod > freq {
		return nil, fmt.Errorf("start period %d outside 1..%d", startPeriod, freq)
	}

	for i := 0; i < t; i++ {
		for j := 0; j < k; j++ {
			v := counts.At(i, j)
			if v < 0 || v != math.Trunc(v) || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("count at (%d, %s) is %v, want a non-negative integer", i, units[j], v)
			}
		}
	}

	names := make([]string, k)
	copy(names, units)

	return &CountSeries{
		counts:      mat.DenseCopyOf(counts),
		units:       names,
		freq:        freq,
		startYear:   startYear,
		startPeriod: startPeriod,
	}, nil
}

// WithNeighbourhood returns a copy of the series carrying the given
// neighbourhood order matrix. Entry (i, j) is the path distance between
// units i and j: zero on the diagonal, 1 for direct neighbours, and so
// on. The matrix must be K x K and symmetric.
func (s *CountSeries) WithNeighbourhood(order *mat.Dense) (*CountSeries, error) {
	k := s.NumUnits()
	r, c := order.Dims()
	if r != k || c != k {
		return nil, fmt.Errorf("neighbourhood matrix is %dx%d, want %dx%d", r, c, k, k)
	}
	for i := 0; i < k; i++ {
		if order.At(i, i) != 0 {
			return nil, fmt.Errorf("neighbourhood diagonal must be zero, unit %s has %v", s.units[i], order.At(i, i))
		}
		for j := 0; j < k; j++ {
			if order.At(i, j) < 0 {
				return nil, errors.New("neighbourhood orders must be non-negative")
			}
			if order.At(i, j) != order.At(j, i) {
				return nil, fmt.Errorf("neighbourhood matrix not symmetric at (%d, %d)", i, j)
			}
		}
	}

	out := s.clone()
	out.nbOrder = mat.DenseCopyOf(order)
	return out, nil
}

// WithPopulation returns a copy of the series carrying population
// fractions derived from raw population counts, ordered like the count
// columns. Fractions sum to one.
func (s *CountSeries) WithPopulation(population []float64) (*CountSeries, error) {
	k := s.NumUnits()
	if len(population) != k {
		return nil, fmt.Errorf("got %d population values for %d units", len(population), k)
	}
	total := 0.0
	for i, p := range population {
		if p <= 0 {
			return nil, fmt.Errorf("population of %s must be positive, got %v", s.units[i], p)
		}
		total += p
	}

	frac := make([]float64, k)
	for i, p := range population {
		frac[i] = p / total
	}

	out := s.clone()
	out.population = frac
	return out, nil
}

// Len returns the number of time periods T.
func (s *CountSeries) Len() int {
	t, _ := s.counts.Dims()
	return t
}

// NumUnits returns the number of spatial units K.
func (s *CountSeries) NumUnits() int {
	_, k := s.counts.Dims()
	return k
}

// Units returns a copy of the unit names.
func (s *CountSeries) Units() []string {
	out := make([]string, len(s.units))
	copy(out, s.units)
	return out
}

// Freq returns the number of periods per year.
func (s *CountSeries) Freq() int { return s.freq }

// Start returns the year and 1-based period of the first row.
func (s *CountSeries) Start() (year, period int) {
	return s.startYear, s.startPeriod
}

// At returns the count of unit i at row t.
func (s *CountSeries) At(t, i int) float64 {
	return s.counts.At(t, i)
}

// Counts returns a copy of the T x K count matrix.
func (s *CountSeries) Counts() *mat.Dense {
	return mat.DenseCopyOf(s.counts)
}

// NeighbourhoodOrder returns a copy of the neighbourhood order matrix,
// or nil if none is attached.
func (s *CountSeries) NeighbourhoodOrder() *mat.Dense {
	if s.nbOrder == nil {
		return nil
	}
	return mat.DenseCopyOf(s.nbOrder)
}

// Population returns a copy of the population fractions, or nil.
func (s *CountSeries) Population() []float64 {
	if s.population == nil {
		return nil
	}
	out := make([]float64, len(s.population))
	copy(out, s.population)
	return out
}

// PeriodOf returns the calendar year and 1-based period of row t.
func (s *CountSeries) PeriodOf(t int) (year, period int) {
	abs := s.startPeriod - 1 + t
	return s.startYear + abs/s.freq, abs%s.freq + 1
}

// Window returns a new series restricted to rows [from, to).
func (s *CountSeries) Window(from, to int) (*CountSeries, error) {
	if from < 0 || to > s.Len() || from >= to {
		return nil, fmt.Errorf("invalid window [%d, %d) for series of length %d", from, to, s.Len())
	}

	out := s.clone()
	_, k := s.counts.Dims()
	out.counts = mat.DenseCopyOf(s.counts.Slice(from, to, 0, k))
	out.startYear, out.startPeriod = s.PeriodOf(from)
	return out, nil
}

// SelectUnits returns a new series restricted to the named units, with
// the neighbourhood matrix subset and population fractions renormalized
// accordingly.
func (s *CountSeries) SelectUnits(names []string) (*CountSeries, error) {
	if len(names) == 0 {
		return nil, errors.New("no units selected")
	}

	idx := make([]int, 0, len(names))
	for _, name := range names {
		found := -1
		for j, u := range s.units {
			if u == name {
				found = j
				break
			}
		}
		if found < 0 {
			return nil, fmt.Errorf("unknown unit %q", name)
		}
		idx = append(idx, found)
	}

	t := s.Len()
	counts := mat.NewDense(t, len(idx), nil)
	for r := 0; r < t; r++ {
		for c, j := range idx {
			counts.Set(r, c, s.counts.At(r, j))
		}
	}

	out := &CountSeries{
		counts:      counts,
		units:       append([]string(nil), names...),
		freq:        s.freq,
		startYear:   s.startYear,
		startPeriod: s.startPeriod,
	}

	if s.nbOrder != nil {
		nb := mat.NewDense(len(idx), len(idx), nil)
		for a, i := range idx {
			for b, j := range idx {
				nb.Set(a, b, s.nbOrder.At(i, j))
			}
		}
		out.nbOrder = nb
	}

	if s.population != nil {
		pop := make([]float64, len(idx))
		total := 0.0
		for a, j := range idx {
			pop[a] = s.population[j]
			total += pop[a]
		}
		for a := range pop {
			pop[a] /= total
		}
		out.population = pop
	}

	return out, nil
}

func (s *CountSeries) clone() *CountSeries {
	out := &CountSeries{
		counts:      mat.DenseCopyOf(s.counts),
		units:       append([]string(nil), s.units...),
		freq:        s.freq,
		startYear:   s.startYear,
		startPeriod: s.startPeriod,
	}
	if s.nbOrder != nil {
		out.nbOrder = mat.DenseCopyOf(s.nbOrder)
	}
	if s.population != nil {
		out.population = append([]float64(nil), s.population...)
	}
	return out
}
