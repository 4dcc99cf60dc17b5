package sts

import (
	"testing"

	"gonum.org/v1/gonum/mat"
)

func testSeries(t *testing.T) *CountSeries {
	t.Helper()
	counts := mat.NewDense(4, 3, []float64{
		1, 0, 2,
		3, 1, 0,
		0, 2, 5,
		4, 0, 1,
	})
	s, err := New(counts, []string{"A", "B", "C"}, 12, 2020, 11)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		counts *mat.Dense
		units  []string
		freq   int
		period int
	}{
		{
			name:   "negative count",
			counts: mat.NewDense(1, 2, []float64{1, -1}),
			units:  []string{"A", "B"},
			freq:   12, period: 1,
		},
		{
			name:   "fractional count",
			counts: mat.NewDense(1, 2, []float64{1, 2.5}),
			units:  []string{"A", "B"},
			freq:   12, period: 1,
		},
		{
			name:   "unit name mismatch",
			counts: mat.NewDense(1, 2, []float64{1, 2}),
			units:  []string{"A"},
			freq:   12, period: 1,
		},
		{
			name:   "zero frequency",
			counts: mat.NewDense(1, 2, []float64{1, 2}),
			units:  []string{"A", "B"},
			freq:   0, period: 1,
		},
		{
			name:   "start period out of range",
			counts: mat.NewDense(1, 2, []float64{1, 2}),
			units:  []string{"A", "B"},
			freq:   12, period: 13,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.counts, tt.units, tt.freq, 2020, tt.period); err == nil {
				t.Error("New() expected error, got nil")
			}
		})
	}
}

func TestWithNeighbourhood(t *testing.T) {
	s := testSeries(t)

	order := mat.NewDense(3, 3, []float64{
		0, 1, 2,
		1, 0, 1,
		2, 1, 0,
	})
	s2, err := s.WithNeighbourhood(order)
	if err != nil {
		t.Fatalf("WithNeighbourhood() error = %v", err)
	}
	if s.NeighbourhoodOrder() != nil {
		t.Error("original series gained a neighbourhood matrix")
	}
	if got := s2.NeighbourhoodOrder().At(0, 2); got != 2 {
		t.Errorf("order(A, C) = %v, want 2", got)
	}

	asymmetric := mat.NewDense(3, 3, []float64{
		0, 1, 2,
		1, 0, 1,
		1, 1, 0,
	})
	if _, err := s.WithNeighbourhood(asymmetric); err == nil {
		t.Error("asymmetric matrix accepted")
	}

	badDiag := mat.NewDense(3, 3, []float64{
		1, 1, 2,
		1, 0, 1,
		2, 1, 0,
	})
	if _, err := s.WithNeighbourhood(badDiag); err == nil {
		t.Error("non-zero diagonal accepted")
	}
}

func TestWithPopulation(t *testing.T) {
	s := testSeries(t)

	s2, err := s.WithPopulation([]float64{100, 300, 600})
	if err != nil {
		t.Fatalf("WithPopulation() error = %v", err)
	}

	frac := s2.Population()
	want := []float64{0.1, 0.3, 0.6}
	for i := range want {
		if diff := frac[i] - want[i]; diff > 1e-12 || diff < -1e-12 {
			t.Errorf("fraction[%d] = %v, want %v", i, frac[i], want[i])
		}
	}

	if _, err := s.WithPopulation([]float64{100, 0, 600}); err == nil {
		t.Error("zero population accepted")
	}
	if _, err := s.WithPopulation([]float64{100, 300}); err == nil {
		t.Error("wrong-length population accepted")
	}
}

func TestPeriodOf(t *testing.T) {
	s := testSeries(t) // monthly, starting 2020-11

	tests := []struct {
		t          int
		wantYear   int
		wantPeriod int
	}{
		{0, 2020, 11},
		{1, 2020, 12},
		{2, 2021, 1},
		{3, 2021, 2},
	}
	for _, tt := range tests {
		year, period := s.PeriodOf(tt.t)
		if year != tt.wantYear || period != tt.wantPeriod {
			t.Errorf("PeriodOf(%d) = (%d, %d), want (%d, %d)", tt.t, year, period, tt.wantYear, tt.wantPeriod)
		}
	}
}

func TestWindow(t *testing.T) {
	s := testSeries(t)

	w, err := s.Window(2, 4)
	if err != nil {
		t.Fatalf("Window() error = %v", err)
	}
	if w.Len() != 2 {
		t.Errorf("Len() = %d, want 2", w.Len())
	}
	year, period := w.Start()
	if year != 2021 || period != 1 {
		t.Errorf("Start() = (%d, %d), want (2021, 1)", year, period)
	}
	if got := w.At(0, 2); got != 5 {
		t.Errorf("At(0, 2) = %v, want 5", got)
	}

	if _, err := s.Window(3, 2); err == nil {
		t.Error("inverted window accepted")
	}
	if _, err := s.Window(0, 5); err == nil {
		t.Error("out-of-range window accepted")
	}
}

func TestSelectUnits(t *testing.T) {
	s := testSeries(t)
	order := mat.NewDense(3, 3, []float64{
		0, 1, 2,
		1, 0, 1,
		2, 1, 0,
	})
	s, err := s.WithNeighbourhood(order)
	if err != nil {
		t.Fatalf("WithNeighbourhood() error = %v", err)
	}
	s, err = s.WithPopulation([]float64{100, 300, 600})
	if err != nil {
		t.Fatalf("WithPopulation() error = %v", err)
	}

	sub, err := s.SelectUnits([]string{"C", "A"})
	if err != nil {
		t.Fatalf("SelectUnits() error = %v", err)
	}
	if sub.NumUnits() != 2 {
		t.Fatalf("NumUnits() = %d, want 2", sub.NumUnits())
	}
	if got := sub.At(2, 0); got != 5 {
		t.Errorf("At(2, C) = %v, want 5", got)
	}
	if got := sub.NeighbourhoodOrder().At(0, 1); got != 2 {
		t.Errorf("order(C, A) = %v, want 2", got)
	}

	// 600:100 renormalized
	frac := sub.Population()
	if diff := frac[0] - 6.0/7.0; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("fraction[C] = %v, want %v", frac[0], 6.0/7.0)
	}

	if _, err := s.SelectUnits([]string{"Z"}); err == nil {
		t.Error("unknown unit accepted")
	}
}

func TestCountsIsACopy(t *testing.T) {
	s := testSeries(t)
	c := s.Counts()
	c.Set(0, 0, 99)
	if s.At(0, 0) == 99 {
		t.Error("mutating the returned matrix changed the series")
	}
}
