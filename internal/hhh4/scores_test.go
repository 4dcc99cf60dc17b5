package hhh4

import (
	"math"
	"testing"
)

func TestLogScorePoisson(t *testing.T) {
	// P(Y=0) = exp(-1) for a unit-mean Poisson, so the score is 1.
	if got := LogScore(0, 1, math.Inf(1)); math.Abs(got-1) > 1e-12 {
		t.Errorf("LogScore(0, 1) = %v, want 1", got)
	}
}

func TestLogScoreNegBin(t *testing.T) {
	// psi = mu = 1: P(Y=0) = psi/(psi+mu) = 1/2.
	want := math.Log(2)
	if got := LogScore(0, 1, 1); math.Abs(got-want) > 1e-12 {
		t.Errorf("LogScore(0, 1, 1) = %v, want %v", got, want)
	}
}

func TestSquaredErrorScore(t *testing.T) {
	if got := SquaredErrorScore(7, 4); got != 9 {
		t.Errorf("SquaredErrorScore(7, 4) = %v, want 9", got)
	}
	if got := SquaredErrorScore(4, 4); got != 0 {
		t.Errorf("SquaredErrorScore(4, 4) = %v, want 0", got)
	}
}

func TestDawidSebastianiScore(t *testing.T) {
	// Poisson: v = mu = 2, score = 1/2 + log 2.
	want := 0.5 + math.Log(2)
	if got := DawidSebastianiScore(3, 2, math.Inf(1)); math.Abs(got-want) > 1e-12 {
		t.Errorf("DawidSebastianiScore(3, 2) = %v, want %v", got, want)
	}

	// NegBin: v = 2 + 4/2 = 4, score = 1/4 + log 4.
	want = 0.25 + math.Log(4)
	if got := DawidSebastianiScore(3, 2, 2); math.Abs(got-want) > 1e-12 {
		t.Errorf("DawidSebastianiScore(3, 2, 2) = %v, want %v", got, want)
	}
}

func TestRankedProbabilityScoreProperties(t *testing.T) {
	psis := []float64{math.Inf(1), 2}
	for _, psi := range psis {
		near := RankedProbabilityScore(5, 5, psi)
		far := RankedProbabilityScore(20, 5, psi)
		if near < 0 || far < 0 {
			t.Fatalf("negative score: near=%v far=%v", near, far)
		}
		if far <= near {
			t.Errorf("psi=%v: score for distant observation (%v) not above near one (%v)", psi, far, near)
		}
	}
}

func TestLogScoreFavorsLikelyObservation(t *testing.T) {
	likely := LogScore(5, 5, math.Inf(1))
	unlikely := LogScore(15, 5, math.Inf(1))
	if unlikely <= likely {
		t.Errorf("score for unlikely count (%v) not above likely count (%v)", unlikely, likely)
	}
}
