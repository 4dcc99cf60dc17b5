package hhh4_test

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"surveillance-platform/internal/hhh4"
	"surveillance-platform/internal/sts"
)

// ExampleEstimate fits an intercept-only endemic model to a constant
// single-unit series. The maximum-likelihood mean equals the sample
// mean of the window.
func ExampleEstimate() {
	counts := mat.NewDense(30, 1, nil)
	for t := 0; t < 30; t++ {
		counts.Set(t, 0, 5)
	}
	series, err := sts.New(counts, []string{"A"}, 12, 2020, 1)
	if err != nil {
		fmt.Println(err)
		return
	}

	fit, err := hhh4.Estimate(series, hhh4.Control{
		Endemic: hhh4.ComponentControl{Enabled: true},
		Family:  hhh4.Poisson,
	})
	if err != nil {
		fmt.Println(err)
		return
	}

	fmt.Println(fit.Control.Family, fit.Converged)
	fmt.Printf("fitted mean: %.2f\n", fit.FittedValues().At(0, 0))
	// Output:
	// poisson true
	// fitted mean: 5.00
}

// ExampleFit_Update refines a fitted model by enabling the
// autoregressive component, reusing matching coefficients as the
// starting point.
func ExampleFit_Update() {
	counts := mat.NewDense(40, 1, nil)
	for t := 0; t < 40; t++ {
		counts.Set(t, 0, float64(4+t%3))
	}
	series, err := sts.New(counts, []string{"A"}, 12, 2019, 1)
	if err != nil {
		fmt.Println(err)
		return
	}

	base, err := hhh4.Estimate(series, hhh4.Control{
		Endemic: hhh4.ComponentControl{Enabled: true},
		Family:  hhh4.Poisson,
	})
	if err != nil {
		fmt.Println(err)
		return
	}

	ctrl := base.Control
	ctrl.AR = hhh4.ComponentControl{Enabled: true}
	withAR, err := base.Update(ctrl)
	if err != nil {
		fmt.Println(err)
		return
	}

	fmt.Println(len(withAR.CoefNames) > len(base.CoefNames))
	fmt.Println(withAR.LogLik >= base.LogLik)
	// Output:
	// true
	// true
}
