package hmmlib

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func TestPoissonLogLikelihood(t *testing.T) {
	f := NewPoissonFamily(1, 1, 1, 0)
	f.Lambdas = [][]float64{{2.0}}

	b, err := f.LogLikelihood([][]float64{{3}})
	if err != nil {
		t.Fatalf("LogLikelihood: %v", err)
	}
	// log p(3; lambda=2) = -2 + 3*log(2) - log(3!)
	want := -2 + 3*math.Log(2) - lgamma(4)
	if math.Abs(b[0][0]-want) > 1e-9 {
		t.Fatalf("B[0][0] = %v, want %v", b[0][0], want)
	}
}

func TestPoissonValidateRejectsNonPositive(t *testing.T) {
	f := NewPoissonFamily(1, 1, 1, 0)
	f.Lambdas = [][]float64{{0}}
	if err := f.Validate(); !errors.Is(err, ErrNonPositiveDefinite) {
		t.Fatalf("err = %v, want ErrNonPositiveDefinite", err)
	}
}

func TestPoissonMStepRecoversMean(t *testing.T) {
	// Flat prior (alpha=1, beta=0) reduces the M-step to a plain weighted
	// mean.
	f := NewPoissonFamily(1, 1, 1, 0)
	f.Lambdas = [][]float64{{1}}
	x := [][]float64{{1}, {3}, {5}}
	gamma := [][]float64{{1}, {1}, {1}}

	stats := f.NewSufficientStats()
	if err := f.Accumulate(stats, x, gamma, nil); err != nil {
		t.Fatalf("Accumulate: %v", err)
	}
	if err := f.MStep(stats, "l"); err != nil {
		t.Fatalf("MStep: %v", err)
	}
	if math.Abs(f.Lambdas[0][0]-3.0) > 1e-9 {
		t.Fatalf("Lambdas[0][0] = %v, want 3", f.Lambdas[0][0])
	}
}

func TestPoissonSampleFromStateNonNegative(t *testing.T) {
	f := NewPoissonFamily(1, 1, 1, 0)
	f.Lambdas = [][]float64{{4}}
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 20; i++ {
		row := f.SampleFromState(0, rng)
		if row[0] < 0 {
			t.Fatalf("sampled negative count %v", row)
		}
	}
}
