package hmmlib

import (
	"math"
	"math/rand"
	"testing"
)

func TestMultinomialLogLikelihood(t *testing.T) {
	f := NewMultinomialFamily(1, 2, 4)
	f.EmissionProb = [][]float64{{0.25, 0.75}}

	// n=4 trials, observed counts [1,3].
	b, err := f.LogLikelihood([][]float64{{1, 3}})
	if err != nil {
		t.Fatalf("LogLikelihood: %v", err)
	}
	want := lgamma(5) - lgamma(2) - lgamma(4) + 1*math.Log(0.25) + 3*math.Log(0.75)
	if math.Abs(b[0][0]-want) > 1e-9 {
		t.Fatalf("B[0][0] = %v, want %v", b[0][0], want)
	}
}

func TestMultinomialMStepRecoversFrequencies(t *testing.T) {
	f := NewMultinomialFamily(1, 2, 4)
	f.EmissionProb = [][]float64{{0.5, 0.5}}
	x := [][]float64{{1, 3}, {2, 2}}
	gamma := [][]float64{{1}, {1}}

	stats := f.NewSufficientStats()
	if err := f.Accumulate(stats, x, gamma, nil); err != nil {
		t.Fatalf("Accumulate: %v", err)
	}
	if err := f.MStep(stats, "e"); err != nil {
		t.Fatalf("MStep: %v", err)
	}
	// obs = [3, 5], total 8.
	if math.Abs(f.EmissionProb[0][0]-3.0/8) > 1e-9 || math.Abs(f.EmissionProb[0][1]-5.0/8) > 1e-9 {
		t.Fatalf("EmissionProb = %v, want [0.375, 0.625]", f.EmissionProb[0])
	}
}

func TestMultinomialSampleFromStateSumsToNTrials(t *testing.T) {
	f := NewMultinomialFamily(1, 3, 10)
	f.EmissionProb = [][]float64{{0.2, 0.3, 0.5}}
	rng := rand.New(rand.NewSource(11))
	row := f.SampleFromState(0, rng)
	var sum float64
	for _, v := range row {
		sum += v
	}
	if sum != 10 {
		t.Fatalf("sample sums to %v, want 10", sum)
	}
}
