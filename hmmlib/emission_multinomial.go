package hmmlib

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

const multinomialLetters = "e"

// MultinomialFamily implements the Multinomial emission model of spec
// §4.3.3: each observation row is a length-K count vector, with
// log-likelihood log Gamma(n+1) - sum_k log Gamma(x_k+1) + sum_k x_k log
// EmissionProb[j][k], where n is taken from the row's own sum.
type MultinomialFamily struct {
	N, K int

	// EmissionProb is N x K, each row summing to 1.
	EmissionProb [][]float64

	// NTrials is the number of trials SampleFromState draws for every
	// sample.
	NTrials int

	// NTrialsPerSample holds per-sample trial counts. It is not read by
	// LogLikelihood, Accumulate or SampleFromState: LogLikelihood uses
	// each row's sum, and SampleFromState always draws NTrials trials.
	NTrialsPerSample []int
}

// NewMultinomialFamily returns a MultinomialFamily for n states over a
// K-category count vector with a fixed number of trials per sample.
func NewMultinomialFamily(n, k, nTrials int) *MultinomialFamily {
	return &MultinomialFamily{N: n, K: k, NTrials: nTrials}
}

func (f *MultinomialFamily) Letters() string { return multinomialLetters }

func (f *MultinomialFamily) Validate() error {
	if len(f.EmissionProb) != f.N {
		return fmt.Errorf("hmmlib: MultinomialFamily.Validate: %w", ErrShapeMismatch)
	}
	for _, row := range f.EmissionProb {
		if len(row) != f.K {
			return fmt.Errorf("hmmlib: MultinomialFamily.Validate: %w", ErrShapeMismatch)
		}
	}
	return ValidateStochastic(f.EmissionProb)
}

func (f *MultinomialFamily) Initialize(obs [][]float64, initMask string, rng *rand.Rand) error {
	if err := validateMask(initMask, f.Letters(), "init_params letter"); err != nil {
		return err
	}
	if !maskHas(initMask, 'e') || f.EmissionProb != nil {
		return nil
	}
	f.EmissionProb = make([][]float64, f.N)
	for i := range f.EmissionProb {
		row := make([]float64, f.K)
		var sum float64
		for j := range row {
			row[j] = rng.Float64() + 1e-3
			sum += row[j]
		}
		floats.Scale(1/sum, row)
		f.EmissionProb[i] = row
	}
	return nil
}

func (f *MultinomialFamily) trials(t int) float64 {
	if f.NTrialsPerSample != nil {
		return float64(f.NTrialsPerSample[t])
	}
	return float64(f.NTrials)
}

func (f *MultinomialFamily) LogLikelihood(x [][]float64) ([][]float64, error) {
	t := len(x)
	b := newMatrix(t, f.N)
	for tt, row := range x {
		if len(row) != f.K {
			return nil, fmt.Errorf("hmmlib: MultinomialFamily.LogLikelihood: %w", ErrShapeMismatch)
		}
		var n float64
		var lgammaSum float64
		for _, v := range row {
			n += v
			lgammaSum += lgamma(v + 1)
		}
		base := lgamma(n+1) - lgammaSum
		for j := 0; j < f.N; j++ {
			var lpr float64
			for k, v := range row {
				lpr += v * logProb(f.EmissionProb[j][k])
			}
			b[tt][j] = base + lpr
		}
	}
	return b, nil
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}

// multinomialStats accumulates obs[j] += gamma[:,j]^T X.
type multinomialStats struct {
	n, k int
	obs  [][]float64
	nOb  int
}

func (s *multinomialStats) reset() {
	for _, row := range s.obs {
		for i := range row {
			row[i] = 0
		}
	}
	s.nOb = 0
}

func (s *multinomialStats) nobs() int { return s.nOb }

func (f *MultinomialFamily) NewSufficientStats() SufficientStats {
	return &multinomialStats{n: f.N, k: f.K, obs: newMatrix(f.N, f.K)}
}

func (f *MultinomialFamily) Accumulate(stats SufficientStats, x [][]float64, gamma [][]float64, logB [][]float64) error {
	s, ok := stats.(*multinomialStats)
	if !ok {
		return fmt.Errorf("hmmlib: MultinomialFamily.Accumulate: %w", ErrShapeMismatch)
	}
	for t, row := range x {
		for j := 0; j < f.N; j++ {
			g := gamma[t][j]
			for k, v := range row {
				s.obs[j][k] += g * v
			}
		}
		s.nOb++
	}
	return nil
}

func (f *MultinomialFamily) MStep(stats SufficientStats, trainMask string) error {
	if err := validateMask(trainMask, f.Letters(), "params letter"); err != nil {
		return err
	}
	if !maskHas(trainMask, 'e') {
		return nil
	}
	s, ok := stats.(*multinomialStats)
	if !ok {
		return fmt.Errorf("hmmlib: MultinomialFamily.MStep: %w", ErrShapeMismatch)
	}
	for j := 0; j < f.N; j++ {
		f.EmissionProb[j] = NormalizeRow(s.obs[j], nil)
	}
	return nil
}

func (f *MultinomialFamily) SampleFromState(j int, rng *rand.Rand) []float64 {
	out := make([]float64, f.K)
	n := f.NTrials
	probs := f.EmissionProb[j]
	for trial := 0; trial < n; trial++ {
		u := rng.Float64()
		var cum float64
		for k, p := range probs {
			cum += p
			if u <= cum {
				out[k]++
				break
			}
		}
	}
	return out
}

func (f *MultinomialFamily) NFreeScalars(trainMask string) int {
	if !maskHas(trainMask, 'e') {
		return 0
	}
	return f.N * (f.K - 1)
}
