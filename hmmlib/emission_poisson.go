package hmmlib

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

const poissonLetters = "l"

// PoissonFamily implements the Poisson emission model of spec §4.3.4:
// p(x | state=j) = prod_d exp(-lambda[j][d]) lambda[j][d]^x[d] / x[d]!,
// with a Gamma(alpha, beta) prior on each lambda applied during the M-step.
type PoissonFamily struct {
	N, D int

	// Lambdas is N x D, strictly positive.
	Lambdas [][]float64

	// LambdasPrior is the Gamma shape parameter alpha (default 1, i.e. no
	// prior mass added to the numerator).
	LambdasPrior float64

	// LambdasWeight is the Gamma rate parameter beta (default 0).
	LambdasWeight float64
}

// NewPoissonFamily returns a PoissonFamily for n states over a D-dimensional
// count observation.
func NewPoissonFamily(n, d int, lambdasPrior, lambdasWeight float64) *PoissonFamily {
	return &PoissonFamily{N: n, D: d, LambdasPrior: lambdasPrior, LambdasWeight: lambdasWeight}
}

func (f *PoissonFamily) Letters() string { return poissonLetters }

func (f *PoissonFamily) Validate() error {
	if len(f.Lambdas) != f.N {
		return fmt.Errorf("hmmlib: PoissonFamily.Validate: %w", ErrShapeMismatch)
	}
	for _, row := range f.Lambdas {
		if len(row) != f.D {
			return fmt.Errorf("hmmlib: PoissonFamily.Validate: %w", ErrShapeMismatch)
		}
		for _, v := range row {
			if v <= 0 {
				return fmt.Errorf("hmmlib: PoissonFamily.Validate: non-positive lambda: %w", ErrNonPositiveDefinite)
			}
		}
	}
	return nil
}

func (f *PoissonFamily) Initialize(obs [][]float64, initMask string, rng *rand.Rand) error {
	if err := validateMask(initMask, f.Letters(), "init_params letter"); err != nil {
		return err
	}
	if !maskHas(initMask, 'l') || f.Lambdas != nil {
		return nil
	}
	mean := columnMeans(obs, f.D)
	f.Lambdas = make([][]float64, f.N)
	for j := 0; j < f.N; j++ {
		row := make([]float64, f.D)
		for d := 0; d < f.D; d++ {
			scale := 0.5 + rng.Float64()
			row[d] = mean[d]*scale + 1e-3
		}
		f.Lambdas[j] = row
	}
	return nil
}

func columnMeans(x [][]float64, d int) []float64 {
	mean := make([]float64, d)
	if len(x) == 0 {
		for i := range mean {
			mean[i] = 1
		}
		return mean
	}
	for _, row := range x {
		for i, v := range row {
			mean[i] += v
		}
	}
	for i := range mean {
		mean[i] /= float64(len(x))
		if mean[i] <= 0 {
			mean[i] = 1
		}
	}
	return mean
}

func (f *PoissonFamily) LogLikelihood(x [][]float64) ([][]float64, error) {
	t := len(x)
	b := newMatrix(t, f.N)
	for tt, row := range x {
		if len(row) != f.D {
			return nil, fmt.Errorf("hmmlib: PoissonFamily.LogLikelihood: %w", ErrShapeMismatch)
		}
		for j := 0; j < f.N; j++ {
			var lpr float64
			for d, y := range row {
				lam := f.Lambdas[j][d]
				lpr += -lam + y*logProb(lam) - lgamma(y+1)
			}
			b[tt][j] = lpr
		}
	}
	return b, nil
}

// poissonStats accumulates post[j] = sum_t gamma[t][j] and
// obs[j] = sum_t gamma[t][j] * x_t.
type poissonStats struct {
	n, d int
	post []float64
	obs  [][]float64
	nOb  int
}

func (s *poissonStats) reset() {
	for i := range s.post {
		s.post[i] = 0
	}
	for _, row := range s.obs {
		for i := range row {
			row[i] = 0
		}
	}
	s.nOb = 0
}

func (s *poissonStats) nobs() int { return s.nOb }

func (f *PoissonFamily) NewSufficientStats() SufficientStats {
	return &poissonStats{n: f.N, d: f.D, post: make([]float64, f.N), obs: newMatrix(f.N, f.D)}
}

func (f *PoissonFamily) Accumulate(stats SufficientStats, x [][]float64, gamma [][]float64, logB [][]float64) error {
	s, ok := stats.(*poissonStats)
	if !ok {
		return fmt.Errorf("hmmlib: PoissonFamily.Accumulate: %w", ErrShapeMismatch)
	}
	for t, row := range x {
		for j := 0; j < f.N; j++ {
			g := gamma[t][j]
			s.post[j] += g
			for d, y := range row {
				s.obs[j][d] += g * y
			}
		}
		s.nOb++
	}
	return nil
}

func (f *PoissonFamily) MStep(stats SufficientStats, trainMask string) error {
	if err := validateMask(trainMask, f.Letters(), "params letter"); err != nil {
		return err
	}
	if !maskHas(trainMask, 'l') {
		return nil
	}
	s, ok := stats.(*poissonStats)
	if !ok {
		return fmt.Errorf("hmmlib: PoissonFamily.MStep: %w", ErrShapeMismatch)
	}
	alpha := f.LambdasPrior
	if alpha <= 0 {
		alpha = 1
	}
	beta := f.LambdasWeight
	for j := 0; j < f.N; j++ {
		for d := 0; d < f.D; d++ {
			lam := (alpha - 1 + s.obs[j][d]) / (beta + s.post[j])
			if lam < minPoissonMean {
				lam = minPoissonMean
			}
			f.Lambdas[j][d] = lam
		}
	}
	return nil
}

// minPoissonMean floors Poisson rate parameters away from zero, matching
// the teacher's own minPoissonMean guard against log(0) in the
// log-likelihood.
const minPoissonMean = 1e-8

func (f *PoissonFamily) SampleFromState(j int, rng *rand.Rand) []float64 {
	out := make([]float64, f.D)
	for d := 0; d < f.D; d++ {
		p := distuv.Poisson{Lambda: f.Lambdas[j][d], Src: randSource{rng}}
		out[d] = p.Rand()
	}
	return out
}

func (f *PoissonFamily) NFreeScalars(trainMask string) int {
	if !maskHas(trainMask, 'l') {
		return 0
	}
	return f.N * f.D
}
