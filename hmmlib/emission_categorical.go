package hmmlib

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// categoricalLetters are the params/init_params letters the Categorical
// family recognises: 'e' selects emission_prob.
const categoricalLetters = "e"

// CategoricalFamily implements the Categorical emission model of spec
// §4.3.1: p(x=k | state=j) = EmissionProb[j][k], for integer symbols
// x in [0, K).
type CategoricalFamily struct {
	N, K int

	// EmissionProb is N x K, each row summing to 1.
	EmissionProb [][]float64

	// EmissionPrior is the Dirichlet pseudocount alpha applied to every
	// (state, symbol) cell during the M-step (SPEC_FULL.md open question
	// 2: prior is alpha, not alpha-1; the M-step subtracts 1 internally).
	EmissionPrior float64
}

// NewCategoricalFamily returns a CategoricalFamily for n states over an
// alphabet of size k, with an uninitialised EmissionProb (populate via
// Initialize or by assigning it directly before Fit).
func NewCategoricalFamily(n, k int, emissionPrior float64) *CategoricalFamily {
	if emissionPrior <= 0 {
		emissionPrior = 1
	}
	return &CategoricalFamily{N: n, K: k, EmissionPrior: emissionPrior}
}

func (f *CategoricalFamily) Letters() string { return categoricalLetters }

func (f *CategoricalFamily) Validate() error {
	if len(f.EmissionProb) != f.N {
		return fmt.Errorf("hmmlib: CategoricalFamily.Validate: %w", ErrShapeMismatch)
	}
	for _, row := range f.EmissionProb {
		if len(row) != f.K {
			return fmt.Errorf("hmmlib: CategoricalFamily.Validate: %w", ErrShapeMismatch)
		}
	}
	return ValidateStochastic(f.EmissionProb)
}

func (f *CategoricalFamily) Initialize(obs [][]float64, initMask string, rng *rand.Rand) error {
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

func (f *CategoricalFamily) LogLikelihood(x [][]float64) ([][]float64, error) {
	t := len(x)
	b := newMatrix(t, f.N)
	for tt, row := range x {
		if len(row) != 1 {
			return nil, fmt.Errorf("hmmlib: CategoricalFamily.LogLikelihood: %w", ErrShapeMismatch)
		}
		k := int(row[0])
		if k < 0 || k >= f.K {
			return nil, fmt.Errorf("hmmlib: CategoricalFamily.LogLikelihood: symbol %d out of range [0,%d): %w", k, f.K, ErrShapeMismatch)
		}
		for j := 0; j < f.N; j++ {
			b[tt][j] = logProb(f.EmissionProb[j][k])
		}
	}
	return b, nil
}

// categoricalStats accumulates obs[j][k] = sum_{t: x_t=k} gamma[t][j].
type categoricalStats struct {
	n, k int
	obs  [][]float64
	nOb  int
}

func (s *categoricalStats) reset() {
	for _, row := range s.obs {
		for i := range row {
			row[i] = 0
		}
	}
	s.nOb = 0
}

func (s *categoricalStats) nobs() int { return s.nOb }

func (f *CategoricalFamily) NewSufficientStats() SufficientStats {
	return &categoricalStats{n: f.N, k: f.K, obs: newMatrix(f.N, f.K)}
}

func (f *CategoricalFamily) Accumulate(stats SufficientStats, x [][]float64, gamma [][]float64, logB [][]float64) error {
	s, ok := stats.(*categoricalStats)
	if !ok {
		return fmt.Errorf("hmmlib: CategoricalFamily.Accumulate: %w", ErrShapeMismatch)
	}
	for t, row := range x {
		k := int(row[0])
		for j := 0; j < f.N; j++ {
			s.obs[j][k] += gamma[t][j]
		}
		s.nOb++
	}
	return nil
}

func (f *CategoricalFamily) MStep(stats SufficientStats, trainMask string) error {
	if err := validateMask(trainMask, f.Letters(), "params letter"); err != nil {
		return err
	}
	if !maskHas(trainMask, 'e') {
		return nil
	}
	s, ok := stats.(*categoricalStats)
	if !ok {
		return fmt.Errorf("hmmlib: CategoricalFamily.MStep: %w", ErrShapeMismatch)
	}
	prior := make([]float64, f.K)
	for i := range prior {
		prior[i] = f.EmissionPrior
	}
	for j := 0; j < f.N; j++ {
		f.EmissionProb[j] = NormalizeRow(s.obs[j], prior)
	}
	return nil
}

func (f *CategoricalFamily) SampleFromState(j int, rng *rand.Rand) []float64 {
	u := rng.Float64()
	var cum float64
	for k, p := range f.EmissionProb[j] {
		cum += p
		if u <= cum {
			return []float64{float64(k)}
		}
	}
	return []float64{float64(f.K - 1)}
}

func (f *CategoricalFamily) NFreeScalars(trainMask string) int {
	if !maskHas(trainMask, 'e') {
		return 0
	}
	return f.N * (f.K - 1)
}
