package hmmlib

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const gmmLetters = "mcw"

// GMMFamily implements the Gaussian-mixture emission model of spec §4.3.5:
// each state's emission density is a weighted mixture of M Gaussian
// components sharing the covariance layout of GaussianFamily.
type GMMFamily struct {
	N, M, D  int
	CovType  CovarianceType
	MinCovar float64

	// Weights is N x M, each row summing to 1.
	Weights [][]float64

	// Means is N x M x D.
	Means [][][]float64

	// Covs is N x M for Spherical/Diag/Full.  TiedCov, when set, is one
	// shared D x D matrix reused by every state and mixture component
	// (mirrors GaussianFamily's Tied convention).
	Covs    [][]Covariance
	TiedCov *mat.SymDense

	WeightsPrior float64 // Dirichlet pseudocount per mixture weight
	MeansPrior   []float64
	MeansWeight  float64
	CovarsPrior  float64
	CovarsWeight float64
}

// NewGMMFamily returns a GMMFamily for n states, m mixture components per
// state, over a D-dimensional observation.
func NewGMMFamily(n, m, d int, covType CovarianceType, minCovar float64) *GMMFamily {
	return &GMMFamily{N: n, M: m, D: d, CovType: covType, MinCovar: minCovar}
}

func (f *GMMFamily) Letters() string { return gmmLetters }

func (f *GMMFamily) Validate() error {
	if len(f.Weights) != f.N || len(f.Means) != f.N {
		return fmt.Errorf("hmmlib: GMMFamily.Validate: %w", ErrShapeMismatch)
	}
	if err := ValidateStochastic(f.Weights); err != nil {
		return err
	}
	if f.CovType == Tied {
		if f.TiedCov == nil {
			return fmt.Errorf("hmmlib: GMMFamily.Validate: %w", ErrShapeMismatch)
		}
		return ValidateCovarianceMatrix(f.TiedCov)
	}
	if len(f.Covs) != f.N {
		return fmt.Errorf("hmmlib: GMMFamily.Validate: %w", ErrShapeMismatch)
	}
	for j := 0; j < f.N; j++ {
		if len(f.Means[j]) != f.M || len(f.Covs[j]) != f.M {
			return fmt.Errorf("hmmlib: GMMFamily.Validate: %w", ErrShapeMismatch)
		}
		for m := 0; m < f.M; m++ {
			if err := f.Covs[j][m].Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *GMMFamily) Initialize(obs [][]float64, initMask string, rng *rand.Rand) error {
	if err := validateMask(initMask, f.Letters(), "init_params letter"); err != nil {
		return err
	}

	mean := columnMeans(obs, f.D)
	varr := columnVariances(obs, mean, f.D)

	if maskHas(initMask, 'w') && f.Weights == nil {
		f.Weights = make([][]float64, f.N)
		for j := range f.Weights {
			row := make([]float64, f.M)
			var sum float64
			for m := range row {
				row[m] = rng.Float64() + 1e-3
				sum += row[m]
			}
			floats.Scale(1/sum, row)
			f.Weights[j] = row
		}
	}

	if maskHas(initMask, 'm') && f.Means == nil {
		f.Means = make([][][]float64, f.N)
		for j := range f.Means {
			comps := make([][]float64, f.M)
			for m := range comps {
				row := make([]float64, f.D)
				for d := 0; d < f.D; d++ {
					row[d] = mean[d] + rng.NormFloat64()*sqrtOf(varr[d])
				}
				comps[m] = row
			}
			f.Means[j] = comps
		}
	}

	if maskHas(initMask, 'c') && f.Covs == nil && f.TiedCov == nil {
		switch f.CovType {
		case Tied:
			f.TiedCov = diagSym(varr)
		default:
			f.Covs = make([][]Covariance, f.N)
			for j := range f.Covs {
				comps := make([]Covariance, f.M)
				for m := range comps {
					switch f.CovType {
					case Spherical:
						comps[m] = NewSphericalCovariance(f.D, meanOf(varr))
					case Full:
						comps[m] = NewFullCovariance(diagSym(varr))
					default:
						comps[m] = NewDiagCovariance(varr)
					}
				}
				f.Covs[j] = comps
			}
		}
	}

	return nil
}

func sqrtOf(v float64) float64 {
	if v <= 0 {
		return 1
	}
	return math.Sqrt(v)
}

func (f *GMMFamily) covComponent(j, m int) Covariance {
	if f.CovType == Tied {
		return Covariance{Type: Tied, D: f.D, FullCov: f.TiedCov}
	}
	return f.Covs[j][m]
}

func (f *GMMFamily) componentLogDensity(x []float64, j, m int) (float64, error) {
	cov := f.covComponent(j, m)
	if cov.Type == Spherical || cov.Type == Diag {
		return diagGaussianLogDensity(x, f.Means[j][m], cov.AsDiagSlice()), nil
	}
	return cholGaussianLogDensity(x, f.Means[j][m], cov.AsSym(), f.MinCovar)
}

// stateLogDensity returns log p(x|state=j) = logsumexp_m(log w[j][m] +
// log N(x; mean[j][m], cov[j][m])), and the per-component log-responsibility
// terms used by Accumulate.
func (f *GMMFamily) stateLogDensity(x []float64, j int) (float64, []float64, error) {
	terms := make([]float64, f.M)
	for m := 0; m < f.M; m++ {
		ld, err := f.componentLogDensity(x, j, m)
		if err != nil {
			return negInf, nil, err
		}
		terms[m] = logProb(f.Weights[j][m]) + ld
	}
	return logSumExp(terms), terms, nil
}

func (f *GMMFamily) LogLikelihood(x [][]float64) ([][]float64, error) {
	t := len(x)
	b := newMatrix(t, f.N)
	for tt, row := range x {
		if len(row) != f.D {
			return nil, fmt.Errorf("hmmlib: GMMFamily.LogLikelihood: %w", ErrShapeMismatch)
		}
		for j := 0; j < f.N; j++ {
			ld, _, err := f.stateLogDensity(row, j)
			if err != nil {
				return nil, err
			}
			b[tt][j] = ld
		}
	}
	return b, nil
}

// gmmStats accumulates, per (state, component): postComp (responsibility
// mass), obs, obsSq, and obsOuter (full/tied only).  postState is the
// per-state total responsibility; the mixture-weight M-step normalises
// postComp and does not read postState.
type gmmStats struct {
	n, m, d  int
	covType  CovarianceType
	postComp [][]float64
	postState []float64
	obs      [][][]float64
	obsSq    [][][]float64
	obsOuter [][]*mat.SymDense
	nOb      int
}

func (s *gmmStats) reset() {
	for i := range s.postState {
		s.postState[i] = 0
	}
	for _, row := range s.postComp {
		for i := range row {
			row[i] = 0
		}
	}
	for _, comps := range s.obs {
		for _, row := range comps {
			for i := range row {
				row[i] = 0
			}
		}
	}
	for _, comps := range s.obsSq {
		for _, row := range comps {
			for i := range row {
				row[i] = 0
			}
		}
	}
	for _, comps := range s.obsOuter {
		for _, m := range comps {
			if m != nil {
				m.Zero()
			}
		}
	}
	s.nOb = 0
}

func (s *gmmStats) nobs() int { return s.nOb }

func (f *GMMFamily) NewSufficientStats() SufficientStats {
	s := &gmmStats{
		n: f.N, m: f.M, d: f.D, covType: f.CovType,
		postComp:  newMatrix(f.N, f.M),
		postState: make([]float64, f.N),
		obs:       make([][][]float64, f.N),
		obsSq:     make([][][]float64, f.N),
	}
	for j := 0; j < f.N; j++ {
		s.obs[j] = newMatrix(f.M, f.D)
		s.obsSq[j] = newMatrix(f.M, f.D)
	}
	if f.CovType == Full || f.CovType == Tied {
		s.obsOuter = make([][]*mat.SymDense, f.N)
		for j := 0; j < f.N; j++ {
			s.obsOuter[j] = make([]*mat.SymDense, f.M)
			for m := 0; m < f.M; m++ {
				s.obsOuter[j][m] = mat.NewSymDense(f.D, nil)
			}
		}
	}
	return s
}

func (f *GMMFamily) Accumulate(stats SufficientStats, x [][]float64, gamma [][]float64, logB [][]float64) error {
	s, ok := stats.(*gmmStats)
	if !ok {
		return fmt.Errorf("hmmlib: GMMFamily.Accumulate: %w", ErrShapeMismatch)
	}
	for t, row := range x {
		for j := 0; j < f.N; j++ {
			stateLD, terms, err := f.stateLogDensity(row, j)
			if err != nil {
				return err
			}
			g := gamma[t][j]
			for m := 0; m < f.M; m++ {
				// Responsibility of component m within state j,
				// scaled by the state posterior gamma[t][j].
				r := g
				if !isNegInf(stateLD) {
					r *= expClamped(terms[m] - stateLD)
				} else {
					r = 0
				}
				s.postComp[j][m] += r
				s.postState[j] += r
				for d, y := range row {
					s.obs[j][m][d] += r * y
					s.obsSq[j][m][d] += r * y * y
				}
				if s.obsOuter != nil {
					for a := 0; a < f.D; a++ {
						for b := a; b < f.D; b++ {
							s.obsOuter[j][m].SetSym(a, b, s.obsOuter[j][m].At(a, b)+r*row[a]*row[b])
						}
					}
				}
			}
		}
		s.nOb++
	}
	return nil
}

func isNegInf(v float64) bool { return v == negInf }

func expClamped(x float64) float64 {
	if x > 0 {
		x = 0
	}
	return math.Exp(x)
}

func (f *GMMFamily) MStep(stats SufficientStats, trainMask string) error {
	if err := validateMask(trainMask, f.Letters(), "params letter"); err != nil {
		return err
	}
	s, ok := stats.(*gmmStats)
	if !ok {
		return fmt.Errorf("hmmlib: GMMFamily.MStep: %w", ErrShapeMismatch)
	}

	if maskHas(trainMask, 'w') {
		wPrior := make([]float64, f.M)
		for i := range wPrior {
			wPrior[i] = f.WeightsPrior
		}
		newWeights := make([][]float64, f.N)
		for j := 0; j < f.N; j++ {
			newWeights[j] = NormalizeRow(s.postComp[j], wPrior)
		}
		f.Weights = newWeights
	}

	lambda := f.MeansWeight
	mu0 := f.MeansPrior
	if mu0 == nil {
		mu0 = make([]float64, f.D)
	}
	beta := f.CovarsPrior
	alpha := f.CovarsWeight

	means := f.Means
	newMeans := make([][][]float64, f.N)
	for j := 0; j < f.N; j++ {
		comps := make([][]float64, f.M)
		for m := 0; m < f.M; m++ {
			row := make([]float64, f.D)
			for d := 0; d < f.D; d++ {
				row[d] = (s.obs[j][m][d] + lambda*mu0[d]) / (s.postComp[j][m] + lambda)
			}
			comps[m] = row
		}
		newMeans[j] = comps
	}
	if maskHas(trainMask, 'm') {
		f.Means = newMeans
		means = newMeans
	} else {
		means = newMeans
	}

	if !maskHas(trainMask, 'c') {
		return nil
	}

	switch f.CovType {
	case Spherical, Diag:
		f.gmmMstepDiagLike(s, means, mu0, lambda, beta, alpha)
	case Full:
		f.gmmMstepFull(s, means, mu0, lambda, beta, alpha)
	case Tied:
		f.gmmMstepTied(s, means, mu0, lambda, beta, alpha)
	}
	return nil
}

func (f *GMMFamily) gmmMstepDiagLike(s *gmmStats, means [][][]float64, mu0 []float64, lambda, beta, alpha float64) {
	f.Covs = make([][]Covariance, f.N)
	for j := 0; j < f.N; j++ {
		comps := make([]Covariance, f.M)
		for m := 0; m < f.M; m++ {
			den := s.postComp[j][m] + 2*alpha + 1
			diag := make([]float64, f.D)
			for d := 0; d < f.D; d++ {
				mu := means[j][m][d]
				num := s.obsSq[j][m][d] - 2*mu*s.obs[j][m][d] + s.postComp[j][m]*mu*mu + 2*beta + lambda*(mu-mu0[d])*(mu-mu0[d])
				v := num / den
				if v < f.MinCovar {
					v = f.MinCovar
				}
				diag[d] = v
			}
			if f.CovType == Spherical {
				comps[m] = NewSphericalCovariance(f.D, meanOf(diag))
			} else {
				comps[m] = NewDiagCovariance(diag)
			}
		}
		f.Covs[j] = comps
	}
}

func (f *GMMFamily) gmmMstepFull(s *gmmStats, means [][][]float64, mu0 []float64, lambda, beta, alpha float64) {
	f.Covs = make([][]Covariance, f.N)
	for j := 0; j < f.N; j++ {
		comps := make([]Covariance, f.M)
		for m := 0; m < f.M; m++ {
			num := centeredOuterNumerator(s.obsOuter[j][m], s.obs[j][m], means[j][m], mu0, s.postComp[j][m], lambda, beta, f.D)
			den := s.postComp[j][m] + 2*alpha + 1
			cov := mat.NewSymDense(f.D, nil)
			for a := 0; a < f.D; a++ {
				for b := a; b < f.D; b++ {
					cov.SetSym(a, b, num.At(a, b)/den)
				}
			}
			c := NewFullCovariance(cov)
			c.FloorTo(f.MinCovar)
			comps[m] = c
		}
		f.Covs[j] = comps
	}
}

func (f *GMMFamily) gmmMstepTied(s *gmmStats, means [][][]float64, mu0 []float64, lambda, beta, alpha float64) {
	sum := mat.NewSymDense(f.D, nil)
	var totalPost float64
	for j := 0; j < f.N; j++ {
		for m := 0; m < f.M; m++ {
			num := centeredOuterNumerator(s.obsOuter[j][m], s.obs[j][m], means[j][m], mu0, s.postComp[j][m], lambda, beta, f.D)
			for a := 0; a < f.D; a++ {
				for b := a; b < f.D; b++ {
					sum.SetSym(a, b, sum.At(a, b)+num.At(a, b))
				}
			}
			totalPost += s.postComp[j][m]
		}
	}
	den := totalPost + 2*alpha + 1
	cov := mat.NewSymDense(f.D, nil)
	for a := 0; a < f.D; a++ {
		for b := a; b < f.D; b++ {
			cov.SetSym(a, b, sum.At(a, b)/den)
		}
	}
	tied := Covariance{Type: Tied, D: f.D, FullCov: cov}
	tied.FloorTo(f.MinCovar)
	f.TiedCov = tied.FullCov
}

func (f *GMMFamily) SampleFromState(j int, rng *rand.Rand) []float64 {
	u := rng.Float64()
	var cum float64
	m := f.M - 1
	for k, p := range f.Weights[j] {
		cum += p
		if u <= cum {
			m = k
			break
		}
	}
	cov := f.covComponent(j, m)
	// Reuse GaussianFamily's sampler by presenting the chosen component as
	// a single-state Gaussian family.
	single := &GaussianFamily{N: 1, D: f.D, CovType: cov.Type, MinCovar: f.MinCovar}
	single.Means = [][]float64{f.Means[j][m]}
	if cov.Type == Tied {
		single.TiedCov = cov.FullCov
	} else {
		single.Covs = []Covariance{cov}
	}
	return single.SampleFromState(0, rng)
}

func (f *GMMFamily) NFreeScalars(trainMask string) int {
	var n int
	if maskHas(trainMask, 'w') {
		n += f.N * (f.M - 1)
	}
	if maskHas(trainMask, 'm') {
		n += f.N * f.M * f.D
	}
	if maskHas(trainMask, 'c') {
		switch f.CovType {
		case Spherical:
			n += f.N * f.M
		case Diag:
			n += f.N * f.M * f.D
		case Full:
			n += f.N * f.M * f.D * (f.D + 1) / 2
		case Tied:
			n += f.D * (f.D + 1) / 2
		}
	}
	return n
}
