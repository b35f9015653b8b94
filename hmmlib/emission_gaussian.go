package hmmlib

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

const gaussianLetters = "mc"

// GaussianFamily implements the Gaussian emission model of spec §4.3.2,
// over D-dimensional real observations with one of four covariance
// parameterisations (CovarianceType).
type GaussianFamily struct {
	N, D     int
	CovType  CovarianceType
	MinCovar float64

	// Means is N x D.
	Means [][]float64

	// Covs holds one Covariance per state for Spherical/Diag/Full.  For
	// Tied, Covs is unused; TiedCov holds the single D x D matrix shared
	// by every state (spec §3: tied ∈ R^{D x D}, not R^{N x D x D}).
	Covs    []Covariance
	TiedCov *mat.SymDense

	// Conjugate MAP prior parameters (SPEC_FULL.md open question 2: these
	// are concentration-style parameters, consumed as given by the M-step
	// formulas of spec §4.3.2, not pre-decremented by the caller).
	MeansPrior  []float64 // mu0, length D
	MeansWeight float64   // lambda
	CovarsPrior float64   // beta
	CovarsWeight float64  // alpha
}

// NewGaussianFamily returns a GaussianFamily for n states of dimension d
// with the given covariance layout and flooring value.
func NewGaussianFamily(n, d int, covType CovarianceType, minCovar float64) *GaussianFamily {
	return &GaussianFamily{N: n, D: d, CovType: covType, MinCovar: minCovar}
}

func (f *GaussianFamily) Letters() string { return gaussianLetters }

func (f *GaussianFamily) Validate() error {
	if len(f.Means) != f.N {
		return fmt.Errorf("hmmlib: GaussianFamily.Validate: %w", ErrShapeMismatch)
	}
	for _, row := range f.Means {
		if len(row) != f.D {
			return fmt.Errorf("hmmlib: GaussianFamily.Validate: %w", ErrShapeMismatch)
		}
	}
	if f.CovType == Tied {
		if f.TiedCov == nil {
			return fmt.Errorf("hmmlib: GaussianFamily.Validate: %w", ErrShapeMismatch)
		}
		return ValidateCovarianceMatrix(f.TiedCov)
	}
	if len(f.Covs) != f.N {
		return fmt.Errorf("hmmlib: GaussianFamily.Validate: %w", ErrShapeMismatch)
	}
	for _, c := range f.Covs {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (f *GaussianFamily) Initialize(obs [][]float64, initMask string, rng *rand.Rand) error {
	if err := validateMask(initMask, f.Letters(), "init_params letter"); err != nil {
		return err
	}

	mean := columnMeans(obs, f.D)
	varr := columnVariances(obs, mean, f.D)

	if maskHas(initMask, 'm') && f.Means == nil {
		f.Means = make([][]float64, f.N)
		for j := 0; j < f.N; j++ {
			row := make([]float64, f.D)
			for d := 0; d < f.D; d++ {
				row[d] = mean[d] + (rng.Float64()-0.5)*2*math.Sqrt(varr[d])
			}
			f.Means[j] = row
		}
	}

	if maskHas(initMask, 'c') && f.Covs == nil && f.TiedCov == nil {
		switch f.CovType {
		case Spherical:
			f.Covs = make([]Covariance, f.N)
			avgVar := meanOf(varr)
			for j := range f.Covs {
				f.Covs[j] = NewSphericalCovariance(f.D, avgVar)
			}
		case Diag:
			f.Covs = make([]Covariance, f.N)
			for j := range f.Covs {
				f.Covs[j] = NewDiagCovariance(varr)
			}
		case Full:
			f.Covs = make([]Covariance, f.N)
			for j := range f.Covs {
				f.Covs[j] = NewFullCovariance(diagSym(varr))
			}
		case Tied:
			f.TiedCov = diagSym(varr)
		}
	}

	return nil
}

func diagSym(diag []float64) *mat.SymDense {
	d := len(diag)
	sym := mat.NewSymDense(d, nil)
	for i, v := range diag {
		sym.SetSym(i, i, v)
	}
	return sym
}

func meanOf(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

func columnVariances(x [][]float64, mean []float64, d int) []float64 {
	v := make([]float64, d)
	if len(x) < 2 {
		for i := range v {
			v[i] = 1
		}
		return v
	}
	for _, row := range x {
		for i, y := range row {
			diff := y - mean[i]
			v[i] += diff * diff
		}
	}
	for i := range v {
		v[i] /= float64(len(x) - 1)
		if v[i] <= 0 {
			v[i] = 1
		}
	}
	return v
}

// covForState returns the effective Covariance for state j (materialising
// the shared Tied matrix into a per-call Covariance value).
func (f *GaussianFamily) covForState(j int) Covariance {
	if f.CovType == Tied {
		return Covariance{Type: Tied, D: f.D, FullCov: f.TiedCov}
	}
	return f.Covs[j]
}

func (f *GaussianFamily) logDensity(x []float64, j int) (float64, error) {
	cov := f.covForState(j)
	switch cov.Type {
	case Spherical, Diag:
		return diagGaussianLogDensity(x, f.Means[j], cov.AsDiagSlice()), nil
	default:
		return cholGaussianLogDensity(x, f.Means[j], cov.AsSym(), f.MinCovar)
	}
}

func (f *GaussianFamily) LogLikelihood(x [][]float64) ([][]float64, error) {
	t := len(x)
	b := newMatrix(t, f.N)
	for tt, row := range x {
		if len(row) != f.D {
			return nil, fmt.Errorf("hmmlib: GaussianFamily.LogLikelihood: %w", ErrShapeMismatch)
		}
		for j := 0; j < f.N; j++ {
			lp, err := f.logDensity(row, j)
			if err != nil {
				return nil, err
			}
			b[tt][j] = lp
		}
	}
	return b, nil
}

// gaussianStats accumulates post[j], obs[j] (Nx D), obsSq[j] (N x D), and
// obsOuter[j] (N x D x D, only when CovType is Full or Tied).
type gaussianStats struct {
	n, d     int
	covType  CovarianceType
	post     []float64
	obs      [][]float64
	obsSq    [][]float64
	obsOuter []*mat.SymDense
	nOb      int
}

func (s *gaussianStats) reset() {
	for i := range s.post {
		s.post[i] = 0
	}
	for _, row := range s.obs {
		for i := range row {
			row[i] = 0
		}
	}
	for _, row := range s.obsSq {
		for i := range row {
			row[i] = 0
		}
	}
	for _, m := range s.obsOuter {
		if m != nil {
			m.Zero()
		}
	}
	s.nOb = 0
}

func (s *gaussianStats) nobs() int { return s.nOb }

func (f *GaussianFamily) NewSufficientStats() SufficientStats {
	s := &gaussianStats{
		n:       f.N,
		d:       f.D,
		covType: f.CovType,
		post:    make([]float64, f.N),
		obs:     newMatrix(f.N, f.D),
		obsSq:   newMatrix(f.N, f.D),
	}
	if f.CovType == Full || f.CovType == Tied {
		s.obsOuter = make([]*mat.SymDense, f.N)
		for j := range s.obsOuter {
			s.obsOuter[j] = mat.NewSymDense(f.D, nil)
		}
	}
	return s
}

func (f *GaussianFamily) Accumulate(stats SufficientStats, x [][]float64, gamma [][]float64, logB [][]float64) error {
	s, ok := stats.(*gaussianStats)
	if !ok {
		return fmt.Errorf("hmmlib: GaussianFamily.Accumulate: %w", ErrShapeMismatch)
	}
	for t, row := range x {
		for j := 0; j < f.N; j++ {
			g := gamma[t][j]
			s.post[j] += g
			for d, y := range row {
				s.obs[j][d] += g * y
				s.obsSq[j][d] += g * y * y
			}
			if s.obsOuter != nil {
				for a := 0; a < f.D; a++ {
					for b := a; b < f.D; b++ {
						s.obsOuter[j].SetSym(a, b, s.obsOuter[j].At(a, b)+g*row[a]*row[b])
					}
				}
			}
		}
		s.nOb++
	}
	return nil
}

func (f *GaussianFamily) MStep(stats SufficientStats, trainMask string) error {
	if err := validateMask(trainMask, f.Letters(), "params letter"); err != nil {
		return err
	}
	s, ok := stats.(*gaussianStats)
	if !ok {
		return fmt.Errorf("hmmlib: GaussianFamily.MStep: %w", ErrShapeMismatch)
	}

	lambda := f.MeansWeight
	mu0 := f.MeansPrior
	if mu0 == nil {
		mu0 = make([]float64, f.D)
	}
	beta := f.CovarsPrior
	alpha := f.CovarsWeight

	newMeans := make([][]float64, f.N)
	for j := 0; j < f.N; j++ {
		row := make([]float64, f.D)
		for d := 0; d < f.D; d++ {
			row[d] = (s.obs[j][d] + lambda*mu0[d]) / (s.post[j] + lambda)
		}
		newMeans[j] = row
	}
	if maskHas(trainMask, 'm') {
		f.Means = newMeans
	}
	// The covariance update uses the freshly re-estimated means
	// regardless of whether 'm' is in trainMask, matching the coupled
	// conjugate-normal M-step (means and covariance share sufficient
	// statistics computed against the same working means).
	means := newMeans

	if !maskHas(trainMask, 'c') {
		return nil
	}

	switch f.CovType {
	case Spherical, Diag:
		f.mstepDiagLike(s, means, mu0, lambda, beta, alpha)
	case Full:
		f.mstepFull(s, means, mu0, lambda, beta, alpha)
	case Tied:
		f.mstepTied(s, means, mu0, lambda, beta, alpha)
	}
	return nil
}

func (f *GaussianFamily) mstepDiagLike(s *gaussianStats, means [][]float64, mu0 []float64, lambda, beta, alpha float64) {
	diag := newMatrix(f.N, f.D)
	for j := 0; j < f.N; j++ {
		den := s.post[j] + 2*alpha + 1
		for d := 0; d < f.D; d++ {
			m := means[j][d]
			num := s.obsSq[j][d] - 2*m*s.obs[j][d] + s.post[j]*m*m + 2*beta + lambda*(m-mu0[d])*(m-mu0[d])
			v := num / den
			if v < f.MinCovar {
				v = f.MinCovar
			}
			diag[j][d] = v
		}
	}

	if f.CovType == Spherical {
		f.Covs = make([]Covariance, f.N)
		for j := 0; j < f.N; j++ {
			f.Covs[j] = NewSphericalCovariance(f.D, meanOf(diag[j]))
		}
		return
	}

	f.Covs = make([]Covariance, f.N)
	for j := 0; j < f.N; j++ {
		f.Covs[j] = NewDiagCovariance(diag[j])
	}
}

// centeredOuterNumerator computes ObsOuter[j] - outer(obs[j],means[j]) -
// outer(means[j],obs[j]) + post[j]*outer(means[j],means[j]), i.e. the raw
// second-moment sum re-centred on the given means, plus the conjugate prior
// term 2*beta*I + lambda*outer(meandiff, meandiff).
func centeredOuterNumerator(obsOuter *mat.SymDense, obsRow, meanRow, mu0 []float64, post, lambda, beta float64, d int) *mat.SymDense {
	out := mat.NewSymDense(d, nil)
	for a := 0; a < d; a++ {
		diffA := meanRow[a] - mu0[a]
		for b := a; b < d; b++ {
			diffB := meanRow[b] - mu0[b]
			v := obsOuter.At(a, b)
			v -= meanRow[a] * obsRow[b]
			v -= obsRow[a] * meanRow[b]
			v += post * meanRow[a] * meanRow[b]
			v += lambda * diffA * diffB
			if a == b {
				v += 2 * beta
			}
			out.SetSym(a, b, v)
		}
	}
	return out
}

func (f *GaussianFamily) mstepFull(s *gaussianStats, means [][]float64, mu0 []float64, lambda, beta, alpha float64) {
	f.Covs = make([]Covariance, f.N)
	for j := 0; j < f.N; j++ {
		num := centeredOuterNumerator(s.obsOuter[j], s.obs[j], means[j], mu0, s.post[j], lambda, beta, f.D)
		den := s.post[j] + 2*alpha + 1
		cov := mat.NewSymDense(f.D, nil)
		for a := 0; a < f.D; a++ {
			for b := a; b < f.D; b++ {
				cov.SetSym(a, b, num.At(a, b)/den)
			}
		}
		c := NewFullCovariance(cov)
		c.FloorTo(f.MinCovar)
		f.Covs[j] = c
	}
}

func (f *GaussianFamily) mstepTied(s *gaussianStats, means [][]float64, mu0 []float64, lambda, beta, alpha float64) {
	sum := mat.NewSymDense(f.D, nil)
	var totalPost float64
	for j := 0; j < f.N; j++ {
		num := centeredOuterNumerator(s.obsOuter[j], s.obs[j], means[j], mu0, s.post[j], lambda, beta, f.D)
		for a := 0; a < f.D; a++ {
			for b := a; b < f.D; b++ {
				sum.SetSym(a, b, sum.At(a, b)+num.At(a, b))
			}
		}
		totalPost += s.post[j]
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

func (f *GaussianFamily) SampleFromState(j int, rng *rand.Rand) []float64 {
	cov := f.covForState(j)
	if cov.Type == Spherical || cov.Type == Diag {
		out := make([]float64, f.D)
		diag := cov.AsDiagSlice()
		for d := 0; d < f.D; d++ {
			n := distuv.Normal{Mu: f.Means[j][d], Sigma: math.Sqrt(diag[d]), Src: randSource{rng}}
			out[d] = n.Rand()
		}
		return out
	}
	mvn, ok := distmv.NewNormal(f.Means[j], cov.AsSym(), randSource{rng})
	if !ok {
		// Fall back to the diagonal of the covariance if the full
		// matrix somehow fails Cholesky here (already validated by
		// ParamGuard during Fit, so this is a defensive path only).
		out := make([]float64, f.D)
		diag := cov.AsDiagSlice()
		for d := 0; d < f.D; d++ {
			n := distuv.Normal{Mu: f.Means[j][d], Sigma: math.Sqrt(diag[d]), Src: randSource{rng}}
			out[d] = n.Rand()
		}
		return out
	}
	return mvn.Rand(nil)
}

func (f *GaussianFamily) NFreeScalars(trainMask string) int {
	var n int
	if maskHas(trainMask, 'm') {
		n += f.N * f.D
	}
	if maskHas(trainMask, 'c') {
		switch f.CovType {
		case Spherical:
			n += f.N
		case Diag:
			n += f.N * f.D
		case Full:
			n += f.N * f.D * (f.D + 1) / 2
		case Tied:
			n += f.D * (f.D + 1) / 2
		}
	}
	return n
}
