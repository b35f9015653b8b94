package hmmlib

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// CovarianceType selects the storage layout of a Gaussian (or per-mixture
// GMM component) covariance, per spec §3 and DESIGN NOTES §9 ("represent
// the four covariance types as a tagged variant with per-variant storage,
// not a single 3-D array with implicit shape").
type CovarianceType uint8

// Spherical, Diag, Full, and Tied are the four supported covariance
// layouts.
const (
	Spherical CovarianceType = iota
	Diag
	Full
	Tied
)

// ParseCovarianceType converts a config string into a CovarianceType,
// returning ErrInvalidOption for anything else.
func ParseCovarianceType(s string) (CovarianceType, error) {
	switch s {
	case "spherical":
		return Spherical, nil
	case "diag", "":
		return Diag, nil
	case "full":
		return Full, nil
	case "tied":
		return Tied, nil
	default:
		return 0, fmt.Errorf("hmmlib: covariance_type %q: %w", s, ErrInvalidOption)
	}
}

func (c CovarianceType) String() string {
	switch c {
	case Spherical:
		return "spherical"
	case Diag:
		return "diag"
	case Full:
		return "full"
	case Tied:
		return "tied"
	default:
		return "unknown"
	}
}

// Covariance is the tagged-variant covariance store for one HMM state (or,
// within GMM, one mixture component).  Exactly one of the per-variant
// fields is populated, selected by Type.
type Covariance struct {
	Type CovarianceType
	D    int

	// Spherical: a single variance shared across all D dimensions.
	SphericalVar float64

	// Diag: one variance per dimension.
	DiagVar []float64

	// Full: a full D x D symmetric positive-definite matrix, owned by
	// this state alone.
	FullCov *mat.SymDense

	// Tied is not stored per-state; a Tied-type Covariance value carries
	// the family's shared matrix in FullCov for the density and sampling
	// paths (see GaussianFamily, which stores the single shared tied
	// matrix once at the family level, not once per state).
}

// NewSphericalCovariance returns a spherical covariance with the given
// scalar variance.
func NewSphericalCovariance(d int, v float64) Covariance {
	return Covariance{Type: Spherical, D: d, SphericalVar: v}
}

// NewDiagCovariance returns a diagonal covariance from the given per-axis
// variances (length D).
func NewDiagCovariance(v []float64) Covariance {
	return Covariance{Type: Diag, D: len(v), DiagVar: append([]float64(nil), v...)}
}

// NewFullCovariance returns a full covariance wrapping sym (D x D).
func NewFullCovariance(sym *mat.SymDense) Covariance {
	d, _ := sym.Dims()
	return Covariance{Type: Full, D: d, FullCov: sym}
}

// AsDiagSlice returns the covariance's diagonal as a length-D slice,
// regardless of storage variant.  Used by the diagonal-closed-form
// log-density path and by the per-dimension samplers.
func (c Covariance) AsDiagSlice() []float64 {
	switch c.Type {
	case Spherical:
		out := make([]float64, c.D)
		for i := range out {
			out[i] = c.SphericalVar
		}
		return out
	case Diag:
		return c.DiagVar
	case Full, Tied:
		out := make([]float64, c.D)
		for i := 0; i < c.D; i++ {
			out[i] = c.FullCov.At(i, i)
		}
		return out
	default:
		return nil
	}
}

// AsSym returns the covariance as a *mat.SymDense, materialising a diagonal
// matrix for Spherical/Diag storage.  Used by the Cholesky log-density path
// and by the multivariate-normal sampler.
func (c Covariance) AsSym() *mat.SymDense {
	if c.Type == Full || c.Type == Tied {
		return c.FullCov
	}
	diag := c.AsDiagSlice()
	sym := mat.NewSymDense(c.D, nil)
	for i, v := range diag {
		sym.SetSym(i, i, v)
	}
	return sym
}

// FloorTo applies min_covar flooring in place.  Spherical/diag variances
// below minCovar are raised to minCovar.  For full/tied, if FullCov fails a
// Cholesky factorisation, minCovar is added to its diagonal once; the
// result is not factorised again.  Returns 1 if anything was changed, else 0.
func (c *Covariance) FloorTo(minCovar float64) int {
	switch c.Type {
	case Spherical:
		if c.SphericalVar < minCovar {
			c.SphericalVar = minCovar
			return 1
		}
		return 0
	case Diag:
		n := 0
		for i, v := range c.DiagVar {
			if v < minCovar {
				c.DiagVar[i] = minCovar
				n++
			}
		}
		if n > 0 {
			return 1
		}
		return 0
	case Full, Tied:
		var chol mat.Cholesky
		if chol.Factorize(c.FullCov) {
			return 0
		}
		for i := 0; i < c.D; i++ {
			c.FullCov.SetSym(i, i, c.FullCov.At(i, i)+minCovar)
		}
		return 1
	default:
		return 0
	}
}

// Validate reports whether the covariance is well-formed: correct shape,
// symmetric, positive-definite.
func (c Covariance) Validate() error {
	switch c.Type {
	case Spherical:
		return ValidateVariance([]float64{c.SphericalVar})
	case Diag:
		return ValidateVariance(c.DiagVar)
	case Full, Tied:
		return ValidateCovarianceMatrix(c.FullCov)
	default:
		return fmt.Errorf("hmmlib: Covariance.Validate: %w", ErrInvalidOption)
	}
}
