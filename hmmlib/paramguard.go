package hmmlib

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	stochasticTol  = 1e-9
	symmetricTol   = 1e-9
	rowRenormalTol = 1e-12
)

// NormalizeRow implements spec §4.7 normalise_row: returns
// max(v[i]+prior[i]-1, 0) elementwise, then divides by the row sum; if the
// sum is zero, returns a uniform row instead.  prior may be nil, meaning a
// flat prior of 1 (a no-op, per SPEC_FULL.md open question 2).
func NormalizeRow(v, prior []float64) []float64 {
	n := len(v)
	out := make([]float64, n)
	var sum float64
	for i := 0; i < n; i++ {
		p := 1.0
		if prior != nil {
			p = prior[i]
		}
		x := v[i] + p - 1
		if x < 0 {
			x = 0
		}
		out[i] = x
		sum += x
	}
	if sum <= 0 {
		u := 1 / float64(n)
		for i := range out {
			out[i] = u
		}
		return out
	}
	floats.Scale(1/sum, out)
	return out
}

// ValidateStochastic checks that every row of m sums to 1 within
// stochasticTol and has no negative entries, returning ErrNotStochastic
// otherwise (spec §4.7 validate_stochastic).
func ValidateStochastic(m [][]float64) error {
	for i, row := range m {
		var sum float64
		for j, v := range row {
			if v < -stochasticTol {
				return fmt.Errorf("hmmlib: ValidateStochastic: row %d entry %d = %v is negative: %w", i, j, v, ErrNotStochastic)
			}
			sum += v
		}
		if math.Abs(sum-1) > stochasticTol {
			return fmt.Errorf("hmmlib: ValidateStochastic: row %d sums to %v: %w", i, sum, ErrNotStochastic)
		}
	}
	return nil
}

// ValidateStochasticVector is ValidateStochastic specialised to a single
// probability vector (e.g. start_prob).
func ValidateStochasticVector(v []float64) error {
	return ValidateStochastic([][]float64{v})
}

// ValidateCovarianceMatrix checks that cov is symmetric within
// symmetricTol and positive-definite (via a Cholesky attempt), returning
// ErrNonPositiveDefinite or a shape error otherwise.  Used by ParamGuard for
// full/tied Gaussian covariance types (spec §4.7 validate_covariance).
func ValidateCovarianceMatrix(cov *mat.SymDense) error {
	d, _ := cov.Dims()
	for i := 0; i < d; i++ {
		for j := i + 1; j < d; j++ {
			if math.Abs(cov.At(i, j)-cov.At(j, i)) > symmetricTol {
				return fmt.Errorf("hmmlib: ValidateCovarianceMatrix: entries (%d,%d) and (%d,%d) differ: %w", i, j, j, i, ErrShapeMismatch)
			}
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(cov) {
		return fmt.Errorf("hmmlib: ValidateCovarianceMatrix: %w", ErrNonPositiveDefinite)
	}
	return nil
}

// ValidateVariance checks that every entry of a diagonal/spherical variance
// vector is strictly positive.
func ValidateVariance(v []float64) error {
	for i, x := range v {
		if x <= 0 {
			return fmt.Errorf("hmmlib: ValidateVariance: entry %d = %v is not positive: %w", i, x, ErrNonPositiveDefinite)
		}
	}
	return nil
}

// ProjectRowStochastic renormalises every row of m to sum to exactly 1
// (within rowRenormalTol), resetting any row that sums to <= 0 to uniform.
// This is the ParamGuard enforcement step run after every M-step (spec §4.4
// step 4: "enforce row-stochasticity within 1e-12").
func ProjectRowStochastic(m [][]float64) {
	for _, row := range m {
		sum := floats.Sum(row)
		if sum <= 0 {
			u := 1 / float64(len(row))
			for j := range row {
				row[j] = u
			}
			continue
		}
		if math.Abs(sum-1) > rowRenormalTol {
			floats.Scale(1/sum, row)
		}
	}
}
