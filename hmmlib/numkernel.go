package hmmlib

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// negInf is the log-space sentinel for probability zero.  It is used
// instead of NaN throughout the lattice recurrences so that "impossible"
// states propagate cleanly under the rule (-Inf)+x = -Inf.
var negInf = math.Inf(-1)

// logSumExp returns log(sum_i exp(v[i])), computed in a shift-and-sum
// fashion that avoids overflow/underflow.  An all-(-Inf) input returns
// -Inf, never NaN.
func logSumExp(v []float64) float64 {
	if len(v) == 0 {
		return negInf
	}
	m := floats.Max(v)
	if math.IsInf(m, -1) {
		return negInf
	}
	var s float64
	for _, x := range v {
		s += math.Exp(x - m)
	}
	return m + math.Log(s)
}

// logMatVecLog computes y[j] = logsumexp_i(logA[i][j] + logx[i]), i.e. a
// matrix-vector product carried out entirely in log space.  logA is N x N
// (row i, column j), logx has length N, and the result has length N.
func logMatVecLog(logA [][]float64, logx []float64) []float64 {
	n := len(logx)
	y := make([]float64, n)
	terms := make([]float64, n)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			terms[i] = logA[i][j] + logx[i]
		}
		y[j] = logSumExp(terms)
	}
	return y
}

// cholGaussianLogDensity returns the log-density of the multivariate normal
// distribution N(mean, cov) evaluated at x, using a Cholesky factorisation
// of cov.  If cov is not positive-definite, minCovar*I is added once and the
// factorisation retried; if it still fails, ErrNonPositiveDefinite is
// returned.  This is the sole path full/tied Gaussian covariance
// log-likelihoods take, per the Cholesky-based form required by the spec.
func cholGaussianLogDensity(x, mean []float64, cov *mat.SymDense, minCovar float64) (float64, error) {
	d := len(mean)
	covRows, covCols := cov.Dims()
	if covRows != d || covCols != d || len(x) != d {
		return 0, fmt.Errorf("hmmlib: cholGaussianLogDensity: %w", ErrShapeMismatch)
	}

	var chol mat.Cholesky
	ok := chol.Factorize(cov)
	if !ok {
		jittered := mat.NewSymDense(d, nil)
		jittered.CopySym(cov)
		for i := 0; i < d; i++ {
			jittered.SetSym(i, i, jittered.At(i, i)+minCovar)
		}
		ok = chol.Factorize(jittered)
		if !ok {
			return 0, fmt.Errorf("hmmlib: cholGaussianLogDensity: %w", ErrNonPositiveDefinite)
		}
	}

	diff := mat.NewVecDense(d, nil)
	for i := 0; i < d; i++ {
		diff.SetVec(i, x[i]-mean[i])
	}

	// Solve L z = diff for z, so that ||z||^2 = diff^T Sigma^-1 diff.
	var lower mat.TriDense
	chol.LTo(&lower)
	z := mat.NewVecDense(d, nil)
	if err := z.SolveVec(&lower, diff); err != nil {
		return 0, fmt.Errorf("hmmlib: cholGaussianLogDensity: triangular solve: %w", err)
	}

	var sumLogDiag float64
	for i := 0; i < d; i++ {
		sumLogDiag += math.Log(lower.At(i, i))
	}

	quad := mat.Dot(z, z)
	logDens := -0.5 * (float64(d)*math.Log(2*math.Pi) + 2*sumLogDiag + quad)
	return logDens, nil
}

// diagGaussianLogDensity is the closed-form log-density for a diagonal (or,
// with all D entries equal, spherical) covariance, avoiding the Cholesky
// machinery entirely for the common case.
func diagGaussianLogDensity(x, mean, variance []float64) float64 {
	var lpr float64
	for i := range x {
		v := variance[i]
		z := x[i] - mean[i]
		lpr += -0.5*math.Log(2*math.Pi*v) - z*z/(2*v)
	}
	return lpr
}

// logNormalize subtracts logsumexp(v) from every entry of v in place,
// returning that logsumexp value.  Used to turn a row of unnormalised log
// weights into a row of log-probabilities.
func logNormalize(v []float64) float64 {
	lse := logSumExp(v)
	if math.IsInf(lse, -1) {
		return lse
	}
	for i := range v {
		v[i] -= lse
	}
	return lse
}
