package hmmlib

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Implementation selects the numerical strategy used by LatticeEngine.
type Implementation uint8

// Log and Scaling are the two supported LatticeEngine implementations.
// Both must agree within 1e-8 on the reference scenarios (spec §8).
const (
	Log Implementation = iota
	Scaling
)

// ParseImplementation converts a config string into an Implementation,
// returning ErrInvalidOption for anything else.
func ParseImplementation(s string) (Implementation, error) {
	switch s {
	case "", "log":
		return Log, nil
	case "scaling":
		return Scaling, nil
	default:
		return 0, fmt.Errorf("hmmlib: implementation %q: %w", s, ErrInvalidOption)
	}
}

// Lattice holds the transient per-subsequence forward/backward state
// computed by LatticeEngine.  It is scoped to a single EM iteration (or a
// single score/decode call) and is not retained afterward.
type Lattice struct {
	T, N int

	// LogFrameProb is B[t][j] = log p(x_t | state=j), supplied by the
	// caller's EmissionFamily.
	LogFrameProb [][]float64

	// Fwd is alpha[t][j] in log space (after ForwardBackwardScaled it
	// holds the scaled probability-space alpha instead).
	Fwd [][]float64

	// Bwd is beta[t][j] in log space (after ForwardBackwardScaled it holds
	// the scaled probability-space beta instead).
	Bwd [][]float64

	// LogProb is the total log-probability of the subsequence, ell.
	LogProb float64

	// Posteriors is gamma[t][j] = p(state_t=j | X), in probability space.
	// Rows sum to 1 (within 1e-9) whenever LogProb is finite.
	Posteriors [][]float64

	// XiSum holds the summed transition posteriors,
	// xi[i][j] = sum_t p(state_t=i, state_{t+1}=j | X), as a
	// probability-space N x N matrix; nil when T <= 1.
	XiSum [][]float64
}

// newLattice allocates a Lattice for a subsequence of length T over N
// states.  T may be zero.
func newLattice(t, n int) *Lattice {
	return &Lattice{
		T:            t,
		N:            n,
		LogFrameProb: newMatrix(t, n),
		Fwd:          newMatrix(t, n),
		Bwd:          newMatrix(t, n),
		Posteriors:   newMatrix(t, n),
	}
}

func newMatrix(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
	}
	return m
}

// Forward runs the forward recurrence described in spec §4.2, filling
// lat.Fwd and lat.LogProb from lat.LogFrameProb, startProb (length N), and
// logTrans (log of the N x N transition matrix, row i = "from state i").
//
//	alpha[0][j]   = log(pi[j]) + B[0][j]
//	alpha[t][j]   = logsumexp_i(alpha[t-1][i] + logTrans[i][j]) + B[t][j]
//	ell           = logsumexp_j(alpha[T-1][j])
//
// If T == 0, LogProb is set to 0 and Fwd is left empty, per the spec's
// T=0 failure semantics.
func (lat *Lattice) Forward(startProb []float64, logTrans [][]float64) {
	if lat.T == 0 {
		lat.LogProb = 0
		return
	}

	logStart := make([]float64, lat.N)
	for j, p := range startProb {
		logStart[j] = logProb(p)
	}

	for j := 0; j < lat.N; j++ {
		lat.Fwd[0][j] = logStart[j] + lat.LogFrameProb[0][j]
	}

	prevLogAlpha := make([]float64, lat.N)
	for t := 1; t < lat.T; t++ {
		copy(prevLogAlpha, lat.Fwd[t-1])
		next := logMatVecLog(logTrans, prevLogAlpha)
		for j := 0; j < lat.N; j++ {
			lat.Fwd[t][j] = next[j] + lat.LogFrameProb[t][j]
		}
	}

	lat.LogProb = logSumExp(lat.Fwd[lat.T-1])
}

// Backward runs the backward recurrence described in spec §4.2, filling
// lat.Bwd from lat.LogFrameProb and logTrans.
//
//	beta[T-1][j] = 0
//	beta[t][i]   = logsumexp_j(logTrans[i][j] + B[t+1][j] + beta[t+1][j])
func (lat *Lattice) Backward(logTrans [][]float64) {
	if lat.T == 0 {
		return
	}

	for j := 0; j < lat.N; j++ {
		lat.Bwd[lat.T-1][j] = 0
	}

	terms := make([]float64, lat.N)
	for t := lat.T - 2; t >= 0; t-- {
		for i := 0; i < lat.N; i++ {
			for j := 0; j < lat.N; j++ {
				terms[j] = logTrans[i][j] + lat.LogFrameProb[t+1][j] + lat.Bwd[t+1][j]
			}
			lat.Bwd[t][i] = logSumExp(terms)
		}
	}
}

// ComputePosteriors fills lat.Posteriors from lat.Fwd, lat.Bwd, and
// lat.LogProb: gamma[t][j] = exp(alpha[t][j] + beta[t][j] - ell).  When
// LogProb is -Inf (the model assigns zero mass to the sequence) every
// posterior is left at zero rather than becoming NaN.
func (lat *Lattice) ComputePosteriors() {
	illConditioned := math.IsInf(lat.LogProb, -1)
	for t := 0; t < lat.T; t++ {
		if illConditioned {
			continue
		}
		for j := 0; j < lat.N; j++ {
			lat.Posteriors[t][j] = math.Exp(lat.Fwd[t][j] + lat.Bwd[t][j] - lat.LogProb)
		}
		// Renormalise defensively: floating error can leave the row
		// sum a few ULPs away from 1.
		normalizeSumTo1(lat.Posteriors[t])
	}
}

// ComputeXiSum fills lat.XiSum, the time-summed transition posteriors:
//
//	xi[i][j] = exp(logsumexp_t(alpha[t][i] + logTrans[i][j] + B[t+1][j] + beta[t+1][j]) - ell)
//
// XiSum is nil when T <= 1 (no transitions observed in the subsequence).
func (lat *Lattice) ComputeXiSum(logTrans [][]float64) {
	if lat.T <= 1 || math.IsInf(lat.LogProb, -1) {
		return
	}

	lat.XiSum = newMatrix(lat.N, lat.N)
	logTerms := make([]float64, lat.T-1)
	for i := 0; i < lat.N; i++ {
		for j := 0; j < lat.N; j++ {
			for t := 0; t < lat.T-1; t++ {
				logTerms[t] = lat.Fwd[t][i] + logTrans[i][j] + lat.LogFrameProb[t+1][j] + lat.Bwd[t+1][j]
			}
			lat.XiSum[i][j] = math.Exp(logSumExp(logTerms) - lat.LogProb)
		}
	}
}

// ViterbiDecode runs the Viterbi maximisation described in spec §4.2 and
// returns the total log-probability of the most likely path together with
// the path itself (state indices, length T).  Ties are broken toward the
// lowest state index.  T == 0 returns (0, nil).
func ViterbiDecode(logFrameProb [][]float64, startProb []float64, logTrans [][]float64) (float64, []int) {
	t := len(logFrameProb)
	if t == 0 {
		return 0, nil
	}
	n := len(startProb)

	delta := newMatrix(t, n)
	psi := make([][]int, t)
	for i := range psi {
		psi[i] = make([]int, n)
	}

	for j := 0; j < n; j++ {
		delta[0][j] = logProb(startProb[j]) + logFrameProb[0][j]
	}

	for tt := 1; tt < t; tt++ {
		for j := 0; j < n; j++ {
			best := negInf
			bestI := 0
			for i := 0; i < n; i++ {
				v := delta[tt-1][i] + logTrans[i][j]
				if v > best {
					best = v
					bestI = i
				}
			}
			delta[tt][j] = best + logFrameProb[tt][j]
			psi[tt][j] = bestI
		}
	}

	path := make([]int, t)
	best := negInf
	for j := 0; j < n; j++ {
		if delta[t-1][j] > best {
			best = delta[t-1][j]
			path[t-1] = j
		}
	}
	for tt := t - 2; tt >= 0; tt-- {
		path[tt] = psi[tt+1][path[tt+1]]
	}

	return best, path
}

// MapDecode computes the posterior-MAP state sequence: argmax_j gamma[t][j]
// for each t, tie-broken toward the lowest state index.  Returns the sum of
// log posteriors at the chosen states as the reported log-probability
// (matching decode's contract of returning a scalar score alongside a
// path), together with the path.
func MapDecode(posteriors [][]float64) (float64, []int) {
	t := len(posteriors)
	if t == 0 {
		return 0, nil
	}
	path := make([]int, t)
	var lp float64
	for tt := 0; tt < t; tt++ {
		best := -1.0
		bestJ := 0
		for j, p := range posteriors[tt] {
			if p > best {
				best = p
				bestJ = j
			}
		}
		path[tt] = bestJ
		lp += logProb(best)
	}
	return lp, path
}

// logProb returns log(p), mapping p==0 to -Inf rather than to -Inf via
// math.Log(0) accidentally producing the right value anyway (kept as a
// named helper so the intent at each call site is unambiguous).
func logProb(p float64) float64 {
	if p <= 0 {
		return negInf
	}
	return math.Log(p)
}

// normalizeSumTo1 rescales x in place to sum to 1.  If the sum is
// effectively zero, x is left unchanged (all-zero posteriors signal an
// ill-conditioned lattice, handled by the caller).
func normalizeSumTo1(x []float64) {
	s := floats.Sum(x)
	if s < 1e-300 {
		return
	}
	floats.Scale(1/s, x)
}
