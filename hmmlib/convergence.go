package hmmlib

import (
	"log"
	"math"
)

// sqrtEps is sqrt(machine epsilon), the slack the monitor allows before
// flagging a log-probability decrease as a genuine non-monotone warning
// rather than floating noise (spec §4.5).
var sqrtEps = math.Sqrt(2.220446049250313e-16)

// ConvergenceMonitor tracks EM log-probability history and decides when to
// stop iterating, per spec §4.5.  History is intentionally capped at two
// entries: the termination rule depends only on the most recent delta.
type ConvergenceMonitor struct {
	NIter   int
	Tol     float64
	Verbose bool
	Logger  *log.Logger

	iter    int
	history []float64
}

// NewConvergenceMonitor returns a monitor configured to run at most nIter
// iterations, declaring convergence once consecutive log-probabilities
// differ by less than tol.
func NewConvergenceMonitor(nIter int, tol float64, verbose bool, logger *log.Logger) *ConvergenceMonitor {
	return &ConvergenceMonitor{
		NIter:   nIter,
		Tol:     tol,
		Verbose: verbose,
		Logger:  logger,
	}
}

// Report records one iteration's total log-probability.  If it is lower
// than the previous entry by more than sqrt(machine epsilon), a
// non-monotone warning is logged (but Fit is not aborted, per spec §7
// propagation policy).
func (m *ConvergenceMonitor) Report(ll float64) {
	if len(m.history) > 0 {
		last := m.history[len(m.history)-1]
		if ll < last-sqrtEps {
			m.warnf("log-probability decreased at iteration %d: %v -> %v (delta %v)", m.iter, last, ll, ll-last)
		}
	}

	m.history = append(m.history, ll)
	if len(m.history) > 2 {
		m.history = m.history[len(m.history)-2:]
	}
	m.iter++

	if m.Verbose {
		m.warnf("iteration %d: log-probability = %v", m.iter, ll)
	}
}

func (m *ConvergenceMonitor) warnf(format string, args ...interface{}) {
	if m.Logger != nil {
		m.Logger.Printf(format, args...)
	}
}

// Converged reports whether the monitor's stopping rule is satisfied:
// iter >= NIter, or the two most recent log-probabilities differ by less
// than Tol.
func (m *ConvergenceMonitor) Converged() bool {
	if m.iter >= m.NIter {
		return true
	}
	if len(m.history) == 2 {
		return m.history[1]-m.history[0] < m.Tol
	}
	return false
}

// Iter returns the number of iterations reported so far.
func (m *ConvergenceMonitor) Iter() int {
	return m.iter
}

// History returns a copy of the (at most two) most recent log-probabilities.
func (m *ConvergenceMonitor) History() []float64 {
	out := make([]float64, len(m.history))
	copy(out, m.history)
	return out
}
