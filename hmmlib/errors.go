// Package hmmlib implements the training and inference engine for
// discrete-time, finite-state hidden Markov models with pluggable emission
// distributions.
package hmmlib

import (
	"errors"
	"fmt"
)

// Sentinel error set for hmmlib.  Every exported operation that can fail
// returns one of these wrapped with fmt.Errorf("hmmlib: <context>: %w",
// ErrX); callers and tests match with errors.Is rather than comparing error
// strings.  Panics are reserved for programmer errors (nil receivers,
// out-of-range indices reached only by an internal bug), never for
// user-triggered conditions.
var (
	// ErrShapeMismatch is returned when a parameter array's dimensions
	// disagree with N, D, K, or M.
	ErrShapeMismatch = errors.New("hmmlib: shape mismatch")

	// ErrNotStochastic is returned when start_prob or a row of trans_mat
	// does not sum to 1 (within tolerance) or contains negative entries.
	ErrNotStochastic = errors.New("hmmlib: not stochastic")

	// ErrNonPositiveDefinite is returned when a covariance matrix is not
	// positive-definite even after min_covar flooring and one retry.
	ErrNonPositiveDefinite = errors.New("hmmlib: covariance not positive-definite")

	// ErrLengthMismatch is returned when a lengths partition does not sum
	// to the total observation row count.
	ErrLengthMismatch = errors.New("hmmlib: lengths do not partition observations")

	// ErrNotFitted is returned when an inference operation is called
	// before Fit has initialised the required parameters.
	ErrNotFitted = errors.New("hmmlib: model is not fitted")

	// ErrIllConditioned is returned when the forward recurrence assigns
	// zero total probability mass to the observations.
	ErrIllConditioned = errors.New("hmmlib: ill-conditioned model assigns zero likelihood")

	// ErrInvalidOption is returned for an unrecognised algorithm,
	// covariance_type, implementation, or params/init_params letter.
	ErrInvalidOption = errors.New("hmmlib: invalid option")
)

// invalidOptionError wraps ErrInvalidOption with the offending context and
// value, e.g. `hmmlib: params letter "q" not recognised: hmmlib: invalid
// option`.
type invalidOptionError struct {
	context string
	value   string
}

func (e *invalidOptionError) Error() string {
	return fmt.Sprintf("hmmlib: %s %q not recognised: %v", e.context, e.value, ErrInvalidOption)
}

func (e *invalidOptionError) Unwrap() error {
	return ErrInvalidOption
}
