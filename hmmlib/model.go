package hmmlib

import (
	"fmt"
	"log"
	"math/rand"
)

// modelLetters are the top-level params/init_params letters every Model
// recognises regardless of emission family: 's' selects start_prob, 't'
// selects trans_mat.  Family-specific letters (e.g. 'm', 'c', 'e', 'w', 'l')
// are validated separately by the family itself.
const modelLetters = "st"

// Config holds the construction-time, immutable settings of a Model: the
// state count, the EM stopping rule, which parameters participate in
// initialisation and training, the decoding algorithm, and the numerical
// lattice implementation.  Fields left at their zero value take the listed
// default.
type Config struct {
	// N is the number of hidden states. Required, must be >= 1.
	N int

	// Algorithm selects the Decode strategy: "viterbi" (default) or "map".
	Algorithm string

	// Implementation selects the lattice numerics: "log" (default) or
	// "scaling".
	Implementation string

	// NIter is the maximum number of EM iterations (default 10).
	NIter int

	// Tol is the log-probability convergence threshold (default 1e-2).
	Tol float64

	// Params lists which parameter groups Fit re-estimates: any of 's'
	// (start_prob), 't' (trans_mat), and the emission family's own
	// letters. Default is every letter the family recognises plus "st".
	Params string

	// InitParams lists which parameter groups Fit randomly initialises
	// before the first E-step, using the same letter set as Params.
	// Parameters not selected must already be set on the Model.
	InitParams string

	// StartPrior is a Dirichlet pseudocount vector for start_prob (length
	// N); nil means a flat prior of 1 (no-op).
	StartPrior []float64

	// TransPrior is a Dirichlet pseudocount matrix for trans_mat (N x N);
	// nil means a flat prior of 1 per row.
	TransPrior [][]float64

	Verbose bool
	Logger  *log.Logger

	// RNG drives every random draw Fit/Initialize/Sample makes. If nil,
	// NewModel gives the Model its own generator seeded with 1.
	RNG *rand.Rand
}

// Model is a fitted or fittable hidden Markov model over a fixed state
// count and emission family.  Model owns the mutable start_prob/trans_mat
// parameters directly; the pluggable emission parameters live inside
// Family.
type Model struct {
	Config

	StartProb []float64
	TransMat  [][]float64
	Family    EmissionFamily

	algorithm      string
	implementation Implementation
	fitted         bool
}

// NewModel wraps cfg and family into a Model, validating cfg's option
// strings up front.  StartProb and TransMat are left nil; Fit's Initialize
// step (or the caller, before Fit) must populate them.
func NewModel(cfg Config, family EmissionFamily) (*Model, error) {
	if cfg.N <= 0 {
		return nil, fmt.Errorf("hmmlib: NewModel: N must be positive: %w", ErrInvalidOption)
	}
	impl, err := ParseImplementation(cfg.Implementation)
	if err != nil {
		return nil, err
	}
	algo := cfg.Algorithm
	if algo == "" {
		algo = "viterbi"
	}
	if algo != "viterbi" && algo != "map" {
		return nil, fmt.Errorf("hmmlib: NewModel: algorithm %q: %w", algo, ErrInvalidOption)
	}
	if cfg.NIter <= 0 {
		cfg.NIter = 10
	}
	if cfg.Tol <= 0 {
		cfg.Tol = 1e-2
	}
	if cfg.Params == "" {
		cfg.Params = modelLetters + family.Letters()
	}
	if cfg.InitParams == "" {
		cfg.InitParams = modelLetters + family.Letters()
	}
	if err := validateMask(cfg.Params, modelLetters+family.Letters(), "params letter"); err != nil {
		return nil, err
	}
	if err := validateMask(cfg.InitParams, modelLetters+family.Letters(), "init_params letter"); err != nil {
		return nil, err
	}
	if cfg.RNG == nil {
		cfg.RNG = rand.New(rand.NewSource(1))
	}
	return &Model{
		Config:         cfg,
		Family:         family,
		algorithm:      algo,
		implementation: impl,
	}, nil
}

// familyMask returns the subset of mask that the emission family
// recognises (the top-level 's'/'t' letters stripped out).
func familyMask(mask, familyLetters string) string {
	var out []rune
	for _, r := range mask {
		for _, l := range familyLetters {
			if r == l {
				out = append(out, r)
				break
			}
		}
	}
	return string(out)
}

// Validate checks that StartProb, TransMat, and Family all have consistent
// shapes and satisfy their stochasticity/positivity constraints.
func (m *Model) Validate() error {
	if len(m.StartProb) != m.N {
		return fmt.Errorf("hmmlib: Model.Validate: start_prob: %w", ErrShapeMismatch)
	}
	if err := ValidateStochasticVector(m.StartProb); err != nil {
		return err
	}
	if len(m.TransMat) != m.N {
		return fmt.Errorf("hmmlib: Model.Validate: trans_mat: %w", ErrShapeMismatch)
	}
	for _, row := range m.TransMat {
		if len(row) != m.N {
			return fmt.Errorf("hmmlib: Model.Validate: trans_mat: %w", ErrShapeMismatch)
		}
	}
	if err := ValidateStochastic(m.TransMat); err != nil {
		return err
	}
	return m.Family.Validate()
}

// IsFitted reports whether Fit has run to completion at least once, or
// MarkFitted has been called.
func (m *Model) IsFitted() bool { return m.fitted }

// MarkFitted marks a hand-configured Model (StartProb/TransMat/Family
// parameters set directly rather than learned via Fit) as usable by
// Score/Decode/Sample. Callers should run Validate first.
func (m *Model) MarkFitted() { m.fitted = true }

func (m *Model) logTransMat() [][]float64 {
	logT := newMatrix(m.N, m.N)
	for i, row := range m.TransMat {
		for j, p := range row {
			logT[i][j] = logProb(p)
		}
	}
	return logT
}
