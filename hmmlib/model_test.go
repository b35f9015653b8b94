package hmmlib

import (
	"errors"
	"math/rand"
	"testing"
)

func TestNewModelDefaults(t *testing.T) {
	f := NewCategoricalFamily(2, 2, 1)
	m, err := NewModel(Config{N: 2}, f)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	if m.Algorithm != "" || m.algorithm != "viterbi" {
		t.Fatalf("default algorithm = %q, want viterbi", m.algorithm)
	}
	if m.NIter != 10 {
		t.Fatalf("default NIter = %d, want 10", m.NIter)
	}
	if m.Tol != 1e-2 {
		t.Fatalf("default Tol = %v, want 1e-2", m.Tol)
	}
	if m.Params != "ste" {
		t.Fatalf("default Params = %q, want \"ste\"", m.Params)
	}
	if m.RNG == nil {
		t.Fatalf("default RNG is nil")
	}
}

func TestNewModelRejectsNonPositiveN(t *testing.T) {
	f := NewCategoricalFamily(1, 2, 1)
	if _, err := NewModel(Config{N: 0}, f); !errors.Is(err, ErrInvalidOption) {
		t.Fatalf("err = %v, want ErrInvalidOption", err)
	}
}

func TestNewModelRejectsUnknownAlgorithm(t *testing.T) {
	f := NewCategoricalFamily(1, 2, 1)
	if _, err := NewModel(Config{N: 1, Algorithm: "bogus"}, f); !errors.Is(err, ErrInvalidOption) {
		t.Fatalf("err = %v, want ErrInvalidOption", err)
	}
}

func TestModelValidateRejectsShapeMismatch(t *testing.T) {
	f := NewCategoricalFamily(2, 2, 1)
	f.EmissionProb = [][]float64{{0.5, 0.5}, {0.5, 0.5}}
	m, err := NewModel(Config{N: 2}, f)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	m.StartProb = []float64{1}
	m.TransMat = [][]float64{{1, 0}, {0, 1}}
	if err := m.Validate(); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("err = %v, want ErrShapeMismatch", err)
	}
}

func TestScoreDecodeRejectUnfittedModel(t *testing.T) {
	f := NewCategoricalFamily(2, 2, 1)
	f.EmissionProb = [][]float64{{0.5, 0.5}, {0.5, 0.5}}
	m, err := NewModel(Config{N: 2}, f)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	m.StartProb = []float64{0.5, 0.5}
	m.TransMat = [][]float64{{0.5, 0.5}, {0.5, 0.5}}

	if _, err := m.Score([][]float64{{0}}, nil); !errors.Is(err, ErrNotFitted) {
		t.Fatalf("Score err = %v, want ErrNotFitted", err)
	}
	if _, _, err := m.Decode([][]float64{{0}}, nil); !errors.Is(err, ErrNotFitted) {
		t.Fatalf("Decode err = %v, want ErrNotFitted", err)
	}
	if _, _, err := m.Sample(3); !errors.Is(err, ErrNotFitted) {
		t.Fatalf("Sample err = %v, want ErrNotFitted", err)
	}
}

func TestMarkFittedEnablesInferenceOnHandConfiguredModel(t *testing.T) {
	f := NewCategoricalFamily(2, 2, 1)
	f.EmissionProb = [][]float64{{0.9, 0.1}, {0.1, 0.9}}
	m, err := NewModel(Config{N: 2, RNG: rand.New(rand.NewSource(1))}, f)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	m.StartProb = []float64{1, 0}
	m.TransMat = [][]float64{{0.8, 0.2}, {0.2, 0.8}}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	m.MarkFitted()

	if !m.IsFitted() {
		t.Fatalf("IsFitted() = false after MarkFitted")
	}
	if _, _, err := m.Sample(5); err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if _, err := m.Score([][]float64{{0}, {1}}, nil); err != nil {
		t.Fatalf("Score: %v", err)
	}
}
