package hmmlib

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func symbolRows(syms []int) [][]float64 {
	rows := make([][]float64, len(syms))
	for i, s := range syms {
		rows[i] = []float64{float64(s)}
	}
	return rows
}

func repeatInts(pattern []int, times int) []int {
	out := make([]int, 0, len(pattern)*times)
	for i := 0; i < times; i++ {
		out = append(out, pattern...)
	}
	return out
}

func TestFitSingleStateBoundaryMatchesEmpiricalFrequency(t *testing.T) {
	f := NewCategoricalFamily(1, 2, 1)
	f.EmissionProb = [][]float64{{0.5, 0.5}}

	m, err := NewModel(Config{N: 1, RNG: rand.New(rand.NewSource(1))}, f)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	x := symbolRows([]int{0, 1, 1, 0, 1})
	if err := m.Fit(x, nil); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	if len(m.StartProb) != 1 || m.StartProb[0] != 1 {
		t.Fatalf("StartProb = %v, want [1]", m.StartProb)
	}
	if len(m.TransMat) != 1 || m.TransMat[0][0] != 1 {
		t.Fatalf("TransMat = %v, want [[1]]", m.TransMat)
	}

	// With a single state, gamma[t][0] == 1 for every t, so the emission
	// M-step reduces to the empirical symbol frequency: 2/5 zeros, 3/5
	// ones.
	if math.Abs(f.EmissionProb[0][0]-0.4) > 1e-9 || math.Abs(f.EmissionProb[0][1]-0.6) > 1e-9 {
		t.Fatalf("EmissionProb = %v, want [0.4, 0.6]", f.EmissionProb[0])
	}

	lp, err := m.Score(x, nil)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	want := 2*math.Log(0.4) + 3*math.Log(0.6)
	if math.Abs(lp-want) > 1e-9 {
		t.Fatalf("Score = %v, want %v", lp, want)
	}
}

func TestFitCategoricalPeriodicSequenceInvariants(t *testing.T) {
	syms := repeatInts([]int{0, 0, 1, 1}, 20)
	x := symbolRows(syms)

	f := NewCategoricalFamily(2, 2, 1)
	m, err := NewModel(Config{N: 2, NIter: 50, Tol: 1e-6, RNG: rand.New(rand.NewSource(42))}, f)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	if err := m.Fit(x, nil); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if !m.IsFitted() {
		t.Fatalf("IsFitted() = false after Fit")
	}
	if err := ValidateStochasticVector(m.StartProb); err != nil {
		t.Fatalf("StartProb not stochastic: %v", err)
	}
	if err := ValidateStochastic(m.TransMat); err != nil {
		t.Fatalf("TransMat not stochastic: %v", err)
	}

	lp, err := m.Score(x, nil)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if math.IsInf(lp, 0) || math.IsNaN(lp) {
		t.Fatalf("Score = %v, want finite", lp)
	}

	lpDecode, path, err := m.Decode(x, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(path) != len(x) {
		t.Fatalf("len(path) = %d, want %d", len(path), len(x))
	}
	if lpDecode > lp+1e-6 {
		t.Fatalf("Viterbi log-prob %v exceeds forward log-prob %v", lpDecode, lp)
	}
}

func TestFitLengthsPartitioningMatchesIndependentScoring(t *testing.T) {
	f := NewCategoricalFamily(2, 2, 1)
	f.EmissionProb = [][]float64{{0.8, 0.2}, {0.3, 0.7}}
	m, err := NewModel(Config{N: 2, RNG: rand.New(rand.NewSource(2))}, f)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	m.StartProb = []float64{0.6, 0.4}
	m.TransMat = [][]float64{{0.7, 0.3}, {0.4, 0.6}}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	m.MarkFitted()

	syms := []int{0, 1, 0, 1, 1, 0, 0, 1, 0, 1}
	x := symbolRows(syms)
	lengths := []int{3, 4, 3}

	totalLP, err := m.Score(x, lengths)
	if err != nil {
		t.Fatalf("Score(lengths): %v", err)
	}

	var wantLP float64
	off := 0
	for _, l := range lengths {
		lp, err := m.Score(x[off:off+l], nil)
		if err != nil {
			t.Fatalf("Score(slice): %v", err)
		}
		wantLP += lp
		off += l
	}
	if math.Abs(totalLP-wantLP) > 1e-9 {
		t.Fatalf("Score(lengths) = %v, want %v", totalLP, wantLP)
	}

	gotPost, err := m.PredictProba(x, lengths)
	if err != nil {
		t.Fatalf("PredictProba(lengths): %v", err)
	}
	var wantPost [][]float64
	off = 0
	for _, l := range lengths {
		p, err := m.PredictProba(x[off:off+l], nil)
		if err != nil {
			t.Fatalf("PredictProba(slice): %v", err)
		}
		wantPost = append(wantPost, p...)
		off += l
	}
	if len(gotPost) != len(wantPost) {
		t.Fatalf("len(gotPost) = %d, want %d", len(gotPost), len(wantPost))
	}
	for i := range gotPost {
		for j := range gotPost[i] {
			if math.Abs(gotPost[i][j]-wantPost[i][j]) > 1e-9 {
				t.Fatalf("PredictProba[%d][%d] = %v, want %v", i, j, gotPost[i][j], wantPost[i][j])
			}
		}
	}
}

func TestFitTZeroSubsequenceProducesZeroLogProb(t *testing.T) {
	f := NewCategoricalFamily(1, 2, 1)
	f.EmissionProb = [][]float64{{0.5, 0.5}}
	m, err := NewModel(Config{N: 1, RNG: rand.New(rand.NewSource(1))}, f)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	m.StartProb = []float64{1}
	m.TransMat = [][]float64{{1}}
	m.MarkFitted()

	lp, path, err := m.Decode(nil, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if lp != 0 {
		t.Fatalf("Decode logprob = %v, want 0", lp)
	}
	if len(path) != 0 {
		t.Fatalf("Decode path = %v, want empty", path)
	}
}

func TestSampleThenScoreProducesFiniteLogProb(t *testing.T) {
	f := NewCategoricalFamily(3, 2, 1)
	f.EmissionProb = [][]float64{{0.9, 0.1}, {0.5, 0.5}, {0.1, 0.9}}
	m, err := NewModel(Config{N: 3, RNG: rand.New(rand.NewSource(17))}, f)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	m.StartProb = []float64{0.4, 0.3, 0.3}
	m.TransMat = [][]float64{{0.5, 0.3, 0.2}, {0.2, 0.5, 0.3}, {0.3, 0.2, 0.5}}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	m.MarkFitted()

	obs, states, err := m.Sample(25)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if len(obs) != 25 || len(states) != 25 {
		t.Fatalf("Sample returned %d obs, %d states, want 25 each", len(obs), len(states))
	}
	for _, s := range states {
		if s < 0 || s >= 3 {
			t.Fatalf("sampled state %d out of range", s)
		}
	}

	lp, err := m.Score(obs, nil)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if math.IsInf(lp, 0) || math.IsNaN(lp) {
		t.Fatalf("Score(sample) = %v, want finite", lp)
	}
}

func TestScalingAndLogImplementationsAgreeAtModelLevel(t *testing.T) {
	buildModel := func(impl string) *Model {
		f := NewCategoricalFamily(2, 2, 1)
		f.EmissionProb = [][]float64{{0.75, 0.25}, {0.2, 0.8}}
		m, err := NewModel(Config{N: 2, Implementation: impl, RNG: rand.New(rand.NewSource(3))}, f)
		if err != nil {
			t.Fatalf("NewModel: %v", err)
		}
		m.StartProb = []float64{0.6, 0.4}
		m.TransMat = [][]float64{{0.9, 0.1}, {0.15, 0.85}}
		if err := m.Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}
		m.MarkFitted()
		return m
	}

	syms := repeatInts([]int{0, 1, 0, 0, 1, 1}, 5)
	x := symbolRows(syms)

	logModel := buildModel("log")
	scalingModel := buildModel("scaling")

	lpLog, err := logModel.Score(x, nil)
	if err != nil {
		t.Fatalf("Score(log): %v", err)
	}
	lpScaling, err := scalingModel.Score(x, nil)
	if err != nil {
		t.Fatalf("Score(scaling): %v", err)
	}
	if math.Abs(lpLog-lpScaling) > 1e-8 {
		t.Fatalf("log implementation gives %v, scaling gives %v", lpLog, lpScaling)
	}
}

func TestFitAbortsOnIllConditionedModel(t *testing.T) {
	// Every state assigns zero probability to symbol 1, so any observed
	// 1 drives the forward log-probability to -Inf. Params excludes the
	// emission letter so the M-step can't repair EmissionProb away from
	// zero before eStep notices.
	f := NewCategoricalFamily(2, 2, 1)
	f.EmissionProb = [][]float64{{1, 0}, {1, 0}}
	m, err := NewModel(Config{N: 2, Params: "st", RNG: rand.New(rand.NewSource(4))}, f)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	m.StartProb = []float64{0.5, 0.5}
	m.TransMat = [][]float64{{0.5, 0.5}, {0.5, 0.5}}

	x := symbolRows([]int{0, 0, 1, 0})
	err = m.Fit(x, nil)
	if !errors.Is(err, ErrIllConditioned) {
		t.Fatalf("Fit err = %v, want ErrIllConditioned", err)
	}
	if m.IsFitted() {
		t.Fatalf("IsFitted() = true after an aborted Fit")
	}
}

func TestAICBICMatchFreeScalarFormula(t *testing.T) {
	f := NewCategoricalFamily(1, 2, 1)
	f.EmissionProb = [][]float64{{0.4, 0.6}}
	m, err := NewModel(Config{N: 1, RNG: rand.New(rand.NewSource(1))}, f)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	m.StartProb = []float64{1}
	m.TransMat = [][]float64{{1}}
	m.MarkFitted()

	x := symbolRows([]int{0, 1, 1, 0, 1})
	ll, err := m.Score(x, nil)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	// k = (N-1 for start) + (N*(N-1) for trans) + N*(K-1) for emission
	// = 0 + 0 + 1 = 1.
	wantAIC := 2*1 - 2*ll
	gotAIC, err := m.AIC(x, nil)
	if err != nil {
		t.Fatalf("AIC: %v", err)
	}
	if math.Abs(gotAIC-wantAIC) > 1e-9 {
		t.Fatalf("AIC = %v, want %v", gotAIC, wantAIC)
	}

	wantBIC := 1*math.Log(5) - 2*ll
	gotBIC, err := m.BIC(x, nil)
	if err != nil {
		t.Fatalf("BIC: %v", err)
	}
	if math.Abs(gotBIC-wantBIC) > 1e-9 {
		t.Fatalf("BIC = %v, want %v", gotBIC, wantBIC)
	}
}
