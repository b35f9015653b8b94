package hmmlib

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestLogSumExpEmpty(t *testing.T) {
	if v := logSumExp(nil); !math.IsInf(v, -1) {
		t.Fatalf("logSumExp(nil) = %v, want -Inf", v)
	}
}

func TestLogSumExpAllNegInf(t *testing.T) {
	if v := logSumExp([]float64{negInf, negInf}); !math.IsInf(v, -1) {
		t.Fatalf("logSumExp(all -Inf) = %v, want -Inf", v)
	}
}

func TestLogSumExpMatchesDirect(t *testing.T) {
	v := []float64{1, 2, 3}
	got := logSumExp(v)
	want := math.Log(math.Exp(1) + math.Exp(2) + math.Exp(3))
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("logSumExp(%v) = %v, want %v", v, got, want)
	}
}

func TestLogMatVecLogMatchesProbabilitySpace(t *testing.T) {
	trans := [][]float64{{0.9, 0.1}, {0.3, 0.7}}
	logTrans := [][]float64{
		{math.Log(trans[0][0]), math.Log(trans[0][1])},
		{math.Log(trans[1][0]), math.Log(trans[1][1])},
	}
	x := []float64{0.6, 0.4}
	logx := []float64{math.Log(x[0]), math.Log(x[1])}

	got := logMatVecLog(logTrans, logx)

	for j := 0; j < 2; j++ {
		var want float64
		for i := 0; i < 2; i++ {
			want += x[i] * trans[i][j]
		}
		if math.Abs(math.Exp(got[j])-want) > 1e-9 {
			t.Fatalf("logMatVecLog[%d] = %v, want log(%v)", j, got[j], want)
		}
	}
}

func TestDiagGaussianLogDensityStandardNormalAtMean(t *testing.T) {
	got := diagGaussianLogDensity([]float64{0}, []float64{0}, []float64{1})
	want := -0.5 * math.Log(2*math.Pi)
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("diagGaussianLogDensity = %v, want %v", got, want)
	}
}

func TestCholGaussianLogDensityAgreesWithDiagForDiagonalCov(t *testing.T) {
	mean := []float64{1, -2}
	x := []float64{0.5, -1.5}
	variance := []float64{2, 3}

	sym := mat.NewSymDense(2, nil)
	sym.SetSym(0, 0, variance[0])
	sym.SetSym(1, 1, variance[1])

	got, err := cholGaussianLogDensity(x, mean, sym, 1e-6)
	if err != nil {
		t.Fatalf("cholGaussianLogDensity: %v", err)
	}
	want := diagGaussianLogDensity(x, mean, variance)
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("cholGaussianLogDensity = %v, want %v", got, want)
	}
}

func TestCholGaussianLogDensityFloorsNonPositiveDefinite(t *testing.T) {
	sym := mat.NewSymDense(2, nil)
	sym.SetSym(0, 0, 1)
	sym.SetSym(1, 1, -1) // not PD
	sym.SetSym(0, 1, 0)

	if _, err := cholGaussianLogDensity([]float64{0, 0}, []float64{0, 0}, sym, 1e-3); err == nil {
		t.Fatalf("expected an error for a covariance that remains non-PD after flooring")
	}
}

func TestLogNormalizeSumsToOne(t *testing.T) {
	v := []float64{1, 2, 3}
	logNormalize(v)
	var sum float64
	for _, x := range v {
		sum += math.Exp(x)
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("logNormalize left probabilities summing to %v, want 1", sum)
	}
}
