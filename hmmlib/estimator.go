package hmmlib

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/schollz/progressbar"
	"gonum.org/v1/gonum/floats"
)

// subResult holds one subsequence's E-step output. Slots are written by
// exactly one goroutine each (indexed by subsequence position), so no
// synchronisation is needed beyond the WaitGroup barrier; reduction into the
// shared aggregate afterward always walks the slots in index order, giving
// Fit a result independent of goroutine scheduling.
type subResult struct {
	logB       [][]float64
	posteriors [][]float64
	xiSum      [][]float64
	logProb    float64
}

// runLattice computes one subsequence's forward/backward pass under m's
// configured Implementation, returning the frame log-likelihoods, state
// posteriors, summed transition posteriors, and total log-probability.
func (m *Model) runLattice(sub [][]float64) (*subResult, error) {
	logB, err := m.Family.LogLikelihood(sub)
	if err != nil {
		return nil, err
	}

	lat := newLattice(len(sub), m.N)
	lat.LogFrameProb = logB

	switch m.implementation {
	case Scaling:
		lat.ForwardBackwardScaled(m.StartProb, m.TransMat)
	default:
		logTrans := m.logTransMat()
		lat.Forward(m.StartProb, logTrans)
		lat.Backward(logTrans)
		lat.ComputePosteriors()
		lat.ComputeXiSum(logTrans)
	}

	return &subResult{logB: logB, posteriors: lat.Posteriors, xiSum: lat.XiSum, logProb: lat.LogProb}, nil
}

// runLatticesParallel computes runLattice for every subsequence
// concurrently, one goroutine per subsequence (spec §6: independent
// subsequences may run in parallel). Results are returned in the same
// order as subs, so callers reducing them get a scheduling-independent
// result.
func (m *Model) runLatticesParallel(subs [][][]float64) ([]*subResult, error) {
	results := make([]*subResult, len(subs))
	errs := make([]error, len(subs))

	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub [][]float64) {
			defer wg.Done()
			r, err := m.runLattice(sub)
			results[i] = r
			errs[i] = err
		}(i, sub)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// eStepOutput is the fully reduced E-step result: the total
// log-probability across all subsequences, the aggregate start/transition
// posterior sums, and the family's accumulated sufficient statistics.
type eStepOutput struct {
	totalLogProb float64
	aggStart     []float64
	aggTrans     [][]float64
	famStats     SufficientStats
}

// eStep runs the parallel forward/backward pass over every subsequence and
// then reduces the results in a fixed (index) order into a single
// aggregate, per spec §6's determinism requirement.
func (m *Model) eStep(subs [][][]float64) (*eStepOutput, error) {
	results, err := m.runLatticesParallel(subs)
	if err != nil {
		return nil, err
	}

	out := &eStepOutput{
		aggStart: make([]float64, m.N),
		aggTrans: newMatrix(m.N, m.N),
		famStats: m.Family.NewSufficientStats(),
	}

	for i, r := range results {
		out.totalLogProb += r.logProb
		if len(r.posteriors) > 0 {
			floats.Add(out.aggStart, r.posteriors[0])
		}
		if r.xiSum != nil {
			for a := range out.aggTrans {
				floats.Add(out.aggTrans[a], r.xiSum[a])
			}
		}
		if err := m.Family.Accumulate(out.famStats, subs[i], r.posteriors, r.logB); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Fit runs Baum-Welch EM on x (an L x D observation matrix, D=1 for
// scalar-valued families), split into independent subsequences by lengths
// (nil means x is a single sequence), per spec §4.4.  Parameters selected
// by InitParams are randomly initialised on the first call only if not
// already set; Fit may be called again on an already-fitted Model to
// continue training from its current parameters.
func (m *Model) Fit(x [][]float64, lengths []int) error {
	subs, err := SplitSequences(x, lengths)
	if err != nil {
		return err
	}

	if err := m.initializeIfNeeded(x); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return err
	}

	monitor := NewConvergenceMonitor(m.NIter, m.Tol, m.Verbose, m.Logger)
	var bar *progressbar.ProgressBar
	if m.Verbose {
		bar = progressbar.New(m.NIter)
	}

	trainFamily := familyMask(m.Params, m.Family.Letters())

	for iter := 0; iter < m.NIter; iter++ {
		out, err := m.eStep(subs)
		if err != nil {
			return err
		}
		if math.IsInf(out.totalLogProb, -1) {
			return fmt.Errorf("hmmlib: Fit: %w", ErrIllConditioned)
		}
		monitor.Report(out.totalLogProb)

		if maskHas(m.Params, 's') {
			m.StartProb = NormalizeRow(out.aggStart, m.StartPrior)
		}
		if maskHas(m.Params, 't') {
			newTrans := make([][]float64, m.N)
			for i := range newTrans {
				var prior []float64
				if m.TransPrior != nil {
					prior = m.TransPrior[i]
				}
				newTrans[i] = NormalizeRow(out.aggTrans[i], prior)
			}
			m.TransMat = newTrans
		}
		ProjectRowStochastic(m.TransMat)
		ProjectRowStochastic([][]float64{m.StartProb})

		if err := m.Family.MStep(out.famStats, trainFamily); err != nil {
			return err
		}

		if bar != nil {
			_ = bar.Add(1)
		}
		if monitor.Converged() {
			break
		}
	}

	m.fitted = true
	return nil
}

func (m *Model) initializeIfNeeded(x [][]float64) error {
	familyInit := familyMask(m.InitParams, m.Family.Letters())
	if err := m.Family.Initialize(x, familyInit, m.RNG); err != nil {
		return err
	}
	if maskHas(m.InitParams, 's') && m.StartProb == nil {
		m.StartProb = randomStochasticVector(m.N, m.RNG)
	}
	if maskHas(m.InitParams, 't') && m.TransMat == nil {
		m.TransMat = randomStochasticMatrix(m.N, m.RNG)
	}
	return nil
}

func randomStochasticVector(n int, rng *rand.Rand) []float64 {
	v := make([]float64, n)
	var sum float64
	for i := range v {
		v[i] = rng.Float64() + 1e-3
		sum += v[i]
	}
	floats.Scale(1/sum, v)
	return v
}

func randomStochasticMatrix(n int, rng *rand.Rand) [][]float64 {
	m := make([][]float64, n)
	for i := range m {
		m[i] = randomStochasticVector(n, rng)
	}
	return m
}

// scoreSubs runs the full lattice pass (runLattice) over every subsequence
// and returns the summed total log-probability, requiring the Model to
// already be fitted.
func (m *Model) scoreSubs(x [][]float64, lengths []int) (float64, error) {
	if !m.fitted {
		return 0, fmt.Errorf("hmmlib: Score: %w", ErrNotFitted)
	}
	subs, err := SplitSequences(x, lengths)
	if err != nil {
		return 0, err
	}
	results, err := m.runLatticesParallel(subs)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, r := range results {
		if math.IsInf(r.logProb, -1) {
			return 0, fmt.Errorf("hmmlib: Score: %w", ErrIllConditioned)
		}
		total += r.logProb
	}
	return total, nil
}

// Score returns the total log-probability of x under the fitted model,
// summed independently across subsequences.
func (m *Model) Score(x [][]float64, lengths []int) (float64, error) {
	return m.scoreSubs(x, lengths)
}

// ScoreSamples returns the total log-probability of x together with the
// per-row state posteriors gamma, concatenated back into x's original row
// order.
func (m *Model) ScoreSamples(x [][]float64, lengths []int) (float64, [][]float64, error) {
	if !m.fitted {
		return 0, nil, fmt.Errorf("hmmlib: ScoreSamples: %w", ErrNotFitted)
	}
	subs, err := SplitSequences(x, lengths)
	if err != nil {
		return 0, nil, err
	}
	results, err := m.runLatticesParallel(subs)
	if err != nil {
		return 0, nil, err
	}
	var total float64
	post := make([][]float64, 0, len(x))
	for _, r := range results {
		if math.IsInf(r.logProb, -1) {
			return 0, nil, fmt.Errorf("hmmlib: ScoreSamples: %w", ErrIllConditioned)
		}
		total += r.logProb
		post = append(post, r.posteriors...)
	}
	return total, post, nil
}

// PredictProba returns ScoreSamples' posteriors without the aggregate
// log-probability (spec §5.10: score_samples minus its scalar).
func (m *Model) PredictProba(x [][]float64, lengths []int) ([][]float64, error) {
	_, post, err := m.ScoreSamples(x, lengths)
	return post, err
}

// Decode returns the most likely state path for each subsequence of x,
// concatenated in row order, together with the summed path log-probability,
// using the algorithm selected in Config.Algorithm ("viterbi" or "map").
func (m *Model) Decode(x [][]float64, lengths []int) (float64, []int, error) {
	if !m.fitted {
		return 0, nil, fmt.Errorf("hmmlib: Decode: %w", ErrNotFitted)
	}
	subs, err := SplitSequences(x, lengths)
	if err != nil {
		return 0, nil, err
	}

	logTrans := m.logTransMat()
	var totalLP float64
	path := make([]int, 0, len(x))

	for _, sub := range subs {
		logB, err := m.Family.LogLikelihood(sub)
		if err != nil {
			return 0, nil, err
		}
		var lp float64
		var subPath []int
		if m.algorithm == "map" {
			lat := newLattice(len(sub), m.N)
			lat.LogFrameProb = logB
			lat.Forward(m.StartProb, logTrans)
			lat.Backward(logTrans)
			lat.ComputePosteriors()
			lp, subPath = MapDecode(lat.Posteriors)
		} else {
			lp, subPath = ViterbiDecode(logB, m.StartProb, logTrans)
		}
		totalLP += lp
		path = append(path, subPath...)
	}
	return totalLP, path, nil
}

// Predict returns Decode's state path without its log-probability.
func (m *Model) Predict(x [][]float64, lengths []int) ([]int, error) {
	_, path, err := m.Decode(x, lengths)
	return path, err
}

// Sample draws a synthetic sequence of length t from the fitted model,
// returning both the observation rows and the underlying state path.
func (m *Model) Sample(t int) ([][]float64, []int, error) {
	if !m.fitted {
		return nil, nil, fmt.Errorf("hmmlib: Sample: %w", ErrNotFitted)
	}
	if t <= 0 {
		return nil, nil, nil
	}
	states := make([]int, t)
	obs := make([][]float64, t)

	states[0] = drawCategorical(m.StartProb, m.RNG)
	obs[0] = m.Family.SampleFromState(states[0], m.RNG)
	for i := 1; i < t; i++ {
		states[i] = drawCategorical(m.TransMat[states[i-1]], m.RNG)
		obs[i] = m.Family.SampleFromState(states[i], m.RNG)
	}
	return obs, states, nil
}

func drawCategorical(probs []float64, rng *rand.Rand) int {
	u := rng.Float64()
	var cum float64
	for i, p := range probs {
		cum += p
		if u <= cum {
			return i
		}
	}
	return len(probs) - 1
}

// AIC returns the Akaike information criterion of the fitted model against
// x: 2*k - 2*loglike, where k is the number of free scalars selected by
// Params (spec §5.8, generalised from the teacher's HMM.AIC via
// EmissionFamily.NFreeScalars).
func (m *Model) AIC(x [][]float64, lengths []int) (float64, error) {
	ll, err := m.Score(x, lengths)
	if err != nil {
		return 0, err
	}
	return 2*float64(m.freeScalars()) - 2*ll, nil
}

// BIC returns the Bayesian information criterion: k*log(n) - 2*loglike,
// where n is the total number of observation rows in x.
func (m *Model) BIC(x [][]float64, lengths []int) (float64, error) {
	ll, err := m.Score(x, lengths)
	if err != nil {
		return 0, err
	}
	n := float64(len(x))
	return float64(m.freeScalars())*math.Log(n) - 2*ll, nil
}

func (m *Model) freeScalars() int {
	var k int
	if maskHas(m.Params, 's') {
		k += m.N - 1
	}
	if maskHas(m.Params, 't') {
		k += m.N * (m.N - 1)
	}
	k += m.Family.NFreeScalars(familyMask(m.Params, m.Family.Letters()))
	return k
}
