// Command generate emits a synthetic observation sequence sampled from a
// hand-configured hidden Markov model, for exercising estimate without
// needing a real dataset.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/kshedden/hmmcore/hmmlib"
)

func main() {
	var obsmodel, outname string
	flag.StringVar(&obsmodel, "obsmodel", "gaussian", "Observation distribution: gaussian, poisson, categorical")
	flag.StringVar(&outname, "outname", "", "Output CSV file name (required)")

	var nState, nTime int
	flag.IntVar(&nState, "nstate", 3, "Number of states")
	flag.IntVar(&nTime, "ntime", 500, "Number of time points")

	var snr float64
	flag.Float64Var(&snr, "snr", 4, "Signal-to-noise separation between state means")

	var seed int64
	flag.Int64Var(&seed, "seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	if outname == "" {
		fmt.Fprintln(os.Stderr, "'outname' is a required argument")
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(seed))

	startProb, transMat := diagonallyStickyChain(nState)

	var family hmmlib.EmissionFamily
	switch obsmodel {
	case "gaussian":
		gf := hmmlib.NewGaussianFamily(nState, 1, hmmlib.Diag, 1e-3)
		gf.Means = make([][]float64, nState)
		for j := range gf.Means {
			gf.Means[j] = []float64{snr * float64(j)}
		}
		gf.Covs = make([]hmmlib.Covariance, nState)
		for j := range gf.Covs {
			gf.Covs[j] = hmmlib.NewDiagCovariance([]float64{1})
		}
		family = gf
	case "poisson":
		pf := hmmlib.NewPoissonFamily(nState, 1, 1, 0)
		pf.Lambdas = make([][]float64, nState)
		for j := range pf.Lambdas {
			pf.Lambdas[j] = []float64{1 + snr*float64(j)}
		}
		family = pf
	case "categorical":
		cf := hmmlib.NewCategoricalFamily(nState, nState, 1)
		cf.EmissionProb = make([][]float64, nState)
		for j := range cf.EmissionProb {
			row := make([]float64, nState)
			for k := range row {
				if k == j {
					row[k] = 0.7
				} else {
					row[k] = 0.3 / float64(nState-1)
				}
			}
			cf.EmissionProb[j] = row
		}
		family = cf
	default:
		fmt.Fprintf(os.Stderr, "generate: unknown obsmodel %q\n", obsmodel)
		os.Exit(1)
	}

	cfg := hmmlib.Config{N: nState, RNG: rng}
	model, err := hmmlib.NewModel(cfg, family)
	if err != nil {
		panic(err)
	}
	model.StartProb = startProb
	model.TransMat = transMat
	if err := model.Validate(); err != nil {
		panic(err)
	}
	// Sample requires IsFitted; a hand-built model is as good as a fitted
	// one for generation purposes, so mark it directly rather than routing
	// through Fit.
	model.MarkFitted()

	obs, states, err := model.Sample(nTime)
	if err != nil {
		panic(err)
	}

	fid, err := os.Create(outname)
	if err != nil {
		panic(err)
	}
	defer fid.Close()

	w := csv.NewWriter(fid)
	defer w.Flush()

	header := []string{"state"}
	for d := range obs[0] {
		header = append(header, fmt.Sprintf("x%d", d))
	}
	if err := w.Write(header); err != nil {
		panic(err)
	}
	for t, row := range obs {
		rec := make([]string, 0, len(row)+1)
		rec = append(rec, strconv.Itoa(states[t]))
		for _, v := range row {
			rec = append(rec, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := w.Write(rec); err != nil {
			panic(err)
		}
	}
}

// diagonallyStickyChain builds a start distribution and transition matrix
// biased toward self-transitions, giving generated sequences visible
// run-length structure.
func diagonallyStickyChain(n int) ([]float64, [][]float64) {
	start := make([]float64, n)
	for i := range start {
		start[i] = 1 / float64(n)
	}
	trans := make([][]float64, n)
	for i := range trans {
		row := make([]float64, n)
		if n == 1 {
			row[0] = 1
		} else {
			for j := range row {
				if i == j {
					row[j] = 0.9
				} else {
					row[j] = 0.1 / float64(n-1)
				}
			}
		}
		trans[i] = row
	}
	return start, trans
}
