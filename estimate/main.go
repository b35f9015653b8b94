// Command estimate fits a hidden Markov model to an observation CSV
// produced by generate (or any file with a "state" column followed by one
// or more "x*" observation columns), and reports the fitted parameters
// alongside log-likelihood, AIC, and BIC.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"

	"github.com/kshedden/hmmcore/hmmlib"
)

func main() {
	logger := log.New(os.Stderr, "estimate: ", log.LstdFlags)

	inname := flag.String("infile", "", "Observation CSV file (required)")
	obsmodel := flag.String("obsmodel", "gaussian", "Observation distribution: gaussian, poisson, categorical")
	covType := flag.String("covariance_type", "diag", "Gaussian covariance type: spherical, diag, full, tied")
	nState := flag.Int("nstate", 3, "Number of states")
	nCategory := flag.Int("ncategory", 0, "Alphabet size for categorical observations")
	nIter := flag.Int("maxiter", 50, "Maximum number of EM iterations")
	tol := flag.Float64("tol", 1e-4, "Convergence tolerance")
	implementation := flag.String("implementation", "log", "Lattice implementation: log or scaling")
	algorithm := flag.String("algorithm", "viterbi", "Decode algorithm: viterbi or map")
	seed := flag.Int64("seed", 1, "Random seed")
	verbose := flag.Bool("verbose", true, "Log EM progress")
	flag.Parse()

	if *inname == "" {
		fmt.Fprintln(os.Stderr, "'infile' is a required argument")
		os.Exit(1)
	}

	x, lengths, err := readObservations(*inname)
	if err != nil {
		logger.Fatalf("reading %s: %v", *inname, err)
	}

	rng := rand.New(rand.NewSource(*seed))

	var family hmmlib.EmissionFamily
	switch *obsmodel {
	case "gaussian":
		ct, err := hmmlib.ParseCovarianceType(*covType)
		if err != nil {
			logger.Fatal(err)
		}
		family = hmmlib.NewGaussianFamily(*nState, len(x[0]), ct, 1e-3)
	case "poisson":
		family = hmmlib.NewPoissonFamily(*nState, len(x[0]), 1, 0)
	case "categorical":
		if *nCategory == 0 {
			logger.Fatal("'ncategory' is required for obsmodel=categorical")
		}
		family = hmmlib.NewCategoricalFamily(*nState, *nCategory, 1)
	default:
		logger.Fatalf("unknown obsmodel %q", *obsmodel)
	}

	cfg := hmmlib.Config{
		N:              *nState,
		Algorithm:      *algorithm,
		Implementation: *implementation,
		NIter:          *nIter,
		Tol:            *tol,
		Verbose:        *verbose,
		Logger:         logger,
		RNG:            rng,
	}
	model, err := hmmlib.NewModel(cfg, family)
	if err != nil {
		logger.Fatal(err)
	}

	if err := model.Fit(x, lengths); err != nil {
		logger.Fatalf("Fit: %v", err)
	}

	ll, err := model.Score(x, lengths)
	if err != nil {
		logger.Fatalf("Score: %v", err)
	}
	aic, err := model.AIC(x, lengths)
	if err != nil {
		logger.Fatalf("AIC: %v", err)
	}
	bic, err := model.BIC(x, lengths)
	if err != nil {
		logger.Fatalf("BIC: %v", err)
	}

	logger.Printf("Final log-likelihood: %f", ll)
	logger.Printf("Final AIC: %f", aic)
	logger.Printf("Final BIC: %f", bic)
	logger.Printf("Estimated start_prob: %v", model.StartProb)
	logger.Printf("Estimated trans_mat: %v", model.TransMat)

	_, path, err := model.Decode(x, lengths)
	if err != nil {
		logger.Fatalf("Decode: %v", err)
	}
	logger.Printf("Decoded %d states from %d observations", *nState, len(path))
}

// readObservations parses a CSV with a leading "state" column (ignored,
// present only so files round-trip with generate's output) followed by one
// or more observation columns, returning the observation matrix. lengths is
// always nil: CSV input is treated as a single sequence.
func readObservations(name string) ([][]float64, []int, error) {
	fid, err := os.Open(name)
	if err != nil {
		return nil, nil, err
	}
	defer fid.Close()

	r := csv.NewReader(fid)
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) < 2 {
		return nil, nil, fmt.Errorf("estimate: %s has no data rows", name)
	}

	rows := records[1:]
	x := make([][]float64, len(rows))
	for i, rec := range rows {
		row := make([]float64, len(rec)-1)
		for j, field := range rec[1:] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("estimate: row %d column %d: %w", i, j, err)
			}
			row[j] = v
		}
		x[i] = row
	}
	return x, nil, nil
}
