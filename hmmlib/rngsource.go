package hmmlib

import (
	"math/rand"

	exprand "golang.org/x/exp/rand"
)

// randSource adapts a *rand.Rand (the RNG type used throughout this
// package's public API) to the golang.org/x/exp/rand.Source interface
// required by gonum's stat/distuv and stat/distmv sampling types.
type randSource struct {
	r *rand.Rand
}

var _ exprand.Source = randSource{}

func (s randSource) Uint64() uint64 {
	return uint64(s.r.Int63())<<1 | uint64(s.r.Int63()&1)
}

func (s randSource) Seed(seed uint64) {
	s.r.Seed(int64(seed))
}
