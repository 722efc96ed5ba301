package broker

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// Rand is the random source behind execution noise and quantity slippage.
// Tests substitute a seeded or scripted implementation.
type Rand interface {
	// NormFloat64 returns a draw from the price-noise distribution.
	NormFloat64() float64

	// Int64N returns a uniform integer in [0, n). n must be positive.
	Int64N(n int64) int64
}

// distRand draws price noise from a gonum normal distribution and slippage
// from a uniform integer generator, both fed by the same source.
type distRand struct {
	noise distuv.Normal
	ints  *rand.Rand
}

// NewRand builds a Rand whose price noise is Normal(0, variance). A negative
// or non-finite variance is rejected.
func NewRand(src rand.Source, variance float64) (Rand, error) {
	if variance < 0 || math.IsNaN(variance) || math.IsInf(variance, 0) {
		return nil, fmt.Errorf("building noise distribution: invalid variance %v", variance)
	}
	if src == nil {
		return nil, fmt.Errorf("building noise distribution: nil random source")
	}
	return &distRand{
		noise: distuv.Normal{Mu: 0, Sigma: math.Sqrt(variance), Src: src},
		ints:  rand.New(src),
	}, nil
}

// NewSeededRand returns a Rand over a PCG source. A zero seed picks one from
// the clock, so only non-zero seeds give reproducible fills.
func NewSeededRand(seed uint64, variance float64) (Rand, error) {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return NewRand(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15), variance)
}

func (r *distRand) NormFloat64() float64 { return r.noise.Rand() }

func (r *distRand) Int64N(n int64) int64 { return r.ints.Int64N(n) }
