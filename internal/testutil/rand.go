package testutil

import "math/rand/v2"

// Seed is the default seed for reproducible sampling in tests.
const Seed = 20240301

// NewRand returns a PCG source seeded with seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
