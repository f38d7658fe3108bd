package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedRunID_AlwaysSame(t *testing.T) {
	gen := NewFixedRunID("run-1")
	assert.Equal(t, "run-1", gen.Generate())
	assert.Equal(t, "run-1", gen.Generate())
}

func TestFixedRunID_Default(t *testing.T) {
	assert.Equal(t, "test-run-default", NewFixedRunID("").Generate())
}

func TestNewRand_Reproducible(t *testing.T) {
	a, b := NewRand(Seed), NewRand(Seed)
	for range 20 {
		assert.Equal(t, a.IntN(1000), b.IntN(1000))
	}
}
