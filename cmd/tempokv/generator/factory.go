package generator

import "math/rand"

type Distribution int

const (
	SEQUENTIAL Distribution = iota
	UNIFORM
)

// Generator yields keys in [lower, upper].
type Generator interface {
	Next(r *rand.Rand) int64
}

func Build(dist Distribution, start int64, count int64) Generator {

	var keyrangeLowerBound = start
	var keyrangeUpperBound = start + count - 1

	var keygen Generator
	switch dist {
	case UNIFORM:
		keygen = NewUniform(keyrangeLowerBound, keyrangeUpperBound)
	case SEQUENTIAL:
		keygen = NewSequential(keyrangeLowerBound, keyrangeUpperBound)
	default:
		panic("Unknown distribution")
	}
	return keygen
}

func ParseDistribution(s string) (Distribution, bool) {
	switch s {
	case "uniform":
		return UNIFORM, true
	case "sequential":
		return SEQUENTIAL, true
	default:
		return 0, false
	}
}
