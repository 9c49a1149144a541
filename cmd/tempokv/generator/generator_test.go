package generator

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequentialWraps(t *testing.T) {
	g := Build(SEQUENTIAL, 10, 3)
	var got []int64
	for i := 0; i < 5; i++ {
		got = append(got, g.Next(nil))
	}
	assert.Equal(t, []int64{10, 11, 12, 10, 11}, got)
}

func TestUniformBounds(t *testing.T) {
	g := Build(UNIFORM, 1, 100)
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		n := g.Next(r)
		assert.GreaterOrEqual(t, n, int64(1))
		assert.LessOrEqual(t, n, int64(100))
	}

	_, ok := ParseDistribution("zipf")
	assert.False(t, ok)
}
