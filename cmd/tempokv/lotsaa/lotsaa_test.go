package lotsaa

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOps(t *testing.T) {
	var buf bytes.Buffer
	Output = &buf
	defer func() { Output = nil }()

	res := Ops(context.Background(), 50*time.Millisecond, 2, func(r *rand.Rand, idx int) error {
		if r.Intn(2) == 0 {
			return errors.New("miss")
		}
		return nil
	})
	assert.Greater(t, res.Ops, int64(0))
	assert.LessOrEqual(t, res.Errors, res.Ops)
	assert.Contains(t, buf.String(), "2 threads")
}

func TestCommaize(t *testing.T) {
	assert.Equal(t, "1,234,567", commaize(1234567))
	assert.Equal(t, "12", commaize(12))
}
