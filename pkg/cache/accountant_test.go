package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevels(t *testing.T) {
	a := New(1000, 100)
	var seen []Level
	a.OnPressure(func(l Level) { seen = append(seen, l) })

	a.Charge(50, 0)
	assert.Equal(t, None, a.Level())
	assert.Empty(t, seen)

	a.Charge(50, 100)
	assert.Equal(t, Low, a.Level())

	a.Charge(50, 100)
	assert.Equal(t, High, a.Level())

	a.Charge(800, 0)
	assert.Equal(t, High, a.Level())
	a.Charge(100, 0)
	assert.Equal(t, Critical, a.Level())
	assert.Equal(t, []Level{Low, High, High, Critical}, seen)

	a.Release(200)
	assert.Equal(t, int64(850), a.Total())
	assert.Equal(t, int64(0), a.History())
	assert.Equal(t, None, a.Level())
}

func TestAdmit(t *testing.T) {
	a := New(100, 0)
	a.Charge(90, 0)
	assert.True(t, a.Admit(10))
	assert.False(t, a.Admit(11))

	unlimited := New(0, 0)
	unlimited.Charge(1<<30, 0)
	assert.True(t, unlimited.Admit(1<<30))
}
