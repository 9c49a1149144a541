package epoch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReclaimWaitsForOlderGuards(t *testing.T) {
	m := NewManager()

	g := m.Enter()
	freed := 0
	m.Retire(func() { freed++ })

	assert.Equal(t, 0, m.TryReclaim())
	assert.Equal(t, int64(1), m.Pending())

	// a guard entered after the retire does not block it
	late := m.Enter()
	g.Exit()
	assert.Equal(t, 1, m.TryReclaim())
	assert.Equal(t, 1, freed)
	assert.Equal(t, int64(0), m.Pending())

	late.Exit()
	assert.Equal(t, 0, m.ActiveGuards())
}

func TestReclaimWithoutGuards(t *testing.T) {
	m := NewManager()
	freed := 0
	for i := 0; i < 3; i++ {
		m.Retire(func() { freed++ })
	}
	assert.Equal(t, 3, m.TryReclaim())
	assert.Equal(t, 3, freed)
}

func TestDrain(t *testing.T) {
	m := NewManager()
	g := m.Enter()
	m.Retire(func() {})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Drain(ctx), context.DeadlineExceeded)

	g.Exit()
	assert.NoError(t, m.Drain(context.Background()))
}
