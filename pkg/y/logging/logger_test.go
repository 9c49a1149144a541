package logging

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]logger.LogLevel{
		"debug": logger.DEBUG,
		"INFO":  logger.INFO,
		"warn":  logger.WARNING,
		"error": logger.ERROR,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseLevel("loud")
	assert.True(t, errors.Is(err, ErrInvalidLevel))
	assert.Contains(t, err.Error(), "loud")
}

func TestSetLevel(t *testing.T) {
	_ = GetLogger("logging-test")
	assert.NoError(t, SetLevel("debug"))
	assert.Error(t, SetLevel("nope"))
}
