package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	out := c.String()
	assert.Contains(t, out, "STORAGE\n")
	assert.Contains(t, out, "History Store")
	assert.Contains(t, out, "mbtree")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown backend", func(c *Config) { c.HistoryStore = "rocks" }},
		{"negative cache", func(c *Config) { c.CacheSize = -1 }},
		{"target above cache", func(c *Config) { c.EvictTarget = c.CacheSize }},
		{"no workers", func(c *Config) { c.EvictWorkers = 0 }},
		{"unknown log", func(c *Config) { c.TxnLog = "wal" }},
		{"durable without dir", func(c *Config) { c.TxnLog = TxnLogFile; c.DataDir = "" }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestFromViper(t *testing.T) {
	v := viper.New()
	v.Set("history-store", "pebble")
	v.Set("cache-size", 1024)
	v.Set("evict-target", 128)
	v.Set("evict-interval", "250ms")
	v.Set("txn-log", "file")
	v.Set("table-id", 7)

	c := FromViper(v)
	require.NoError(t, c.Validate())
	assert.Equal(t, "pebble", c.HistoryStore)
	assert.Equal(t, int64(1024), c.CacheSize)
	assert.Equal(t, int64(128), c.EvictTarget)
	assert.Equal(t, 250*time.Millisecond, c.EvictInterval)
	assert.Equal(t, TxnLogFile, c.TxnLog)
	assert.Equal(t, uint32(7), c.TableID)
	// untouched keys keep defaults
	assert.Equal(t, Default().EvictWorkers, c.EvictWorkers)
	assert.Equal(t, "data", c.DataDir)
}
