package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dborchard/tempokv/pkg/hs"
	"github.com/dborchard/tempokv/pkg/y/logging"
	"github.com/spf13/viper"
)

const (
	TxnLogNone = "none"
	TxnLogFile = "file"
)

// Config holds every tunable of a store.
type Config struct {
	DataDir string
	// HistoryStore is the backend name (mbtree, pebble)
	HistoryStore string
	TableID      uint32

	// CacheSize bounds resident bytes; 0 disables admission control.
	CacheSize int64
	// EvictTarget is the amount of superseded resident bytes that triggers a background pass.
	EvictTarget   int64
	EvictInterval time.Duration
	EvictWorkers  int
	HintQueue     uint32

	TxnLog     string
	TxnLogSync bool

	LogLevel string
}

func Default() Config {
	return Config{
		DataDir:       "data",
		HistoryStore:  "mbtree",
		CacheSize:     256 << 20,
		EvictTarget:   16 << 20,
		EvictInterval: time.Second,
		EvictWorkers:  4,
		HintQueue:     64,
		TxnLog:        TxnLogNone,
		TxnLogSync:    true,
		LogLevel:      "warn",
	}
}

func (c *Config) Validate() error {
	if _, err := hs.ParseType(c.HistoryStore); err != nil {
		return err
	}
	if c.CacheSize < 0 || c.EvictTarget < 0 {
		return errors.Newf("cache-size (%d) and evict-target (%d) must not be negative", c.CacheSize, c.EvictTarget)
	}
	if c.CacheSize > 0 && c.EvictTarget >= c.CacheSize {
		return errors.Newf("evict-target (%d) must be below cache-size (%d)", c.EvictTarget, c.CacheSize)
	}
	if c.EvictInterval < 0 {
		return errors.Newf("evict-interval (%s) must not be negative", c.EvictInterval)
	}
	if c.EvictWorkers <= 0 {
		return errors.Newf("evict-workers (%d) must be positive", c.EvictWorkers)
	}
	switch c.TxnLog {
	case TxnLogNone, TxnLogFile:
	default:
		return errors.Newf("unknown txn-log %q (expected none or file)", c.TxnLog)
	}
	if (c.TxnLog == TxnLogFile || c.HistoryStore == "pebble") && c.DataDir == "" {
		return errors.New("data-dir is required for durable stores")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// FromViper reads the keys bound by the CLI. Unset keys keep their defaults.
func FromViper(v *viper.Viper) Config {
	c := Default()
	if v.IsSet("data-dir") {
		c.DataDir = v.GetString("data-dir")
	}
	if v.IsSet("history-store") {
		c.HistoryStore = v.GetString("history-store")
	}
	if v.IsSet("table-id") {
		c.TableID = v.GetUint32("table-id")
	}
	if v.IsSet("cache-size") {
		c.CacheSize = v.GetInt64("cache-size")
	}
	if v.IsSet("evict-target") {
		c.EvictTarget = v.GetInt64("evict-target")
	}
	if v.IsSet("evict-interval") {
		c.EvictInterval = v.GetDuration("evict-interval")
	}
	if v.IsSet("evict-workers") {
		c.EvictWorkers = v.GetInt("evict-workers")
	}
	if v.IsSet("hint-queue") {
		c.HintQueue = v.GetUint32("hint-queue")
	}
	if v.IsSet("txn-log") {
		c.TxnLog = v.GetString("txn-log")
	}
	if v.IsSet("txn-log-sync") {
		c.TxnLogSync = v.GetBool("txn-log-sync")
	}
	if v.IsSet("log-level") {
		c.LogLevel = v.GetString("log-level")
	}
	return c
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Storage")
	addField("Data Directory", c.DataDir)
	addField("History Store", c.HistoryStore)
	addField("Table ID", fmt.Sprintf("%d", c.TableID))
	addField("Txn Log", c.TxnLog)
	if c.TxnLog == TxnLogFile {
		addField("Txn Log Sync", fmt.Sprintf("%t", c.TxnLogSync))
	}

	addSection("Cache")
	addField("Cache Size", fmt.Sprintf("%d bytes", c.CacheSize))
	addField("Evict Target", fmt.Sprintf("%d bytes", c.EvictTarget))
	addField("Evict Interval", c.EvictInterval.String())
	addField("Evict Workers", fmt.Sprintf("%d", c.EvictWorkers))
	addField("Hint Queue", fmt.Sprintf("%d", c.HintQueue))

	addSection("Logging")
	addField("Log Level", c.LogLevel)
	return sb.String()
}
