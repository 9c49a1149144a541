package main

import (
	"fmt"
	"strings"

	"github.com/dborchard/tempokv/pkg/config"
	"github.com/dborchard/tempokv/pkg/y/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "0.3.0"
)

var (
	storeConfig = config.Default()

	RootCmd = &cobra.Command{
		Use:   "tempokv",
		Short: "multiversion record store",
		Long: fmt.Sprintf(`tempokv (v%s)

A multiversion key-value store with snapshot and timestamp reads.
Superseded versions move from memory into a history store while older
readers still need them. Flags can also be set as TEMPOKV_<FLAG>
environment variables (e.g. TEMPOKV_CACHE_SIZE=1048576).`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of tempokv",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tempokv v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.AddCommand(benchCmd)
	RootCmd.AddCommand(recoverCmd)
	RootCmd.AddCommand(versionCmd)

	d := config.Default()
	flags := RootCmd.PersistentFlags()

	key := "data-dir"
	flags.String(key, d.DataDir, WrapString("Directory of the history store and the transaction log"))

	key = "history-store"
	flags.String(key, d.HistoryStore, WrapString("History store backend (mbtree, pebble)"))

	key = "table-id"
	flags.Uint32(key, d.TableID, WrapString("Table id prefixed to every history store key"))

	key = "cache-size"
	flags.Int64(key, d.CacheSize, WrapString("Resident bytes above which commits are refused with cache full (0 disables)"))

	key = "evict-target"
	flags.Int64(key, d.EvictTarget, WrapString("Superseded resident bytes that trigger a background eviction pass (0 disables)"))

	key = "evict-interval"
	flags.Duration(key, d.EvictInterval, WrapString("Interval of periodic eviction passes (0 disables)"))

	key = "evict-workers"
	flags.Int(key, d.EvictWorkers, WrapString("Goroutines migrating chains during a pass"))

	key = "hint-queue"
	flags.Uint32(key, d.HintQueue, WrapString("Capacity of the eviction hint queue"))

	key = "txn-log"
	flags.String(key, d.TxnLog, WrapString("Transaction log (none, file)"))

	key = "txn-log-sync"
	flags.Bool(key, d.TxnLogSync, WrapString("Sync the transaction log on every commit"))

	key = "log-level"
	flags.String(key, d.LogLevel, WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// initConfig reads .env files and TEMPOKV_ environment variables.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("tempokv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// processConfig binds the flags of cmd and builds the store configuration.
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	storeConfig = config.FromViper(viper.GetViper())
	if err := storeConfig.Validate(); err != nil {
		return err
	}
	return logging.SetLevel(storeConfig.LogLevel)
}
