package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dborchard/tempokv/pkg/config"
	"github.com/dborchard/tempokv/pkg/kv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Replay the transaction log and print the recovered state",
	Long: `Open the store in --data-dir, replay its transaction log, optionally
run an eviction pass and print the store metrics.`,
	PreRunE: processConfig,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := storeConfig
		cfg.TxnLog = config.TxnLogFile
		cfg.EvictInterval = 0

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		store, err := kv.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if viper.GetBool("evict") {
			st, err := store.Evict(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("evicted %d chains: %d migrated, %d dropped, %d removed in %s\n",
				st.Chains, st.Migrated, st.Dropped, st.Removed, st.Duration)
		}
		store.WritePrometheus(os.Stdout)
		return nil
	},
}

func init() {
	recoverCmd.Flags().Bool("evict", true, WrapString("Run one eviction pass after the replay"))
}
