package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dborchard/tempokv/cmd/tempokv/generator"
	"github.com/dborchard/tempokv/cmd/tempokv/lotsaa"
	"github.com/dborchard/tempokv/pkg/kv"
	"github.com/dborchard/tempokv/pkg/txn"
	"github.com/dborchard/tempokv/pkg/y/errs"
	"github.com/dborchard/tempokv/pkg/y/timestamp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	globalInsertCounter atomic.Int64
	globalFullCounter   atomic.Int64
	globalMissCounter   atomic.Int64
)

type benchOptions struct {
	duration     time.Duration
	readers      int
	pinned       int
	pinEvery     time.Duration
	keyRange     int64
	valueSize    int
	dist         generator.Distribution
	timestamped  bool
	printMetrics bool
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Single writer, multi reader workload",
	Long: `Run one writer overwriting keys while reader goroutines read the
latest versions and a few long running readers pin old snapshots, so
superseded versions keep moving into the history store.`,
	PreRunE: processConfig,
	RunE:    runBench,
}

func init() {
	flags := benchCmd.Flags()
	flags.Duration("duration", 10*time.Second, WrapString("How long the readers run"))
	flags.Int("readers", runtime.NumCPU(), WrapString("Reader goroutines"))
	flags.Int("pinned", 4, WrapString("Long running readers holding old snapshots"))
	flags.Duration("pin-every", time.Second, WrapString("How often a pinned reader is replaced by a fresh one"))
	flags.Int64("key-range", 100_000, WrapString("Number of distinct keys"))
	flags.Int("value-size", 256, WrapString("Bytes per value"))
	flags.String("distribution", "uniform", WrapString("Key distribution (uniform, sequential)"))
	flags.Bool("timestamped", false, WrapString("Commit with increasing commit timestamps"))
	flags.Bool("metrics", false, WrapString("Print the store metrics in Prometheus format at the end"))
}

func runBench(cmd *cobra.Command, _ []string) error {
	dist, ok := generator.ParseDistribution(viper.GetString("distribution"))
	if !ok {
		return errors.Newf("invalid distribution %s", viper.GetString("distribution"))
	}
	opts := benchOptions{
		duration:     viper.GetDuration("duration"),
		readers:      viper.GetInt("readers"),
		pinned:       viper.GetInt("pinned"),
		pinEvery:     viper.GetDuration("pin-every"),
		keyRange:     viper.GetInt64("key-range"),
		valueSize:    viper.GetInt("value-size"),
		dist:         dist,
		timestamped:  viper.GetBool("timestamped"),
		printMetrics: viper.GetBool("metrics"),
	}
	if opts.keyRange <= 0 || opts.readers <= 0 {
		return errors.New("key-range and readers must be positive")
	}

	fmt.Printf("** New Run %s ** \n", time.Now().Format("2006_01_02_15_04_05"))
	fmt.Print(storeConfig.String())

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	store, err := kv.Open(ctx, storeConfig)
	if err != nil {
		return err
	}
	defer store.Close()

	SingleWriter(ctx, store, opts)
	PinnedReaders(ctx, store, opts)
	MultiReader(ctx, store, opts)
	cancel()

	fmt.Printf("I = %d F = %d M = %d H = %d R = %d bytes\n",
		globalInsertCounter.Load(), globalFullCounter.Load(), globalMissCounter.Load(),
		store.HistoryLen(), store.ResidentBytes())
	if opts.printMetrics {
		store.WritePrometheus(os.Stdout)
	}
	return nil
}

func SingleWriter(ctx context.Context, store *kv.Store, opts benchOptions) {
	randSeq := rand.New(rand.NewSource(time.Now().UnixNano()))
	keygen := generator.Build(opts.dist, 1, opts.keyRange)

	val := make([]byte, opts.valueSize)
	var ts timestamp.Timestamp
	go func() {
		for ctx.Err() == nil {
			// key length 16 --> cache padding improvement
			key := []byte(fmt.Sprintf("%16d", keygen.Next(randSeq)))
			randSeq.Read(val)

			tx, err := store.Begin()
			if err != nil {
				return
			}
			_ = tx.Put(key, val)
			var co kv.CommitOptions
			if opts.timestamped {
				ts++
				co.CommitTs = ts
			}
			switch err := tx.Commit(ctx, co); {
			case err == nil:
				globalInsertCounter.Add(1)
			case errs.IsRetryable(err):
				globalFullCounter.Add(1)
				time.Sleep(time.Millisecond)
			case errors.Is(err, errs.ErrStoreClosed), ctx.Err() != nil:
				return
			default:
				fmt.Fprintf(os.Stderr, "writer: %v\n", err)
				return
			}
		}
	}()
}

// PinnedReaders keeps opts.pinned old snapshots open, replacing the oldest
// every opts.pinEvery.
func PinnedReaders(ctx context.Context, store *kv.Store, opts benchOptions) {
	if opts.pinned <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(opts.pinEvery)
		defer ticker.Stop()

		var open []*kv.Txn
		defer func() {
			for _, tx := range open {
				tx.Rollback()
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tx, err := store.Begin()
				if err != nil {
					return
				}
				open = append(open, tx)
				if len(open) > opts.pinned {
					open[0].Rollback()
					open = open[1:]
				}
			}
		}
	}()
}

func MultiReader(ctx context.Context, store *kv.Store, opts benchOptions) {
	keyGen := generator.Build(generator.UNIFORM, 1, opts.keyRange)

	lotsaa.Output = os.Stdout
	lotsaa.Ops(ctx, opts.duration, opts.readers, func(threadRand *rand.Rand, threadIdx int) error {
		key := []byte(fmt.Sprintf("%16d", keyGen.Next(threadRand)))

		var o []txn.Option
		if opts.timestamped && threadIdx%2 == 1 {
			// half of the readers read through a timestamp
			o = append(o, txn.WithReadTs(timestamp.Max))
		}
		tx, err := store.Begin(o...)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		_, found, err := tx.Read(ctx, key)
		if err != nil {
			return err
		}
		if !found {
			globalMissCounter.Add(1)
		}
		return nil
	})
}
