package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/downfa11-org/go-dispatcher/pkg/bench"
	"github.com/downfa11-org/go-dispatcher/pkg/config"
	"github.com/downfa11-org/go-dispatcher/pkg/dispatcher"
	"github.com/downfa11-org/go-dispatcher/pkg/metrics"
	"github.com/downfa11-org/go-dispatcher/util"
	"github.com/spf13/cobra"
)

func newBenchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run the in-process publish/subscribe benchmark",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			name := dispatcherName(cmd, cfg)
			if err := applyBenchFlags(cmd, cfg, name); err != nil {
				return err
			}

			if cfg.EnableExporter {
				srv := metrics.StartMetricsServer(cfg.ExporterPort)
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), time.Second)
					defer cancel()
					_ = srv.Shutdown(ctx)
				}()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			registry := dispatcher.NewRegistry(cfg)
			defer registry.CloseAll()

			result, err := bench.NewRegistryRunner(registry, name, cfg.Bench).Run(ctx)
			if result != nil {
				result.Print(cmd.OutOrStdout())
			}
			if err != nil {
				util.Error("❌ Bench failed: %v", err)
				return err
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.Int("producers", 0, "number of concurrent producers")
	f.Int("subscriptions", 0, "number of subscriptions")
	f.Int("messages", 0, "total messages across all producers")
	f.String("message-size", "", "payload size, e.g. 128 or 1k")
	f.String("write-mode", "", "offer, claim or batch")
	f.String("read-mode", "", "poll, peek or block")
	f.Int("batch-size", 0, "fragments per batch in batch write mode")
	f.String("compression", "", "payload codec: none, gzip, snappy, lz4")
	f.String("mode", "", "dispatcher mode: pubsub or pipeline")
	f.String("buffer-size", "", "log buffer size, e.g. 4m")
	f.Int("partitions", 0, "number of log buffer partitions")
	f.String("allocation", "", "buffer allocation: heap, direct or file")
	f.Int("timeout-ms", 0, "bench timeout in milliseconds")
	f.Bool("exporter", false, "serve prometheus metrics while the bench runs")
	return cmd
}

// applyBenchFlags overrides the loaded config with the flags set on the
// command line, then normalizes it again. Dispatcher flags go to the entry
// of the named dispatcher.
func applyBenchFlags(cmd *cobra.Command, cfg *config.Config, name string) error {
	f := cmd.Flags()
	dc := dispatcherEntry(cfg, name)
	ints := map[string]*int{
		"producers":     &cfg.Bench.Producers,
		"subscriptions": &cfg.Bench.Subscriptions,
		"messages":      &cfg.Bench.Messages,
		"batch-size":    &cfg.Bench.BatchSize,
		"timeout-ms":    &cfg.Bench.TimeoutMS,
		"partitions":    &dc.PartitionCount,
	}
	for name, target := range ints {
		if f.Changed(name) {
			*target, _ = f.GetInt(name)
		}
	}

	strs := map[string]*string{
		"write-mode":  &cfg.Bench.WriteMode,
		"read-mode":   &cfg.Bench.ReadMode,
		"compression": &cfg.Bench.Compression,
		"mode":        &dc.Mode,
		"allocation":  &dc.Allocation,
	}
	for name, target := range strs {
		if f.Changed(name) {
			*target, _ = f.GetString(name)
		}
	}

	sizes := map[string]*config.ByteSize{
		"message-size": &cfg.Bench.MessageSize,
		"buffer-size":  &dc.BufferSize,
	}
	for name, target := range sizes {
		if !f.Changed(name) {
			continue
		}
		raw, _ := f.GetString(name)
		n, err := util.ParseSize(raw)
		if err != nil {
			return err
		}
		*target = config.ByteSize(n)
	}

	if f.Changed("exporter") {
		cfg.EnableExporter, _ = f.GetBool("exporter")
	}
	cfg.Normalize()
	return nil
}
