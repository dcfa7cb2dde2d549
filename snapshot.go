package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"schedview-agent/api"
	"schedview-agent/collector"
	"schedview-agent/engine"
	"schedview-agent/logutil"
)

func newSnapshotCommand() *cobra.Command {
	var (
		wait  time.Duration
		limit int
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Poll twice and print the process metrics as JSON",
		Long: "Poll twice and print the process metrics as JSON. The first poll primes " +
			"the per-process CPU counters, the second is printed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logutil.InitLogger("warn")
			log := logutil.GetLogger()
			defer log.Sync()

			eng := engine.New(collector.NewProcessCollector(log), engine.NewStateStore(nil), log)
			return snapshot(cmd.Context(), eng, wait, limit, cmd.OutOrStdout(), log)
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", time.Second, "time between the priming poll and the printed one")
	cmd.Flags().IntVar(&limit, "limit", 0, "print only the N busiest processes (0 prints all)")
	return cmd
}

func snapshot(ctx context.Context, source api.Poller, wait time.Duration, limit int, out io.Writer, log *zap.Logger) error {
	if limit < 0 {
		return fmt.Errorf("limit must be non-negative, got %d", limit)
	}

	if _, err := source.Poll(ctx); err != nil {
		return fmt.Errorf("priming poll: %w", err)
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	records, err := source.Poll(ctx)
	if err != nil {
		return fmt.Errorf("poll: %w", err)
	}
	log.Debug("snapshot taken", zap.Int("processes", len(records)))

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}
