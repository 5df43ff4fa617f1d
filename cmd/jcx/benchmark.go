package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"github.com/ternarybob/jcx/internal/credentials"
	"github.com/ternarybob/jcx/internal/models"
)

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Compare decryption strategies on the same credentials",
	Long: `Runs each strategy in turn over the selected credentials and reports
relative throughput. Results are added to the history used by adaptive
strategy selection.`,
	RunE: runBenchmark,
}

var (
	benchmarkFile       string
	benchmarkPattern    string
	benchmarkStrategies []string
	benchmarkLimit      int
)

func init() {
	benchmarkCmd.Flags().StringVarP(&benchmarkFile, "file", "f", "credentials.xml", "Local credentials.xml path")
	benchmarkCmd.Flags().StringVarP(&benchmarkPattern, "pattern", "p", "", "Only credentials whose description contains this text")
	benchmarkCmd.Flags().StringSliceVar(&benchmarkStrategies, "strategies", nil, "Strategies to compare (default: all)")
	benchmarkCmd.Flags().IntVar(&benchmarkLimit, "limit", 0, "Use at most this many credentials")
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	entries, err := readEntries(benchmarkFile, credentials.Filter{Description: benchmarkPattern}, nil)
	if err != nil {
		return err
	}
	if benchmarkLimit > 0 && len(entries) > benchmarkLimit {
		entries = entries[:benchmarkLimit]
	}
	if len(entries) == 0 {
		return fmt.Errorf("no credentials to benchmark")
	}

	names := benchmarkStrategies
	if len(names) == 0 {
		names = config.Benchmark.Strategies
	}
	var strategies []models.StrategyName
	for _, n := range names {
		strategies = append(strategies, models.StrategyName(n))
	}

	ctx := cmd.Context()
	application, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	p, err := profile(application)
	if err != nil {
		return err
	}

	cmp, err := application.Orchestrator.Benchmark(ctx, credentials.Records(entries), p, strategies)
	if err != nil {
		return err
	}

	table := uitable.New()
	table.AddRow("STRATEGY", "RECORDS", "OK", "FAILED", "WORKERS", "CHUNK", "ELAPSED", "PER SECOND", "RELATIVE")
	for _, s := range cmp.Samples {
		table.AddRow(
			s.Strategy,
			humanize.Comma(int64(s.Count)),
			s.Successes,
			s.Failures,
			s.Workers,
			s.ChunkSize,
			s.Elapsed.Round(time.Millisecond),
			fmt.Sprintf("%.2f", s.Throughput()),
			fmt.Sprintf("%.0f%%", cmp.Relative[s.Strategy]*100),
		)
	}
	fmt.Println(table)
	fmt.Printf("\nFastest: %s\n", cmp.Fastest)

	return nil
}
