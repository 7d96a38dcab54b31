package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/coadapt/coadapt/core"
)

var (
	tracePath string // recorded telemetry trace to replay
	tailTicks int    // extra ticks after the last report
)

func init() {
	replayCmd.Flags().StringVar(&tracePath, "trace", "", "Telemetry JSON-lines trace file to replay (required)")
	replayCmd.Flags().IntVar(&tailTicks, "tail-ticks", 5, "Extra ticks to run after the last report")
	replayCmd.MarkFlagRequired("trace")
}

// replayCmd drives the decision loop from a recorded telemetry trace
// with a virtual clock. Sinks are log-only, so a replay is a pure
// deterministic function of (trace, config, seed) — the same inputs
// always yield the same action sequence and metrics.
var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a recorded telemetry trace through the decision loop",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		reports, err := readTrace(tracePath)
		if err != nil {
			logrus.Fatalf("Reading trace: %v", err)
		}
		if len(reports) == 0 {
			logrus.Fatalf("Trace %s contains no valid reports", tracePath)
		}

		rng := core.NewPartitionedRNG(core.RunKey(seed))
		bandit := core.NewBanditPolicy(cfg.Bandit, core.DefaultActionCatalog(), rng.ForSubsystem(core.SubsystemBandit))
		logSink := core.NewLogSink()
		dispatcher := core.NewDispatcher(logSink, logSink, cfg.Sinks.DispatchTimeout.Std())

		feed := make(chan core.TelemetryReport, len(reports)+1)
		loop := core.NewLoop(cfg, bandit, dispatcher, feed)

		tick := cfg.TickPeriod.Std()
		clock := reports[0].Timestamp
		end := reports[len(reports)-1].Timestamp.Add(time.Duration(tailTicks) * tick)
		next := 0
		steps := 0
		start := time.Now()

		for !clock.After(end) {
			for next < len(reports) && !reports[next].Timestamp.After(clock) {
				feed <- reports[next]
				next++
			}
			loop.Step(clock)
			clock = clock.Add(tick)
			steps++
		}

		printSummary(loop, steps, time.Since(start))
	},
}

// readTrace loads and time-orders a telemetry trace, validating each
// line with the same schema as live ingestion.
func readTrace(path string) ([]core.TelemetryReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(chan core.TelemetryReport, 4096)
	metrics := core.NewMetrics()
	reader, err := core.NewTelemetryReader(f, out, metrics)
	if err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	go func() {
		defer close(out)
		done <- reader.Run(context.Background())
	}()

	var reports []core.TelemetryReport
	for rep := range out {
		reports = append(reports, rep)
	}
	if err := <-done; err != nil {
		return nil, err
	}
	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].Timestamp.Before(reports[j].Timestamp)
	})
	return reports, nil
}

func printSummary(loop *core.Loop, steps int, elapsed time.Duration) {
	snap := loop.Metrics().Snapshot()
	fmt.Println("=== Replay Summary ===")
	fmt.Printf("Ticks                : %d (%d skipped)\n", snap.Ticks, snap.SkippedTicks)
	fmt.Printf("Dropped reports      : %d\n", snap.DroppedReports)
	fmt.Printf("Dispatches           : reflex=%d bandit=%d\n",
		snap.Dispatches[core.SourceReflex], snap.Dispatches[core.SourceBandit])
	fmt.Printf("Recoveries           : %d\n", snap.Recoveries)
	if snap.Recoveries > 0 {
		fmt.Printf("Mean MTTR            : %.2fs (last %.2fs)\n",
			loop.Tracker().MTTR().Seconds(), snap.LastMTTRSeconds)
	}
	fmt.Printf("Final margin         : %.3f\n", snap.StabilityMargin)
	stats := loop.Bandit().Statistics()
	fmt.Printf("Bandit               : updates=%d avg_reward=%.3f disabled=%v\n",
		stats.Updates, stats.AvgReward, stats.Disabled)
	fmt.Printf("Replayed %d steps in %s\n", steps, elapsed.Round(time.Millisecond))
}
