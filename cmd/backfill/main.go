package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/energy-reporting/internal/app"
	"github.com/smukkama/energy-reporting/internal/jobs"
	"github.com/smukkama/energy-reporting/internal/logging"
	"github.com/smukkama/energy-reporting/internal/status"
	"github.com/smukkama/energy-reporting/pkg/config"
)

func main() {
	days := flag.Int("days", 0, "recompute daily and shift aggregates for the N days before today")
	device := flag.String("device", "", "limit -days, -month and -custom-benchmark to one device id")
	month := flag.String("month", "", "aggregate a calendar month (YYYY-MM)")
	benchmarks := flag.Bool("benchmarks", false, "recalculate all benchmarks")
	targets := flag.Bool("targets", false, "seed targets from benchmarks and update progress of all active targets")
	anomalies := flag.Bool("anomalies", false, "score the consumption window ending yesterday")
	custom := flag.Float64("custom-benchmark", 0, "store a custom benchmark value for -metric over -from..-to")
	metric := flag.String("metric", "kwh_per_unit", "metric of -custom-benchmark")
	from := flag.String("from", "", "first day of -custom-benchmark (YYYY-MM-DD)")
	to := flag.String("to", "", "last day of -custom-benchmark (YYYY-MM-DD)")
	showStatus := flag.String("status", "", "print the last report of a job, or of every job with \"all\"")
	flag.Parse()

	var monthStart time.Time
	if *month != "" {
		m, err := time.Parse("2006-01", *month)
		if err != nil {
			log.Fatalf("Invalid -month %q (expected YYYY-MM)", *month)
		}
		monthStart = m
	}
	var customStart, customEnd time.Time
	if *custom != 0 {
		var err error
		if customStart, err = time.Parse(time.DateOnly, *from); err != nil {
			log.Fatalf("Invalid -from %q (expected YYYY-MM-DD)", *from)
		}
		if customEnd, err = time.Parse(time.DateOnly, *to); err != nil {
			log.Fatalf("Invalid -to %q (expected YYYY-MM-DD)", *to)
		}
	}
	if *days <= 0 && monthStart.IsZero() && !*benchmarks && !*targets && !*anomalies && *custom == 0 && *showStatus == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log, "backfill")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}
	defer a.Close()

	if *showStatus != "" {
		names := []string{*showStatus}
		if *showStatus == "all" {
			names = jobs.Jobs
		}
		for _, name := range names {
			r, err := a.Reports.Latest(ctx, name)
			switch {
			case err != nil:
				fmt.Printf("%-12s %v\n", name, err)
			case r == nil:
				fmt.Printf("%-12s never run\n", name)
			default:
				fmt.Printf("%-12s %s at %s (%s)\n", name, r.Summary(), r.FinishedAt.Format(time.RFC3339), r.Duration().Round(time.Millisecond))
				printFailures(r)
			}
		}
		return
	}

	if *custom != 0 {
		b, err := a.Benchmarks.SetCustom(ctx, *device, *metric, *custom, customStart, customEnd)
		if err != nil {
			a.Close()
			log.Fatalf("Failed to store custom benchmark: %v", err)
		}
		fmt.Printf("%-12s %s %s = %g (%s..%s)\n", "custom", b.ID, b.MetricName, b.Value,
			b.PeriodStart.Format(time.DateOnly), b.PeriodEnd.Format(time.DateOnly))
	}

	// Triggers run in dependency order: dailies feed months, both feed benchmarks and targets
	var reports []*status.Report
	if *days > 0 {
		reports = append(reports, a.Runner.Backfill(ctx, *days, *device))
		reports = append(reports, a.Runner.BackfillShifts(ctx, *days, *device))
	}
	if *anomalies {
		reports = append(reports, a.Runner.Anomalies(ctx))
	}
	if !monthStart.IsZero() {
		reports = append(reports, a.Runner.AggregateMonth(ctx, monthStart, *device))
	}
	if *benchmarks {
		reports = append(reports, a.Runner.Benchmarks(ctx))
	}
	if *targets {
		reports = append(reports, a.UpdateTargets(ctx)...)
	}

	failed := false
	for _, r := range reports {
		fmt.Printf("%-12s %s\n", r.Job, r.Summary())
		printFailures(r)
		failed = failed || r.HasFailures()
	}
	if failed {
		a.Close()
		os.Exit(1)
	}
}

func printFailures(r *status.Report) {
	for _, f := range r.Failures {
		fmt.Printf("  - %s: %s\n", f.Key, f.Error)
	}
	if r.Error != "" {
		fmt.Printf("  aborted: %s\n", r.Error)
	}
}
