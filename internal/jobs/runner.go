// Package jobs runs the scheduled rollup triggers and reports each run.
package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smukkama/energy-reporting/internal/aggregation"
	"github.com/smukkama/energy-reporting/internal/anomaly"
	"github.com/smukkama/energy-reporting/internal/batch"
	"github.com/smukkama/energy-reporting/internal/benchmark"
	"github.com/smukkama/energy-reporting/internal/database"
	"github.com/smukkama/energy-reporting/internal/status"
	"github.com/smukkama/energy-reporting/internal/target"
)

// Job names, also used as report keys
const (
	JobDaily      = "daily"
	JobHourly     = "hourly"
	JobMonthly    = "monthly"
	JobBenchmarks = "benchmarks"
	JobTargets    = "targets"
	JobTargetSeed = "target_seed"
	JobShifts     = "shifts"
	JobAnomalies  = "anomalies"
	JobBackfill   = "backfill"
)

// Jobs lists every job name in schedule order
var Jobs = []string{
	JobHourly, JobDaily, JobAnomalies, JobShifts, JobMonthly,
	JobBenchmarks, JobTargetSeed, JobTargets, JobBackfill,
}

type DailyAggregator interface {
	AggregatePreviousDay(ctx context.Context) (*aggregation.DailyResult, error)
	RefreshToday(ctx context.Context) (*aggregation.DailyResult, error)
	Backfill(ctx context.Context, daysBack int, deviceID string) (*aggregation.DailyResult, error)
}

type MonthlyAggregator interface {
	AggregatePreviousMonth(ctx context.Context) (*aggregation.MonthlyResult, error)
	Aggregate(ctx context.Context, month time.Time, deviceID string) (*aggregation.MonthlyResult, error)
}

type BenchmarkCalculator interface {
	CalculateAll(ctx context.Context, deviceIDs []string, daysBack int) (*benchmark.BenchmarkResult, error)
}

type TargetTracker interface {
	UpdateProgress(ctx context.Context, targetID string) (*target.TargetResult, error)
	SeedFromBenchmarks(ctx context.Context, typ database.BenchmarkType, period database.TargetPeriod) (*target.TargetResult, error)
}

type ShiftAggregator interface {
	AggregatePreviousDay(ctx context.Context) (*aggregation.ShiftResult, error)
	Backfill(ctx context.Context, daysBack int, deviceID string) (*aggregation.ShiftResult, error)
}

type AnomalyDetector interface {
	DetectPreviousDay(ctx context.Context) (*anomaly.DetectResult, error)
}

// ReportStore keeps the latest report per job.
type ReportStore interface {
	Save(ctx context.Context, report *status.Report) error
}

// Notifier is told about runs with failures.
type Notifier interface {
	SendJobReport(report *status.Report) error
}

// Deps are the triggers a Runner drives. Reports and Notifier may be nil.
type Deps struct {
	Daily      DailyAggregator
	Monthly    MonthlyAggregator
	Shifts     ShiftAggregator
	Anomalies  AnomalyDetector
	Benchmarks BenchmarkCalculator
	Targets    TargetTracker
	Reports    ReportStore
	Notifier   Notifier
}

// Runner executes jobs and reports "processed N, failed M" for each run
type Runner struct {
	deps          Deps
	benchmarkDays int
	now           func() time.Time
	logger        *zap.Logger
}

// NewRunner creates a new job runner. benchmarkDays is the history window of benchmark runs.
func NewRunner(deps Deps, benchmarkDays int, logger *zap.Logger) *Runner {
	return &Runner{deps: deps, benchmarkDays: benchmarkDays, now: time.Now, logger: logger.Named("jobs")}
}

// Daily aggregates yesterday for every active device
func (r *Runner) Daily(ctx context.Context) *status.Report {
	return track(ctx, r, JobDaily, r.deps.Daily.AggregatePreviousDay)
}

// RefreshToday recomputes today's partial aggregates
func (r *Runner) RefreshToday(ctx context.Context) *status.Report {
	return track(ctx, r, JobHourly, r.deps.Daily.RefreshToday)
}

// Monthly aggregates the previous month for every active device
func (r *Runner) Monthly(ctx context.Context) *status.Report {
	return track(ctx, r, JobMonthly, r.deps.Monthly.AggregatePreviousMonth)
}

// AggregateMonth aggregates one month on demand
func (r *Runner) AggregateMonth(ctx context.Context, month time.Time, deviceID string) *status.Report {
	return track(ctx, r, JobMonthly, func(ctx context.Context) (*aggregation.MonthlyResult, error) {
		return r.deps.Monthly.Aggregate(ctx, month, deviceID)
	})
}

// Benchmarks recomputes every plant-wide and per-device benchmark
func (r *Runner) Benchmarks(ctx context.Context) *status.Report {
	return track(ctx, r, JobBenchmarks, func(ctx context.Context) (*benchmark.BenchmarkResult, error) {
		return r.deps.Benchmarks.CalculateAll(ctx, nil, r.benchmarkDays)
	})
}

// Targets updates progress of every target active today
func (r *Runner) Targets(ctx context.Context) *status.Report {
	return track(ctx, r, JobTargets, func(ctx context.Context) (*target.TargetResult, error) {
		return r.deps.Targets.UpdateProgress(ctx, "")
	})
}

// SeedTargets creates current-period targets from the active benchmarks of typ
func (r *Runner) SeedTargets(ctx context.Context, typ database.BenchmarkType, period database.TargetPeriod) *status.Report {
	return track(ctx, r, JobTargetSeed, func(ctx context.Context) (*target.TargetResult, error) {
		return r.deps.Targets.SeedFromBenchmarks(ctx, typ, period)
	})
}

// Shifts aggregates the shifts that started yesterday
func (r *Runner) Shifts(ctx context.Context) *status.Report {
	return track(ctx, r, JobShifts, r.deps.Shifts.AggregatePreviousDay)
}

// Anomalies scores the window ending yesterday
func (r *Runner) Anomalies(ctx context.Context) *status.Report {
	return track(ctx, r, JobAnomalies, r.deps.Anomalies.DetectPreviousDay)
}

// BackfillShifts recomputes the shifts of the daysBack days before today
func (r *Runner) BackfillShifts(ctx context.Context, daysBack int, deviceID string) *status.Report {
	return track(ctx, r, JobShifts, func(ctx context.Context) (*aggregation.ShiftResult, error) {
		return r.deps.Shifts.Backfill(ctx, daysBack, deviceID)
	})
}

// Backfill recomputes the daysBack days before today for deviceID, or all devices when empty
func (r *Runner) Backfill(ctx context.Context, daysBack int, deviceID string) *status.Report {
	return track(ctx, r, JobBackfill, func(ctx context.Context) (*aggregation.DailyResult, error) {
		return r.deps.Daily.Backfill(ctx, daysBack, deviceID)
	})
}

func track[T any](ctx context.Context, r *Runner, job string, run func(context.Context) (*batch.Result[T], error)) *status.Report {
	report := &status.Report{
		RunID:     uuid.NewString(),
		Job:       job,
		StartedAt: r.now().UTC(),
	}
	logger := r.logger.With(zap.String("job", job), zap.String("run_id", report.RunID))
	logger.Info("job started")

	res, err := run(ctx)
	report.FinishedAt = r.now().UTC()
	if res != nil {
		report.Processed = res.Processed()
		report.Failed = res.Failed()
		for _, f := range res.Failures {
			report.Failures = append(report.Failures, status.FailureRecord{Key: f.Key, Error: f.Err.Error()})
		}
	}
	if err != nil {
		report.Error = err.Error()
		logger.Error("job aborted", zap.Error(err), zap.String("result", report.Summary()))
	} else {
		logger.Info("job finished: "+report.Summary(),
			zap.Int("processed", report.Processed),
			zap.Int("failed", report.Failed),
			zap.Duration("duration", report.Duration()),
		)
	}

	r.publish(ctx, report, logger)
	return report
}

func (r *Runner) publish(ctx context.Context, report *status.Report, logger *zap.Logger) {
	if r.deps.Reports != nil {
		// the run context may already be cancelled on shutdown
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := r.deps.Reports.Save(saveCtx, report); err != nil {
			logger.Warn("failed to save job report", zap.Error(err))
		}
	}
	if r.deps.Notifier != nil && report.HasFailures() {
		if err := r.deps.Notifier.SendJobReport(report); err != nil {
			logger.Warn("failed to send job report", zap.Error(err))
		}
	}
}
