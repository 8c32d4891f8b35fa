package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/energy-reporting/internal/aggregation"
	"github.com/smukkama/energy-reporting/internal/anomaly"
	"github.com/smukkama/energy-reporting/internal/benchmark"
	"github.com/smukkama/energy-reporting/internal/database"
	"github.com/smukkama/energy-reporting/internal/status"
	"github.com/smukkama/energy-reporting/internal/target"
)

type fakeDaily struct {
	res      *aggregation.DailyResult
	err      error
	backfill []any
}

func (f *fakeDaily) AggregatePreviousDay(context.Context) (*aggregation.DailyResult, error) {
	return f.res, f.err
}

func (f *fakeDaily) RefreshToday(context.Context) (*aggregation.DailyResult, error) {
	return f.res, f.err
}

func (f *fakeDaily) Backfill(_ context.Context, daysBack int, deviceID string) (*aggregation.DailyResult, error) {
	f.backfill = append(f.backfill, daysBack, deviceID)
	return f.res, f.err
}

type fakeMonthly struct {
	month time.Time
}

func (f *fakeMonthly) AggregatePreviousMonth(context.Context) (*aggregation.MonthlyResult, error) {
	return &aggregation.MonthlyResult{NoData: []string{"d1"}}, nil
}

func (f *fakeMonthly) Aggregate(_ context.Context, month time.Time, _ string) (*aggregation.MonthlyResult, error) {
	f.month = month
	return &aggregation.MonthlyResult{Items: []*database.MonthlyAggregate{{DeviceID: "d1"}}}, nil
}

type fakeBenchmarks struct {
	daysBack int
}

func (f *fakeBenchmarks) CalculateAll(_ context.Context, _ []string, daysBack int) (*benchmark.BenchmarkResult, error) {
	f.daysBack = daysBack
	return &benchmark.BenchmarkResult{Items: []*database.Benchmark{{ID: "b1"}}}, nil
}

type fakeTargets struct {
	seeded []any
}

func (*fakeTargets) UpdateProgress(context.Context, string) (*target.TargetResult, error) {
	res := &target.TargetResult{}
	res.Fail("t1", errors.New("target not found"))
	return res, nil
}

func (f *fakeTargets) SeedFromBenchmarks(_ context.Context, typ database.BenchmarkType, period database.TargetPeriod) (*target.TargetResult, error) {
	f.seeded = append(f.seeded, typ, period)
	return &target.TargetResult{Items: []*database.Target{{ID: "t2"}}, Skipped: []string{"b1"}}, nil
}

type fakeShifts struct {
	backfill []any
}

func (f *fakeShifts) AggregatePreviousDay(context.Context) (*aggregation.ShiftResult, error) {
	return &aggregation.ShiftResult{Items: []*aggregation.ShiftDay{{DeviceID: "d1"}}, NoData: []string{"d2"}}, nil
}

func (f *fakeShifts) Backfill(_ context.Context, daysBack int, deviceID string) (*aggregation.ShiftResult, error) {
	f.backfill = append(f.backfill, daysBack, deviceID)
	return &aggregation.ShiftResult{}, nil
}

type fakeAnomalies struct{}

func (fakeAnomalies) DetectPreviousDay(context.Context) (*anomaly.DetectResult, error) {
	return &anomaly.DetectResult{Items: []*anomaly.Scored{{DeviceID: "d1"}}}, nil
}

type memReports struct {
	saved []*status.Report
	err   error
}

func (m *memReports) Save(_ context.Context, r *status.Report) error {
	m.saved = append(m.saved, r)
	return m.err
}

type memNotifier struct {
	sent []*status.Report
}

func (m *memNotifier) SendJobReport(r *status.Report) error {
	m.sent = append(m.sent, r)
	return nil
}

func newRunner(daily *fakeDaily, reports *memReports, notifier *memNotifier) (*Runner, *fakeMonthly, *fakeBenchmarks) {
	monthly, bench := &fakeMonthly{}, &fakeBenchmarks{}
	r := NewRunner(Deps{
		Daily:      daily,
		Monthly:    monthly,
		Shifts:     &fakeShifts{},
		Anomalies:  fakeAnomalies{},
		Benchmarks: bench,
		Targets:    &fakeTargets{},
		Reports:    reports,
		Notifier:   notifier,
	}, 90, zap.NewNop())
	return r, monthly, bench
}

func dailyResult() *aggregation.DailyResult {
	res := &aggregation.DailyResult{
		Items:  []*database.DailyAggregate{{DeviceID: "d1"}, {DeviceID: "d3"}},
		NoData: []string{"d4"},
	}
	res.Fail("d2", errors.New("all tier queries failed"))
	return res
}

func TestRunner_DailyReportsPartialFailure(t *testing.T) {
	reports, notifier := &memReports{}, &memNotifier{}
	r, _, _ := newRunner(&fakeDaily{res: dailyResult()}, reports, notifier)

	report := r.Daily(context.Background())

	assert.Equal(t, JobDaily, report.Job)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "processed 3, failed 1", report.Summary())
	require.Len(t, report.Failures, 1)
	assert.Equal(t, status.FailureRecord{Key: "d2", Error: "all tier queries failed"}, report.Failures[0])
	assert.Empty(t, report.Error)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))

	require.Len(t, reports.saved, 1)
	assert.Same(t, report, reports.saved[0])
	require.Len(t, notifier.sent, 1)
}

func TestRunner_CleanRunIsNotEmailed(t *testing.T) {
	reports, notifier := &memReports{}, &memNotifier{}
	r, monthly, bench := newRunner(&fakeDaily{res: &aggregation.DailyResult{}}, reports, notifier)

	assert.Equal(t, "processed 0, failed 0", r.RefreshToday(context.Background()).Summary())
	assert.Equal(t, "processed 1, failed 0", r.Monthly(context.Background()).Summary())

	month := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	report := r.AggregateMonth(context.Background(), month, "d1")
	assert.Equal(t, JobMonthly, report.Job)
	assert.Equal(t, month, monthly.month)

	assert.Equal(t, "processed 1, failed 0", r.Benchmarks(context.Background()).Summary())
	assert.Equal(t, 90, bench.daysBack)

	assert.Len(t, reports.saved, 4)
	assert.Empty(t, notifier.sent)
}

func TestRunner_TargetsFailure(t *testing.T) {
	notifier := &memNotifier{}
	r, _, _ := newRunner(&fakeDaily{}, &memReports{}, notifier)

	report := r.Targets(context.Background())
	assert.Equal(t, "processed 0, failed 1", report.Summary())
	assert.Len(t, notifier.sent, 1)
}

func TestRunner_AbortedRun(t *testing.T) {
	reports, notifier := &memReports{err: errors.New("redis down")}, &memNotifier{}
	daily := &fakeDaily{err: errors.New("failed to list devices")}
	r, _, _ := newRunner(daily, reports, notifier)

	report := r.Backfill(context.Background(), 7, "d1")
	assert.Equal(t, JobBackfill, report.Job)
	assert.Equal(t, "failed to list devices", report.Error)
	assert.True(t, report.HasFailures())
	assert.Equal(t, []any{7, "d1"}, daily.backfill)

	// a failed save does not stop the notification
	assert.Len(t, reports.saved, 1)
	assert.Len(t, notifier.sent, 1)
}

func TestRunner_ShiftsAnomaliesAndSeeding(t *testing.T) {
	ctx := context.Background()
	reports, notifier := &memReports{}, &memNotifier{}
	shifts, targets := &fakeShifts{}, &fakeTargets{}
	r := NewRunner(Deps{
		Daily:     &fakeDaily{},
		Shifts:    shifts,
		Anomalies: fakeAnomalies{},
		Targets:   targets,
		Reports:   reports,
		Notifier:  notifier,
	}, 90, zap.NewNop())

	report := r.Shifts(ctx)
	assert.Equal(t, JobShifts, report.Job)
	assert.Equal(t, "processed 2, failed 0", report.Summary())

	report = r.Anomalies(ctx)
	assert.Equal(t, JobAnomalies, report.Job)
	assert.Equal(t, "processed 1, failed 0", report.Summary())

	report = r.SeedTargets(ctx, database.BenchmarkBestWeek, database.PeriodMonthly)
	assert.Equal(t, JobTargetSeed, report.Job)
	assert.Equal(t, "processed 2, failed 0", report.Summary())
	assert.Equal(t, []any{database.BenchmarkBestWeek, database.PeriodMonthly}, targets.seeded)

	report = r.BackfillShifts(ctx, 3, "d1")
	assert.Equal(t, JobShifts, report.Job)
	assert.Equal(t, []any{3, "d1"}, shifts.backfill)

	assert.Len(t, reports.saved, 4)
	assert.Empty(t, notifier.sent)
}
