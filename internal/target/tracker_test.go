package target_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/energy-reporting/internal/component"
	"github.com/smukkama/energy-reporting/internal/database"
	"github.com/smukkama/energy-reporting/internal/energy"
	"github.com/smukkama/energy-reporting/internal/target"
	"github.com/smukkama/energy-reporting/internal/testutil"
)

// a ten-day period, half elapsed on the 5th
var (
	periodStart = testutil.Day(2024, 3, 1)
	periodEnd   = testutil.Day(2024, 3, 10)
	today       = testutil.Day(2024, 3, 5)
)

func newTracker(t *testing.T, now time.Time) (*target.Tracker, *database.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	require.NoError(t, db.UpsertDevice(context.Background(), &database.Device{ID: "d1", Name: "d1", Kind: energy.Electrical, IsActive: true}))
	return target.NewTracker(db, zap.NewNop(), target.WithClock(func() time.Time { return now.Add(10 * time.Hour) })), db
}

func seedDay(t *testing.T, db *database.DB, date time.Time, energyKWh float64, eff *float64) {
	t.Helper()
	require.NoError(t, db.UpsertDailyAggregate(context.Background(), &database.DailyAggregate{
		DeviceID:             "d1",
		Date:                 date,
		Kind:                 energy.Electrical,
		Status:               database.DayFinalized,
		TotalEnergyKWh:       energyKWh,
		TotalCost:            energyKWh * 35,
		Breakdown:            component.Breakdown{},
		EfficiencyKWhPerUnit: eff,
		CalculatedAt:         time.Now().UTC(),
	}))
}

func createTarget(t *testing.T, db *database.DB, metric string, value float64) *database.Target {
	t.Helper()
	created, ok, err := db.CreateTarget(context.Background(), &database.Target{
		DeviceID:    "d1",
		MetricName:  metric,
		Period:      database.PeriodWeekly,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		TargetValue: value,
	})
	require.NoError(t, err)
	require.True(t, ok)
	return created
}

func TestUpdateProgress_EfficiencyBoundary(t *testing.T) {
	tests := []struct {
		name    string
		values  []float64
		current float64
		onTrack bool
	}{
		{"equal to target", []float64{50, 50, 50, 50, 50}, 50, true},
		{"above target with flat trend", []float64{56, 56, 56, 56, 56}, 56, false},
		{"within tolerance and improving", []float64{57, 56, 55, 54, 53}, 55, true},
		{"improving but beyond tolerance", []float64{70, 60, 58, 57, 55}, 60, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			tracker, db := newTracker(t, today)
			for i, v := range tt.values {
				seedDay(t, db, periodStart.AddDate(0, 0, i), v*100, testutil.Ptr(v))
			}
			tgt := createTarget(t, db, "kwh_per_garment", 50)

			res, err := tracker.UpdateProgress(ctx, tgt.ID)
			require.NoError(t, err)
			require.Len(t, res.Items, 1)

			stored, err := db.GetTarget(ctx, tgt.ID)
			require.NoError(t, err)
			assert.InDelta(t, tt.current, stored.CurrentValue, 1e-9)
			assert.Equal(t, tt.onTrack, stored.IsOnTrack)
			assert.InDelta(t, 50, stored.TargetValue, 1e-9)
			assert.Equal(t, periodStart, stored.PeriodStart)
		})
	}
}

func TestUpdateProgress_Volume(t *testing.T) {
	tests := []struct {
		name    string
		metric  string
		daily   []float64
		target  float64
		onTrack bool
	}{
		// expected at day 5 of 10 is half the target
		{"ahead of schedule", "total_energy_kwh", []float64{100, 100, 100, 100, 100}, 1000, true},
		{"behind and flat", "total_energy_kwh", []float64{80, 80, 80, 80, 80}, 1000, false},
		// 400 so far; recent 3-day mean 100 > 60*1.1; 400 + 100*5 >= 900
		{"behind but accelerating", "total_energy_kwh", []float64{60, 40, 100, 100, 100}, 900, true},
		{"accelerating but short", "total_energy_kwh", []float64{60, 40, 100, 100, 100}, 1000, false},
		{"cost column", "total_cost", []float64{100, 100, 100, 100, 100}, 35000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			tracker, db := newTracker(t, today)
			for i, v := range tt.daily {
				seedDay(t, db, periodStart.AddDate(0, 0, i), v, nil)
			}
			tgt := createTarget(t, db, tt.metric, tt.target)

			_, err := tracker.UpdateProgress(ctx, tgt.ID)
			require.NoError(t, err)

			stored, err := db.GetTarget(ctx, tgt.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.onTrack, stored.IsOnTrack)
		})
	}
}

func TestUpdateProgress_PeriodEndedComparesDirectly(t *testing.T) {
	ctx := context.Background()
	tracker, db := newTracker(t, testutil.Day(2024, 3, 12))
	for i := 0; i < 10; i++ {
		seedDay(t, db, periodStart.AddDate(0, 0, i), 95, nil)
	}
	// outside the period, ignored
	seedDay(t, db, testutil.Day(2024, 3, 11), 500, nil)
	tgt := createTarget(t, db, "total_energy_kwh", 1000)

	_, err := tracker.UpdateProgress(ctx, tgt.ID)
	require.NoError(t, err)

	stored, err := db.GetTarget(ctx, tgt.ID)
	require.NoError(t, err)
	assert.InDelta(t, 950, stored.CurrentValue, 1e-9)
	assert.False(t, stored.IsOnTrack)
}

func TestUpdateProgress_AllActive(t *testing.T) {
	ctx := context.Background()
	tracker, db := newTracker(t, today)
	seedDay(t, db, periodStart, 10, testutil.Ptr(2.0))
	active := createTarget(t, db, "kwh_per_unit", 3)

	_, _, err := db.CreateTarget(ctx, &database.Target{
		DeviceID: "d1", MetricName: "kwh_per_unit", Period: database.PeriodWeekly,
		PeriodStart: testutil.Day(2024, 2, 1), PeriodEnd: testutil.Day(2024, 2, 7), TargetValue: 3,
	})
	require.NoError(t, err)

	res, err := tracker.UpdateProgress(ctx, "")
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, active.ID, res.Items[0].ID)
	assert.True(t, res.Items[0].IsOnTrack)
	assert.Equal(t, "processed 1, failed 0", res.Summary())
}

func TestUpdateProgress_UnknownTarget(t *testing.T) {
	tracker, _ := newTracker(t, today)

	res, err := tracker.UpdateProgress(context.Background(), "missing")
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err(), target.ErrTargetNotFound)
	assert.Equal(t, "processed 0, failed 1", res.Summary())
}

func TestCreateFromBenchmark(t *testing.T) {
	ctx := context.Background()
	tracker, db := newTracker(t, testutil.Day(2024, 3, 14)) // a Thursday

	b := &database.Benchmark{
		DeviceID: "d1", Type: database.BenchmarkBestWeek, MetricName: "kwh_per_unit", Value: 2.4,
		PeriodStart: testutil.Day(2024, 2, 1), PeriodEnd: testutil.Day(2024, 2, 7), IsActive: true,
	}
	require.NoError(t, db.UpsertBenchmark(ctx, b))

	weekly, created, err := tracker.CreateFromBenchmark(ctx, b, database.PeriodWeekly, time.Time{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, testutil.Day(2024, 3, 11), weekly.PeriodStart)
	assert.Equal(t, testutil.Day(2024, 3, 17), weekly.PeriodEnd)
	assert.InDelta(t, 2.4, weekly.TargetValue, 1e-9)
	require.NotNil(t, weekly.BenchmarkID)
	assert.Equal(t, b.ID, *weekly.BenchmarkID)

	again, created, err := tracker.CreateFromBenchmark(ctx, b, database.PeriodWeekly, testutil.Day(2024, 3, 13))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, weekly.ID, again.ID)

	_, _, err = tracker.CreateFromBenchmark(ctx, b, database.TargetPeriod("fortnightly"), time.Time{})
	assert.Error(t, err)
}

func TestSeedFromBenchmarks(t *testing.T) {
	ctx := context.Background()
	tracker, db := newTracker(t, testutil.Day(2024, 3, 14))

	for _, b := range []*database.Benchmark{
		{DeviceID: "d1", Type: database.BenchmarkBestWeek, MetricName: "kwh_per_unit", Value: 2.4, IsActive: true},
		{DeviceID: database.PlantWide, Type: database.BenchmarkBestWeek, MetricName: "kwh_per_garment", Value: 0.8, IsActive: true},
		{DeviceID: "d1", Type: database.BenchmarkMedian, MetricName: "kwh_per_unit", Value: 3, IsActive: true},
	} {
		b.PeriodStart, b.PeriodEnd = testutil.Day(2024, 2, 1), testutil.Day(2024, 2, 7)
		require.NoError(t, db.UpsertBenchmark(ctx, b))
	}

	res, err := tracker.SeedFromBenchmarks(ctx, database.BenchmarkBestWeek, database.PeriodMonthly)
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	for _, tgt := range res.Items {
		assert.Equal(t, testutil.Day(2024, 3, 1), tgt.PeriodStart)
		assert.Equal(t, testutil.Day(2024, 3, 31), tgt.PeriodEnd)
		assert.NotNil(t, tgt.BenchmarkID)
	}

	active, err := db.ListTargetsActiveOn(ctx, testutil.Day(2024, 3, 14))
	require.NoError(t, err)
	assert.Len(t, active, 2)

	again, err := tracker.SeedFromBenchmarks(ctx, database.BenchmarkBestWeek, database.PeriodMonthly)
	require.NoError(t, err)
	assert.Empty(t, again.Items)
	assert.Len(t, again.Skipped, 2)
	assert.Equal(t, "processed 2, failed 0", again.Summary())
}

func TestPeriodBounds(t *testing.T) {
	tests := []struct {
		period     database.TargetPeriod
		day        time.Time
		start, end time.Time
	}{
		{database.PeriodWeekly, testutil.Day(2024, 3, 10), testutil.Day(2024, 3, 4), testutil.Day(2024, 3, 10)},
		{database.PeriodWeekly, testutil.Day(2024, 3, 11), testutil.Day(2024, 3, 11), testutil.Day(2024, 3, 17)},
		{database.PeriodMonthly, testutil.Day(2024, 2, 14), testutil.Day(2024, 2, 1), testutil.Day(2024, 2, 29)},
		{database.PeriodQuarterly, testutil.Day(2024, 5, 20), testutil.Day(2024, 4, 1), testutil.Day(2024, 6, 30)},
		{database.PeriodYearly, testutil.Day(2024, 5, 20), testutil.Day(2024, 1, 1), testutil.Day(2024, 12, 31)},
	}
	for _, tt := range tests {
		t.Run(string(tt.period)+" "+tt.day.Format(time.DateOnly), func(t *testing.T) {
			start, end, err := target.PeriodBounds(tt.period, tt.day)
			require.NoError(t, err)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.end, end)
		})
	}
}

func TestPeriodProgress(t *testing.T) {
	tgt := &database.Target{PeriodStart: periodStart, PeriodEnd: periodEnd}

	p := target.PeriodProgress(tgt, today)
	assert.Equal(t, target.Progress{PeriodDays: 10, DaysElapsed: 5, DaysRemaining: 5}, p)

	p = target.PeriodProgress(tgt, testutil.Day(2024, 4, 1))
	assert.Equal(t, 0, p.DaysRemaining)

	p = target.PeriodProgress(tgt, testutil.Day(2024, 2, 20))
	assert.Equal(t, target.Progress{PeriodDays: 10, DaysElapsed: 0, DaysRemaining: 10}, p)
}

func TestUpdateProgress_PeriodNotStarted(t *testing.T) {
	ctx := context.Background()
	tracker, db := newTracker(t, testutil.Day(2024, 2, 20))
	tgt := createTarget(t, db, "total_energy_kwh", 1000)

	res, err := tracker.UpdateProgress(ctx, tgt.ID)
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Equal(t, []string{tgt.ID}, res.Skipped)

	stored, err := db.GetTarget(ctx, tgt.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.CurrentValue)
	assert.False(t, stored.IsOnTrack)
	assert.True(t, stored.UpdatedAt.Equal(tgt.UpdatedAt))
}

func TestTrendHelpers(t *testing.T) {
	assert.True(t, target.EfficiencyImproving([]float64{5, 6, 4}))
	assert.False(t, target.EfficiencyImproving([]float64{5}))
	assert.False(t, target.EfficiencyImproving([]float64{4, 4}))

	// six or more points compare the first three against the last three
	assert.True(t, target.VolumeCatchesUp([]float64{10, 10, 10, 20, 20, 20}, 90, 150, 3))
	assert.False(t, target.VolumeCatchesUp([]float64{10, 10}, 0, 0, 3))
}
