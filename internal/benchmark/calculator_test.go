package benchmark_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/smukkama/energy-reporting/internal/benchmark"
	"github.com/smukkama/energy-reporting/internal/component"
	"github.com/smukkama/energy-reporting/internal/database"
	"github.com/smukkama/energy-reporting/internal/energy"
	"github.com/smukkama/energy-reporting/internal/testutil"
)

var today = testutil.Day(2024, 3, 31)

func newCalculator(t *testing.T, logger *zap.Logger) (*benchmark.Calculator, *database.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	for _, id := range []string{"d1", "d2"} {
		require.NoError(t, db.UpsertDevice(context.Background(), &database.Device{ID: id, Name: id, Kind: energy.Electrical, IsActive: true}))
	}
	calc := benchmark.NewCalculator(db, db, logger,
		benchmark.WithClock(func() time.Time { return today.Add(9 * time.Hour) }),
		benchmark.WithWorkers(3),
	)
	return calc, db
}

func seedEfficiency(t *testing.T, db *database.DB, deviceID string, date time.Time, eff float64) {
	t.Helper()
	require.NoError(t, db.UpsertDailyAggregate(context.Background(), &database.DailyAggregate{
		DeviceID:             deviceID,
		Date:                 date,
		Kind:                 energy.Electrical,
		Status:               database.DayFinalized,
		TotalEnergyKWh:       eff * 100,
		Breakdown:            component.Breakdown{},
		UnitsProduced:        testutil.Ptr[int64](100),
		EfficiencyKWhPerUnit: testutil.Ptr(eff),
		CalculatedAt:         time.Now().UTC(),
	}))
}

func TestCalculate_DailyTypes(t *testing.T) {
	ctx := context.Background()
	calc, db := newCalculator(t, zap.NewNop())

	for i, eff := range []float64{5, 3, 4, 3, 6} {
		seedEfficiency(t, db, "d1", testutil.Day(2024, 3, 20+i), eff)
	}
	// a day without production never qualifies
	require.NoError(t, db.UpsertDailyAggregate(ctx, &database.DailyAggregate{
		DeviceID: "d1", Date: testutil.Day(2024, 3, 26), Kind: energy.Electrical, Status: database.DayFinalized,
		TotalEnergyKWh: 1, Breakdown: component.Breakdown{}, CalculatedAt: time.Now().UTC(),
	}))

	best, err := calc.Calculate(ctx, "d1", "kwh_per_garment", database.BenchmarkBestDay, 30, false)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.InDelta(t, 3, best.Value, 1e-9)
	assert.Equal(t, testutil.Day(2024, 3, 21), best.PeriodStart)
	assert.Equal(t, testutil.Day(2024, 3, 21), best.PeriodEnd)
	assert.Equal(t, 5, best.CalculatedFromDays)
	assert.NotEmpty(t, best.ID)

	avg, err := calc.Calculate(ctx, "d1", "kwh_per_garment", database.BenchmarkAverage, 30, false)
	require.NoError(t, err)
	assert.InDelta(t, 4.2, avg.Value, 1e-9)
	assert.Equal(t, testutil.Day(2024, 3, 1), avg.PeriodStart)
	assert.Equal(t, today, avg.PeriodEnd)

	median, err := calc.Calculate(ctx, "d1", "kwh_per_garment", database.BenchmarkMedian, 30, false)
	require.NoError(t, err)
	assert.InDelta(t, 4, median.Value, 1e-9)

	// fewer than seven days of data yields no weekly benchmark
	week, err := calc.Calculate(ctx, "d1", "kwh_per_garment", database.BenchmarkBestWeek, 30, false)
	require.NoError(t, err)
	assert.Nil(t, week)
}

func TestCalculate_BestWeekSkipsGaps(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.WarnLevel)
	calc, db := newCalculator(t, zap.New(core))

	// March 1-7 contiguous at 4.0, then a gap on the 8th, then March 9-16 with one cheap day
	for d := 1; d <= 7; d++ {
		seedEfficiency(t, db, "d1", testutil.Day(2024, 3, d), 4)
	}
	for d := 9; d <= 16; d++ {
		eff := 3.0
		if d == 16 {
			eff = 1.0
		}
		seedEfficiency(t, db, "d1", testutil.Day(2024, 3, d), eff)
	}

	week, err := calc.Calculate(ctx, "d1", "kwh_per_unit", database.BenchmarkBestWeek, 60, true)
	require.NoError(t, err)
	require.NotNil(t, week)

	// windows 9-15 (3.0) and 10-16 ((6*3+1)/7) are valid; 10-16 wins
	assert.InDelta(t, 19.0/7, week.Value, 1e-9)
	assert.Equal(t, testutil.Day(2024, 3, 10), week.PeriodStart)
	assert.Equal(t, testutil.Day(2024, 3, 16), week.PeriodEnd)
	assert.Equal(t, 15, week.CalculatedFromDays)
	assert.Equal(t, 1, logs.FilterMessage("skipped windows crossing missing days").Len())
}

func TestCalculate_PlantWideAveragesPerDate(t *testing.T) {
	ctx := context.Background()
	calc, db := newCalculator(t, zap.NewNop())

	for d := 1; d <= 7; d++ {
		seedEfficiency(t, db, "d1", testutil.Day(2024, 3, d), 2)
		seedEfficiency(t, db, "d2", testutil.Day(2024, 3, d), 4)
	}

	week, err := calc.Calculate(ctx, database.PlantWide, "kwh_per_unit", database.BenchmarkBestWeek, 60, false)
	require.NoError(t, err)
	require.NotNil(t, week)
	assert.InDelta(t, 3, week.Value, 1e-9)
	assert.Equal(t, database.PlantWide, week.DeviceID)

	day, err := calc.Calculate(ctx, database.PlantWide, "kwh_per_unit", database.BenchmarkBestDay, 60, false)
	require.NoError(t, err)
	assert.InDelta(t, 2, day.Value, 1e-9)
}

func TestCalculate_BestMonth(t *testing.T) {
	ctx := context.Background()
	calc, db := newCalculator(t, zap.NewNop())

	for _, m := range []struct {
		month time.Time
		eff   *float64
		days  int
	}{
		{testutil.Day(2024, 1, 1), testutil.Ptr(2.5), 31},
		{testutil.Day(2024, 2, 1), testutil.Ptr(2.1), 29},
		{testutil.Day(2024, 3, 1), nil, 10},
	} {
		require.NoError(t, db.UpsertMonthlyAggregate(ctx, &database.MonthlyAggregate{
			DeviceID: "d1", Month: m.month, Kind: energy.Electrical, Source: database.SourceDaily,
			Breakdown: component.Breakdown{}, EfficiencyKWhPerUnit: m.eff, DaysWithData: m.days,
			CalculatedAt: time.Now().UTC(),
		}))
	}

	b, err := calc.Calculate(ctx, "d1", "kwh_per_unit", database.BenchmarkBestMonth, 90, false)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.InDelta(t, 2.1, b.Value, 1e-9)
	assert.Equal(t, testutil.Day(2024, 2, 1), b.PeriodStart)
	assert.Equal(t, testutil.Day(2024, 2, 29), b.PeriodEnd)
	assert.Equal(t, 60, b.CalculatedFromDays)
}

func TestCalculate_ExistingReturnedUnlessForced(t *testing.T) {
	ctx := context.Background()
	calc, db := newCalculator(t, zap.NewNop())
	seedEfficiency(t, db, "d1", testutil.Day(2024, 3, 20), 5)

	first, err := calc.Calculate(ctx, "d1", "kwh_per_unit", database.BenchmarkBestDay, 30, false)
	require.NoError(t, err)

	seedEfficiency(t, db, "d1", testutil.Day(2024, 3, 21), 2)

	again, err := calc.Calculate(ctx, "d1", "kwh_per_unit", database.BenchmarkBestDay, 30, false)
	require.NoError(t, err)
	assert.InDelta(t, 5, again.Value, 1e-9)
	assert.Equal(t, first.ID, again.ID)

	forced, err := calc.Calculate(ctx, "d1", "kwh_per_unit", database.BenchmarkBestDay, 30, true)
	require.NoError(t, err)
	assert.InDelta(t, 2, forced.Value, 1e-9)
	assert.Equal(t, first.ID, forced.ID)
}

func TestCalculate_Errors(t *testing.T) {
	ctx := context.Background()
	calc, _ := newCalculator(t, zap.NewNop())

	_, err := calc.Calculate(ctx, "d1", "total_energy_kwh", database.BenchmarkBestDay, 30, false)
	assert.ErrorIs(t, err, benchmark.ErrUnsupportedMetric)

	_, err = calc.Calculate(ctx, "d1", "kwh_per_unit", database.BenchmarkCustom, 30, false)
	assert.ErrorIs(t, err, benchmark.ErrNotComputable)

	b, err := calc.Calculate(ctx, "d1", "kwh_per_unit", database.BenchmarkAverage, 30, false)
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestSetCustom(t *testing.T) {
	ctx := context.Background()
	calc, db := newCalculator(t, zap.NewNop())

	b, err := calc.SetCustom(ctx, "d1", "kwh_per_unit", 2.75, testutil.Day(2024, 1, 1), testutil.Day(2024, 1, 31))
	require.NoError(t, err)
	assert.Equal(t, 31, b.CalculatedFromDays)

	stored, err := db.GetBenchmark(ctx, "d1", database.BenchmarkCustom, "kwh_per_unit")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.InDelta(t, 2.75, stored.Value, 1e-9)

	_, err = calc.SetCustom(ctx, "d1", "kwh_per_unit", -1, testutil.Day(2024, 1, 1), testutil.Day(2024, 1, 31))
	assert.Error(t, err)
}

func TestCalculateAll(t *testing.T) {
	ctx := context.Background()
	calc, db := newCalculator(t, zap.NewNop())
	for d := 1; d <= 7; d++ {
		seedEfficiency(t, db, "d1", testutil.Day(2024, 3, d), float64(d))
	}

	res, err := calc.CalculateAll(ctx, nil, 90)
	require.NoError(t, err)
	assert.Zero(t, res.Failed())

	// plant-wide and d1 get best_day, best_week, average and median for both metrics; d2 has no data
	assert.Len(t, res.Items, 2*2*4)
	assert.Equal(t, 3*2*5, res.Processed())

	b, err := db.GetBenchmark(ctx, database.PlantWide, database.BenchmarkMedian, "kwh_per_garment")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.InDelta(t, 4, b.Value, 1e-9)
}

func TestMedian(t *testing.T) {
	assert.InDelta(t, 4, benchmark.Median([]float64{5, 3, 4, 3, 6}), 1e-9)
	assert.InDelta(t, 3.5, benchmark.Median([]float64{4, 3}), 1e-9)
	assert.Zero(t, benchmark.Median(nil))
}
