// Package benchmark derives reference efficiency values (energy per produced unit) from
// historical aggregates. Lower is better for every metric handled here.
package benchmark

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/smukkama/energy-reporting/internal/batch"
	"github.com/smukkama/energy-reporting/internal/database"
)

var (
	ErrUnsupportedMetric = errors.New("benchmarks are only defined for efficiency metrics")
	ErrNotComputable     = errors.New("benchmark type cannot be computed from aggregates")
)

// Metrics are the efficiency metrics benchmarked by CalculateAll.
var Metrics = []string{"kwh_per_garment", "kwh_per_unit"}

// Store reads aggregates and persists benchmarks.
type Store interface {
	QueryDailyAggregates(ctx context.Context, q database.DailyQuery) ([]*database.DailyAggregate, error)
	QueryMonthlyAggregates(ctx context.Context, q database.MonthlyQuery) ([]*database.MonthlyAggregate, error)
	GetBenchmark(ctx context.Context, deviceID string, typ database.BenchmarkType, metric string) (*database.Benchmark, error)
	UpsertBenchmark(ctx context.Context, b *database.Benchmark) error
}

// Registry lists devices benchmarked individually.
type Registry interface {
	ListActiveDevices(ctx context.Context) ([]*database.Device, error)
}

// Publisher announces stored benchmarks.
type Publisher interface {
	PublishBenchmark(ctx context.Context, b *database.Benchmark) error
}

// Calculator computes and stores benchmarks
type Calculator struct {
	store     Store
	registry  Registry
	publisher Publisher
	location  *time.Location
	workers   int
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithPublisher announces every stored benchmark on p.
func WithPublisher(p Publisher) Option {
	return func(c *Calculator) { c.publisher = p }
}

// WithLocation sets the plant time zone used to resolve today.
func WithLocation(loc *time.Location) Option {
	return func(c *Calculator) { c.location = loc }
}

// WithWorkers bounds CalculateAll concurrency.
func WithWorkers(n int) Option {
	return func(c *Calculator) { c.workers = n }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Calculator) { c.now = now }
}

// NewCalculator creates a new benchmark calculator
func NewCalculator(store Store, registry Registry, logger *zap.Logger, opts ...Option) *Calculator {
	c := &Calculator{
		store:    store,
		registry: registry,
		location: time.UTC,
		workers:  1,
		now:      time.Now,
		logger:   logger.Named("benchmark"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// result is a computed benchmark before it is stored.
type result struct {
	value float64
	start time.Time
	end   time.Time
	days  int
}

// Calculate computes the benchmark of typ for metric over [today-daysBack, today]. deviceID
// empty computes the plant-wide benchmark. An active stored benchmark is returned unchanged
// unless force is set. It returns nil when no qualifying data exists.
func (c *Calculator) Calculate(ctx context.Context, deviceID, metric string, typ database.BenchmarkType, daysBack int, force bool) (*database.Benchmark, error) {
	if !database.IsEfficiencyMetric(metric) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMetric, metric)
	}
	if daysBack <= 0 {
		return nil, fmt.Errorf("days back must be positive, got %d", daysBack)
	}

	logger := c.logger.With(
		zap.String("device_id", deviceID),
		zap.String("metric", metric),
		zap.String("type", string(typ)),
	)

	if !force {
		existing, err := c.store.GetBenchmark(ctx, deviceID, typ, metric)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.IsActive {
			logger.Debug("benchmark already exists")
			return existing, nil
		}
	}

	end := database.Date(c.now().In(c.location))
	start := end.AddDate(0, 0, -daysBack)

	var (
		r   *result
		err error
	)
	switch typ {
	case database.BenchmarkBestMonth:
		r, err = c.bestMonth(ctx, deviceID, start, end)
	case database.BenchmarkBestDay, database.BenchmarkBestWeek, database.BenchmarkAverage, database.BenchmarkMedian:
		var days []*database.DailyAggregate
		days, err = c.store.QueryDailyAggregates(ctx, database.DailyQuery{
			DeviceID:       deviceID,
			From:           start,
			To:             end,
			WithEfficiency: true,
		})
		if err == nil {
			r = c.fromDaily(typ, days, start, end, logger)
		}
	case database.BenchmarkCustom:
		return nil, fmt.Errorf("%w: %s", ErrNotComputable, typ)
	default:
		return nil, fmt.Errorf("unknown benchmark type %q", typ)
	}
	if err != nil {
		return nil, err
	}
	if r == nil {
		logger.Warn("could not calculate benchmark, no qualifying data")
		return nil, nil
	}

	b := &database.Benchmark{
		DeviceID:           deviceID,
		Type:               typ,
		MetricName:         metric,
		Value:              r.value,
		PeriodStart:        r.start,
		PeriodEnd:          r.end,
		CalculatedFromDays: r.days,
		IsActive:           true,
		UpdatedAt:          c.now().UTC(),
	}
	if err := c.store.UpsertBenchmark(ctx, b); err != nil {
		return nil, err
	}
	c.publish(ctx, b)

	logger.Info("benchmark stored", zap.Float64("value", b.Value), zap.Int("days", b.CalculatedFromDays))
	return b, nil
}

// SetCustom stores an operator-defined benchmark value.
func (c *Calculator) SetCustom(ctx context.Context, deviceID, metric string, value float64, start, end time.Time) (*database.Benchmark, error) {
	if !database.IsEfficiencyMetric(metric) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMetric, metric)
	}
	if value <= 0 {
		return nil, fmt.Errorf("custom benchmark must be positive, got %g", value)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("custom benchmark period ends before it starts")
	}

	b := &database.Benchmark{
		DeviceID:           deviceID,
		Type:               database.BenchmarkCustom,
		MetricName:         metric,
		Value:              value,
		PeriodStart:        database.Date(start),
		PeriodEnd:          database.Date(end),
		CalculatedFromDays: int(database.Date(end).Sub(database.Date(start)).Hours()/24) + 1,
		IsActive:           true,
		UpdatedAt:          c.now().UTC(),
	}
	if err := c.store.UpsertBenchmark(ctx, b); err != nil {
		return nil, err
	}
	c.publish(ctx, b)
	return b, nil
}

// BenchmarkResult is the outcome of CalculateAll
type BenchmarkResult = batch.Result[database.Benchmark]

// CalculateAll recomputes plant-wide and per-device benchmarks for every metric and
// computable type. deviceIDs nil selects every active device.
func (c *Calculator) CalculateAll(ctx context.Context, deviceIDs []string, daysBack int) (*BenchmarkResult, error) {
	if deviceIDs == nil {
		devices, err := c.registry.ListActiveDevices(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list devices: %w", err)
		}
		deviceIDs = lo.Map(devices, func(d *database.Device, _ int) string { return d.ID })
	}

	scopes := append([]string{database.PlantWide}, deviceIDs...)
	var jobs []batch.Job[database.Benchmark]
	for _, deviceID := range scopes {
		for _, metric := range Metrics {
			for _, typ := range database.ComputableBenchmarkTypes {
				deviceID, metric, typ := deviceID, metric, typ
				jobs = append(jobs, batch.Job[database.Benchmark]{
					Key: jobKey(deviceID, metric, typ),
					Run: func(ctx context.Context) (*database.Benchmark, batch.Outcome, error) {
						b, err := c.Calculate(ctx, deviceID, metric, typ, daysBack, true)
						if err != nil || b == nil {
							return nil, batch.NoData, err
						}
						return b, batch.Written, nil
					},
				})
			}
		}
	}

	res := batch.Run(ctx, c.workers, jobs)
	c.logger.Info("benchmark calculation completed: "+res.Summary(),
		zap.Int("devices", len(deviceIDs)),
		zap.Int("stored", len(res.Items)),
	)
	for _, f := range res.Failures {
		c.logger.Warn("benchmark failed", zap.String("key", f.Key), zap.Error(f.Err))
	}
	return res, nil
}

func jobKey(deviceID, metric string, typ database.BenchmarkType) string {
	if deviceID == database.PlantWide {
		deviceID = "plant"
	}
	return fmt.Sprintf("%s/%s/%s", deviceID, metric, typ)
}

func (c *Calculator) publish(ctx context.Context, b *database.Benchmark) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishBenchmark(ctx, b); err != nil {
		c.logger.Warn("failed to publish benchmark", zap.String("id", b.ID), zap.Error(err))
	}
}

func (c *Calculator) fromDaily(typ database.BenchmarkType, days []*database.DailyAggregate, start, end time.Time, logger *zap.Logger) *result {
	days = lo.Filter(days, func(d *database.DailyAggregate, _ int) bool {
		return d.EfficiencyKWhPerUnit != nil && *d.EfficiencyKWhPerUnit > 0
	})
	if len(days) == 0 {
		return nil
	}
	values := lo.Map(days, func(d *database.DailyAggregate, _ int) float64 { return *d.EfficiencyKWhPerUnit })

	switch typ {
	case database.BenchmarkBestDay:
		// rows are ordered by date, so the strict comparison keeps the earliest tie
		best := days[0]
		for _, d := range days[1:] {
			if *d.EfficiencyKWhPerUnit < *best.EfficiencyKWhPerUnit {
				best = d
			}
		}
		return &result{value: *best.EfficiencyKWhPerUnit, start: best.Date, end: best.Date, days: len(days)}

	case database.BenchmarkBestWeek:
		series := perDate(days)
		best, gaps := bestWeek(series)
		if gaps > 0 {
			logger.Warn("skipped windows crossing missing days", zap.Int("windows", gaps))
		}
		if best == nil {
			return nil
		}
		best.days = len(days)
		return best

	case database.BenchmarkAverage:
		return &result{value: lo.Sum(values) / float64(len(values)), start: start, end: end, days: len(values)}

	case database.BenchmarkMedian:
		return &result{value: Median(values), start: start, end: end, days: len(values)}
	}
	return nil
}

func (c *Calculator) bestMonth(ctx context.Context, deviceID string, start, end time.Time) (*result, error) {
	months, err := c.store.QueryMonthlyAggregates(ctx, database.MonthlyQuery{
		DeviceID:       deviceID,
		From:           database.MonthStart(start),
		To:             database.MonthStart(end),
		WithEfficiency: true,
	})
	if err != nil {
		return nil, err
	}
	if len(months) == 0 {
		return nil, nil
	}

	best := months[0]
	for _, m := range months[1:] {
		if *m.EfficiencyKWhPerUnit < *best.EfficiencyKWhPerUnit {
			best = m
		}
	}
	return &result{
		value: *best.EfficiencyKWhPerUnit,
		start: best.Month,
		end:   best.Month.AddDate(0, 1, -1),
		days:  lo.SumBy(months, func(m *database.MonthlyAggregate) int { return m.DaysWithData }),
	}, nil
}

// DatePoint is one value per calendar date.
type DatePoint struct {
	Date  time.Time
	Value float64
}

// perDate averages efficiency per date, which collapses plant-wide rows from several devices.
func perDate(days []*database.DailyAggregate) []DatePoint {
	grouped := lo.GroupBy(days, func(d *database.DailyAggregate) time.Time { return d.Date })
	out := make([]DatePoint, 0, len(grouped))
	for date, rows := range grouped {
		sum := lo.SumBy(rows, func(d *database.DailyAggregate) float64 { return *d.EfficiencyKWhPerUnit })
		out = append(out, DatePoint{Date: date, Value: sum / float64(len(rows))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// bestWeek returns the 7-day window with the lowest mean. Windows must cover seven consecutive
// calendar days; the number of windows rejected for gaps is returned alongside.
func bestWeek(points []DatePoint) (*result, int) {
	var best *result
	gaps := 0
	for i := 0; i+7 <= len(points); i++ {
		window := points[i : i+7]
		first, last := window[0].Date, window[6].Date
		if !last.Equal(first.AddDate(0, 0, 6)) {
			gaps++
			continue
		}
		mean := lo.SumBy(window, func(p DatePoint) float64 { return p.Value }) / 7
		if best == nil || mean < best.value {
			best = &result{value: mean, start: first, end: last}
		}
	}
	return best, gaps
}

// Median returns the middle value, or the mean of the two middle values for even lengths.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}
