package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/smukkama/energy-reporting/internal/batch"
	"github.com/smukkama/energy-reporting/internal/component"
	"github.com/smukkama/energy-reporting/internal/database"
	"github.com/smukkama/energy-reporting/internal/delta"
	"github.com/smukkama/energy-reporting/internal/energy"
)

// MonthlyAggregator rolls finalized daily aggregates into calendar months
type MonthlyAggregator struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
}

// NewMonthlyAggregator creates a new monthly aggregator
func NewMonthlyAggregator(deps Deps, opts Options, logger *zap.Logger) *MonthlyAggregator {
	return &MonthlyAggregator{deps: deps, opts: opts.withDefaults(), logger: logger.Named("monthly")}
}

// MonthlyResult is the outcome of one monthly batch
type MonthlyResult = batch.Result[database.MonthlyAggregate]

// Aggregate computes the monthly aggregate of the month containing month, for deviceID or for
// every active device when deviceID is empty.
func (m *MonthlyAggregator) Aggregate(ctx context.Context, month time.Time, deviceID string) (*MonthlyResult, error) {
	month = database.MonthStart(month)
	res := &MonthlyResult{}

	devices, err := resolveDevices(ctx, m.deps.Registry, deviceID, res)
	if err != nil {
		return nil, err
	}

	jobs := make([]batch.Job[database.MonthlyAggregate], len(devices))
	for i, dev := range devices {
		dev := dev
		jobs[i] = batch.Job[database.MonthlyAggregate]{
			Key: dev.ID,
			Run: func(ctx context.Context) (*database.MonthlyAggregate, batch.Outcome, error) {
				return m.aggregateDevice(ctx, dev, month)
			},
		}
	}
	res.Merge(batch.Run(ctx, m.opts.Workers, jobs))

	logBatch(m.logger, "monthly aggregation completed", res, zap.String("month", month.Format("2006-01")))
	return res, nil
}

// AggregatePreviousMonth aggregates the month before the current one in the plant time zone
func (m *MonthlyAggregator) AggregatePreviousMonth(ctx context.Context) (*MonthlyResult, error) {
	return m.Aggregate(ctx, database.MonthStart(m.opts.today()).AddDate(0, -1, 0), "")
}

// CalculateNextRunTime calculates when the monthly aggregation should next run: on the first
// day of a month at timeOfDay in the plant time zone.
func (m *MonthlyAggregator) CalculateNextRunTime(timeOfDay string) (time.Time, error) {
	return nextMonthlyRun(m.opts.Now().In(m.opts.Location), timeOfDay)
}

func nextMonthlyRun(now time.Time, timeOfDay string) (time.Time, error) {
	hour, minute, err := parseTimeOfDay(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}

	run := time.Date(now.Year(), now.Month(), 1, hour, minute, 0, 0, now.Location())
	if now.After(run) {
		run = run.AddDate(0, 1, 0)
	}
	return run, nil
}

func (m *MonthlyAggregator) aggregateDevice(ctx context.Context, dev *database.Device, month time.Time) (*database.MonthlyAggregate, batch.Outcome, error) {
	logger := m.logger.With(zap.String("device_id", dev.ID), zap.String("month", month.Format("2006-01")))

	agg, err := m.fromDaily(ctx, dev, month)
	if err != nil {
		return nil, batch.Written, err
	}
	if agg == nil {
		logger.Info("no finalized daily aggregates, falling back to raw series")
		if agg, err = m.fromRaw(ctx, dev, month); err != nil {
			return nil, batch.Written, err
		}
	}
	if agg == nil {
		logger.Debug("no data for month")
		return nil, batch.NoData, nil
	}

	agg.CalculatedAt = m.opts.Now().UTC()
	if err := m.deps.Store.UpsertMonthlyAggregate(ctx, agg); err != nil {
		return nil, batch.Written, err
	}

	if m.deps.Publisher != nil {
		if err := m.deps.Publisher.PublishMonthly(ctx, agg); err != nil {
			logger.Warn("failed to publish monthly aggregate", zap.Error(err))
		}
	}

	logger.Debug("monthly aggregate stored",
		zap.Float64("total_energy_kwh", agg.TotalEnergyKWh),
		zap.String("source", string(agg.Source)),
		zap.Float64("data_completeness", agg.DataCompleteness),
	)
	return agg, batch.Written, nil
}

func (m *MonthlyAggregator) fromDaily(ctx context.Context, dev *database.Device, month time.Time) (*database.MonthlyAggregate, error) {
	dailies, err := m.deps.Store.QueryDailyAggregates(ctx, database.DailyQuery{
		DeviceID:      dev.ID,
		From:          month,
		To:            month.AddDate(0, 1, -1),
		FinalizedOnly: true,
	})
	if err != nil {
		return nil, err
	}
	dailies = SumByKind(dailies, dev.Kind)
	if len(dailies) == 0 {
		return nil, nil
	}

	agg := &database.MonthlyAggregate{
		DeviceID:       dev.ID,
		Month:          month,
		Kind:           dev.Kind,
		Source:         database.SourceDaily,
		Breakdown:      component.Breakdown{},
		DaysWithData:   len(dailies),
		TotalEnergyKWh: lo.SumBy(dailies, func(d *database.DailyAggregate) float64 { return d.TotalEnergyKWh }),
		TotalCost:      lo.SumBy(dailies, func(d *database.DailyAggregate) float64 { return d.TotalCost }),
		PeakPowerKW:    lo.MaxBy(dailies, func(a, b *database.DailyAggregate) bool { return a.PeakPowerKW > b.PeakPowerKW }).PeakPowerKW,
	}
	agg.AvgDailyEnergyKWh = agg.TotalEnergyKWh / float64(len(dailies))
	agg.DataCompleteness = completeness(len(dailies), month)

	for _, d := range dailies {
		agg.Breakdown.Merge(d.Breakdown)
		if d.UnitsProduced != nil {
			agg.TotalUnitsProduced = addUnits(agg.TotalUnitsProduced, *d.UnitsProduced)
		}
	}
	agg.EfficiencyKWhPerUnit = perUnit(agg.TotalEnergyKWh, agg.TotalUnitsProduced)
	return agg, nil
}

func (m *MonthlyAggregator) fromRaw(ctx context.Context, dev *database.Device, month time.Time) (*database.MonthlyAggregate, error) {
	conv, err := m.deps.Converters.For(dev.Kind)
	if err != nil {
		return nil, err
	}

	lastDay := month.AddDate(0, 1, -1)
	start, _ := m.opts.dayBounds(month)
	_, end := m.opts.dayBounds(lastDay)

	counterField, _ := m.opts.fields(dev)
	fetched, err := m.deps.Fetcher.Fetch(ctx, []string{dev.ID}, []string{counterField}, start.Add(-m.opts.Lookback), end)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch series: %w", err)
	}

	series := delta.ReduceRange(fetched.Series()[dev.ID][counterField], start, end, m.opts.Location)
	native := delta.Sum(series.Hourly)
	if native == nil {
		return nil, nil
	}

	days := lo.CountBy(series.Daily, func(b delta.Bucket) bool {
		return b.Value != nil && !b.Start.Before(start) && b.Start.Before(end)
	})
	if days == 0 {
		return nil, nil
	}

	agg := &database.MonthlyAggregate{
		DeviceID:         dev.ID,
		Month:            month,
		Kind:             dev.Kind,
		Source:           database.SourceRaw,
		Breakdown:        component.Breakdown{},
		TotalEnergyKWh:   conv.EnergyKWh(*native),
		TotalCost:        conv.Cost(*native),
		DaysWithData:     days,
		DataCompleteness: completeness(days, month),
	}
	agg.AvgDailyEnergyKWh = agg.TotalEnergyKWh / float64(days)

	units, err := m.deps.Production.UnitsProduced(ctx, dev.ID, month, lastDay)
	if err != nil {
		return nil, err
	}
	agg.TotalUnitsProduced = units
	agg.EfficiencyKWhPerUnit = perUnit(agg.TotalEnergyKWh, units)
	return agg, nil
}

// SumByKind keeps the aggregates measured in kind so totals never mix kWh with m3.
func SumByKind(dailies []*database.DailyAggregate, kind energy.MeasurementKind) []*database.DailyAggregate {
	return lo.Filter(dailies, func(d *database.DailyAggregate, _ int) bool {
		return d.Kind == kind && !d.IsOvertime
	})
}

func completeness(days int, month time.Time) float64 {
	return float64(days) / float64(database.DaysInMonth(month)) * 100
}

func addUnits(acc *int64, v int64) *int64 {
	if acc == nil {
		return &v
	}
	sum := *acc + v
	return &sum
}
