package aggregation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/energy-reporting/internal/batch"
	"github.com/smukkama/energy-reporting/internal/component"
	"github.com/smukkama/energy-reporting/internal/database"
	"github.com/smukkama/energy-reporting/internal/delta"
)

// DailyAggregator computes per-device daily consumption from counter deltas
type DailyAggregator struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
}

// NewDailyAggregator creates a new daily aggregator
func NewDailyAggregator(deps Deps, opts Options, logger *zap.Logger) *DailyAggregator {
	return &DailyAggregator{deps: deps, opts: opts.withDefaults(), logger: logger.Named("daily")}
}

// DailyResult is the outcome of one daily batch
type DailyResult = batch.Result[database.DailyAggregate]

// Aggregate computes the daily aggregate of date for deviceID, or for every active device
// when deviceID is empty. Finalized days are left untouched.
func (d *DailyAggregator) Aggregate(ctx context.Context, date time.Time, deviceID string) (*DailyResult, error) {
	return d.aggregate(ctx, date, deviceID, false)
}

// Recompute is Aggregate that also rewrites finalized days.
func (d *DailyAggregator) Recompute(ctx context.Context, date time.Time, deviceID string) (*DailyResult, error) {
	return d.aggregate(ctx, date, deviceID, true)
}

func (d *DailyAggregator) aggregate(ctx context.Context, date time.Time, deviceID string, force bool) (*DailyResult, error) {
	date = database.Date(date)
	res := &DailyResult{}

	devices, err := resolveDevices(ctx, d.deps.Registry, deviceID, res)
	if err != nil {
		return nil, err
	}

	jobs := make([]batch.Job[database.DailyAggregate], len(devices))
	for i, dev := range devices {
		dev := dev
		jobs[i] = batch.Job[database.DailyAggregate]{
			Key: dev.ID,
			Run: func(ctx context.Context) (*database.DailyAggregate, batch.Outcome, error) {
				return d.aggregateDevice(ctx, dev, date, force)
			},
		}
	}
	res.Merge(batch.Run(ctx, d.opts.Workers, jobs))

	logBatch(d.logger, "daily aggregation completed", res, zap.String("date", date.Format(time.DateOnly)))
	return res, nil
}

// AggregatePreviousDay aggregates yesterday in the plant time zone
func (d *DailyAggregator) AggregatePreviousDay(ctx context.Context) (*DailyResult, error) {
	return d.Aggregate(ctx, d.opts.today().AddDate(0, 0, -1), "")
}

// Backfill recomputes the daysBack days before today, oldest first, including finalized days
func (d *DailyAggregator) Backfill(ctx context.Context, daysBack int, deviceID string) (*DailyResult, error) {
	if daysBack <= 0 {
		return nil, fmt.Errorf("days back must be positive, got %d", daysBack)
	}

	today := d.opts.today()
	total := &DailyResult{}
	for i := daysBack; i >= 1; i-- {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := d.Recompute(ctx, today.AddDate(0, 0, -i), deviceID)
		if err != nil {
			return total, err
		}
		total.Merge(res)
	}

	d.logger.Info("backfill completed: "+total.Summary(),
		zap.Int("days_back", daysBack),
		zap.String("device_id", deviceID),
	)
	return total, nil
}

func (d *DailyAggregator) aggregateDevice(ctx context.Context, dev *database.Device, date time.Time, force bool) (*database.DailyAggregate, batch.Outcome, error) {
	logger := d.logger.With(zap.String("device_id", dev.ID), zap.String("date", date.Format(time.DateOnly)))

	if !force {
		existing, err := d.deps.Store.GetDailyAggregate(ctx, dev.ID, date, false)
		if err != nil {
			return nil, batch.Written, err
		}
		if existing != nil && existing.Status == database.DayFinalized {
			logger.Debug("day already finalized, skipping")
			return nil, batch.Skipped, nil
		}
	}

	conv, err := d.deps.Converters.For(dev.Kind)
	if err != nil {
		return nil, batch.Written, err
	}

	start, end := d.opts.dayBounds(date)
	fetched, err := d.deps.Fetcher.Fetch(ctx, []string{dev.ID}, nil, start.Add(-d.opts.Lookback), end)
	if err != nil {
		return nil, batch.Written, fmt.Errorf("failed to fetch series: %w", err)
	}
	if fetched.Degraded() {
		logger.Warn("aggregating with missing tiers", zap.Int("failed_tiers", len(fetched.Failed)))
	}

	series := fetched.Series()[dev.ID]
	counterField, rateField := d.opts.fields(dev)

	counter := delta.ReduceRange(series[counterField], start, end, d.opts.Location)
	native := delta.Sum(counter.Hourly)
	if native == nil {
		logger.Debug("no counter data for day")
		return nil, batch.NoData, nil
	}

	agg := &database.DailyAggregate{
		DeviceID:       dev.ID,
		Date:           date,
		Kind:           dev.Kind,
		NativeTotal:    *native,
		TotalEnergyKWh: conv.EnergyKWh(*native),
		TotalCost:      conv.Cost(*native),
		Breakdown:      component.Breakdown{},
		HoursWithData:  delta.Present(counter.Hourly),
		CalculatedAt:   d.opts.Now().UTC(),
	}
	agg.AvgPowerKW = agg.TotalEnergyKWh / 24

	if peak, ok := delta.Peak(delta.Between(series[rateField], start, end)); ok {
		if agg.PeakPowerKW, err = d.deps.Converters.RateToKW(dev.Kind, peak); err != nil {
			return nil, batch.Written, err
		}
	}
	if last, ok := delta.Last(series[counterField]); ok {
		reading := last.Value
		agg.MeterReading = &reading
	}

	for field, samples := range series {
		if field == counterField || field == rateField {
			continue
		}
		kind, ok := d.deps.Taxonomy.Classify(field)
		if !ok {
			logger.Debug("field matches no component, dropped", zap.String("field", field))
			continue
		}
		if sum := delta.Sum(delta.ReduceRange(samples, start, end, d.opts.Location).Hourly); sum != nil {
			agg.Breakdown.Add(kind, conv.EnergyKWh(*sum))
		}
	}

	units, err := d.deps.Production.UnitsProduced(ctx, dev.ID, date, date)
	if err != nil {
		return nil, batch.Written, err
	}
	agg.UnitsProduced = units
	agg.EfficiencyKWhPerUnit = perUnit(agg.TotalEnergyKWh, units)

	agg.Status = database.DayComputed
	if !d.opts.Now().Before(end.Add(d.opts.FinalizeGrace)) {
		agg.Status = database.DayFinalized
	}

	if err := d.deps.Store.UpsertDailyAggregate(ctx, agg); err != nil {
		return nil, batch.Written, err
	}

	if d.deps.Publisher != nil {
		if err := d.deps.Publisher.PublishDaily(ctx, agg); err != nil {
			logger.Warn("failed to publish daily aggregate", zap.Error(err))
		}
	}

	logger.Debug("daily aggregate stored",
		zap.Float64("total_energy_kwh", agg.TotalEnergyKWh),
		zap.String("status", string(agg.Status)),
	)
	return agg, batch.Written, nil
}

// perUnit divides total by the units produced; it is nil without production or consumption.
func perUnit(total float64, units *int64) *float64 {
	if units == nil || *units <= 0 || total <= 0 {
		return nil
	}
	e := total / float64(*units)
	return &e
}

// CalculateNextRunTime calculates when the daily aggregation should next run.
// It runs at a specific time each day in the plant time zone (e.g., "01:00").
func (d *DailyAggregator) CalculateNextRunTime(timeOfDay string) (time.Time, error) {
	return nextDailyRun(d.opts.Now().In(d.opts.Location), timeOfDay)
}

func nextDailyRun(now time.Time, timeOfDay string) (time.Time, error) {
	hour, minute, err := parseTimeOfDay(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}

	todayRun := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.After(todayRun) {
		return todayRun.AddDate(0, 0, 1), nil
	}
	return todayRun, nil
}

func parseTimeOfDay(timeOfDay string) (int, int, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(timeOfDay, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid time format: %s (expected HH:MM)", timeOfDay)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time of day: %s", timeOfDay)
	}
	return hour, minute, nil
}
