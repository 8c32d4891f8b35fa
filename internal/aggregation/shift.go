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

// ShiftAggregator splits a device's day into its defined shifts and rolls overtime shifts
// into the overtime daily aggregate
type ShiftAggregator struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
}

// NewShiftAggregator creates a new shift aggregator. deps.Shifts must be set.
func NewShiftAggregator(deps Deps, opts Options, logger *zap.Logger) *ShiftAggregator {
	return &ShiftAggregator{deps: deps, opts: opts.withDefaults(), logger: logger.Named("shift")}
}

// ShiftDay is one device's shifts starting on a date
type ShiftDay struct {
	DeviceID string
	Date     time.Time
	Shifts   []*database.ShiftEnergy
	Overtime *database.DailyAggregate // nil when no overtime shift had data
}

// ShiftResult is the outcome of one shift batch
type ShiftResult = batch.Result[ShiftDay]

// shiftWindow is a shift placed on a date in the plant zone
type shiftWindow struct {
	shift      *database.Shift
	start, end time.Time
}

func (o Options) shiftWindow(s *database.Shift, date time.Time) (shiftWindow, error) {
	sh, sm, err := parseTimeOfDay(s.Start)
	if err != nil {
		return shiftWindow{}, fmt.Errorf("shift %s: %w", s.Name, err)
	}
	eh, em, err := parseTimeOfDay(s.End)
	if err != nil {
		return shiftWindow{}, fmt.Errorf("shift %s: %w", s.Name, err)
	}
	start := time.Date(date.Year(), date.Month(), date.Day(), sh, sm, 0, 0, o.Location)
	end := time.Date(date.Year(), date.Month(), date.Day(), eh, em, 0, 0, o.Location)
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return shiftWindow{shift: s, start: start, end: end}, nil
}

// Aggregate computes every shift starting on date for deviceID, or for every active device
// when deviceID is empty. Devices whose overtime day is finalized are left untouched.
func (s *ShiftAggregator) Aggregate(ctx context.Context, date time.Time, deviceID string) (*ShiftResult, error) {
	return s.aggregate(ctx, date, deviceID, false)
}

// Recompute is Aggregate that also rewrites finalized overtime days.
func (s *ShiftAggregator) Recompute(ctx context.Context, date time.Time, deviceID string) (*ShiftResult, error) {
	return s.aggregate(ctx, date, deviceID, true)
}

func (s *ShiftAggregator) aggregate(ctx context.Context, date time.Time, deviceID string, force bool) (*ShiftResult, error) {
	date = database.Date(date)
	res := &ShiftResult{}

	shifts, err := s.deps.Shifts.ListActiveShifts(ctx)
	if err != nil {
		return nil, err
	}
	var windows []shiftWindow
	for _, sh := range shifts {
		if !sh.RunsOn(date.Weekday()) {
			continue
		}
		w, err := s.opts.shiftWindow(sh, date)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	if len(windows) == 0 {
		s.logger.Debug("no shifts run on date", zap.String("date", date.Format(time.DateOnly)))
		return res, nil
	}

	devices, err := resolveDevices(ctx, s.deps.Registry, deviceID, res)
	if err != nil {
		return nil, err
	}

	jobs := make([]batch.Job[ShiftDay], len(devices))
	for i, dev := range devices {
		dev := dev
		jobs[i] = batch.Job[ShiftDay]{
			Key: dev.ID,
			Run: func(ctx context.Context) (*ShiftDay, batch.Outcome, error) {
				return s.aggregateDevice(ctx, dev, date, windows, force)
			},
		}
	}
	res.Merge(batch.Run(ctx, s.opts.Workers, jobs))

	logBatch(s.logger, "shift aggregation completed", res,
		zap.String("date", date.Format(time.DateOnly)),
		zap.Int("shifts", len(windows)),
	)
	return res, nil
}

// AggregatePreviousDay aggregates the shifts that started yesterday in the plant time zone
func (s *ShiftAggregator) AggregatePreviousDay(ctx context.Context) (*ShiftResult, error) {
	return s.Aggregate(ctx, s.opts.today().AddDate(0, 0, -1), "")
}

// Backfill recomputes the shifts of the daysBack days before today, oldest first
func (s *ShiftAggregator) Backfill(ctx context.Context, daysBack int, deviceID string) (*ShiftResult, error) {
	if daysBack <= 0 {
		return nil, fmt.Errorf("days back must be positive, got %d", daysBack)
	}

	today := s.opts.today()
	total := &ShiftResult{}
	for i := daysBack; i >= 1; i-- {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := s.Recompute(ctx, today.AddDate(0, 0, -i), deviceID)
		if err != nil {
			return total, err
		}
		total.Merge(res)
	}
	s.logger.Info("shift backfill completed: "+total.Summary(), zap.Int("days_back", daysBack))
	return total, nil
}

func (s *ShiftAggregator) aggregateDevice(ctx context.Context, dev *database.Device, date time.Time, windows []shiftWindow, force bool) (*ShiftDay, batch.Outcome, error) {
	logger := s.logger.With(zap.String("device_id", dev.ID), zap.String("date", date.Format(time.DateOnly)))

	if !force {
		existing, err := s.deps.Store.GetDailyAggregate(ctx, dev.ID, date, true)
		if err != nil {
			return nil, batch.Written, err
		}
		if existing != nil && existing.Status == database.DayFinalized {
			logger.Debug("overtime day already finalized, skipping")
			return nil, batch.Skipped, nil
		}
	}

	conv, err := s.deps.Converters.For(dev.Kind)
	if err != nil {
		return nil, batch.Written, err
	}

	from, to := windows[0].start, windows[0].end
	for _, w := range windows[1:] {
		if w.start.Before(from) {
			from = w.start
		}
		if w.end.After(to) {
			to = w.end
		}
	}
	fetched, err := s.deps.Fetcher.Fetch(ctx, []string{dev.ID}, nil, from.Add(-s.opts.Lookback), to)
	if err != nil {
		return nil, batch.Written, fmt.Errorf("failed to fetch series: %w", err)
	}
	if fetched.Degraded() {
		logger.Warn("aggregating shifts with missing tiers", zap.Int("failed_tiers", len(fetched.Failed)))
	}

	series := fetched.Series()[dev.ID]
	counterField, rateField := s.opts.fields(dev)
	day := &ShiftDay{DeviceID: dev.ID, Date: date}
	overtime := &database.DailyAggregate{
		DeviceID:   dev.ID,
		Date:       date,
		IsOvertime: true,
		Kind:       dev.Kind,
		Breakdown:  component.Breakdown{},
	}
	var overtimeHours float64
	var overtimeEnd time.Time

	for _, w := range windows {
		counter := delta.ReduceRange(series[counterField], w.start, w.end, s.opts.Location)
		native := delta.Sum(counter.Hourly)
		if native == nil {
			logger.Debug("no counter data for shift", zap.String("shift", w.shift.Name))
			continue
		}

		e := &database.ShiftEnergy{
			ShiftID:        w.shift.ID,
			ShiftName:      w.shift.Name,
			DeviceID:       dev.ID,
			Date:           date,
			Kind:           dev.Kind,
			NativeTotal:    *native,
			TotalEnergyKWh: conv.EnergyKWh(*native),
			TotalCost:      conv.Cost(*native),
			CalculatedAt:   s.opts.Now().UTC(),
		}
		hours := w.end.Sub(w.start).Hours()
		e.AvgPowerKW = e.TotalEnergyKWh / hours
		if peak, ok := delta.Peak(delta.Between(series[rateField], w.start, w.end)); ok {
			if e.PeakPowerKW, err = s.deps.Converters.RateToKW(dev.Kind, peak); err != nil {
				return nil, batch.Written, err
			}
		}

		units, err := s.deps.Shifts.ShiftUnitsProduced(ctx, dev.ID, date, w.shift.Name)
		if err != nil {
			return nil, batch.Written, err
		}
		e.UnitsProduced = units
		e.EnergyPerUnit = perUnit(e.TotalEnergyKWh, units)
		e.CostPerUnit = perUnit(e.TotalCost, units)

		if err := s.deps.Shifts.UpsertShiftEnergy(ctx, e); err != nil {
			return nil, batch.Written, err
		}
		if s.deps.Publisher != nil {
			if err := s.deps.Publisher.PublishShift(ctx, e); err != nil {
				logger.Warn("failed to publish shift energy", zap.String("shift", w.shift.Name), zap.Error(err))
			}
		}
		day.Shifts = append(day.Shifts, e)

		if !w.shift.IsOvertime {
			continue
		}
		overtime.NativeTotal += e.NativeTotal
		overtime.TotalEnergyKWh += e.TotalEnergyKWh
		overtime.TotalCost += e.TotalCost
		overtime.PeakPowerKW = max(overtime.PeakPowerKW, e.PeakPowerKW)
		overtime.HoursWithData += delta.Present(counter.Hourly)
		if units != nil {
			overtime.UnitsProduced = addUnits(overtime.UnitsProduced, *units)
		}
		overtimeHours += hours
		if w.end.After(overtimeEnd) {
			overtimeEnd = w.end
		}
	}

	if len(day.Shifts) == 0 {
		logger.Debug("no counter data for any shift")
		return nil, batch.NoData, nil
	}

	if overtimeHours > 0 {
		overtime.AvgPowerKW = overtime.TotalEnergyKWh / overtimeHours
		overtime.EfficiencyKWhPerUnit = perUnit(overtime.TotalEnergyKWh, overtime.UnitsProduced)
		overtime.CalculatedAt = s.opts.Now().UTC()
		overtime.Status = database.DayComputed
		if !s.opts.Now().Before(overtimeEnd.Add(s.opts.FinalizeGrace)) {
			overtime.Status = database.DayFinalized
		}
		if err := s.deps.Store.UpsertDailyAggregate(ctx, overtime); err != nil {
			return nil, batch.Written, err
		}
		if s.deps.Publisher != nil {
			if err := s.deps.Publisher.PublishDaily(ctx, overtime); err != nil {
				logger.Warn("failed to publish overtime aggregate", zap.Error(err))
			}
		}
		day.Overtime = overtime
	}

	logger.Debug("shifts stored", zap.Int("shifts", len(day.Shifts)), zap.Bool("overtime", day.Overtime != nil))
	return day, batch.Written, nil
}
