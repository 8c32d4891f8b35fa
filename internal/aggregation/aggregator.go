package aggregation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/energy-reporting/internal/batch"
	"github.com/smukkama/energy-reporting/internal/component"
	"github.com/smukkama/energy-reporting/internal/database"
	"github.com/smukkama/energy-reporting/internal/energy"
	"github.com/smukkama/energy-reporting/internal/timeseries"
	"github.com/smukkama/energy-reporting/pkg/config"
)

// Registry resolves devices.
type Registry interface {
	GetDevice(ctx context.Context, id string) (*database.Device, error)
	ListActiveDevices(ctx context.Context) ([]*database.Device, error)
}

// Production reports units produced over an inclusive date range.
type Production interface {
	UnitsProduced(ctx context.Context, deviceID string, from, to time.Time) (*int64, error)
}

// Store persists aggregates.
type Store interface {
	GetDailyAggregate(ctx context.Context, deviceID string, date time.Time, overtime bool) (*database.DailyAggregate, error)
	UpsertDailyAggregate(ctx context.Context, a *database.DailyAggregate) error
	QueryDailyAggregates(ctx context.Context, q database.DailyQuery) ([]*database.DailyAggregate, error)
	UpsertMonthlyAggregate(ctx context.Context, m *database.MonthlyAggregate) error
}

// ShiftStore reads shift definitions and persists per-shift consumption.
type ShiftStore interface {
	ListActiveShifts(ctx context.Context) ([]*database.Shift, error)
	UpsertShiftEnergy(ctx context.Context, e *database.ShiftEnergy) error
	ShiftUnitsProduced(ctx context.Context, deviceID string, date time.Time, shift string) (*int64, error)
}

// SeriesFetcher reads tiered time-series data.
type SeriesFetcher interface {
	Fetch(ctx context.Context, devices, fields []string, start, end time.Time) (*timeseries.FetchResult, error)
}

// Publisher announces stored aggregates.
type Publisher interface {
	PublishDaily(ctx context.Context, a *database.DailyAggregate) error
	PublishMonthly(ctx context.Context, m *database.MonthlyAggregate) error
	PublishShift(ctx context.Context, e *database.ShiftEnergy) error
}

// Deps are the collaborators shared by the aggregators. Publisher may be nil, and Shifts is
// only used by the shift aggregator.
type Deps struct {
	Store      Store
	Registry   Registry
	Production Production
	Shifts     ShiftStore
	Fetcher    SeriesFetcher
	Converters energy.Table
	Taxonomy   *component.Taxonomy
	Publisher  Publisher
}

// defaultLookback covers one interval of the coarsest tier.
const defaultLookback = 2 * time.Hour

// Options tune aggregation.
type Options struct {
	Location      *time.Location
	FinalizeGrace time.Duration
	// Lookback reaches before a range for the last counter reading preceding it
	Lookback time.Duration
	Workers  int
	Fields   config.FieldConfig
	Now      func() time.Time
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	loc, err := cfg.Aggregation.Location()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Location:      loc,
		FinalizeGrace: cfg.Aggregation.FinalizeGrace,
		Lookback:      cfg.Aggregation.CounterLookback,
		Workers:       cfg.Aggregation.Workers,
		Fields:        cfg.Fields,
		Now:           time.Now,
	}, nil
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.Lookback <= 0 {
		o.Lookback = defaultLookback
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// today is the current civil date in the plant zone.
func (o Options) today() time.Time {
	return database.Date(o.Now().In(o.Location))
}

// dayBounds returns [start, end) of a civil date in the plant zone.
func (o Options) dayBounds(date time.Time) (time.Time, time.Time) {
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, o.Location)
	return start, start.AddDate(0, 0, 1)
}

// fields returns the counter and rate field names for d.
func (o Options) fields(d *database.Device) (counter, rate string) {
	switch d.Kind {
	case energy.Volumetric:
		counter, rate = o.Fields.VolumetricCounter, o.Fields.VolumetricRate
	default:
		counter, rate = o.Fields.ElectricalCounter, o.Fields.ElectricalRate
	}
	if d.CounterField != "" {
		counter = d.CounterField
	}
	if d.RateField != "" {
		rate = d.RateField
	}
	return counter, rate
}

// DeviceNotFoundError is an explicitly requested device missing from the registry.
type DeviceNotFoundError struct {
	DeviceID string
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("device %q not found", e.DeviceID)
}

func (e *DeviceNotFoundError) Unwrap() error {
	return database.ErrDeviceNotFound
}

// resolveDevices returns the single requested device, or every active device when deviceID
// is empty. An unknown device is recorded on res and yields no devices.
func resolveDevices[T any](ctx context.Context, reg Registry, deviceID string, res *batch.Result[T]) ([]*database.Device, error) {
	if deviceID == "" {
		devices, err := reg.ListActiveDevices(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list devices: %w", err)
		}
		return devices, nil
	}

	d, err := reg.GetDevice(ctx, deviceID)
	if errors.Is(err, database.ErrDeviceNotFound) {
		res.Fail(deviceID, &DeviceNotFoundError{DeviceID: deviceID})
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve device %s: %w", deviceID, err)
	}
	return []*database.Device{d}, nil
}

func logBatch[T any](logger *zap.Logger, msg string, res *batch.Result[T], fields ...zap.Field) {
	fields = append(fields,
		zap.Int("processed", res.Processed()),
		zap.Int("failed", res.Failed()),
		zap.Int("no_data", len(res.NoData)),
	)
	logger.Info(msg+": "+res.Summary(), fields...)
	for _, f := range res.Failures {
		logger.Warn("unit of work failed", zap.String("device_id", f.Key), zap.Error(f.Err))
	}
}
