// Package anomaly flags days whose consumption strays from the device's recent mean.
package anomaly

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/smukkama/energy-reporting/internal/batch"
	"github.com/smukkama/energy-reporting/internal/database"
)

const (
	defaultWindow    = 7
	defaultThreshold = 2.0
)

// Store reads daily aggregates and records anomalies.
type Store interface {
	QueryDailyAggregates(ctx context.Context, q database.DailyQuery) ([]*database.DailyAggregate, error)
	UpsertAnomaly(ctx context.Context, a *database.Anomaly) error
}

// Publisher announces flagged days.
type Publisher interface {
	PublishAnomaly(ctx context.Context, a *database.Anomaly) error
}

// Detector scores each device's last window days against their own mean
type Detector struct {
	store     Store
	publisher Publisher
	window    int
	threshold float64
	location  *time.Location
	workers   int
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithPublisher announces every flagged day on p.
func WithPublisher(p Publisher) Option {
	return func(d *Detector) { d.publisher = p }
}

// WithWindow sets the number of days scored together.
func WithWindow(days int) Option {
	return func(d *Detector) { d.window = days }
}

// WithThreshold sets the absolute z-score at which a day is flagged.
func WithThreshold(z float64) Option {
	return func(d *Detector) { d.threshold = z }
}

// WithLocation sets the plant time zone used to resolve yesterday.
func WithLocation(loc *time.Location) Option {
	return func(d *Detector) { d.location = loc }
}

// WithWorkers bounds Detect concurrency.
func WithWorkers(n int) Option {
	return func(d *Detector) { d.workers = n }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// NewDetector creates a new anomaly detector
func NewDetector(store Store, logger *zap.Logger, opts ...Option) *Detector {
	d := &Detector{
		store:     store,
		window:    defaultWindow,
		threshold: defaultThreshold,
		location:  time.UTC,
		workers:   1,
		now:       time.Now,
		logger:    logger.Named("anomaly"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Scored is one device's window
type Scored struct {
	DeviceID  string
	MeanKWh   float64
	StdDevKWh float64
	Flagged   []*database.Anomaly
}

// DetectResult is the outcome of one detection run
type DetectResult = batch.Result[Scored]

// DetectPreviousDay scores the window ending yesterday in the plant time zone
func (d *Detector) DetectPreviousDay(ctx context.Context) (*DetectResult, error) {
	return d.Detect(ctx, database.Date(d.now().In(d.location)).AddDate(0, 0, -1))
}

// Detect scores the window days ending on asOf for every device with regular daily
// aggregates. Devices with fewer days than the window, or with a flat window, are no data.
func (d *Detector) Detect(ctx context.Context, asOf time.Time) (*DetectResult, error) {
	asOf = database.Date(asOf)
	rows, err := d.store.QueryDailyAggregates(ctx, database.DailyQuery{
		From: asOf.AddDate(0, 0, -(d.window - 1)),
		To:   asOf,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query daily aggregates: %w", err)
	}

	byDevice := lo.GroupBy(rows, func(a *database.DailyAggregate) string { return a.DeviceID })
	devices := lo.Keys(byDevice)
	sort.Strings(devices)

	jobs := make([]batch.Job[Scored], len(devices))
	for i, deviceID := range devices {
		deviceID, days := deviceID, byDevice[deviceID]
		jobs[i] = batch.Job[Scored]{
			Key: deviceID,
			Run: func(ctx context.Context) (*Scored, batch.Outcome, error) {
				return d.score(ctx, deviceID, days)
			},
		}
	}
	res := batch.Run(ctx, d.workers, jobs)

	flagged := lo.SumBy(res.Items, func(s *Scored) int { return len(s.Flagged) })
	d.logger.Info("anomaly detection completed: "+res.Summary(),
		zap.String("as_of", asOf.Format(time.DateOnly)),
		zap.Int("devices", len(devices)),
		zap.Int("flagged", flagged),
	)
	for _, f := range res.Failures {
		d.logger.Warn("anomaly detection failed", zap.String("device_id", f.Key), zap.Error(f.Err))
	}
	return res, nil
}

func (d *Detector) score(ctx context.Context, deviceID string, days []*database.DailyAggregate) (*Scored, batch.Outcome, error) {
	if len(days) < d.window {
		return nil, batch.NoData, nil
	}
	values := lo.Map(days, func(a *database.DailyAggregate, _ int) float64 { return a.TotalEnergyKWh })
	mean, std, z := ZScores(values)
	if std == 0 {
		return nil, batch.NoData, nil
	}

	s := &Scored{DeviceID: deviceID, MeanKWh: mean, StdDevKWh: std}
	for i, day := range days {
		if math.Abs(z[i]) < d.threshold {
			continue
		}
		a := &database.Anomaly{
			DeviceID:       deviceID,
			Date:           day.Date,
			TotalEnergyKWh: day.TotalEnergyKWh,
			MeanKWh:        mean,
			StdDevKWh:      std,
			ZScore:         z[i],
			DetectedAt:     d.now().UTC(),
		}
		if err := d.store.UpsertAnomaly(ctx, a); err != nil {
			return nil, batch.Written, err
		}
		if d.publisher != nil {
			if err := d.publisher.PublishAnomaly(ctx, a); err != nil {
				d.logger.Warn("failed to publish anomaly", zap.String("device_id", deviceID), zap.Error(err))
			}
		}
		d.logger.Info("consumption anomaly",
			zap.String("device_id", deviceID),
			zap.String("date", day.Date.Format(time.DateOnly)),
			zap.Float64("zscore", a.ZScore),
		)
		s.Flagged = append(s.Flagged, a)
	}
	return s, batch.Written, nil
}

// ZScores returns the mean, population standard deviation and per-value z-scores of values.
// The z-scores are zero when the deviation is zero.
func ZScores(values []float64) (float64, float64, []float64) {
	z := make([]float64, len(values))
	if len(values) == 0 {
		return 0, 0, z
	}
	mean := lo.Sum(values) / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	std := math.Sqrt(sq / float64(len(values)))
	if std == 0 {
		return mean, 0, z
	}
	for i, v := range values {
		z[i] = (v - mean) / std
	}
	return mean, std, z
}
