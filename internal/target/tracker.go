// Package target tracks progress toward period goals and judges whether each goal is on track.
package target

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

var ErrTargetNotFound = errors.New("target not found")

const (
	trendDays        = 7
	trendTolerance   = 1.1
	minVolumeTrend   = 3
	minEfficiencyPts = 2
)

// Store reads daily aggregates and persists targets.
type Store interface {
	QueryDailyAggregates(ctx context.Context, q database.DailyQuery) ([]*database.DailyAggregate, error)
	GetTarget(ctx context.Context, id string) (*database.Target, error)
	ListTargetsActiveOn(ctx context.Context, day time.Time) ([]*database.Target, error)
	UpdateTargetProgress(ctx context.Context, id string, current float64, onTrack bool, updatedAt time.Time) error
	CreateTarget(ctx context.Context, t *database.Target) (*database.Target, bool, error)
	ListActiveBenchmarks(ctx context.Context, typ database.BenchmarkType) ([]*database.Benchmark, error)
}

// Publisher announces updated targets.
type Publisher interface {
	PublishTarget(ctx context.Context, t *database.Target) error
}

// Tracker updates target progress
type Tracker struct {
	store     Store
	publisher Publisher
	location  *time.Location
	workers   int
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithPublisher announces every updated target on p.
func WithPublisher(p Publisher) Option {
	return func(t *Tracker) { t.publisher = p }
}

// WithLocation sets the plant time zone used to resolve today.
func WithLocation(loc *time.Location) Option {
	return func(t *Tracker) { t.location = loc }
}

// WithWorkers bounds UpdateProgress concurrency.
func WithWorkers(n int) Option {
	return func(t *Tracker) { t.workers = n }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a new target tracker
func NewTracker(store Store, logger *zap.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		store:    store,
		location: time.UTC,
		workers:  1,
		now:      time.Now,
		logger:   logger.Named("target"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (tr *Tracker) today() time.Time {
	return database.Date(tr.now().In(tr.location))
}

// TargetResult is the outcome of one progress update
type TargetResult = batch.Result[database.Target]

// UpdateProgress recomputes current value and on-track status of targetID, or of every
// target whose period contains today when targetID is empty.
func (tr *Tracker) UpdateProgress(ctx context.Context, targetID string) (*TargetResult, error) {
	today := tr.today()
	res := &TargetResult{}

	var targets []*database.Target
	if targetID == "" {
		var err error
		if targets, err = tr.store.ListTargetsActiveOn(ctx, today); err != nil {
			return nil, err
		}
	} else {
		t, err := tr.store.GetTarget(ctx, targetID)
		if err != nil {
			return nil, err
		}
		if t == nil {
			res.Fail(targetID, fmt.Errorf("%w: %s", ErrTargetNotFound, targetID))
			return res, nil
		}
		targets = []*database.Target{t}
	}

	jobs := make([]batch.Job[database.Target], len(targets))
	for i, t := range targets {
		t := t
		jobs[i] = batch.Job[database.Target]{
			Key: t.ID,
			Run: func(ctx context.Context) (*database.Target, batch.Outcome, error) {
				if today.Before(database.Date(t.PeriodStart)) {
					tr.logger.Debug("target period not started", zap.String("target_id", t.ID))
					return nil, batch.Skipped, nil
				}
				if err := tr.update(ctx, t, today); err != nil {
					return nil, batch.Written, err
				}
				return t, batch.Written, nil
			},
		}
	}
	res.Merge(batch.Run(ctx, tr.workers, jobs))

	tr.logger.Info("target progress updated: "+res.Summary(), zap.Int("targets", len(targets)))
	for _, f := range res.Failures {
		tr.logger.Warn("target update failed", zap.String("target_id", f.Key), zap.Error(f.Err))
	}
	return res, nil
}

func (tr *Tracker) update(ctx context.Context, t *database.Target, today time.Time) error {
	to := today
	if t.PeriodEnd.Before(to) {
		to = t.PeriodEnd
	}

	days, err := tr.store.QueryDailyAggregates(ctx, database.DailyQuery{
		DeviceID: t.DeviceID,
		From:     t.PeriodStart,
		To:       to,
	})
	if err != nil {
		return err
	}

	current := CurrentValue(t.MetricName, days)
	onTrack, err := tr.onTrack(ctx, t, current, today)
	if err != nil {
		return err
	}

	updatedAt := tr.now().UTC()
	if err := tr.store.UpdateTargetProgress(ctx, t.ID, current, onTrack, updatedAt); err != nil {
		return err
	}
	t.CurrentValue, t.IsOnTrack, t.UpdatedAt = current, onTrack, updatedAt

	if tr.publisher != nil {
		if err := tr.publisher.PublishTarget(ctx, t); err != nil {
			tr.logger.Warn("failed to publish target", zap.String("target_id", t.ID), zap.Error(err))
		}
	}

	tr.logger.Debug("target updated",
		zap.String("target_id", t.ID),
		zap.Float64("current", current),
		zap.Bool("on_track", onTrack),
	)
	return nil
}

// CurrentValue reduces the period's daily aggregates to the metric's current value: the mean
// daily efficiency for kwh_per_ metrics, otherwise the sum of the selected daily column.
func CurrentValue(metric string, days []*database.DailyAggregate) float64 {
	if database.IsEfficiencyMetric(metric) {
		values := efficiencies(days)
		if len(values) == 0 {
			return 0
		}
		return lo.Sum(values) / float64(len(values))
	}
	return lo.SumBy(days, volume(metric))
}

func efficiencies(days []*database.DailyAggregate) []float64 {
	return lo.FilterMap(days, func(d *database.DailyAggregate, _ int) (float64, bool) {
		if d.EfficiencyKWhPerUnit == nil {
			return 0, false
		}
		return *d.EfficiencyKWhPerUnit, true
	})
}

// volume selects the daily column summed for a volume metric.
func volume(metric string) func(*database.DailyAggregate) float64 {
	switch metric {
	case "total_cost":
		return func(d *database.DailyAggregate) float64 { return d.TotalCost }
	case "units_produced":
		return func(d *database.DailyAggregate) float64 {
			if d.UnitsProduced == nil {
				return 0
			}
			return float64(*d.UnitsProduced)
		}
	default:
		return func(d *database.DailyAggregate) float64 { return d.TotalEnergyKWh }
	}
}

// Progress is the elapsed position of today within a target period.
type Progress struct {
	PeriodDays    int
	DaysElapsed   int
	DaysRemaining int
}

// PeriodProgress counts period days inclusively; days after the period end are not elapsed
// and nothing has elapsed before the period starts.
func PeriodProgress(t *database.Target, today time.Time) Progress {
	end := t.PeriodEnd
	if today.Before(end) {
		end = today
	}
	p := Progress{
		PeriodDays:  daysBetween(t.PeriodStart, t.PeriodEnd) + 1,
		DaysElapsed: max(daysBetween(t.PeriodStart, end)+1, 0),
	}
	p.DaysRemaining = p.PeriodDays - p.DaysElapsed
	return p
}

func daysBetween(a, b time.Time) int {
	return int(database.Date(b).Sub(database.Date(a)).Hours() / 24)
}

func (tr *Tracker) onTrack(ctx context.Context, t *database.Target, current float64, today time.Time) (bool, error) {
	efficiency := database.IsEfficiencyMetric(t.MetricName)
	progress := PeriodProgress(t, today)

	if progress.DaysRemaining <= 0 {
		if efficiency {
			return current <= t.TargetValue, nil
		}
		return current >= t.TargetValue, nil
	}

	if efficiency && current <= t.TargetValue {
		return true, nil
	}
	if !efficiency && current >= t.TargetValue*float64(progress.DaysElapsed)/float64(progress.PeriodDays) {
		return true, nil
	}

	recent, err := tr.store.QueryDailyAggregates(ctx, database.DailyQuery{
		DeviceID: t.DeviceID,
		From:     today.AddDate(0, 0, -trendDays),
		To:       today,
	})
	if err != nil {
		return false, err
	}

	if efficiency {
		return EfficiencyImproving(trend(recent, meanEfficiency)) && current <= t.TargetValue*trendTolerance, nil
	}
	return VolumeCatchesUp(trend(recent, sumColumn(volume(t.MetricName))), current, t.TargetValue, progress.DaysRemaining), nil
}

// EfficiencyImproving reports whether the latest value is below the earliest one.
func EfficiencyImproving(values []float64) bool {
	if len(values) < minEfficiencyPts {
		return false
	}
	return values[len(values)-1] < values[0]
}

// VolumeCatchesUp reports whether an accelerating daily rate, continued over the remaining
// days, reaches the target.
func VolumeCatchesUp(daily []float64, current, target float64, remaining int) bool {
	if len(daily) < minVolumeTrend {
		return false
	}
	recent := lo.Sum(daily[len(daily)-3:]) / 3
	earlier := daily[0]
	if len(daily) >= 6 {
		earlier = lo.Sum(daily[:3]) / 3
	}
	if recent <= earlier*trendTolerance {
		return false
	}
	return current+recent*float64(remaining) >= target
}

// trend reduces rows to one value per date in date order.
func trend(days []*database.DailyAggregate, reduce func([]*database.DailyAggregate) (float64, bool)) []float64 {
	grouped := lo.GroupBy(days, func(d *database.DailyAggregate) time.Time { return d.Date })
	dates := lo.Keys(grouped)
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	var out []float64
	for _, date := range dates {
		if v, ok := reduce(grouped[date]); ok {
			out = append(out, v)
		}
	}
	return out
}

func meanEfficiency(rows []*database.DailyAggregate) (float64, bool) {
	values := efficiencies(rows)
	if len(values) == 0 {
		return 0, false
	}
	return lo.Sum(values) / float64(len(values)), true
}

func sumColumn(col func(*database.DailyAggregate) float64) func([]*database.DailyAggregate) (float64, bool) {
	return func(rows []*database.DailyAggregate) (float64, bool) {
		return lo.SumBy(rows, col), true
	}
}

// CreateFromBenchmark returns the target for the benchmark's device and metric over the period
// containing periodStart, creating it with the benchmark value when it does not exist yet. A
// zero periodStart selects the period containing today.
func (tr *Tracker) CreateFromBenchmark(ctx context.Context, b *database.Benchmark, period database.TargetPeriod, periodStart time.Time) (*database.Target, bool, error) {
	if periodStart.IsZero() {
		periodStart = tr.today()
	}
	start, end, err := PeriodBounds(period, periodStart)
	if err != nil {
		return nil, false, err
	}

	benchmarkID := b.ID
	t, created, err := tr.store.CreateTarget(ctx, &database.Target{
		DeviceID:    b.DeviceID,
		MetricName:  b.MetricName,
		Period:      period,
		PeriodStart: start,
		PeriodEnd:   end,
		TargetValue: b.Value,
		BenchmarkID: &benchmarkID,
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		tr.logger.Info("target created from benchmark",
			zap.String("target_id", t.ID),
			zap.String("benchmark_id", b.ID),
			zap.String("period", string(period)),
			zap.Float64("target_value", t.TargetValue),
		)
	}
	return t, created, nil
}

// SeedFromBenchmarks creates a target for the current period from every active benchmark of
// typ. Targets that already exist are skipped.
func (tr *Tracker) SeedFromBenchmarks(ctx context.Context, typ database.BenchmarkType, period database.TargetPeriod) (*TargetResult, error) {
	benchmarks, err := tr.store.ListActiveBenchmarks(ctx, typ)
	if err != nil {
		return nil, err
	}

	jobs := make([]batch.Job[database.Target], len(benchmarks))
	for i, b := range benchmarks {
		b := b
		jobs[i] = batch.Job[database.Target]{
			Key: b.ID,
			Run: func(ctx context.Context) (*database.Target, batch.Outcome, error) {
				t, created, err := tr.CreateFromBenchmark(ctx, b, period, time.Time{})
				if err != nil || !created {
					return nil, batch.Skipped, err
				}
				return t, batch.Written, nil
			},
		}
	}
	res := batch.Run(ctx, tr.workers, jobs)

	tr.logger.Info("targets seeded: "+res.Summary(),
		zap.String("benchmark_type", string(typ)),
		zap.String("period", string(period)),
		zap.Int("created", len(res.Items)),
	)
	for _, f := range res.Failures {
		tr.logger.Warn("target seeding failed", zap.String("benchmark_id", f.Key), zap.Error(f.Err))
	}
	return res, nil
}

// PeriodBounds returns the inclusive calendar bounds of the period containing day. Weeks run
// Monday to Sunday.
func PeriodBounds(period database.TargetPeriod, day time.Time) (time.Time, time.Time, error) {
	day = database.Date(day)
	var start time.Time
	switch period {
	case database.PeriodWeekly:
		offset := (int(day.Weekday()) + 6) % 7
		start = day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 6), nil
	case database.PeriodMonthly:
		start = database.MonthStart(day)
		return start, start.AddDate(0, 1, -1), nil
	case database.PeriodQuarterly:
		start = time.Date(day.Year(), day.Month()-(day.Month()-1)%3, 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 3, -1), nil
	case database.PeriodYearly:
		start = time.Date(day.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(1, 0, -1), nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("unknown target period %q", period)
}
