package aggregation

import (
	"context"
	"time"
)

// RefreshToday recomputes today's still-open daily aggregates so dashboards see the hours
// already elapsed. Rows stay computed until the day has fully elapsed.
func (d *DailyAggregator) RefreshToday(ctx context.Context) (*DailyResult, error) {
	return d.Aggregate(ctx, d.opts.today(), "")
}

// CalculateNextHourlyRun calculates when the intra-day refresh should next run.
// It runs at delay past each hour (e.g., HH:05:00).
func (d *DailyAggregator) CalculateNextHourlyRun(delay time.Duration) time.Time {
	return nextHourlyRun(d.opts.Now(), delay)
}

func nextHourlyRun(now time.Time, delay time.Duration) time.Time {
	nextRun := now.Truncate(time.Hour).Add(time.Hour).Add(delay)

	// If we're past the next run time, add another hour
	if now.After(nextRun) {
		nextRun = nextRun.Add(time.Hour)
	}
	return nextRun
}
