package timeseries

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/energy-reporting/internal/delta"
	"github.com/smukkama/energy-reporting/internal/tier"
)

// ErrAllTiersFailed means no sub-query of a range read succeeded.
var ErrAllTiersFailed = errors.New("all tier queries failed")

// TierQueryError is a failed or timed-out read of one tier. The tier contributes no data.
type TierQueryError struct {
	Tier  string
	Start time.Time
	Stop  time.Time
	Err   error
}

func (e *TierQueryError) Error() string {
	return fmt.Sprintf("tier %s [%s, %s): %v", e.Tier,
		e.Start.Format(time.RFC3339), e.Stop.Format(time.RFC3339), e.Err)
}

func (e *TierQueryError) Unwrap() error {
	return e.Err
}

// Planner splits a range into tier sub-queries.
type Planner interface {
	BuildRangeQuery(devices, fields []string, start, end time.Time) ([]tier.SubQuery, error)
}

// Fetcher reads a time range across tiers and merges the results.
type Fetcher struct {
	planner Planner
	source  Source
	logger  *zap.Logger
}

func NewFetcher(planner Planner, source Source, logger *zap.Logger) *Fetcher {
	return &Fetcher{planner: planner, source: source, logger: logger.Named("fetcher")}
}

// FetchResult holds merged rows sorted by time, plus the tiers that failed.
type FetchResult struct {
	Rows    []Row
	Queries []tier.SubQuery
	Failed  []*TierQueryError
}

// Degraded reports whether any tier contributed no data because of an error.
func (r *FetchResult) Degraded() bool {
	return len(r.Failed) > 0
}

// Series groups rows by device and field, preserving time order.
func (r *FetchResult) Series() map[string]map[string][]delta.Sample {
	out := make(map[string]map[string][]delta.Sample)
	for _, row := range r.Rows {
		byField, ok := out[row.Device]
		if !ok {
			byField = make(map[string][]delta.Sample)
			out[row.Device] = byField
		}
		byField[row.Field] = append(byField[row.Field], delta.Sample{Time: row.Time, Value: row.Value})
	}
	return out
}

// Fetch reads fields for devices over [start, end). A failing tier is logged and skipped;
// the read fails only when every tier failed.
func (f *Fetcher) Fetch(ctx context.Context, devices, fields []string, start, end time.Time) (*FetchResult, error) {
	queries, err := f.planner.BuildRangeQuery(devices, fields, start, end)
	if err != nil {
		return nil, err
	}

	result := &FetchResult{Queries: queries}
	type ranked struct {
		Row
		rank int
	}
	var all []ranked
	var errs []error

	for _, q := range queries {
		rows, err := f.source.Query(ctx, q)
		if err != nil {
			tqe := &TierQueryError{Tier: q.Tier, Start: q.Start, Stop: q.Stop, Err: err}
			result.Failed = append(result.Failed, tqe)
			errs = append(errs, tqe)
			f.logger.Warn("tier query failed, treating as missing data",
				zap.String("tier", q.Tier),
				zap.Time("start", q.Start),
				zap.Time("stop", q.Stop),
				zap.Error(err),
			)
			continue
		}
		for _, row := range rows {
			all = append(all, ranked{Row: row, rank: q.Rank})
		}
	}

	if len(queries) > 0 && len(errs) == len(queries) {
		return nil, fmt.Errorf("%w: %w", ErrAllTiersFailed, errors.Join(errs...))
	}

	// on a duplicate (device, field, time) the finer tier wins
	type key struct {
		device, field string
		ts            int64
	}
	best := make(map[key]int, len(all))
	for i, r := range all {
		k := key{r.Device, r.Field, r.Time.UnixNano()}
		if j, ok := best[k]; !ok || r.rank < all[j].rank {
			best[k] = i
		}
	}

	result.Rows = make([]Row, 0, len(best))
	for i, r := range all {
		if best[key{r.Device, r.Field, r.Time.UnixNano()}] == i {
			result.Rows = append(result.Rows, r.Row)
		}
	}
	sort.SliceStable(result.Rows, func(i, j int) bool {
		return result.Rows[i].Time.Before(result.Rows[j].Time)
	})

	return result, nil
}
