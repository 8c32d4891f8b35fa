package tier

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/smukkama/energy-reporting/pkg/config"
)

// AggregateFn is the function used to downsample the raw tier.
type AggregateFn string

const (
	FnMean AggregateFn = "mean"
	FnLast AggregateFn = "last"
)

// SubQuery is a range read against exactly one tier series.
type SubQuery struct {
	Tier      string
	Rank      int // position in the tier table, 0 is the freshest tier
	Series    string
	DeviceTag string
	Devices   []string
	Fields    []string
	Start     time.Time
	Stop      time.Time
	Window    time.Duration // zero means no downsampling
	Fn        AggregateFn
	Fallback  bool
}

// Builder plans tier-aware range reads.
type Builder struct {
	Tiers       []Tier
	Measurement string
	DeviceTag   string
	RawWindow   time.Duration
	RawFn       AggregateFn
	Now         func() time.Time
}

// NewBuilder creates a builder from the time-series and tier configuration.
func NewBuilder(influx config.InfluxConfig, tiers config.TierConfig) *Builder {
	return &Builder{
		Tiers:       Tiers(tiers),
		Measurement: influx.Measurement,
		DeviceTag:   influx.DeviceTag,
		RawWindow:   influx.RawWindow,
		RawFn:       AggregateFn(influx.RawFn),
		Now:         time.Now,
	}
}

// BuildRangeQuery splits [start, end) into one sub-query per intersecting tier, each clipped
// to the tier's window, ordered by start time. Adjacent sub-queries share their boundary.
// When no tier intersects the range a single raw read over the whole range is returned.
func (b *Builder) BuildRangeQuery(devices, fields []string, start, end time.Time) ([]SubQuery, error) {
	if !start.Before(end) {
		return nil, &InvalidRangeError{Start: start, End: end}
	}

	now := b.Now()
	var out []SubQuery
	for rank, t := range b.Tiers {
		from, to := t.Window(now)

		lo := start
		if !t.Unbounded() && from.After(lo) {
			lo = from
		}
		hi := end
		if to.Before(hi) {
			hi = to
		}
		if !lo.Before(hi) {
			continue
		}

		q := b.subQuery(t, rank, devices, fields, lo, hi)
		if rank == 0 {
			q.Window = b.RawWindow
			q.Fn = b.RawFn
		}
		out = append(out, q)
	}

	if len(out) == 0 {
		raw := b.Tiers[0]
		q := b.subQuery(raw, 0, devices, fields, start, end)
		q.Fallback = true
		return []SubQuery{q}, nil
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (b *Builder) subQuery(t Tier, rank int, devices, fields []string, start, stop time.Time) SubQuery {
	return SubQuery{
		Tier:      t.Name,
		Rank:      rank,
		Series:    b.Measurement + t.Suffix,
		DeviceTag: b.DeviceTag,
		Devices:   devices,
		Fields:    fields,
		Start:     start.UTC(),
		Stop:      stop.UTC(),
	}
}

// Flux renders the sub-query as a Flux program against bucket.
func (q SubQuery) Flux(bucket string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "from(bucket: %s)\n", strconv.Quote(bucket))
	fmt.Fprintf(&sb, "  |> range(start: %s, stop: %s)\n",
		q.Start.Format(time.RFC3339Nano), q.Stop.Format(time.RFC3339Nano))
	fmt.Fprintf(&sb, "  |> filter(fn: (r) => r[\"_measurement\"] == %s)\n", strconv.Quote(q.Series))
	if len(q.Devices) > 0 {
		fmt.Fprintf(&sb, "  |> filter(fn: (r) => %s)\n", orPredicate(q.DeviceTag, q.Devices))
	}
	if len(q.Fields) > 0 {
		fmt.Fprintf(&sb, "  |> filter(fn: (r) => %s)\n", orPredicate("_field", q.Fields))
	}
	if q.Window > 0 {
		fn := q.Fn
		if fn == "" {
			fn = FnLast
		}
		fmt.Fprintf(&sb, "  |> aggregateWindow(every: %s, fn: %s, timeSrc: \"_start\", createEmpty: false)\n", fluxDuration(q.Window), fn)
	}
	fmt.Fprintf(&sb, "  |> keep(columns: [\"_time\", \"_value\", \"_field\", %s])\n", strconv.Quote(q.DeviceTag))

	return sb.String()
}

func orPredicate(column string, values []string) string {
	preds := make([]string, len(values))
	for i, v := range values {
		preds[i] = fmt.Sprintf("r[%s] == %s", strconv.Quote(column), strconv.Quote(v))
	}
	return strings.Join(preds, " or ")
}

func fluxDuration(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	case d%time.Second == 0:
		return fmt.Sprintf("%ds", d/time.Second)
	default:
		return fmt.Sprintf("%dms", d/time.Millisecond)
	}
}
