// Package delta turns monotonically increasing meter counters into per-interval consumption.
//
// A negative step between two readings (counter reset, rollover, meter re-zero) is treated as
// missing data, never as negative consumption. Buckets with no usable delta are nil, which keeps
// "no data" distinct from "zero consumption".
package delta

import (
	"math"
	"sort"
	"time"
)

// Sample is one counter or signal reading.
type Sample struct {
	Time  time.Time
	Value float64
}

// Point is the consumption between a sample and its predecessor, stamped at the later sample.
// Value is nil when the step could not be trusted.
type Point struct {
	Time  time.Time
	Value *float64
}

// Bucket is the summed consumption over [Start, Start+period). Value is nil when no delta in
// the bucket was usable.
type Bucket struct {
	Start time.Time
	Value *float64
}

// Series is the full reduction of one device counter.
type Series struct {
	Deltas []Point
	Hourly []Bucket
	Daily  []Bucket
}

// Deltas computes consecutive differences. The first sample has no predecessor and yields
// nothing; negative or non-finite steps yield a nil value.
func Deltas(samples []Sample) []Point {
	if len(samples) < 2 {
		return nil
	}
	samples = sorted(samples)

	out := make([]Point, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		d := samples[i].Value - samples[i-1].Value
		p := Point{Time: samples[i].Time}
		if d >= 0 && !math.IsInf(d, 0) && !math.IsNaN(d) {
			p.Value = &d
		}
		out = append(out, p)
	}
	return out
}

// Hourly sums deltas into contiguous one-hour buckets spanning the first to the last delta.
// Hours are cut on the wall clock of loc.
func Hourly(points []Point, loc *time.Location) []Bucket {
	if len(points) == 0 {
		return nil
	}
	first := truncateHour(points[0].Time, loc)
	last := truncateHour(points[len(points)-1].Time, loc)

	var buckets []Bucket
	idx := make(map[int64]int)
	for cur := first; !cur.After(last); cur = cur.Add(time.Hour) {
		idx[cur.Unix()] = len(buckets)
		buckets = append(buckets, Bucket{Start: cur})
	}

	for _, p := range points {
		if p.Value == nil {
			continue
		}
		i, ok := idx[truncateHour(p.Time, loc).Unix()]
		if !ok {
			continue
		}
		buckets[i].Value = add(buckets[i].Value, *p.Value)
	}
	return buckets
}

// Daily rolls hourly buckets into calendar days of loc. Hourly buckets must be in time order.
func Daily(hourly []Bucket, loc *time.Location) []Bucket {
	if len(hourly) == 0 {
		return nil
	}
	var days []Bucket
	for _, h := range hourly {
		day := truncateDay(h.Start, loc)
		if len(days) == 0 || !days[len(days)-1].Start.Equal(day) {
			// fill whole missing days so the day series stays contiguous
			if len(days) > 0 {
				for next := days[len(days)-1].Start.AddDate(0, 0, 1); next.Before(day); next = next.AddDate(0, 0, 1) {
					days = append(days, Bucket{Start: next})
				}
			}
			days = append(days, Bucket{Start: day})
		}
		if h.Value != nil {
			last := &days[len(days)-1]
			last.Value = add(last.Value, *h.Value)
		}
	}
	return days
}

// Reduce runs the full counter reduction for one device.
func Reduce(samples []Sample, loc *time.Location) Series {
	d := Deltas(samples)
	h := Hourly(d, loc)
	return Series{Deltas: d, Hourly: h, Daily: Daily(h, loc)}
}

// ReduceRange reduces samples that may start before start, so the step from the last reading
// before the range into it is counted. Only consumption stamped in [start, end) is kept.
func ReduceRange(samples []Sample, start, end time.Time, loc *time.Location) Series {
	d := Window(Deltas(samples), start, end)
	h := Hourly(d, loc)
	return Series{Deltas: d, Hourly: h, Daily: Daily(h, loc)}
}

// Window keeps the points stamped in [start, end).
func Window(points []Point, start, end time.Time) []Point {
	var out []Point
	for _, p := range points {
		if !p.Time.Before(start) && p.Time.Before(end) {
			out = append(out, p)
		}
	}
	return out
}

// Between keeps the samples taken in [start, end).
func Between(samples []Sample, start, end time.Time) []Sample {
	var out []Sample
	for _, s := range samples {
		if !s.Time.Before(start) && s.Time.Before(end) {
			out = append(out, s)
		}
	}
	return out
}

// ReduceDevices reduces every device independently.
func ReduceDevices(byDevice map[string][]Sample, loc *time.Location) map[string]Series {
	out := make(map[string]Series, len(byDevice))
	for device, samples := range byDevice {
		out[device] = Reduce(samples, loc)
	}
	return out
}

// Sum adds every non-nil bucket. It returns nil when all buckets are nil.
func Sum(buckets []Bucket) *float64 {
	var total *float64
	for _, b := range buckets {
		if b.Value != nil {
			total = add(total, *b.Value)
		}
	}
	return total
}

// Present counts buckets holding data.
func Present(buckets []Bucket) int {
	n := 0
	for _, b := range buckets {
		if b.Value != nil {
			n++
		}
	}
	return n
}

// Peak returns the largest sample value.
func Peak(samples []Sample) (float64, bool) {
	if len(samples) == 0 {
		return 0, false
	}
	peak := samples[0].Value
	for _, s := range samples[1:] {
		if s.Value > peak {
			peak = s.Value
		}
	}
	return peak, true
}

// Last returns the latest sample.
func Last(samples []Sample) (Sample, bool) {
	if len(samples) == 0 {
		return Sample{}, false
	}
	last := samples[0]
	for _, s := range samples[1:] {
		if !s.Time.Before(last.Time) {
			last = s
		}
	}
	return last, true
}

func sorted(samples []Sample) []Sample {
	less := func(i, j int) bool { return samples[i].Time.Before(samples[j].Time) }
	if sort.SliceIsSorted(samples, less) {
		return samples
	}
	cp := append([]Sample(nil), samples...)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Time.Before(cp[j].Time) })
	return cp
}

func add(acc *float64, v float64) *float64 {
	if acc == nil {
		return &v
	}
	sum := *acc + v
	return &sum
}

func truncateHour(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc)
}

func truncateDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
