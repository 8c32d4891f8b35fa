package tier

import (
	"fmt"
	"time"

	"github.com/smukkama/energy-reporting/pkg/config"
)

// Tier is one stored resolution of a logical series. Data younger than MinAge or older than
// MaxAge is not kept in this tier. A zero MaxAge means the tier has no lower time bound.
type Tier struct {
	Name   string
	Suffix string
	MinAge time.Duration
	MaxAge time.Duration
}

// Window returns the absolute time range [from, to) the tier covers at now.
// from is the zero time when the tier is unbounded.
func (t Tier) Window(now time.Time) (from, to time.Time) {
	to = now.Add(-t.MinAge)
	if t.MaxAge > 0 {
		from = now.Add(-t.MaxAge)
	}
	return from, to
}

// Unbounded reports whether the tier extends infinitely into the past.
func (t Tier) Unbounded() bool {
	return t.MaxAge == 0
}

const (
	Raw    = "raw"
	Minute = "1m"
	Five   = "5m"
	Hour   = "1h"
)

// DefaultTiers returns raw, 1m, 5m and 1h tiers, freshest first.
func DefaultTiers() []Tier {
	return Tiers(config.TierConfig{
		RawMaxAge:    5 * 24 * time.Hour,
		MinuteMaxAge: 35 * 24 * time.Hour,
		FiveMaxAge:   215 * 24 * time.Hour,
	})
}

// Tiers builds the tier table from configured age boundaries, freshest first.
func Tiers(cfg config.TierConfig) []Tier {
	return []Tier{
		{Name: Raw, Suffix: "", MinAge: 0, MaxAge: cfg.RawMaxAge},
		{Name: Minute, Suffix: "_1m", MinAge: cfg.RawMaxAge, MaxAge: cfg.MinuteMaxAge},
		{Name: Five, Suffix: "_5m", MinAge: cfg.MinuteMaxAge, MaxAge: cfg.FiveMaxAge},
		{Name: Hour, Suffix: "_1h", MinAge: cfg.FiveMaxAge, MaxAge: 0},
	}
}

// InvalidRangeError is returned when a query range is empty or inverted.
type InvalidRangeError struct {
	Start time.Time
	End   time.Time
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range: start %s is not before end %s",
		e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}
