package component

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/samber/lo"
)

// Kind is a sub-load category a device's energy is attributed to.
type Kind string

const (
	Lights       Kind = "lights"
	Machines     Kind = "machines"
	HVAC         Kind = "hvac"
	ExhaustFan   Kind = "exhaust_fan"
	Office       Kind = "office"
	Laser        Kind = "laser"
	Unclassified Kind = "unclassified"
)

// Kinds lists every valid kind in display order.
var Kinds = []Kind{Lights, Machines, HVAC, ExhaustFan, Office, Laser, Unclassified}

// ParseKind validates s as a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !lo.Contains(Kinds, k) {
		return "", fmt.Errorf("unknown component kind %q", s)
	}
	return k, nil
}

// Breakdown is energy per component in kWh.
type Breakdown map[Kind]float64

// Add accumulates kwh under k.
func (b Breakdown) Add(k Kind, kwh float64) {
	b[k] += kwh
}

// Merge adds every entry of other into b.
func (b Breakdown) Merge(other Breakdown) {
	for k, v := range other {
		b[k] += v
	}
}

// Total sums all components.
func (b Breakdown) Total() float64 {
	return lo.Sum(lo.Values(b))
}

// SortedKinds returns the populated kinds in display order.
func (b Breakdown) SortedKinds() []Kind {
	keys := lo.Keys(b)
	order := func(k Kind) int { return lo.IndexOf(Kinds, k) }
	sort.Slice(keys, func(i, j int) bool { return order(keys[i]) < order(keys[j]) })
	return keys
}

// UnmarshalJSON rejects unknown component keys.
func (b *Breakdown) UnmarshalJSON(data []byte) error {
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Breakdown, len(raw))
	for key, v := range raw {
		k, err := ParseKind(key)
		if err != nil {
			return err
		}
		out[k] = v
	}
	*b = out
	return nil
}

// Scan implements sql.Scanner for JSON blob columns.
func (b *Breakdown) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*b = Breakdown{}
		return nil
	case []byte:
		return b.UnmarshalJSON(v)
	case string:
		return b.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("cannot scan %T into Breakdown", src)
	}
}

// JSON returns the blob stored in the aggregate tables.
func (b Breakdown) JSON() string {
	if b == nil {
		return "{}"
	}
	data, err := json.Marshal(map[Kind]float64(b))
	if err != nil {
		return "{}"
	}
	return string(data)
}
