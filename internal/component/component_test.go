package component

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTaxonomy_Classify(t *testing.T) {
	tax := DefaultTaxonomy()

	cases := []struct {
		field string
		kind  Kind
		ok    bool
	}{
		{"Lights_Floor1_kwh", Lights, true},
		{"machine_line3", Machines, true},
		{"main_motor_energy", Machines, true},
		{"HVAC_total", HVAC, true},
		{"cooling_tower", HVAC, true},
		{"exhaust_1", ExhaustFan, true},
		{"roof_fan", ExhaustFan, true},
		{"office_block", Office, true},
		{"laser_cutter", Laser, true},
		{"active_power_total", Unclassified, false},
		{"voltage_l1", Unclassified, false},
	}

	for _, tc := range cases {
		t.Run(tc.field, func(t *testing.T) {
			kind, ok := tax.Classify(tc.field)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.kind, kind)
		})
	}
}

func TestTaxonomy_FirstMatchWins(t *testing.T) {
	// "light" is listed before "machine"
	kind, ok := DefaultTaxonomy().Classify("machine_light_circuit")
	require.True(t, ok)
	assert.Equal(t, Lights, kind)

	tax, err := NewTaxonomy([]Rule{
		{Kind: Machines, Patterns: []string{"machine"}},
		{Kind: Lights, Patterns: []string{"light"}},
	})
	require.NoError(t, err)

	kind, _ = tax.Classify("machine_light_circuit")
	assert.Equal(t, Machines, kind)
}

func TestNewTaxonomy_Invalid(t *testing.T) {
	_, err := NewTaxonomy([]Rule{{Kind: "boilers", Patterns: []string{"boiler"}}})
	assert.Error(t, err)

	_, err = NewTaxonomy([]Rule{{Kind: Unclassified, Patterns: []string{"x"}}})
	assert.Error(t, err)

	_, err = NewTaxonomy([]Rule{{Kind: Lights, Patterns: []string{" "}}})
	assert.Error(t, err)
}

func TestLoadTaxonomy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"kind": "laser", "patterns": ["CUTTER"]},
		{"kind": "lights", "patterns": ["lamp", "light"]}
	]`), 0o644))

	tax, err := LoadTaxonomy(path)
	require.NoError(t, err)

	kind, ok := tax.Classify("cutter_2")
	require.True(t, ok)
	assert.Equal(t, Laser, kind)

	kind, ok = tax.Classify("lamp_bay")
	require.True(t, ok)
	assert.Equal(t, Lights, kind)

	_, ok = tax.Classify("hvac_1")
	assert.False(t, ok)
	assert.Len(t, tax.Rules(), 2)
}

func TestBreakdown_AddMergeTotal(t *testing.T) {
	a := Breakdown{}
	a.Add(Lights, 10)
	a.Add(Lights, 2.5)
	a.Add(HVAC, 4)

	b := Breakdown{HVAC: 1, Laser: 3}
	a.Merge(b)

	assert.Equal(t, Breakdown{Lights: 12.5, HVAC: 5, Laser: 3}, a)
	assert.InDelta(t, 20.5, a.Total(), 1e-9)
	assert.Equal(t, []Kind{Lights, HVAC, Laser}, a.SortedKinds())
}

func TestBreakdown_JSON(t *testing.T) {
	b := Breakdown{Machines: 7, Office: 1.5}

	var round Breakdown
	require.NoError(t, json.Unmarshal([]byte(b.JSON()), &round))
	assert.Equal(t, b, round)

	var bad Breakdown
	assert.Error(t, json.Unmarshal([]byte(`{"other": 3}`), &bad))

	var scanned Breakdown
	require.NoError(t, scanned.Scan(`{"lights": 2}`))
	assert.Equal(t, Breakdown{Lights: 2}, scanned)

	require.NoError(t, scanned.Scan(nil))
	assert.Empty(t, scanned)

	assert.Equal(t, "{}", Breakdown(nil).JSON())
}
