// Package energy converts native meter quantities into comparable energy and cost figures.
package energy

import (
	"database/sql/driver"
	"fmt"

	"github.com/smukkama/energy-reporting/pkg/config"
)

// MeasurementKind is the physical quantity a device meters.
type MeasurementKind string

const (
	Electrical MeasurementKind = "electrical" // native unit kWh
	Volumetric MeasurementKind = "volumetric" // native unit m3 of steam
)

// ParseKind validates s. The legacy registry names "electricity" and "flowmeter" are accepted.
func ParseKind(s string) (MeasurementKind, error) {
	switch s {
	case string(Electrical), "electricity":
		return Electrical, nil
	case string(Volumetric), "flowmeter":
		return Volumetric, nil
	}
	return "", fmt.Errorf("unknown measurement kind %q", s)
}

// Scan implements sql.Scanner.
func (k *MeasurementKind) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into MeasurementKind", src)
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Value implements driver.Valuer.
func (k MeasurementKind) Value() (driver.Value, error) {
	return string(k), nil
}

// Converter turns a native quantity into energy and cost.
type Converter interface {
	Kind() MeasurementKind
	Unit() string
	EnergyKWh(native float64) float64
	Cost(native float64) float64
}

// ElectricalConverter prices metered kWh at a flat rate.
type ElectricalConverter struct {
	Rate float64
}

func (c ElectricalConverter) Kind() MeasurementKind {
	return Electrical
}

func (c ElectricalConverter) Unit() string {
	return "kWh"
}

func (c ElectricalConverter) EnergyKWh(kwh float64) float64 {
	return kwh
}

func (c ElectricalConverter) Cost(kwh float64) float64 {
	return kwh * c.Rate
}

// VolumetricConverter values steam through the coal burnt to raise it.
type VolumetricConverter struct {
	CoalPerM3     float64 // kg coal per m3 steam
	KWhPerKgCoal  float64
	CoalCostPerKg float64
}

func (c VolumetricConverter) Kind() MeasurementKind {
	return Volumetric
}

func (c VolumetricConverter) Unit() string {
	return "m3"
}

// CoalKg is the coal mass needed for m3 of steam.
func (c VolumetricConverter) CoalKg(m3 float64) float64 {
	return m3 * c.CoalPerM3
}

func (c VolumetricConverter) EnergyKWh(m3 float64) float64 {
	return c.CoalKg(m3) * c.KWhPerKgCoal
}

func (c VolumetricConverter) Cost(m3 float64) float64 {
	return c.CoalKg(m3) * c.CoalCostPerKg
}

// Table dispatches conversion by measurement kind.
type Table map[MeasurementKind]Converter

// NewTable builds the converter table from cost configuration.
func NewTable(cfg config.CostConfig) Table {
	return Table{
		Electrical: ElectricalConverter{Rate: cfg.ElectricityRate},
		Volumetric: VolumetricConverter{
			CoalPerM3:     cfg.CoalPerM3,
			KWhPerKgCoal:  cfg.KWhPerKgCoal,
			CoalCostPerKg: cfg.CoalCostPerKg,
		},
	}
}

// For returns the converter for kind.
func (t Table) For(kind MeasurementKind) (Converter, error) {
	c, ok := t[kind]
	if !ok {
		return nil, fmt.Errorf("no converter for measurement kind %q", kind)
	}
	return c, nil
}

// RateToKW converts an instantaneous rate signal into kW-equivalent.
// Electrical rates are already kW; volumetric rates are m3/h.
func (t Table) RateToKW(kind MeasurementKind, rate float64) (float64, error) {
	c, err := t.For(kind)
	if err != nil {
		return 0, err
	}
	return c.EnergyKWh(rate), nil
}
