package queue

import (
	"time"

	"github.com/smukkama/energy-reporting/internal/component"
	"github.com/smukkama/energy-reporting/internal/database"
)

type dailyEvent struct {
	Date                 string              `json:"date"`
	IsOvertime           bool                `json:"is_overtime"`
	MeasurementKind      string              `json:"measurement_kind"`
	Status               string              `json:"status"`
	TotalEnergyKWh       float64             `json:"total_energy_kwh"`
	PeakPowerKW          float64             `json:"peak_power_kw"`
	TotalCost            float64             `json:"total_cost"`
	UnitsProduced        *int64              `json:"units_produced"`
	EfficiencyKWhPerUnit *float64            `json:"efficiency_kwh_per_unit"`
	Breakdown            component.Breakdown `json:"component_breakdown"`
}

func dailyPayload(a *database.DailyAggregate) dailyEvent {
	return dailyEvent{
		Date:                 a.Date.Format(time.DateOnly),
		IsOvertime:           a.IsOvertime,
		MeasurementKind:      string(a.Kind),
		Status:               string(a.Status),
		TotalEnergyKWh:       a.TotalEnergyKWh,
		PeakPowerKW:          a.PeakPowerKW,
		TotalCost:            a.TotalCost,
		UnitsProduced:        a.UnitsProduced,
		EfficiencyKWhPerUnit: a.EfficiencyKWhPerUnit,
		Breakdown:            a.Breakdown,
	}
}

type monthlyEvent struct {
	Month                string   `json:"month"`
	MeasurementKind      string   `json:"measurement_kind"`
	Source               string   `json:"source"`
	TotalEnergyKWh       float64  `json:"total_energy_kwh"`
	TotalCost            float64  `json:"total_cost"`
	EfficiencyKWhPerUnit *float64 `json:"efficiency_kwh_per_unit"`
	DataCompleteness     float64  `json:"data_completeness"`
}

func monthlyPayload(m *database.MonthlyAggregate) monthlyEvent {
	return monthlyEvent{
		Month:                m.Month.Format("2006-01"),
		MeasurementKind:      string(m.Kind),
		Source:               string(m.Source),
		TotalEnergyKWh:       m.TotalEnergyKWh,
		TotalCost:            m.TotalCost,
		EfficiencyKWhPerUnit: m.EfficiencyKWhPerUnit,
		DataCompleteness:     m.DataCompleteness,
	}
}

type benchmarkEvent struct {
	ID          string  `json:"id"`
	Type        string  `json:"benchmark_type"`
	MetricName  string  `json:"metric_name"`
	Value       float64 `json:"benchmark_value"`
	PeriodStart string  `json:"period_start"`
	PeriodEnd   string  `json:"period_end"`
}

func benchmarkPayload(b *database.Benchmark) benchmarkEvent {
	return benchmarkEvent{
		ID:          b.ID,
		Type:        string(b.Type),
		MetricName:  b.MetricName,
		Value:       b.Value,
		PeriodStart: b.PeriodStart.Format(time.DateOnly),
		PeriodEnd:   b.PeriodEnd.Format(time.DateOnly),
	}
}

type targetEvent struct {
	ID           string  `json:"id"`
	MetricName   string  `json:"metric_name"`
	Period       string  `json:"target_period"`
	TargetValue  float64 `json:"target_value"`
	CurrentValue float64 `json:"current_value"`
	IsOnTrack    bool    `json:"is_on_track"`
}

func targetPayload(t *database.Target) targetEvent {
	return targetEvent{
		ID:           t.ID,
		MetricName:   t.MetricName,
		Period:       string(t.Period),
		TargetValue:  t.TargetValue,
		CurrentValue: t.CurrentValue,
		IsOnTrack:    t.IsOnTrack,
	}
}

type shiftEvent struct {
	ShiftID        string   `json:"shift_id"`
	ShiftName      string   `json:"shift_name"`
	Date           string   `json:"shift_date"`
	TotalEnergyKWh float64  `json:"total_energy_kwh"`
	AvgPowerKW     float64  `json:"avg_power_kw"`
	PeakPowerKW    float64  `json:"peak_power_kw"`
	TotalCost      float64  `json:"total_cost"`
	UnitsProduced  *int64   `json:"units_produced"`
	EnergyPerUnit  *float64 `json:"energy_per_unit"`
	CostPerUnit    *float64 `json:"cost_per_unit"`
}

func shiftPayload(e *database.ShiftEnergy) shiftEvent {
	return shiftEvent{
		ShiftID:        e.ShiftID,
		ShiftName:      e.ShiftName,
		Date:           e.Date.Format(time.DateOnly),
		TotalEnergyKWh: e.TotalEnergyKWh,
		AvgPowerKW:     e.AvgPowerKW,
		PeakPowerKW:    e.PeakPowerKW,
		TotalCost:      e.TotalCost,
		UnitsProduced:  e.UnitsProduced,
		EnergyPerUnit:  e.EnergyPerUnit,
		CostPerUnit:    e.CostPerUnit,
	}
}

type anomalyEvent struct {
	Date           string  `json:"date"`
	TotalEnergyKWh float64 `json:"total_energy_kwh"`
	MeanKWh        float64 `json:"mean_kwh"`
	StdDevKWh      float64 `json:"stddev_kwh"`
	ZScore         float64 `json:"zscore"`
}

func anomalyPayload(a *database.Anomaly) anomalyEvent {
	return anomalyEvent{
		Date:           a.Date.Format(time.DateOnly),
		TotalEnergyKWh: a.TotalEnergyKWh,
		MeanKWh:        a.MeanKWh,
		StdDevKWh:      a.StdDevKWh,
		ZScore:         a.ZScore,
	}
}
