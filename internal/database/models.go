package database

import (
	"strings"
	"time"

	"github.com/smukkama/energy-reporting/internal/component"
	"github.com/smukkama/energy-reporting/internal/energy"
)

// Device is a metered device from the registry
type Device struct {
	ID           string
	Name         string
	Kind         energy.MeasurementKind
	IsActive     bool
	ProcessArea  string
	CounterField string
	RateField    string
	CreatedAt    time.Time
}

// ProductionRecord is the output of one shift
type ProductionRecord struct {
	DeviceID      string
	Date          time.Time
	ShiftType     string
	UnitsProduced int64
}

// DayStatus is the lifecycle state of a daily aggregate. A day with no row is pending.
type DayStatus string

const (
	DayComputed  DayStatus = "computed"
	DayFinalized DayStatus = "finalized"
)

// DailyAggregate is one device's consumption for one calendar day
type DailyAggregate struct {
	DeviceID             string
	Date                 time.Time
	IsOvertime           bool
	Kind                 energy.MeasurementKind
	Status               DayStatus
	TotalEnergyKWh       float64
	NativeTotal          float64 // kWh or m3 depending on Kind
	AvgPowerKW           float64
	PeakPowerKW          float64
	Breakdown            component.Breakdown
	UnitsProduced        *int64
	EfficiencyKWhPerUnit *float64
	TotalCost            float64
	MeterReading         *float64
	HoursWithData        int
	CalculatedAt         time.Time
}

// AggregateSource records which path produced a monthly aggregate
type AggregateSource string

const (
	SourceDaily AggregateSource = "daily"
	SourceRaw   AggregateSource = "raw"
)

// MonthlyAggregate is one device's consumption for one calendar month
type MonthlyAggregate struct {
	DeviceID             string
	Month                time.Time
	Kind                 energy.MeasurementKind
	Source               AggregateSource
	TotalEnergyKWh       float64
	AvgDailyEnergyKWh    float64
	PeakPowerKW          float64
	Breakdown            component.Breakdown
	TotalUnitsProduced   *int64
	EfficiencyKWhPerUnit *float64
	TotalCost            float64
	DataCompleteness     float64
	DaysWithData         int
	CalculatedAt         time.Time
}

// BenchmarkType selects how a benchmark value is derived
type BenchmarkType string

const (
	BenchmarkBestDay   BenchmarkType = "best_day"
	BenchmarkBestWeek  BenchmarkType = "best_week"
	BenchmarkBestMonth BenchmarkType = "best_month"
	BenchmarkAverage   BenchmarkType = "average"
	BenchmarkMedian    BenchmarkType = "median"
	BenchmarkCustom    BenchmarkType = "custom"
)

// ComputableBenchmarkTypes are the types derived from aggregates
var ComputableBenchmarkTypes = []BenchmarkType{
	BenchmarkBestDay,
	BenchmarkBestWeek,
	BenchmarkBestMonth,
	BenchmarkAverage,
	BenchmarkMedian,
}

// PlantWide is the device id of plant-level benchmarks and targets
const PlantWide = ""

// Benchmark is a historical reference value for an efficiency metric
type Benchmark struct {
	ID                 string
	DeviceID           string
	Type               BenchmarkType
	MetricName         string
	Value              float64
	PeriodStart        time.Time
	PeriodEnd          time.Time
	CalculatedFromDays int
	IsActive           bool
	UpdatedAt          time.Time
}

// TargetPeriod is the length of a target
type TargetPeriod string

const (
	PeriodWeekly    TargetPeriod = "weekly"
	PeriodMonthly   TargetPeriod = "monthly"
	PeriodQuarterly TargetPeriod = "quarterly"
	PeriodYearly    TargetPeriod = "yearly"
)

// Target is a goal for a metric over a period
type Target struct {
	ID           string
	DeviceID     string
	MetricName   string
	Period       TargetPeriod
	PeriodStart  time.Time
	PeriodEnd    time.Time
	TargetValue  float64
	CurrentValue float64
	IsOnTrack    bool
	BenchmarkID  *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsEfficiencyMetric reports whether metric is energy per unit, where lower is better
func IsEfficiencyMetric(metric string) bool {
	return strings.HasPrefix(metric, "kwh_per_")
}

// Date truncates t to its calendar date at 00:00 UTC
func Date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthStart returns the first day of t's month at 00:00 UTC
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// DaysInMonth returns the number of calendar days in month
func DaysInMonth(month time.Time) int {
	return MonthStart(month).AddDate(0, 1, -1).Day()
}

// Shift is a recurring production window in plant time
type Shift struct {
	ID         string
	Name       string
	Start      string // HH:MM
	End        string // HH:MM; not after Start means the next day
	Days       []time.Weekday
	IsOvertime bool
	IsActive   bool
}

// RunsOn reports whether the shift starts on day. A shift without days runs every day.
func (s *Shift) RunsOn(day time.Weekday) bool {
	if len(s.Days) == 0 {
		return true
	}
	for _, d := range s.Days {
		if d == day {
			return true
		}
	}
	return false
}

// ShiftEnergy is one device's consumption during one shift
type ShiftEnergy struct {
	ShiftID        string
	ShiftName      string
	DeviceID       string
	Date           time.Time // the date the shift starts
	Kind           energy.MeasurementKind
	TotalEnergyKWh float64
	NativeTotal    float64
	AvgPowerKW     float64
	PeakPowerKW    float64
	UnitsProduced  *int64
	EnergyPerUnit  *float64
	CostPerUnit    *float64
	TotalCost      float64
	CalculatedAt   time.Time
}

// Anomaly is a day whose consumption deviates from the device's recent mean
type Anomaly struct {
	DeviceID       string
	Date           time.Time
	TotalEnergyKWh float64
	MeanKWh        float64
	StdDevKWh      float64
	ZScore         float64
	DetectedAt     time.Time
}
