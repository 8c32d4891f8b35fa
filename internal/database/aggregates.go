package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const dailyColumns = `
	device_id, date, is_overtime, measurement_kind, status,
	total_energy_kwh, native_total, avg_power_kw, peak_power_kw, component_breakdown,
	units_produced, efficiency_kwh_per_unit, total_cost, meter_reading, hours_with_data, calculated_at`

// UpsertDailyAggregate writes a daily aggregate, replacing any row with the same
// (device, date, is_overtime)
func (db *DB) UpsertDailyAggregate(ctx context.Context, a *DailyAggregate) error {
	query := `
		INSERT INTO daily_aggregates (` + dailyColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (device_id, date, is_overtime) DO UPDATE
		SET measurement_kind = EXCLUDED.measurement_kind,
		    status = EXCLUDED.status,
		    total_energy_kwh = EXCLUDED.total_energy_kwh,
		    native_total = EXCLUDED.native_total,
		    avg_power_kw = EXCLUDED.avg_power_kw,
		    peak_power_kw = EXCLUDED.peak_power_kw,
		    component_breakdown = EXCLUDED.component_breakdown,
		    units_produced = EXCLUDED.units_produced,
		    efficiency_kwh_per_unit = EXCLUDED.efficiency_kwh_per_unit,
		    total_cost = EXCLUDED.total_cost,
		    meter_reading = EXCLUDED.meter_reading,
		    hours_with_data = EXCLUDED.hours_with_data,
		    calculated_at = EXCLUDED.calculated_at
	`

	_, err := db.ExecContext(ctx, query,
		a.DeviceID,
		Date(a.Date),
		a.IsOvertime,
		string(a.Kind),
		string(a.Status),
		a.TotalEnergyKWh,
		a.NativeTotal,
		a.AvgPowerKW,
		a.PeakPowerKW,
		a.Breakdown.JSON(),
		a.UnitsProduced,
		a.EfficiencyKWhPerUnit,
		a.TotalCost,
		a.MeterReading,
		a.HoursWithData,
		a.CalculatedAt.UTC(),
	)
	if err != nil {
		return &PersistenceError{Table: "daily_aggregates", Key: a.DeviceID + "/" + Date(a.Date).Format(time.DateOnly), Err: err}
	}
	return nil
}

// GetDailyAggregate returns nil when the day is still pending
func (db *DB) GetDailyAggregate(ctx context.Context, deviceID string, date time.Time, overtime bool) (*DailyAggregate, error) {
	query := `SELECT ` + dailyColumns + `
		FROM daily_aggregates
		WHERE device_id = $1 AND date = $2 AND is_overtime = $3
	`

	a, err := scanDaily(db.QueryRowContext(ctx, query, deviceID, Date(date), overtime))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get daily aggregate: %w", err)
	}
	return a, nil
}

// DailyQuery filters daily aggregates. From and To are inclusive dates.
type DailyQuery struct {
	DeviceID        string // empty selects every device
	From            time.Time
	To              time.Time
	FinalizedOnly   bool
	IncludeOvertime bool
	WithEfficiency  bool // only rows with efficiency > 0
}

// QueryDailyAggregates returns matching rows ordered by date then device
func (db *DB) QueryDailyAggregates(ctx context.Context, q DailyQuery) ([]*DailyAggregate, error) {
	var a args
	where := []string{
		"date >= " + a.next(Date(q.From)),
		"date <= " + a.next(Date(q.To)),
	}
	if q.DeviceID != "" {
		where = append(where, "device_id = "+a.next(q.DeviceID))
	}
	if q.FinalizedOnly {
		where = append(where, "status = "+a.next(string(DayFinalized)))
	}
	if !q.IncludeOvertime {
		where = append(where, "is_overtime = "+a.next(false))
	}
	if q.WithEfficiency {
		where = append(where, "efficiency_kwh_per_unit IS NOT NULL", "efficiency_kwh_per_unit > 0")
	}

	query := `SELECT ` + dailyColumns + `
		FROM daily_aggregates
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY date, device_id
	`

	rows, err := db.QueryContext(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily aggregates: %w", err)
	}
	defer rows.Close()

	var out []*DailyAggregate
	for rows.Next() {
		agg, err := scanDaily(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, rows.Err()
}

func scanDaily(row rowScanner) (*DailyAggregate, error) {
	var a DailyAggregate
	var status string
	if err := row.Scan(
		&a.DeviceID,
		&a.Date,
		&a.IsOvertime,
		&a.Kind,
		&status,
		&a.TotalEnergyKWh,
		&a.NativeTotal,
		&a.AvgPowerKW,
		&a.PeakPowerKW,
		&a.Breakdown,
		&a.UnitsProduced,
		&a.EfficiencyKWhPerUnit,
		&a.TotalCost,
		&a.MeterReading,
		&a.HoursWithData,
		&a.CalculatedAt,
	); err != nil {
		return nil, err
	}
	a.Date = Date(a.Date)
	a.Status = DayStatus(status)
	a.CalculatedAt = a.CalculatedAt.UTC()
	return &a, nil
}

const monthlyColumns = `
	device_id, month, measurement_kind, source,
	total_energy_kwh, avg_daily_energy_kwh, peak_power_kw, component_breakdown,
	total_units_produced, efficiency_kwh_per_unit, total_cost, data_completeness, days_with_data, calculated_at`

// UpsertMonthlyAggregate writes a monthly aggregate, replacing any row with the same (device, month)
func (db *DB) UpsertMonthlyAggregate(ctx context.Context, m *MonthlyAggregate) error {
	query := `
		INSERT INTO monthly_aggregates (` + monthlyColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (device_id, month) DO UPDATE
		SET measurement_kind = EXCLUDED.measurement_kind,
		    source = EXCLUDED.source,
		    total_energy_kwh = EXCLUDED.total_energy_kwh,
		    avg_daily_energy_kwh = EXCLUDED.avg_daily_energy_kwh,
		    peak_power_kw = EXCLUDED.peak_power_kw,
		    component_breakdown = EXCLUDED.component_breakdown,
		    total_units_produced = EXCLUDED.total_units_produced,
		    efficiency_kwh_per_unit = EXCLUDED.efficiency_kwh_per_unit,
		    total_cost = EXCLUDED.total_cost,
		    data_completeness = EXCLUDED.data_completeness,
		    days_with_data = EXCLUDED.days_with_data,
		    calculated_at = EXCLUDED.calculated_at
	`

	_, err := db.ExecContext(ctx, query,
		m.DeviceID,
		MonthStart(m.Month),
		string(m.Kind),
		string(m.Source),
		m.TotalEnergyKWh,
		m.AvgDailyEnergyKWh,
		m.PeakPowerKW,
		m.Breakdown.JSON(),
		m.TotalUnitsProduced,
		m.EfficiencyKWhPerUnit,
		m.TotalCost,
		m.DataCompleteness,
		m.DaysWithData,
		m.CalculatedAt.UTC(),
	)
	if err != nil {
		return &PersistenceError{Table: "monthly_aggregates", Key: m.DeviceID + "/" + MonthStart(m.Month).Format("2006-01"), Err: err}
	}
	return nil
}

// GetMonthlyAggregate returns nil when the month has not been aggregated
func (db *DB) GetMonthlyAggregate(ctx context.Context, deviceID string, month time.Time) (*MonthlyAggregate, error) {
	query := `SELECT ` + monthlyColumns + `
		FROM monthly_aggregates
		WHERE device_id = $1 AND month = $2
	`

	m, err := scanMonthly(db.QueryRowContext(ctx, query, deviceID, MonthStart(month)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get monthly aggregate: %w", err)
	}
	return m, nil
}

// MonthlyQuery filters monthly aggregates by month start, inclusive
type MonthlyQuery struct {
	DeviceID       string
	From           time.Time
	To             time.Time
	WithEfficiency bool
}

// QueryMonthlyAggregates returns matching rows ordered by month then device
func (db *DB) QueryMonthlyAggregates(ctx context.Context, q MonthlyQuery) ([]*MonthlyAggregate, error) {
	var a args
	where := []string{
		"month >= " + a.next(Date(q.From)),
		"month <= " + a.next(Date(q.To)),
	}
	if q.DeviceID != "" {
		where = append(where, "device_id = "+a.next(q.DeviceID))
	}
	if q.WithEfficiency {
		where = append(where, "efficiency_kwh_per_unit IS NOT NULL", "efficiency_kwh_per_unit > 0")
	}

	query := `SELECT ` + monthlyColumns + `
		FROM monthly_aggregates
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY month, device_id
	`

	rows, err := db.QueryContext(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("failed to query monthly aggregates: %w", err)
	}
	defer rows.Close()

	var out []*MonthlyAggregate
	for rows.Next() {
		m, err := scanMonthly(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMonthly(row rowScanner) (*MonthlyAggregate, error) {
	var m MonthlyAggregate
	var source string
	if err := row.Scan(
		&m.DeviceID,
		&m.Month,
		&m.Kind,
		&source,
		&m.TotalEnergyKWh,
		&m.AvgDailyEnergyKWh,
		&m.PeakPowerKW,
		&m.Breakdown,
		&m.TotalUnitsProduced,
		&m.EfficiencyKWhPerUnit,
		&m.TotalCost,
		&m.DataCompleteness,
		&m.DaysWithData,
		&m.CalculatedAt,
	); err != nil {
		return nil, err
	}
	m.Month = MonthStart(m.Month)
	m.Source = AggregateSource(source)
	m.CalculatedAt = m.CalculatedAt.UTC()
	return &m, nil
}
