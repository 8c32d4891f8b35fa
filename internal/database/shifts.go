package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const shiftColumns = `id, name, start_time, end_time, days_of_week, is_overtime, is_active`

// UpsertShift writes a shift definition keyed by name. s.ID is refreshed from the store.
func (db *DB) UpsertShift(ctx context.Context, s *Shift) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}

	query := `
		INSERT INTO shift_definitions (` + shiftColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO UPDATE
		SET start_time = EXCLUDED.start_time,
		    end_time = EXCLUDED.end_time,
		    days_of_week = EXCLUDED.days_of_week,
		    is_overtime = EXCLUDED.is_overtime,
		    is_active = EXCLUDED.is_active
	`
	if _, err := db.ExecContext(ctx, query,
		s.ID, s.Name, s.Start, s.End, formatWeekdays(s.Days), s.IsOvertime, s.IsActive,
	); err != nil {
		return &PersistenceError{Table: "shift_definitions", Key: s.Name, Err: err}
	}

	err := db.QueryRowContext(ctx, `SELECT id FROM shift_definitions WHERE name = $1`, s.Name).Scan(&s.ID)
	if err != nil {
		return &PersistenceError{Table: "shift_definitions", Key: s.Name, Err: err}
	}
	return nil
}

// ListActiveShifts returns active shifts ordered by start time
func (db *DB) ListActiveShifts(ctx context.Context) ([]*Shift, error) {
	query := `SELECT ` + shiftColumns + `
		FROM shift_definitions
		WHERE is_active = $1
		ORDER BY start_time, name
	`

	rows, err := db.QueryContext(ctx, query, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list shifts: %w", err)
	}
	defer rows.Close()

	var out []*Shift
	for rows.Next() {
		var s Shift
		var days string
		if err := rows.Scan(&s.ID, &s.Name, &s.Start, &s.End, &days, &s.IsOvertime, &s.IsActive); err != nil {
			return nil, err
		}
		if s.Days, err = parseWeekdays(days); err != nil {
			return nil, fmt.Errorf("shift %s: %w", s.Name, err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func formatWeekdays(days []time.Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}

func parseWeekdays(s string) ([]time.Weekday, error) {
	if s == "" {
		return nil, nil
	}
	var days []time.Weekday
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 || n > 6 {
			return nil, fmt.Errorf("invalid weekday %q", part)
		}
		days = append(days, time.Weekday(n))
	}
	return days, nil
}

const shiftEnergyColumns = `
	shift_id, device_id, shift_date, measurement_kind,
	total_energy_kwh, native_total, avg_power_kw, peak_power_kw,
	units_produced, energy_per_unit, cost_per_unit, total_cost, calculated_at`

// UpsertShiftEnergy writes one device's shift consumption, replacing any row with the same
// (shift, device, date)
func (db *DB) UpsertShiftEnergy(ctx context.Context, e *ShiftEnergy) error {
	query := `
		INSERT INTO shift_energy (` + shiftEnergyColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (shift_id, device_id, shift_date) DO UPDATE
		SET measurement_kind = EXCLUDED.measurement_kind,
		    total_energy_kwh = EXCLUDED.total_energy_kwh,
		    native_total = EXCLUDED.native_total,
		    avg_power_kw = EXCLUDED.avg_power_kw,
		    peak_power_kw = EXCLUDED.peak_power_kw,
		    units_produced = EXCLUDED.units_produced,
		    energy_per_unit = EXCLUDED.energy_per_unit,
		    cost_per_unit = EXCLUDED.cost_per_unit,
		    total_cost = EXCLUDED.total_cost,
		    calculated_at = EXCLUDED.calculated_at
	`

	_, err := db.ExecContext(ctx, query,
		e.ShiftID,
		e.DeviceID,
		Date(e.Date),
		string(e.Kind),
		e.TotalEnergyKWh,
		e.NativeTotal,
		e.AvgPowerKW,
		e.PeakPowerKW,
		e.UnitsProduced,
		e.EnergyPerUnit,
		e.CostPerUnit,
		e.TotalCost,
		e.CalculatedAt.UTC(),
	)
	if err != nil {
		key := fmt.Sprintf("%s/%s/%s", e.ShiftID, e.DeviceID, Date(e.Date).Format(time.DateOnly))
		return &PersistenceError{Table: "shift_energy", Key: key, Err: err}
	}
	return nil
}

// GetShiftEnergy returns nil when the shift has not been aggregated
func (db *DB) GetShiftEnergy(ctx context.Context, shiftID, deviceID string, date time.Time) (*ShiftEnergy, error) {
	query := `
		SELECT se.shift_id, sd.name, se.device_id, se.shift_date, se.measurement_kind,
		       se.total_energy_kwh, se.native_total, se.avg_power_kw, se.peak_power_kw,
		       se.units_produced, se.energy_per_unit, se.cost_per_unit, se.total_cost, se.calculated_at
		FROM shift_energy se
		JOIN shift_definitions sd ON sd.id = se.shift_id
		WHERE se.shift_id = $1 AND se.device_id = $2 AND se.shift_date = $3
	`

	var e ShiftEnergy
	err := db.QueryRowContext(ctx, query, shiftID, deviceID, Date(date)).Scan(
		&e.ShiftID,
		&e.ShiftName,
		&e.DeviceID,
		&e.Date,
		&e.Kind,
		&e.TotalEnergyKWh,
		&e.NativeTotal,
		&e.AvgPowerKW,
		&e.PeakPowerKW,
		&e.UnitsProduced,
		&e.EnergyPerUnit,
		&e.CostPerUnit,
		&e.TotalCost,
		&e.CalculatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shift energy: %w", err)
	}
	e.Date = Date(e.Date)
	e.CalculatedAt = e.CalculatedAt.UTC()
	return &e, nil
}

// ShiftUnitsProduced returns the units recorded for one shift of a device on date, or nil
func (db *DB) ShiftUnitsProduced(ctx context.Context, deviceID string, date time.Time, shift string) (*int64, error) {
	query := `
		SELECT units_produced
		FROM production_data
		WHERE device_id = $1 AND date = $2 AND shift_type = $3
	`

	var units int64
	err := db.QueryRowContext(ctx, query, deviceID, Date(date), shift).Scan(&units)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shift production: %w", err)
	}
	return &units, nil
}
