package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertDevice inserts or updates a registry entry
func (db *DB) UpsertDevice(ctx context.Context, d *Device) error {
	query := `
		INSERT INTO devices (id, name, measurement_kind, is_active, process_area, counter_field, rate_field, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    measurement_kind = EXCLUDED.measurement_kind,
		    is_active = EXCLUDED.is_active,
		    process_area = EXCLUDED.process_area,
		    counter_field = EXCLUDED.counter_field,
		    rate_field = EXCLUDED.rate_field
	`
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, query,
		d.ID, d.Name, string(d.Kind), d.IsActive, d.ProcessArea, d.CounterField, d.RateField, d.CreatedAt)
	if err != nil {
		return &PersistenceError{Table: "devices", Key: d.ID, Err: err}
	}
	return nil
}

// GetDevice resolves a device id. It returns ErrDeviceNotFound when the id is unknown.
func (db *DB) GetDevice(ctx context.Context, id string) (*Device, error) {
	query := `
		SELECT id, name, measurement_kind, is_active, process_area, counter_field, rate_field, created_at
		FROM devices
		WHERE id = $1
	`

	d, err := scanDevice(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListActiveDevices returns every active device ordered by id
func (db *DB) ListActiveDevices(ctx context.Context) ([]*Device, error) {
	query := `
		SELECT id, name, measurement_kind, is_active, process_area, counter_field, rate_field, created_at
		FROM devices
		WHERE is_active = $1
		ORDER BY id
	`

	rows, err := db.QueryContext(ctx, query, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var d Device
	if err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Kind,
		&d.IsActive,
		&d.ProcessArea,
		&d.CounterField,
		&d.RateField,
		&d.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &d, nil
}

// UpsertProduction records the units produced in one shift
func (db *DB) UpsertProduction(ctx context.Context, p *ProductionRecord) error {
	query := `
		INSERT INTO production_data (device_id, date, shift_type, units_produced)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_id, date, shift_type) DO UPDATE
		SET units_produced = EXCLUDED.units_produced
	`
	shift := p.ShiftType
	if shift == "" {
		shift = "day"
	}
	_, err := db.ExecContext(ctx, query, p.DeviceID, Date(p.Date), shift, p.UnitsProduced)
	if err != nil {
		return &PersistenceError{Table: "production_data", Key: p.DeviceID + "/" + Date(p.Date).Format(time.DateOnly), Err: err}
	}
	return nil
}

// UnitsProduced sums all shifts of a device over [from, to] inclusive.
// It returns nil when no production was recorded.
func (db *DB) UnitsProduced(ctx context.Context, deviceID string, from, to time.Time) (*int64, error) {
	query := `
		SELECT SUM(units_produced)
		FROM production_data
		WHERE device_id = $1 AND date >= $2 AND date <= $3
	`

	var total sql.NullInt64
	if err := db.QueryRowContext(ctx, query, deviceID, Date(from), Date(to)).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to sum production: %w", err)
	}
	if !total.Valid {
		return nil, nil
	}
	return &total.Int64, nil
}
