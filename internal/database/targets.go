package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const targetColumns = `
	id, device_id, metric_name, target_period, period_start, period_end,
	target_value, current_value, is_on_track, benchmark_id, created_at, updated_at`

// CreateTarget inserts t unless a target with the same (device, metric, period, period_start)
// exists. It returns the stored target and whether it was created.
func (db *DB) CreateTarget(ctx context.Context, t *Target) (*Target, bool, error) {
	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}

	query := `
		INSERT INTO targets (` + targetColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (device_id, metric_name, target_period, period_start) DO NOTHING
	`

	key := fmt.Sprintf("%s/%s/%s/%s", t.DeviceID, t.MetricName, t.Period, Date(t.PeriodStart).Format(time.DateOnly))
	result, err := db.ExecContext(ctx, query,
		t.ID,
		t.DeviceID,
		t.MetricName,
		string(t.Period),
		Date(t.PeriodStart),
		Date(t.PeriodEnd),
		t.TargetValue,
		t.CurrentValue,
		t.IsOnTrack,
		t.BenchmarkID,
		t.CreatedAt.UTC(),
		t.UpdatedAt.UTC(),
	)
	if err != nil {
		return nil, false, &PersistenceError{Table: "targets", Key: key, Err: err}
	}
	affected, _ := result.RowsAffected()

	lookup := `SELECT ` + targetColumns + `
		FROM targets
		WHERE device_id = $1 AND metric_name = $2 AND target_period = $3 AND period_start = $4
	`
	stored, err := scanTarget(db.QueryRowContext(ctx, lookup, t.DeviceID, t.MetricName, string(t.Period), Date(t.PeriodStart)))
	if err != nil {
		return nil, false, &PersistenceError{Table: "targets", Key: key, Err: err}
	}
	return stored, affected > 0, nil
}

// GetTarget returns nil when id is unknown
func (db *DB) GetTarget(ctx context.Context, id string) (*Target, error) {
	query := `SELECT ` + targetColumns + `
		FROM targets
		WHERE id = $1
	`
	t, err := scanTarget(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get target: %w", err)
	}
	return t, nil
}

// ListTargetsActiveOn returns targets whose period contains day
func (db *DB) ListTargetsActiveOn(ctx context.Context, day time.Time) ([]*Target, error) {
	query := `SELECT ` + targetColumns + `
		FROM targets
		WHERE period_start <= $1 AND period_end >= $1
		ORDER BY device_id, metric_name, period_start
	`

	rows, err := db.QueryContext(ctx, query, Date(day))
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	defer rows.Close()

	var out []*Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTargetProgress writes the only mutable target fields
func (db *DB) UpdateTargetProgress(ctx context.Context, id string, current float64, onTrack bool, updatedAt time.Time) error {
	query := `
		UPDATE targets
		SET current_value = $1, is_on_track = $2, updated_at = $3
		WHERE id = $4
	`
	if _, err := db.ExecContext(ctx, query, current, onTrack, updatedAt.UTC(), id); err != nil {
		return &PersistenceError{Table: "targets", Key: id, Err: err}
	}
	return nil
}

func scanTarget(row rowScanner) (*Target, error) {
	var t Target
	var period string
	if err := row.Scan(
		&t.ID,
		&t.DeviceID,
		&t.MetricName,
		&period,
		&t.PeriodStart,
		&t.PeriodEnd,
		&t.TargetValue,
		&t.CurrentValue,
		&t.IsOnTrack,
		&t.BenchmarkID,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.Period = TargetPeriod(period)
	t.PeriodStart = Date(t.PeriodStart)
	t.PeriodEnd = Date(t.PeriodEnd)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}
