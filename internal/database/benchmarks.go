package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const benchmarkColumns = `
	id, device_id, benchmark_type, metric_name, benchmark_value,
	period_start, period_end, calculated_from_days, is_active, updated_at`

// UpsertBenchmark writes the single benchmark for (device, type, metric). The row keeps its
// existing id on conflict; b.ID is refreshed from the store.
func (db *DB) UpsertBenchmark(ctx context.Context, b *Benchmark) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO efficiency_benchmarks (` + benchmarkColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (device_id, benchmark_type, metric_name) DO UPDATE
		SET benchmark_value = EXCLUDED.benchmark_value,
		    period_start = EXCLUDED.period_start,
		    period_end = EXCLUDED.period_end,
		    calculated_from_days = EXCLUDED.calculated_from_days,
		    is_active = EXCLUDED.is_active,
		    updated_at = EXCLUDED.updated_at
	`

	key := fmt.Sprintf("%s/%s/%s", b.DeviceID, b.Type, b.MetricName)
	_, err := db.ExecContext(ctx, query,
		b.ID,
		b.DeviceID,
		string(b.Type),
		b.MetricName,
		b.Value,
		Date(b.PeriodStart),
		Date(b.PeriodEnd),
		b.CalculatedFromDays,
		b.IsActive,
		b.UpdatedAt.UTC(),
	)
	if err != nil {
		return &PersistenceError{Table: "efficiency_benchmarks", Key: key, Err: err}
	}

	stored, err := db.GetBenchmark(ctx, b.DeviceID, b.Type, b.MetricName)
	if err != nil {
		return &PersistenceError{Table: "efficiency_benchmarks", Key: key, Err: err}
	}
	if stored != nil {
		b.ID = stored.ID
	}
	return nil
}

// GetBenchmark returns nil when no benchmark exists for the key
func (db *DB) GetBenchmark(ctx context.Context, deviceID string, typ BenchmarkType, metric string) (*Benchmark, error) {
	query := `SELECT ` + benchmarkColumns + `
		FROM efficiency_benchmarks
		WHERE device_id = $1 AND benchmark_type = $2 AND metric_name = $3
	`
	return db.getBenchmark(ctx, query, deviceID, string(typ), metric)
}

// GetBenchmarkByID returns nil when id is unknown
func (db *DB) GetBenchmarkByID(ctx context.Context, id string) (*Benchmark, error) {
	query := `SELECT ` + benchmarkColumns + `
		FROM efficiency_benchmarks
		WHERE id = $1
	`
	return db.getBenchmark(ctx, query, id)
}

func (db *DB) getBenchmark(ctx context.Context, query string, params ...any) (*Benchmark, error) {
	b, err := scanBenchmark(db.QueryRowContext(ctx, query, params...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get benchmark: %w", err)
	}
	return b, nil
}

func scanBenchmark(row rowScanner) (*Benchmark, error) {
	var b Benchmark
	var typ string
	if err := row.Scan(
		&b.ID,
		&b.DeviceID,
		&typ,
		&b.MetricName,
		&b.Value,
		&b.PeriodStart,
		&b.PeriodEnd,
		&b.CalculatedFromDays,
		&b.IsActive,
		&b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.Type = BenchmarkType(typ)
	b.PeriodStart = Date(b.PeriodStart)
	b.PeriodEnd = Date(b.PeriodEnd)
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

// ListActiveBenchmarks returns the active benchmarks of typ ordered by device and metric
func (db *DB) ListActiveBenchmarks(ctx context.Context, typ BenchmarkType) ([]*Benchmark, error) {
	query := `SELECT ` + benchmarkColumns + `
		FROM efficiency_benchmarks
		WHERE benchmark_type = $1 AND is_active = $2
		ORDER BY device_id, metric_name
	`

	rows, err := db.QueryContext(ctx, query, string(typ), true)
	if err != nil {
		return nil, fmt.Errorf("failed to list benchmarks: %w", err)
	}
	defer rows.Close()

	var out []*Benchmark
	for rows.Next() {
		b, err := scanBenchmark(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
