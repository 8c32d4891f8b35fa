package database

import (
	"context"
	"fmt"
	"time"
)

const anomalyColumns = `device_id, date, total_energy_kwh, mean_kwh, stddev_kwh, zscore, detected_at`

// UpsertAnomaly records a flagged day, replacing an earlier detection of the same day
func (db *DB) UpsertAnomaly(ctx context.Context, a *Anomaly) error {
	query := `
		INSERT INTO energy_anomalies (` + anomalyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (device_id, date) DO UPDATE
		SET total_energy_kwh = EXCLUDED.total_energy_kwh,
		    mean_kwh = EXCLUDED.mean_kwh,
		    stddev_kwh = EXCLUDED.stddev_kwh,
		    zscore = EXCLUDED.zscore,
		    detected_at = EXCLUDED.detected_at
	`
	_, err := db.ExecContext(ctx, query,
		a.DeviceID,
		Date(a.Date),
		a.TotalEnergyKWh,
		a.MeanKWh,
		a.StdDevKWh,
		a.ZScore,
		a.DetectedAt.UTC(),
	)
	if err != nil {
		return &PersistenceError{Table: "energy_anomalies", Key: a.DeviceID + "/" + Date(a.Date).Format(time.DateOnly), Err: err}
	}
	return nil
}

// QueryAnomalies returns anomalies dated within [from, to] ordered by date then device.
// An empty deviceID selects every device.
func (db *DB) QueryAnomalies(ctx context.Context, deviceID string, from, to time.Time) ([]*Anomaly, error) {
	var a args
	where := "date >= " + a.next(Date(from)) + " AND date <= " + a.next(Date(to))
	if deviceID != "" {
		where += " AND device_id = " + a.next(deviceID)
	}
	query := `SELECT ` + anomalyColumns + `
		FROM energy_anomalies
		WHERE ` + where + `
		ORDER BY date, device_id
	`

	rows, err := db.QueryContext(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("failed to query anomalies: %w", err)
	}
	defer rows.Close()

	var out []*Anomaly
	for rows.Next() {
		var an Anomaly
		if err := rows.Scan(&an.DeviceID, &an.Date, &an.TotalEnergyKWh, &an.MeanKWh, &an.StdDevKWh, &an.ZScore, &an.DetectedAt); err != nil {
			return nil, err
		}
		an.Date = Date(an.Date)
		an.DetectedAt = an.DetectedAt.UTC()
		out = append(out, &an)
	}
	return out, rows.Err()
}
