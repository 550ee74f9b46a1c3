package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TrackReading records one vehicle passing one detector at one instant.
// Readings are written by the ingestion feed and never mutated.
type TrackReading struct {
	ID         string    `json:"id"`
	DetectorID string    `json:"detector_id"`
	VehicleID  string    `json:"vehicle_id"`
	Timestamp  time.Time `json:"timestamp"`
	SpeedKMH   *float64  `json:"speed_kmh"`
}

// Sighting is a track reading joined to its detector, the shape the
// analysis engine consumes. Timestamps are UTC.
type Sighting struct {
	DetectorID         string
	DetectorExternalID string
	Latitude           float64
	Longitude          float64
	VehicleID          string
	Timestamp          time.Time
	SpeedKMH           *float64
}

// unixFloat converts a time to fractional unix seconds, the storage
// representation for reading timestamps. float64 resolution at the current
// epoch is a few hundred nanoseconds, so sub-microsecond components do not
// round-trip; window bounds go through the same conversion, so comparisons
// stay consistent.
func unixFloat(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnixFloat(ts float64) time.Time {
	return time.Unix(0, int64(ts*1e9)).UTC()
}

// InsertReading inserts a single sighting row.
func (db *DB) InsertReading(r *TrackReading) error {
	if r.VehicleID == "" {
		return fmt.Errorf("reading vehicle id is required")
	}
	if r.DetectorID == "" {
		return fmt.Errorf("reading detector id is required")
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("reading timestamp is required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	query := `
		INSERT INTO track_readings (id, detector_id, vehicle_id, timestamp_unix, speed_kmh)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := db.Exec(query, r.ID, r.DetectorID, r.VehicleID, unixFloat(r.Timestamp), r.SpeedKMH)
	if err != nil {
		return fmt.Errorf("failed to insert track reading: %w", err)
	}

	return nil
}

// sightingSelect is the shared join between readings and their detectors.
// Rows come back ascending by timestamp with rowid as the tiebreak, so
// readings inserted in arbitrary order sort deterministically.
const sightingSelect = `
	SELECT
		d.id, d.external_id, d.latitude, d.longitude,
		r.vehicle_id, r.timestamp_unix, r.speed_kmh
	FROM track_readings r
	JOIN detectors d ON d.id = r.detector_id
`

// VehicleSightings returns one vehicle's sightings, optionally bounded by an
// inclusive time window, ordered ascending by timestamp.
func (db *DB) VehicleSightings(ctx context.Context, vehicleID string, start, end *time.Time) ([]Sighting, error) {
	query := sightingSelect + ` WHERE r.vehicle_id = ?`
	args := []interface{}{vehicleID}

	if start != nil {
		query += ` AND r.timestamp_unix >= ?`
		args = append(args, unixFloat(*start))
	}
	if end != nil {
		query += ` AND r.timestamp_unix <= ?`
		args = append(args, unixFloat(*end))
	}
	query += ` ORDER BY r.timestamp_unix ASC, r.rowid ASC`

	return db.querySightings(ctx, query, args...)
}

// SightingsInWindow returns all sightings in the inclusive [start, end]
// window, excluding excludeVehicle when non-empty. Rows are ordered by
// vehicle then timestamp so callers can group sequentially.
func (db *DB) SightingsInWindow(ctx context.Context, start, end time.Time, excludeVehicle string) ([]Sighting, error) {
	query := sightingSelect + ` WHERE r.timestamp_unix >= ? AND r.timestamp_unix <= ?`
	args := []interface{}{unixFloat(start), unixFloat(end)}

	if excludeVehicle != "" {
		query += ` AND r.vehicle_id != ?`
		args = append(args, excludeVehicle)
	}
	query += ` ORDER BY r.vehicle_id ASC, r.timestamp_unix ASC, r.rowid ASC`

	return db.querySightings(ctx, query, args...)
}

func (db *DB) querySightings(ctx context.Context, query string, args ...interface{}) ([]Sighting, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sightings: %w", err)
	}
	defer rows.Close()

	var sightings []Sighting
	for rows.Next() {
		var s Sighting
		var ts float64
		if err := rows.Scan(
			&s.DetectorID,
			&s.DetectorExternalID,
			&s.Latitude,
			&s.Longitude,
			&s.VehicleID,
			&ts,
			&s.SpeedKMH,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sighting: %w", err)
		}
		s.Timestamp = timeFromUnixFloat(ts)
		sightings = append(sightings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sightings: %w", err)
	}

	return sightings, nil
}

// WindowSummary holds basic reading aggregates over a time window, used by
// the dashboard summary endpoint.
type WindowSummary struct {
	ReadingCount     int
	DistinctVehicles int
	Speeds           []float64
}

// ReadingsSummary counts readings and distinct vehicles in the window and
// collects all non-null speeds for percentile computation.
func (db *DB) ReadingsSummary(ctx context.Context, start, end time.Time) (*WindowSummary, error) {
	var sum WindowSummary

	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT vehicle_id)
		FROM track_readings
		WHERE timestamp_unix >= ? AND timestamp_unix <= ?
	`, unixFloat(start), unixFloat(end)).Scan(&sum.ReadingCount, &sum.DistinctVehicles)
	if err != nil {
		return nil, fmt.Errorf("failed to summarise readings: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT speed_kmh
		FROM track_readings
		WHERE timestamp_unix >= ? AND timestamp_unix <= ? AND speed_kmh IS NOT NULL
		ORDER BY speed_kmh ASC
	`, unixFloat(start), unixFloat(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query speeds: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan speed: %w", err)
		}
		sum.Speeds = append(sum.Speeds, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating speeds: %w", err)
	}

	return &sum, nil
}
