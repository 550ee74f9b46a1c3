package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Detector represents a fixed sensing point. ExternalID is the identifier
// printed on the sensor hardware and used in source data feeds; ID is the
// internal row identifier. Coordinates are immutable after provisioning.
type Detector struct {
	ID           string    `json:"id"`
	ExternalID   string    `json:"detector_id"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Description  *string   `json:"description"`
	LocationName *string   `json:"location_name"`
	CreatedAt    time.Time `json:"created_at"`
}

func validateCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", lon)
	}
	return nil
}

// CreateDetector inserts a new detector. The ID is assigned here unless the
// caller supplied one.
func (db *DB) CreateDetector(d *Detector) error {
	if d.ExternalID == "" {
		return fmt.Errorf("detector external id is required")
	}
	if err := validateCoordinates(d.Latitude, d.Longitude); err != nil {
		return fmt.Errorf("invalid detector coordinates: %w", err)
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}

	query := `
		INSERT INTO detectors (id, external_id, latitude, longitude, description, location_name)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := db.Exec(query, d.ID, d.ExternalID, d.Latitude, d.Longitude, d.Description, d.LocationName)
	if err != nil {
		return fmt.Errorf("failed to create detector: %w", err)
	}

	return nil
}

// GetDetectorByExternalID retrieves a detector by its hardware identifier.
func (db *DB) GetDetectorByExternalID(externalID string) (*Detector, error) {
	query := `
		SELECT id, external_id, latitude, longitude, description, location_name, created_at
		FROM detectors
		WHERE external_id = ?
	`

	var d Detector
	var createdAtUnix int64
	err := db.QueryRow(query, externalID).Scan(
		&d.ID,
		&d.ExternalID,
		&d.Latitude,
		&d.Longitude,
		&d.Description,
		&d.LocationName,
		&createdAtUnix,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("detector %q: %w", externalID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get detector: %w", err)
	}

	d.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	return &d, nil
}

// ListDetectors returns all detectors ordered by external id.
func (db *DB) ListDetectors() ([]Detector, error) {
	query := `
		SELECT id, external_id, latitude, longitude, description, location_name, created_at
		FROM detectors
		ORDER BY external_id ASC
	`

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query detectors: %w", err)
	}
	defer rows.Close()

	var detectors []Detector
	for rows.Next() {
		var d Detector
		var createdAtUnix int64
		if err := rows.Scan(
			&d.ID,
			&d.ExternalID,
			&d.Latitude,
			&d.Longitude,
			&d.Description,
			&d.LocationName,
			&createdAtUnix,
		); err != nil {
			return nil, fmt.Errorf("failed to scan detector: %w", err)
		}
		d.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
		detectors = append(detectors, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating detectors: %w", err)
	}

	return detectors, nil
}
