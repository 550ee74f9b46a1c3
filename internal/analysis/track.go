package analysis

import (
	"context"
	"fmt"
	"time"
)

// VehicleTrack reconstructs a vehicle's trajectory: its detector visits
// ordered ascending by timestamp, optionally bounded by an inclusive time
// window. A vehicle with no sightings yields an empty track, not an error;
// callers distinguish "no track" from "track shorter than K" themselves.
func (e *Engine) VehicleTrack(ctx context.Context, vehicleID string, start, end *time.Time) ([]VisitRecord, error) {
	if vehicleID == "" {
		return nil, fmt.Errorf("%w: vehicle id is required", ErrInvalidParams)
	}

	sightings, err := e.store.VehicleSightings(ctx, vehicleID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load sightings for vehicle %q: %w", vehicleID, err)
	}

	track := make([]VisitRecord, 0, len(sightings))
	for _, s := range sightings {
		track = append(track, VisitRecord{
			DetectorID:         s.DetectorID,
			DetectorExternalID: s.DetectorExternalID,
			Latitude:           s.Latitude,
			Longitude:          s.Longitude,
			Timestamp:          s.Timestamp,
			SpeedKMH:           s.SpeedKMH,
		})
	}

	return track, nil
}
