package analysis

import (
	"context"
	"sort"
	"time"

	"github.com/banshee-data/traffic.report/internal/db"
)

// fakeStore is an in-memory Store for engine tests. Query methods reproduce
// the SQL layer's ordering contracts so the engine sees realistic input.
type fakeStore struct {
	detectors []db.Detector
	edges     []db.RoadNetworkEdge
	sightings []db.Sighting
}

func (f *fakeStore) ListDetectors() ([]db.Detector, error) {
	return f.detectors, nil
}

func (f *fakeStore) EdgeExistsBetween(_ context.Context, a, b string) (bool, error) {
	for _, e := range f.edges {
		if (e.FromDetectorID == a && e.ToDetectorID == b) ||
			(e.FromDetectorID == b && e.ToDetectorID == a) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) InsertEdges(_ context.Context, edges []db.RoadNetworkEdge) error {
	f.edges = append(f.edges, edges...)
	return nil
}

func (f *fakeStore) VehicleSightings(_ context.Context, vehicleID string, start, end *time.Time) ([]db.Sighting, error) {
	var out []db.Sighting
	for _, s := range f.sightings {
		if s.VehicleID != vehicleID {
			continue
		}
		if start != nil && s.Timestamp.Before(*start) {
			continue
		}
		if end != nil && s.Timestamp.After(*end) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (f *fakeStore) SightingsInWindow(_ context.Context, start, end time.Time, excludeVehicle string) ([]db.Sighting, error) {
	var out []db.Sighting
	for _, s := range f.sightings {
		if s.VehicleID == excludeVehicle {
			continue
		}
		if s.Timestamp.Before(start) || s.Timestamp.After(end) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].VehicleID != out[j].VehicleID {
			return out[i].VehicleID < out[j].VehicleID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// t0 anchors all test timestamps.
var t0 = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

// sighting builds a sighting at detector det (id and external id share the
// value) offset seconds after t0.
func sighting(vehicle, det string, offsetSeconds float64) db.Sighting {
	return db.Sighting{
		DetectorID:         det,
		DetectorExternalID: det,
		VehicleID:          vehicle,
		Timestamp:          t0.Add(time.Duration(offsetSeconds * float64(time.Second))),
	}
}

func sightingWithSpeed(vehicle, det string, offsetSeconds, speedKMH float64) db.Sighting {
	s := sighting(vehicle, det, offsetSeconds)
	s.SpeedKMH = &speedKMH
	return s
}
