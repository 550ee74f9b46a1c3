package analysis

import (
	"context"
	"fmt"

	"github.com/banshee-data/traffic.report/internal/db"
	"github.com/banshee-data/traffic.report/internal/monitoring"
)

// BuildRoadGraph materializes a road-network edge for every detector pair
// within maxDistanceMeters of each other (great-circle), skipping pairs that
// already have an edge in either direction. New edges land in a single
// transaction. O(n²) in detector count, which stays in the hundreds.
func (e *Engine) BuildRoadGraph(ctx context.Context, maxDistanceMeters float64) (*GraphBuildResult, error) {
	if maxDistanceMeters <= 0 {
		return nil, fmt.Errorf("%w: max_distance_meters must be positive, got %v", ErrInvalidParams, maxDistanceMeters)
	}

	detectors, err := e.store.ListDetectors()
	if err != nil {
		return nil, fmt.Errorf("failed to list detectors: %w", err)
	}

	var edges []db.RoadNetworkEdge
	for i := range detectors {
		for j := i + 1; j < len(detectors); j++ {
			a, b := &detectors[i], &detectors[j]

			distance := haversineDistance(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
			if distance > maxDistanceMeters {
				continue
			}

			exists, err := e.store.EdgeExistsBetween(ctx, a.ID, b.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to check edge %s-%s: %w", a.ExternalID, b.ExternalID, err)
			}
			if exists {
				continue
			}

			edges = append(edges, db.RoadNetworkEdge{
				FromDetectorID: a.ID,
				ToDetectorID:   b.ID,
				DistanceMeters: distance,
			})
		}
	}

	if err := e.store.InsertEdges(ctx, edges); err != nil {
		return nil, fmt.Errorf("failed to persist edges: %w", err)
	}

	monitoring.Logf("road graph build: %d detectors, %d edges created (threshold %.0fm)",
		len(detectors), len(edges), maxDistanceMeters)

	return &GraphBuildResult{
		DetectorsCount: len(detectors),
		EdgesCreated:   len(edges),
	}, nil
}
