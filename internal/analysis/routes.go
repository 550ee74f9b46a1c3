package analysis

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// signatureDelimiter joins external detector ids into a route signature.
const signatureDelimiter = "->"

// ClusterRoutes groups the vehicles active in [start, end] by identical
// ordered detector sequence and reports per-route statistics for the most
// intense routes. Signatures carry no time or distance normalization, so
// vehicles covering the same sequence at very different paces share a route.
func (e *Engine) ClusterRoutes(ctx context.Context, p RouteClusterParams) (*RouteClustering, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	sightings, err := e.store.SightingsInWindow(ctx, p.StartTime, p.EndTime, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load window sightings: %w", err)
	}

	timeRangeHours := p.EndTime.Sub(p.StartTime).Hours()

	// Group per vehicle, drop trajectories that cannot form a route, then
	// bucket by signature. Signature buckets keep first-seen order so the
	// final sort is deterministic.
	groups := make(map[string][]candidateTrack)
	var signatureOrder []string
	for _, c := range groupByVehicle(sightings) {
		if len(c.track) < 2 {
			continue
		}

		ids := make([]string, len(c.track))
		for i, s := range c.track {
			ids[i] = s.DetectorExternalID
		}
		sig := strings.Join(ids, signatureDelimiter)

		if _, seen := groups[sig]; !seen {
			signatureOrder = append(signatureOrder, sig)
		}
		groups[sig] = append(groups[sig], c)
	}

	var routes []RouteCluster
	for _, sig := range signatureOrder {
		members := groups[sig]
		if len(members) < p.MinVehiclesPerRoute {
			continue
		}
		routes = append(routes, buildRouteCluster(sig, members, timeRangeHours))
	}

	// Intensity descending; signature breaks ties so equal-intensity routes
	// come back in a stable order.
	sort.SliceStable(routes, func(i, j int) bool {
		if routes[i].IntensityPerHour != routes[j].IntensityPerHour {
			return routes[i].IntensityPerHour > routes[j].IntensityPerHour
		}
		return routes[i].RouteSignature < routes[j].RouteSignature
	})
	if len(routes) > p.TopN {
		routes = routes[:p.TopN]
	}
	if routes == nil {
		routes = []RouteCluster{}
	}

	// Distinct vehicles across the reported routes. Each vehicle has exactly
	// one signature, so no double counting is possible.
	distinct := make(map[string]struct{})
	for _, r := range routes {
		for _, v := range r.Vehicles {
			distinct[v] = struct{}{}
		}
	}

	return &RouteClustering{
		Routes:                routes,
		TimeRangeHours:        round2(timeRangeHours),
		TotalVehiclesAnalyzed: len(distinct),
	}, nil
}

func buildRouteCluster(sig string, members []candidateTrack, timeRangeHours float64) RouteCluster {
	intensity := 0.0
	if timeRangeHours > 0 {
		intensity = float64(len(members)) / timeRangeHours
	}

	var speeds []float64
	passageTimes := make([]float64, 0, len(members))
	vehicles := make([]string, 0, len(members))
	for _, m := range members {
		vehicles = append(vehicles, m.vehicleID)
		for _, s := range m.track {
			if s.SpeedKMH != nil {
				speeds = append(speeds, *s.SpeedKMH)
			}
		}
		first := m.track[0].Timestamp
		last := m.track[len(m.track)-1].Timestamp
		passageTimes = append(passageTimes, last.Sub(first).Seconds())
	}

	var avgSpeed *float64
	if len(speeds) > 0 {
		v := round2(stat.Mean(speeds, nil))
		avgSpeed = &v
	}
	var avgPassage *float64
	if len(passageTimes) > 0 {
		v := round2(stat.Mean(passageTimes, nil))
		avgPassage = &v
	}

	// Representative path from the first member, for map display. Not an
	// aggregate; every member visited the same detectors in the same order.
	rep := members[0].track
	coordinates := make([]RouteCoordinate, 0, len(rep))
	for _, s := range rep {
		coordinates = append(coordinates, RouteCoordinate{
			Latitude:   s.Latitude,
			Longitude:  s.Longitude,
			DetectorID: s.DetectorExternalID,
		})
	}

	return RouteCluster{
		RouteSignature:            sig,
		DetectorSequence:          strings.Split(sig, signatureDelimiter),
		TotalVehicles:             len(members),
		IntensityPerHour:          round2(intensity),
		AverageSpeedKMH:           avgSpeed,
		AveragePassageTimeSeconds: avgPassage,
		Coordinates:               coordinates,
		Vehicles:                  vehicles,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
