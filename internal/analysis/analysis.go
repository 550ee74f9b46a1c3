// Package analysis implements the traffic-flow analysis core: road-graph
// construction from detector coordinates, vehicle trajectory reconstruction,
// joint-movement detection, and route clustering.
//
// All operations are synchronous, stateless reads over the store (the graph
// builder additionally writes edges). Parameter validation happens before
// any store access; store errors propagate to the caller unmodified.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/traffic.report/internal/db"
)

// ErrInvalidParams is wrapped by all parameter validation failures.
var ErrInvalidParams = errors.New("invalid parameters")

// Store is the persistence surface the engine consumes. *db.DB satisfies it.
type Store interface {
	ListDetectors() ([]db.Detector, error)
	EdgeExistsBetween(ctx context.Context, a, b string) (bool, error)
	InsertEdges(ctx context.Context, edges []db.RoadNetworkEdge) error
	VehicleSightings(ctx context.Context, vehicleID string, start, end *time.Time) ([]db.Sighting, error)
	SightingsInWindow(ctx context.Context, start, end time.Time, excludeVehicle string) ([]db.Sighting, error)
}

// Engine runs the analysis operations against a Store.
type Engine struct {
	store Store
}

// NewEngine returns an Engine backed by store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// VisitRecord is one detector visit in a reconstructed trajectory.
type VisitRecord struct {
	DetectorID         string    `json:"detector_id"`
	DetectorExternalID string    `json:"detector_external_id"`
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
	Timestamp          time.Time `json:"timestamp"`
	SpeedKMH           *float64  `json:"speed,omitempty"`
}

// GraphBuildResult reports what a road-graph build did.
type GraphBuildResult struct {
	DetectorsCount int `json:"detectors_count"`
	EdgesCreated   int `json:"edges_created"`
}

// JointMovementParams are the tunables for joint-movement detection.
// Zero values for the three tunables select the defaults.
type JointMovementParams struct {
	TargetVehicleID   string     `json:"target_vehicle_id"`
	MinCommonNodes    int        `json:"min_common_nodes"`
	MaxTimeGapSeconds int        `json:"max_time_gap_seconds"`
	MaxLeadSeconds    int        `json:"max_lead_seconds"`
	StartTime         *time.Time `json:"start_time,omitempty"`
	EndTime           *time.Time `json:"end_time,omitempty"`
}

// Defaults and bounds for the joint-movement tunables.
const (
	DefaultMinCommonNodes    = 3
	DefaultMaxTimeGapSeconds = 300
	DefaultMaxLeadSeconds    = 60
)

// Validate applies defaults to zero-valued tunables and rejects values
// outside their allowed ranges.
func (p *JointMovementParams) Validate() error {
	if p.TargetVehicleID == "" {
		return fmt.Errorf("%w: target vehicle id is required", ErrInvalidParams)
	}
	if p.MinCommonNodes == 0 {
		p.MinCommonNodes = DefaultMinCommonNodes
	}
	if p.MaxTimeGapSeconds == 0 {
		p.MaxTimeGapSeconds = DefaultMaxTimeGapSeconds
	}
	if p.MaxLeadSeconds == 0 {
		p.MaxLeadSeconds = DefaultMaxLeadSeconds
	}
	if p.MinCommonNodes < 2 || p.MinCommonNodes > 20 {
		return fmt.Errorf("%w: min_common_nodes must be in [2, 20], got %d", ErrInvalidParams, p.MinCommonNodes)
	}
	if p.MaxTimeGapSeconds < 10 || p.MaxTimeGapSeconds > 3600 {
		return fmt.Errorf("%w: max_time_gap_seconds must be in [10, 3600], got %d", ErrInvalidParams, p.MaxTimeGapSeconds)
	}
	if p.MaxLeadSeconds < 5 || p.MaxLeadSeconds > 300 {
		return fmt.Errorf("%w: max_lead_seconds must be in [5, 300], got %d", ErrInvalidParams, p.MaxLeadSeconds)
	}
	return nil
}

// Match records both vehicles passing the same detector within tolerance.
type Match struct {
	DetectorID         string    `json:"detector_id"`
	DetectorExternalID string    `json:"detector_external_id"`
	TargetTimestamp    time.Time `json:"target_timestamp"`
	OtherTimestamp     time.Time `json:"other_timestamp"`
	TimeDiffSeconds    float64   `json:"time_diff_seconds"`
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
}

// JointMovement is one candidate vehicle that qualified as moving together
// with the target.
type JointMovement struct {
	VehicleID        string    `json:"vehicle_id"`
	CommonNodesCount int       `json:"common_nodes_count"`
	Matches          []Match   `json:"matches"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	DurationSeconds  float64   `json:"duration_seconds"`
}

// RouteClusterParams are the tunables for route clustering. Zero values for
// TopN and MinVehiclesPerRoute select the defaults.
type RouteClusterParams struct {
	StartTime           time.Time `json:"start_time"`
	EndTime             time.Time `json:"end_time"`
	TopN                int       `json:"top_n"`
	MinVehiclesPerRoute int       `json:"min_vehicles_per_route"`
}

// Defaults for route clustering.
const (
	DefaultTopN                = 10
	DefaultMinVehiclesPerRoute = 2
)

// Validate applies defaults and rejects malformed windows or out-of-range
// tunables.
func (p *RouteClusterParams) Validate() error {
	if p.StartTime.IsZero() || p.EndTime.IsZero() {
		return fmt.Errorf("%w: start_time and end_time are required", ErrInvalidParams)
	}
	if !p.StartTime.Before(p.EndTime) {
		return fmt.Errorf("%w: start_time must be before end_time", ErrInvalidParams)
	}
	if p.TopN == 0 {
		p.TopN = DefaultTopN
	}
	if p.MinVehiclesPerRoute == 0 {
		p.MinVehiclesPerRoute = DefaultMinVehiclesPerRoute
	}
	if p.TopN < 1 || p.TopN > 50 {
		return fmt.Errorf("%w: top_n must be in [1, 50], got %d", ErrInvalidParams, p.TopN)
	}
	if p.MinVehiclesPerRoute < 1 {
		return fmt.Errorf("%w: min_vehicles_per_route must be >= 1, got %d", ErrInvalidParams, p.MinVehiclesPerRoute)
	}
	return nil
}

// RouteCoordinate is one point on a route's representative path.
type RouteCoordinate struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	DetectorID string  `json:"detector_id"`
}

// RouteCluster is one group of vehicles that traveled an identical detector
// sequence, with aggregate statistics.
type RouteCluster struct {
	RouteSignature            string            `json:"route_signature"`
	DetectorSequence          []string          `json:"detector_sequence"`
	TotalVehicles             int               `json:"total_vehicles"`
	IntensityPerHour          float64           `json:"intensity_per_hour"`
	AverageSpeedKMH           *float64          `json:"average_speed_kmh"`
	AveragePassageTimeSeconds *float64          `json:"average_passage_time_seconds"`
	Coordinates               []RouteCoordinate `json:"coordinates"`
	Vehicles                  []string          `json:"vehicles"`
}

// RouteClustering is the full clustering result for a time window.
type RouteClustering struct {
	Routes                []RouteCluster `json:"routes"`
	TimeRangeHours        float64        `json:"time_range_hours"`
	TotalVehiclesAnalyzed int            `json:"total_vehicles_analyzed"`
}
