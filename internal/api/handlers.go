package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/traffic.report/internal/analysis"
	"github.com/banshee-data/traffic.report/internal/db"
	"github.com/banshee-data/traffic.report/internal/httputil"
	"github.com/banshee-data/traffic.report/internal/units"
)

// Bounds for the graph-build distance threshold, matching the practical
// range of detector spacing in the city network.
const (
	minGraphDistanceMeters     = 10.0
	maxGraphDistanceMeters     = 10000.0
	defaultGraphDistanceMeters = 1000.0
)

func (s *Server) buildGraph(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	maxDistance := defaultGraphDistanceMeters
	if raw := r.URL.Query().Get("max_distance_meters"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			httputil.BadRequest(w, "invalid max_distance_meters")
			return
		}
		maxDistance = parsed
	}
	if maxDistance < minGraphDistanceMeters || maxDistance > maxGraphDistanceMeters {
		httputil.BadRequest(w, fmt.Sprintf("max_distance_meters must be in [%v, %v]",
			minGraphDistanceMeters, maxGraphDistanceMeters))
		return
	}

	result, err := s.engine.BuildRoadGraph(r.Context(), maxDistance)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("graph build failed: %v", err))
		return
	}

	httputil.WriteJSONOK(w, map[string]interface{}{
		"status":              "success",
		"detectors_count":     result.DetectorsCount,
		"edges_created":       result.EdgesCreated,
		"max_distance_meters": maxDistance,
	})
}

// vehicleTrackResponse is the GetVehicleTrack payload.
type vehicleTrackResponse struct {
	VehicleIdentifier string                 `json:"vehicle_identifier"`
	Readings          []analysis.VisitRecord `json:"readings"`
	StartTime         *time.Time             `json:"start_time"`
	EndTime           *time.Time             `json:"end_time"`
	Units             string                 `json:"units"`
}

func (s *Server) vehicleTrack(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	vehicleID := strings.TrimPrefix(r.URL.Path, "/traffic/vehicle-track/")
	if vehicleID == "" || strings.Contains(vehicleID, "/") {
		httputil.BadRequest(w, "vehicle identifier is required")
		return
	}

	start, err := parseTimeParam(r, "start_time")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	end, err := parseTimeParam(r, "end_time")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	targetUnits, err := s.requestUnits(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	track, err := s.engine.VehicleTrack(r.Context(), vehicleID, start, end)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load track: %v", err))
		return
	}
	if len(track) == 0 {
		httputil.NotFound(w, fmt.Sprintf("no track found for vehicle %s", vehicleID))
		return
	}

	for i := range track {
		track[i].SpeedKMH = convertOptionalSpeed(track[i].SpeedKMH, targetUnits)
	}

	first := track[0].Timestamp
	last := track[len(track)-1].Timestamp
	httputil.WriteJSONOK(w, vehicleTrackResponse{
		VehicleIdentifier: vehicleID,
		Readings:          track,
		StartTime:         &first,
		EndTime:           &last,
		Units:             targetUnits,
	})
}

// jointMovementResponse is the FindJointMovements payload.
type jointMovementResponse struct {
	TargetVehicleID string                   `json:"target_vehicle_id"`
	TargetTrack     []analysis.VisitRecord   `json:"target_track"`
	JointMovements  []analysis.JointMovement `json:"joint_movements"`
}

func (s *Server) jointMovement(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var params analysis.JointMovementParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := params.Validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	targetTrack, err := s.engine.VehicleTrack(r.Context(), params.TargetVehicleID, params.StartTime, params.EndTime)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load target track: %v", err))
		return
	}
	if len(targetTrack) == 0 {
		httputil.NotFound(w, fmt.Sprintf("no track found for vehicle %s", params.TargetVehicleID))
		return
	}

	movements, err := s.engine.FindJointMovements(r.Context(), params)
	if err != nil {
		if errors.Is(err, analysis.ErrInvalidParams) {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("joint movement analysis failed: %v", err))
		return
	}

	httputil.WriteJSONOK(w, jointMovementResponse{
		TargetVehicleID: params.TargetVehicleID,
		TargetTrack:     targetTrack,
		JointMovements:  movements,
	})
}

func (s *Server) routeClustering(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var params analysis.RouteClusterParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	clustering, err := s.engine.ClusterRoutes(r.Context(), params)
	if err != nil {
		if errors.Is(err, analysis.ErrInvalidParams) {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("route clustering failed: %v", err))
		return
	}

	httputil.WriteJSONOK(w, clustering)
}

// createDetectorRequest is the detector provisioning payload.
type createDetectorRequest struct {
	DetectorID   string  `json:"detector_id"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Description  *string `json:"description"`
	LocationName *string `json:"location_name"`
}

func (s *Server) detectors(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		detectors, err := s.db.ListDetectors()
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to list detectors: %v", err))
			return
		}
		if detectors == nil {
			detectors = []db.Detector{}
		}
		httputil.WriteJSONOK(w, detectors)

	case http.MethodPost:
		var req createDetectorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		if req.DetectorID == "" {
			httputil.BadRequest(w, "detector_id is required")
			return
		}
		if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
			httputil.BadRequest(w, "latitude/longitude out of range")
			return
		}

		detector := &db.Detector{
			ExternalID:   req.DetectorID,
			Latitude:     req.Latitude,
			Longitude:    req.Longitude,
			Description:  req.Description,
			LocationName: req.LocationName,
		}
		if err := s.db.CreateDetector(detector); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to create detector: %v", err))
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, detector)

	default:
		httputil.MethodNotAllowed(w)
	}
}

// createReadingRequest is the sighting ingest payload. DetectorID is the
// external hardware identifier, as in the source feeds.
type createReadingRequest struct {
	DetectorID        string    `json:"detector_id"`
	VehicleIdentifier string    `json:"vehicle_identifier"`
	Timestamp         time.Time `json:"timestamp"`
	SpeedKMH          *float64  `json:"speed"`
}

func (s *Server) createReading(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req createReadingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.VehicleIdentifier == "" || req.DetectorID == "" || req.Timestamp.IsZero() {
		httputil.BadRequest(w, "detector_id, vehicle_identifier and timestamp are required")
		return
	}

	detector, err := s.db.GetDetectorByExternalID(req.DetectorID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			httputil.NotFound(w, fmt.Sprintf("unknown detector %s", req.DetectorID))
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("failed to resolve detector: %v", err))
		return
	}

	reading := &db.TrackReading{
		DetectorID: detector.ID,
		VehicleID:  req.VehicleIdentifier,
		Timestamp:  req.Timestamp,
		SpeedKMH:   req.SpeedKMH,
	}
	if err := s.db.InsertReading(reading); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to insert reading: %v", err))
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, reading)
}

// windowSummaryResponse is the dashboard summary payload. Speed fields are
// absent when the window carries no speed data.
type windowSummaryResponse struct {
	ReadingCount     int      `json:"reading_count"`
	DistinctVehicles int      `json:"distinct_vehicles"`
	MeanSpeed        *float64 `json:"mean_speed,omitempty"`
	P50Speed         *float64 `json:"p50_speed,omitempty"`
	P85Speed         *float64 `json:"p85_speed,omitempty"`
	Units            string   `json:"units"`
}

func (s *Server) windowSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	start, err := parseTimeParam(r, "start_time")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	end, err := parseTimeParam(r, "end_time")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if start == nil || end == nil {
		httputil.BadRequest(w, "start_time and end_time are required")
		return
	}
	if !start.Before(*end) {
		httputil.BadRequest(w, "start_time must be before end_time")
		return
	}
	targetUnits, err := s.requestUnits(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	summary, err := s.db.ReadingsSummary(r.Context(), *start, *end)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to summarise readings: %v", err))
		return
	}

	resp := windowSummaryResponse{
		ReadingCount:     summary.ReadingCount,
		DistinctVehicles: summary.DistinctVehicles,
		Units:            targetUnits,
	}
	if len(summary.Speeds) > 0 {
		// Speeds come back sorted ascending, as Quantile requires.
		mean := units.ConvertSpeed(stat.Mean(summary.Speeds, nil), targetUnits)
		p50 := units.ConvertSpeed(stat.Quantile(0.5, stat.Empirical, summary.Speeds, nil), targetUnits)
		p85 := units.ConvertSpeed(stat.Quantile(0.85, stat.Empirical, summary.Speeds, nil), targetUnits)
		resp.MeanSpeed = &mean
		resp.P50Speed = &p50
		resp.P85Speed = &p85
	}

	httputil.WriteJSONOK(w, resp)
}

// convertOptionalSpeed converts a nullable km/h speed to the target units.
func convertOptionalSpeed(speed *float64, targetUnits string) *float64 {
	if speed == nil {
		return nil
	}
	converted := units.ConvertSpeed(*speed, targetUnits)
	return &converted
}
