package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/traffic.report/internal/analysis"
	"github.com/banshee-data/traffic.report/internal/db"
	"github.com/banshee-data/traffic.report/internal/units"
)

var testTime = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func setupTestServer(t *testing.T) (*Server, *db.DB) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := db.NewDB(dbPath)
	require.NoError(t, err, "failed to create database")
	t.Cleanup(func() { database.Close() })

	engine := analysis.NewEngine(database)
	return NewServer(database, engine, units.KMH), database
}

func seedDetectorAt(t *testing.T, database *db.DB, externalID string, lat, lon float64) *db.Detector {
	t.Helper()
	d := &db.Detector{ExternalID: externalID, Latitude: lat, Longitude: lon}
	require.NoError(t, database.CreateDetector(d))
	return d
}

func seedReadingAt(t *testing.T, database *db.DB, detectorID, vehicle string, ts time.Time, speed *float64) {
	t.Helper()
	require.NoError(t, database.InsertReading(&db.TrackReading{
		DetectorID: detectorID,
		VehicleID:  vehicle,
		Timestamp:  ts,
		SpeedKMH:   speed,
	}))
}

func doRequest(t *testing.T, s *Server, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), "body: %s", w.Body.String())
}

func TestBuildGraphEndpoint(t *testing.T) {
	server, database := setupTestServer(t)
	// DET-1 and DET-2 ~556m apart, DET-3 far away.
	seedDetectorAt(t, database, "DET-1", 0, 0)
	seedDetectorAt(t, database, "DET-2", 0, 0.005)
	seedDetectorAt(t, database, "DET-3", 0, 1.0)

	w := doRequest(t, server, http.MethodPost, "/traffic/build-graph?max_distance_meters=1000", "")
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	var resp struct {
		Status         string  `json:"status"`
		DetectorsCount int     `json:"detectors_count"`
		EdgesCreated   int     `json:"edges_created"`
		MaxDistance    float64 `json:"max_distance_meters"`
	}
	decodeJSON(t, w, &resp)
	require.Equal(t, "success", resp.Status)
	require.Equal(t, 3, resp.DetectorsCount)
	require.Equal(t, 1, resp.EdgesCreated)
	require.Equal(t, 1000.0, resp.MaxDistance)

	// Rebuilding creates nothing new.
	w = doRequest(t, server, http.MethodPost, "/traffic/build-graph?max_distance_meters=1000", "")
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &resp)
	require.Equal(t, 0, resp.EdgesCreated)
}

func TestBuildGraphRejectsOutOfRangeDistance(t *testing.T) {
	server, _ := setupTestServer(t)

	for _, q := range []string{"max_distance_meters=5", "max_distance_meters=20000", "max_distance_meters=abc"} {
		w := doRequest(t, server, http.MethodPost, "/traffic/build-graph?"+q, "")
		require.Equal(t, http.StatusBadRequest, w.Code, "query %s", q)
	}
}

func TestBuildGraphMethodNotAllowed(t *testing.T) {
	server, _ := setupTestServer(t)
	w := doRequest(t, server, http.MethodGet, "/traffic/build-graph", "")
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestVehicleTrackEndpoint(t *testing.T) {
	server, database := setupTestServer(t)
	d1 := seedDetectorAt(t, database, "DET-1", 52.50, 13.40)
	d2 := seedDetectorAt(t, database, "DET-2", 52.51, 13.41)
	speed := 36.0
	seedReadingAt(t, database, d1.ID, "B-AB-1234", testTime, &speed)
	seedReadingAt(t, database, d2.ID, "B-AB-1234", testTime.Add(time.Minute), nil)

	w := doRequest(t, server, http.MethodGet, "/traffic/vehicle-track/B-AB-1234", "")
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	var resp struct {
		VehicleIdentifier string `json:"vehicle_identifier"`
		Readings          []struct {
			DetectorExternalID string   `json:"detector_external_id"`
			Speed              *float64 `json:"speed"`
		} `json:"readings"`
		Units string `json:"units"`
	}
	decodeJSON(t, w, &resp)
	require.Equal(t, "B-AB-1234", resp.VehicleIdentifier)
	require.Len(t, resp.Readings, 2)
	require.Equal(t, "DET-1", resp.Readings[0].DetectorExternalID)
	require.Equal(t, "DET-2", resp.Readings[1].DetectorExternalID)
	require.Equal(t, units.KMH, resp.Units)

	// Units conversion: 36 km/h = 10 m/s.
	w = doRequest(t, server, http.MethodGet, "/traffic/vehicle-track/B-AB-1234?units=mps", "")
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &resp)
	require.NotNil(t, resp.Readings[0].Speed)
	require.InDelta(t, 10.0, *resp.Readings[0].Speed, 1e-9)
	require.Nil(t, resp.Readings[1].Speed)
}

func TestVehicleTrackNotFound(t *testing.T) {
	server, _ := setupTestServer(t)
	w := doRequest(t, server, http.MethodGet, "/traffic/vehicle-track/NO-SUCH", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestVehicleTrackInvalidUnits(t *testing.T) {
	server, database := setupTestServer(t)
	d := seedDetectorAt(t, database, "DET-1", 52.5, 13.4)
	seedReadingAt(t, database, d.ID, "V1", testTime, nil)

	w := doRequest(t, server, http.MethodGet, "/traffic/vehicle-track/V1?units=furlongs", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJointMovementEndpoint(t *testing.T) {
	server, database := setupTestServer(t)
	detectors := make([]*db.Detector, 4)
	for i := range detectors {
		detectors[i] = seedDetectorAt(t, database, fmt.Sprintf("DET-%d", i), 52.5+float64(i)*0.005, 13.4)
	}
	// Target and shadow cross all four detectors 10s apart.
	for i, d := range detectors {
		seedReadingAt(t, database, d.ID, "TARGET", testTime.Add(time.Duration(i)*time.Minute), nil)
		seedReadingAt(t, database, d.ID, "SHADOW", testTime.Add(time.Duration(i)*time.Minute+10*time.Second), nil)
	}
	// A vehicle elsewhere in time.
	seedReadingAt(t, database, detectors[0].ID, "STRANGER", testTime.Add(3*time.Hour), nil)

	body := `{"target_vehicle_id": "TARGET"}`
	w := doRequest(t, server, http.MethodPost, "/traffic/joint-movement", body)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	var resp struct {
		TargetVehicleID string `json:"target_vehicle_id"`
		TargetTrack     []struct {
			DetectorExternalID string `json:"detector_external_id"`
		} `json:"target_track"`
		JointMovements []struct {
			VehicleID        string  `json:"vehicle_id"`
			CommonNodesCount int     `json:"common_nodes_count"`
			DurationSeconds  float64 `json:"duration_seconds"`
		} `json:"joint_movements"`
	}
	decodeJSON(t, w, &resp)
	require.Equal(t, "TARGET", resp.TargetVehicleID)
	require.Len(t, resp.TargetTrack, 4)
	require.Len(t, resp.JointMovements, 1)
	require.Equal(t, "SHADOW", resp.JointMovements[0].VehicleID)
	require.Equal(t, 4, resp.JointMovements[0].CommonNodesCount)
}

func TestJointMovementUnknownTarget(t *testing.T) {
	server, _ := setupTestServer(t)
	w := doRequest(t, server, http.MethodPost, "/traffic/joint-movement", `{"target_vehicle_id": "NO-SUCH"}`)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestJointMovementInvalidParams(t *testing.T) {
	server, _ := setupTestServer(t)

	tests := []string{
		`{}`,
		`{"target_vehicle_id": "X", "min_common_nodes": 1}`,
		`{"target_vehicle_id": "X", "max_lead_seconds": 1000}`,
		`not json`,
	}
	for _, body := range tests {
		w := doRequest(t, server, http.MethodPost, "/traffic/joint-movement", body)
		require.Equal(t, http.StatusBadRequest, w.Code, "body %s", body)
	}
}

func TestRouteClusteringEndpoint(t *testing.T) {
	server, database := setupTestServer(t)
	d1 := seedDetectorAt(t, database, "DET-1", 52.50, 13.40)
	d2 := seedDetectorAt(t, database, "DET-2", 52.51, 13.41)
	for _, vehicle := range []string{"CAR-1", "CAR-2"} {
		seedReadingAt(t, database, d1.ID, vehicle, testTime, nil)
		seedReadingAt(t, database, d2.ID, vehicle, testTime.Add(2*time.Minute), nil)
	}

	body := fmt.Sprintf(`{"start_time": %q, "end_time": %q}`,
		testTime.Format(time.RFC3339),
		testTime.Add(time.Hour).Format(time.RFC3339))
	w := doRequest(t, server, http.MethodPost, "/traffic/route-clustering", body)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	var resp struct {
		Routes []struct {
			RouteSignature   string   `json:"route_signature"`
			TotalVehicles    int      `json:"total_vehicles"`
			IntensityPerHour float64  `json:"intensity_per_hour"`
			Vehicles         []string `json:"vehicles"`
		} `json:"routes"`
		TimeRangeHours        float64 `json:"time_range_hours"`
		TotalVehiclesAnalyzed int     `json:"total_vehicles_analyzed"`
	}
	decodeJSON(t, w, &resp)
	require.Len(t, resp.Routes, 1)
	require.Equal(t, "DET-1->DET-2", resp.Routes[0].RouteSignature)
	require.Equal(t, 2, resp.Routes[0].TotalVehicles)
	require.Equal(t, 2.0, resp.Routes[0].IntensityPerHour)
	require.Equal(t, 1.0, resp.TimeRangeHours)
	require.Equal(t, 2, resp.TotalVehiclesAnalyzed)
}

func TestRouteClusteringInvalidWindow(t *testing.T) {
	server, _ := setupTestServer(t)
	w := doRequest(t, server, http.MethodPost, "/traffic/route-clustering", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDetectorsEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)

	// Empty list comes back as [], not null.
	w := doRequest(t, server, http.MethodGet, "/traffic/detectors", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `[]`, w.Body.String())

	w = doRequest(t, server, http.MethodPost, "/traffic/detectors",
		`{"detector_id": "DET-001", "latitude": 52.52, "longitude": 13.405, "location_name": "Alexanderplatz"}`)
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())

	var created db.Detector
	decodeJSON(t, w, &created)
	require.NotEmpty(t, created.ID)
	require.Equal(t, "DET-001", created.ExternalID)

	w = doRequest(t, server, http.MethodGet, "/traffic/detectors", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []db.Detector
	decodeJSON(t, w, &list)
	require.Len(t, list, 1)
}

func TestCreateDetectorValidation(t *testing.T) {
	server, _ := setupTestServer(t)

	tests := []string{
		`{}`,
		`{"detector_id": "X", "latitude": 91, "longitude": 0}`,
		`{"detector_id": "X", "latitude": 0, "longitude": -181}`,
	}
	for _, body := range tests {
		w := doRequest(t, server, http.MethodPost, "/traffic/detectors", body)
		require.Equal(t, http.StatusBadRequest, w.Code, "body %s", body)
	}
}

func TestCreateReadingEndpoint(t *testing.T) {
	server, database := setupTestServer(t)
	seedDetectorAt(t, database, "DET-001", 52.5, 13.4)

	body := fmt.Sprintf(`{"detector_id": "DET-001", "vehicle_identifier": "B-XY-99", "timestamp": %q, "speed": 55.5}`,
		testTime.Format(time.RFC3339))
	w := doRequest(t, server, http.MethodPost, "/traffic/readings", body)
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())

	var created db.TrackReading
	decodeJSON(t, w, &created)
	require.NotEmpty(t, created.ID)
	require.Equal(t, "B-XY-99", created.VehicleID)
	require.NotNil(t, created.SpeedKMH)
	require.Equal(t, 55.5, *created.SpeedKMH)
}

func TestCreateReadingUnknownDetector(t *testing.T) {
	server, _ := setupTestServer(t)

	body := fmt.Sprintf(`{"detector_id": "NO-SUCH", "vehicle_identifier": "V1", "timestamp": %q}`,
		testTime.Format(time.RFC3339))
	w := doRequest(t, server, http.MethodPost, "/traffic/readings", body)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestWindowSummaryEndpoint(t *testing.T) {
	server, database := setupTestServer(t)
	d := seedDetectorAt(t, database, "DET-001", 52.5, 13.4)
	for i, speed := range []float64{30, 50, 70} {
		s := speed
		seedReadingAt(t, database, d.ID, fmt.Sprintf("V%d", i), testTime.Add(time.Duration(i)*time.Minute), &s)
	}

	target := fmt.Sprintf("/traffic/summary?start_time=%s&end_time=%s",
		testTime.Format(time.RFC3339),
		testTime.Add(time.Hour).Format(time.RFC3339))
	w := doRequest(t, server, http.MethodGet, target, "")
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	var resp struct {
		ReadingCount     int      `json:"reading_count"`
		DistinctVehicles int      `json:"distinct_vehicles"`
		MeanSpeed        *float64 `json:"mean_speed"`
		P50Speed         *float64 `json:"p50_speed"`
		P85Speed         *float64 `json:"p85_speed"`
		Units            string   `json:"units"`
	}
	decodeJSON(t, w, &resp)
	require.Equal(t, 3, resp.ReadingCount)
	require.Equal(t, 3, resp.DistinctVehicles)
	require.NotNil(t, resp.MeanSpeed)
	require.InDelta(t, 50.0, *resp.MeanSpeed, 1e-9)
	require.NotNil(t, resp.P50Speed)
	require.NotNil(t, resp.P85Speed)
	require.LessOrEqual(t, *resp.P50Speed, *resp.P85Speed)
	require.Equal(t, units.KMH, resp.Units)
}

func TestWindowSummaryRequiresWindow(t *testing.T) {
	server, _ := setupTestServer(t)
	w := doRequest(t, server, http.MethodGet, "/traffic/summary", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWindowSummaryNoSpeedData(t *testing.T) {
	server, database := setupTestServer(t)
	d := seedDetectorAt(t, database, "DET-001", 52.5, 13.4)
	seedReadingAt(t, database, d.ID, "V1", testTime, nil)

	target := fmt.Sprintf("/traffic/summary?start_time=%s&end_time=%s",
		testTime.Format(time.RFC3339),
		testTime.Add(time.Hour).Format(time.RFC3339))
	w := doRequest(t, server, http.MethodGet, target, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	decodeJSON(t, w, &resp)
	require.EqualValues(t, 1, resp["reading_count"])
	require.NotContains(t, resp, "mean_speed")
}

func TestRouteIntensityChart(t *testing.T) {
	server, database := setupTestServer(t)
	d1 := seedDetectorAt(t, database, "DET-1", 52.50, 13.40)
	d2 := seedDetectorAt(t, database, "DET-2", 52.51, 13.41)
	for _, vehicle := range []string{"CAR-1", "CAR-2"} {
		seedReadingAt(t, database, d1.ID, vehicle, testTime, nil)
		seedReadingAt(t, database, d2.ID, vehicle, testTime.Add(2*time.Minute), nil)
	}

	target := fmt.Sprintf("/charts/routes?start_time=%s&end_time=%s",
		testTime.Format(time.RFC3339),
		testTime.Add(time.Hour).Format(time.RFC3339))
	w := doRequest(t, server, http.MethodGet, target, "")
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	require.Contains(t, w.Header().Get("Content-Type"), "text/html")
	require.Contains(t, w.Body.String(), "echarts")
}

func TestRouteIntensityChartNoRoutes(t *testing.T) {
	server, _ := setupTestServer(t)
	w := doRequest(t, server, http.MethodGet, "/charts/routes", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouteIntensityChartInvalidParams(t *testing.T) {
	server, _ := setupTestServer(t)

	for _, q := range []string{"top_n=100", "min_vehicles=-1"} {
		w := doRequest(t, server, http.MethodGet, "/charts/routes?"+q, "")
		require.Equal(t, http.StatusBadRequest, w.Code, "query %s", q)
	}
}
