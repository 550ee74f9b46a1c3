package api

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/traffic.report/internal/analysis"
	"github.com/banshee-data/traffic.report/internal/db"
	"github.com/banshee-data/traffic.report/internal/units"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server exposes the traffic-analysis operations over HTTP.
type Server struct {
	db     *db.DB
	engine *analysis.Engine
	units  string
}

// NewServer builds a Server around the database and analysis engine.
// defaultUnits is the speed unit used when a request does not override it.
func NewServer(database *db.DB, engine *analysis.Engine, defaultUnits string) *Server {
	if !units.IsValid(defaultUnits) {
		defaultUnits = units.KMH
	}
	return &Server{
		db:     database,
		engine: engine,
		units:  defaultUnits,
	}
}

// ServeMux returns the handler for the API surface. The caller mounts it
// (typically under /api).
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/traffic/build-graph", s.buildGraph)
	mux.HandleFunc("/traffic/vehicle-track/", s.vehicleTrack)
	mux.HandleFunc("/traffic/joint-movement", s.jointMovement)
	mux.HandleFunc("/traffic/route-clustering", s.routeClustering)
	mux.HandleFunc("/traffic/detectors", s.detectors)
	mux.HandleFunc("/traffic/readings", s.createReading)
	mux.HandleFunc("/traffic/summary", s.windowSummary)
	mux.HandleFunc("/charts/routes", s.routeIntensityChart)
	return mux
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

// LoggingMiddleware logs method, path, status, and duration for each request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// requestUnits resolves the speed unit for a request: the units query
// parameter when present and valid, the server default otherwise.
func (s *Server) requestUnits(r *http.Request) (string, error) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return s.units, nil
	}
	if !units.IsValid(u) {
		return "", fmt.Errorf("invalid units %q (valid: %s)", u, units.GetValidUnitsString())
	}
	return u, nil
}

// parseTimeParam parses an optional RFC3339 query parameter.
func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %v", name, err)
	}
	return &t, nil
}
