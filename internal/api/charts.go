package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/traffic.report/internal/analysis"
	"github.com/banshee-data/traffic.report/internal/httputil"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// routeIntensityChart renders a quick bar chart (HTML) of the busiest routes
// in a time window. This is a debugging-only endpoint (no auth) to eyeball
// clustering output without the frontend.
// Query params:
//   - start_time, end_time (RFC3339; default last 24h)
//   - top_n (optional; default 10)
//   - min_vehicles (optional; default 2)
func (s *Server) routeIntensityChart(w http.ResponseWriter, r *http.Request) {
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
	if end == nil {
		now := time.Now().UTC()
		end = &now
	}
	if start == nil {
		dayAgo := end.Add(-24 * time.Hour)
		start = &dayAgo
	}

	params := analysis.RouteClusterParams{
		StartTime: *start,
		EndTime:   *end,
	}
	if v := r.URL.Query().Get("top_n"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			params.TopN = parsed
		}
	}
	if v := r.URL.Query().Get("min_vehicles"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			params.MinVehiclesPerRoute = parsed
		}
	}

	clustering, err := s.engine.ClusterRoutes(r.Context(), params)
	if err != nil {
		if errors.Is(err, analysis.ErrInvalidParams) {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("failed to cluster routes: %v", err))
		return
	}
	if len(clustering.Routes) == 0 {
		httputil.NotFound(w, "no routes found in window")
		return
	}

	x := make([]string, 0, len(clustering.Routes))
	intensity := make([]opts.BarData, 0, len(clustering.Routes))
	vehicles := make([]opts.BarData, 0, len(clustering.Routes))
	for _, route := range clustering.Routes {
		x = append(x, route.RouteSignature)
		intensity = append(intensity, opts.BarData{Value: route.IntensityPerHour})
		vehicles = append(vehicles, opts.BarData{Value: route.TotalVehicles})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Route Intensity", Width: "100%", Height: "720px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Route Intensity",
			Subtitle: fmt.Sprintf("%s to %s (%d routes, %d vehicles)", start.Format(time.RFC3339), end.Format(time.RFC3339), len(clustering.Routes), clustering.TotalVehiclesAnalyzed),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Rotate: 30}}),
	)
	bar.SetXAxis(x).
		AddSeries("vehicles/hour", intensity,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		).
		AddSeries("vehicles", vehicles)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsHost)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
