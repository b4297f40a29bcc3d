package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apperrors "github.com/mas-fro/core/pkg/errors"
	"github.com/mas-fro/core/pkg/hazard"
	"github.com/mas-fro/core/pkg/orchestrator"
	"github.com/mas-fro/core/pkg/routing"
	"github.com/mas-fro/core/pkg/simulation"
)

// errorResponse is the stable shape every failed request returns (spec §8
// "Failures carry a stable error_code suitable for clients").
type errorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperrors.GetStatusCode(err), errorResponse{
		ErrorCode: string(apperrors.GetType(err)),
		Message:   apperrors.SafeErrorMessage(err),
	})
}

// decodeJSON decodes r.Body into dst, treating an empty body as "use
// zero-value defaults" rather than an error, since several admin endpoints
// (simulation reset/tick) accept an all-optional payload.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "malformed request body"))
		return false
	}
	return true
}

// --- /api/health ---

func (app *application) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "ok",
		"graph_loaded":       app.store.IsLoaded(),
		"node_count":         app.store.NodeCount(),
		"edge_count":         app.store.EdgeCount(),
		"simulation_running": app.sim.IsRunning(),
		"agents":             app.sched.Status(),
		"time":               app.clock.Now().UTC(),
	})
}

// --- /api/route ---

type preferencesPayload struct {
	Mode             string  `json:"mode"`
	AvoidFloods      bool    `json:"avoid_floods"`
	Vehicle          string  `json:"vehicle"`
	MaxRiskThreshold float64 `json:"max_risk_threshold"`
}

func (p preferencesPayload) toPreferences() routing.Preferences {
	prefs := routing.DefaultPreferences()
	if p.Mode != "" {
		prefs.Mode = routing.Mode(p.Mode)
	}
	prefs.AvoidFloods = p.AvoidFloods
	prefs.Vehicle = p.Vehicle
	if p.MaxRiskThreshold > 0 {
		prefs.MaxRiskThreshold = p.MaxRiskThreshold
	}
	return prefs
}

type routeRequestPayload struct {
	StartLocation [2]float64          `json:"start_location"`
	EndLocation   [2]float64          `json:"end_location"`
	Preferences   *preferencesPayload `json:"preferences"`
}

type routeResponsePayload struct {
	RouteID          string       `json:"route_id"`
	Status           string       `json:"status"`
	Path             [][2]float64 `json:"path"`
	DistanceM        float64      `json:"distance_m"`
	EstimatedTimeMin float64      `json:"estimated_time_min"`
	RiskLevel        string       `json:"risk_level"`
	MaxRisk          float64      `json:"max_risk"`
	NumSegments      int          `json:"num_segments"`
	Warnings         []string     `json:"warnings"`
}

func riskLevel(maxRisk float64) string {
	switch {
	case maxRisk >= 0.7:
		return "high"
	case maxRisk >= 0.3:
		return "moderate"
	default:
		return "low"
	}
}

func (app *application) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequestPayload
	if !decodeJSON(w, r, &req) {
		return
	}
	prefs := routing.DefaultPreferences()
	if req.Preferences != nil {
		prefs = req.Preferences.toPreferences()
	}

	result, err := app.routing.ComputeRoute(req.StartLocation[0], req.StartLocation[1], req.EndLocation[0], req.EndLocation[1], prefs)
	if err != nil {
		writeError(w, err)
		return
	}

	path := make([][2]float64, 0, len(result.Nodes))
	for _, n := range result.Nodes {
		path = append(path, [2]float64{n.Lat, n.Lon})
	}

	writeJSON(w, http.StatusOK, routeResponsePayload{
		RouteID:          uuid.NewString(),
		Status:           "ok",
		Path:             path,
		DistanceM:        result.Metrics.TotalDistanceM,
		EstimatedTimeMin: result.Metrics.EstimatedTimeMinutes,
		RiskLevel:        riskLevel(result.Metrics.MaxRisk),
		MaxRisk:          result.Metrics.MaxRisk,
		NumSegments:      result.Metrics.NumSegments,
		Warnings:         result.Metrics.Warnings,
	})
}

// --- /api/evacuation-center ---

type evacuationCenterRequestPayload struct {
	Location    [2]float64          `json:"location"`
	Query       string              `json:"query"`
	Preferences *preferencesPayload `json:"preferences"`
}

type candidatePayload struct {
	Name      string  `json:"name"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Score     float64 `json:"score"`
	DistanceM float64 `json:"distance_m"`
}

func (app *application) handleEvacuationCenter(w http.ResponseWriter, r *http.Request) {
	var req evacuationCenterRequestPayload
	if !decodeJSON(w, r, &req) {
		return
	}

	lat, lon := req.Location[0], req.Location[1]
	if lat == 0 && lon == 0 && req.Query != "" {
		geo, err := app.llm.Geocode(r.Context(), req.Query)
		if err == nil && geo.Found {
			lat, lon = geo.Lat, geo.Lon
		}
	}

	prefs := routing.DefaultPreferences()
	if req.Preferences != nil {
		prefs = req.Preferences.toPreferences()
	}

	best, alternatives, err := app.routing.NearestEvacuationCenter(lat, lon, prefs, 0)
	if err != nil {
		writeError(w, err)
		return
	}

	toCandidate := func(c routing.CenterCandidate) candidatePayload {
		return candidatePayload{
			Name:      c.Center.Name,
			Lat:       c.Center.Lat,
			Lon:       c.Center.Lon,
			Score:     c.Score,
			DistanceM: c.Route.Metrics.TotalDistanceM,
		}
	}

	altPayload := make([]candidatePayload, 0, len(alternatives))
	for _, c := range alternatives {
		altPayload = append(altPayload, toCandidate(c))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"center":       toCandidate(best),
		"alternatives": altPayload,
	})
}

// --- /api/feedback ---

var feedbackTypeToReport = map[string]hazard.ReportType{
	"clear":   hazard.ReportClear,
	"blocked": hazard.ReportBlocked,
	"flooded": hazard.ReportFlooding,
	"traffic": hazard.ReportTraffic,
}

type feedbackPayload struct {
	RouteID      string      `json:"route_id"`
	FeedbackType string      `json:"feedback_type"`
	Location     *[2]float64 `json:"location"`
	Severity     *float64    `json:"severity"`
	Description  string      `json:"description"`
}

func (app *application) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackPayload
	if !decodeJSON(w, r, &req) {
		return
	}

	reportType, known := feedbackTypeToReport[req.FeedbackType]
	if !known {
		if req.Description != "" {
			classified, err := app.llm.Classify(r.Context(), req.Description)
			if err == nil {
				reportType = classified
			}
		}
		if reportType == "" {
			writeError(w, apperrors.NewValidationError("feedback_type must be one of clear, blocked, flooded, traffic"))
			return
		}
	}

	var lat, lon float64
	if req.Location != nil {
		lat, lon = req.Location[0], req.Location[1]
	}

	report := hazard.ScoutReport{
		Observation: hazard.Observation{
			Source:     hazard.SourceReport,
			Lat:        lat,
			Lon:        lon,
			Confidence: 0.7,
		},
		Text:           req.Description,
		IsFloodRelated: reportType == hazard.ReportFlooding,
		ReportType:     reportType,
	}
	if req.Severity != nil {
		report.Severity = req.Severity
	}

	if err := app.fusion.IngestScoutReport(report); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "received"})
}

// --- admin: collection history ---

func (app *application) handleListCollections(w http.ResponseWriter, r *http.Request) {
	if app.floodRepo == nil {
		writeError(w, apperrors.NewUnavailableError("flood data repository", nil))
		return
	}
	collections, err := app.floodRepo.ListRecent(20)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, collections)
}

// --- admin: missions ---

// missionStartPayload's location is optional: an assess_risk mission with no
// location skips the scout geocode step entirely (spec §4.8).
type missionStartPayload struct {
	Location *[2]float64 `json:"location"`
}

func (app *application) handleMissionStart(w http.ResponseWriter, r *http.Request) {
	var req missionStartPayload
	if !decodeJSON(w, r, &req) {
		return
	}

	var location *orchestrator.LatLon
	if req.Location != nil {
		location = &orchestrator.LatLon{Lat: req.Location[0], Lon: req.Location[1]}
	}

	id, err := app.orch.StartAssessRisk(location)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"mission_id": id.String()})
}

func (app *application) handleMissionStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apperrors.NewValidationError("malformed mission id"))
		return
	}
	mission, err := app.orch.Status(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mission)
}

// --- admin: scheduler trigger ---

func (app *application) handleSchedulerTrigger(w http.ResponseWriter, r *http.Request) {
	summary, err := app.fusion.Tick(false)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// --- admin: simulation ---

type simStartPayload struct {
	Mode string `json:"mode"`
}

func (app *application) handleSimStart(w http.ResponseWriter, r *http.Request) {
	var req simStartPayload
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := app.sim.Start(simulation.Mode(req.Mode)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (app *application) handleSimStop(w http.ResponseWriter, r *http.Request) {
	app.sim.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

type simResetPayload struct {
	PreserveStats bool `json:"preserve_stats"`
}

func (app *application) handleSimReset(w http.ResponseWriter, r *http.Request) {
	var req simResetPayload
	if !decodeJSON(w, r, &req) {
		return
	}
	app.sim.Reset(req.PreserveStats)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

type simTickPayload struct {
	JumpTo int `json:"jump_to"`
}

func (app *application) handleSimTick(w http.ResponseWriter, r *http.Request) {
	var req simTickPayload
	if !decodeJSON(w, r, &req) {
		return
	}
	summary, err := app.sim.RunTick(req.JumpTo)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (app *application) handleSimStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"running":   app.sim.IsRunning(),
		"time_step": app.sim.TimeStep(),
		"stats":     app.sim.Stats(),
		"as_of":     app.clock.Now().UTC(),
	})
}
