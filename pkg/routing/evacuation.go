package routing

import (
	"context"
	"sort"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"

	apperrors "github.com/mas-fro/core/pkg/errors"
	"github.com/mas-fro/core/pkg/graph"
	"github.com/mas-fro/core/pkg/logging"
	"github.com/mas-fro/core/pkg/repository"
	"github.com/mas-fro/core/pkg/spatial"
)

var tracer = otel.Tracer("masfro/routing")

// RouteResult is compute_route's full response: the resolved path plus its
// metrics.
type RouteResult struct {
	Nodes   []graph.Node
	Metrics PathMetrics
}

// Engine implements RoutingEngine: A*/Dijkstra search, path metrics, and
// nearest-evacuation-center selection over a GraphStore/SpatialIndex pair.
type Engine struct {
	store *graph.Store
	index *spatial.Index
	evac  repository.EvacuationRepository
	log   logr.Logger
}

// NewEngine constructs an Engine. evac may be nil if evacuation-center
// lookup is never called on this instance (e.g. offline baseline-only
// usage).
func NewEngine(store *graph.Store, index *spatial.Index, evac repository.EvacuationRepository, log logr.Logger) *Engine {
	return &Engine{store: store, index: index, evac: evac, log: log.WithName("routing_engine")}
}

// RepresentativePoint returns the centroid of every loaded node, for
// callers (e.g. SimulationManager's synthetic fetchers) that need a
// plausible point within the covered area without referencing any
// particular node. ok is false when the store holds no nodes.
func (eng *Engine) RepresentativePoint() (lat, lon float64, ok bool) {
	nodes := eng.store.AllNodes()
	if len(nodes) == 0 {
		return 0, 0, false
	}
	var sumLat, sumLon float64
	for _, n := range nodes {
		sumLat += n.Lat
		sumLon += n.Lon
	}
	return sumLat / float64(len(nodes)), sumLon / float64(len(nodes)), true
}

// ComputeRoute snaps startLat/Lon and endLat/Lon to their nearest nodes and
// runs A* under prefs, relaxing the risk threshold stepwise on NO_PATH
// (spec §4.5 Fallback).
func (eng *Engine) ComputeRoute(startLat, startLon, endLat, endLon float64, prefs Preferences) (RouteResult, error) {
	_, span := tracer.Start(context.Background(), "routing_engine.compute_route")
	defer span.End()

	if !eng.store.IsLoaded() {
		return RouteResult{}, apperrors.NewUnavailableError("graph store not loaded")
	}
	prefs = prefs.normalized()

	startNode, startDist, ok := eng.index.NearestNode(startLat, startLon)
	if !ok || startDist > maxSnapDistanceM {
		return RouteResult{}, apperrors.NewNotFoundError("no node within snap distance of start")
	}
	endNode, endDist, ok := eng.index.NearestNode(endLat, endLon)
	if !ok || endDist > maxSnapDistanceM {
		return RouteResult{}, apperrors.NewNotFoundError("no node within snap distance of end")
	}

	penalty := prefs.penalty()
	threshold := prefs.MaxRiskThreshold

	route, err := search(eng.store, startNode.ID, endNode.ID, penalty, threshold)
	if apperrors.IsType(err, apperrors.ErrorTypeNotFound) && threshold < 1.0 {
		for _, relaxed := range relaxationSteps {
			if relaxed <= threshold {
				continue
			}
			route, err = search(eng.store, startNode.ID, endNode.ID, penalty, relaxed)
			if err == nil {
				route.RelaxationUsed = true
				route.RelaxedTo = relaxed
				break
			}
		}
	}
	if err != nil {
		eng.log.V(1).Info("route search failed", logging.NewFields().Error(err).KeysAndValues()...)
		return RouteResult{}, err
	}

	metrics, err := computeMetrics(eng.store, route)
	if err != nil {
		return RouteResult{}, err
	}

	if prefs.Mode == ModeFastest && metrics.MaxRisk > 0 {
		metrics.Warnings = append(metrics.Warnings, "fastest mode ignores risk in routing weight")
	}

	return RouteResult{Nodes: route.Nodes, Metrics: metrics}, nil
}

// ComputeBaseline runs the identical search with risk_penalty=0 and a
// threshold of 1.0, so only edges at risk 1.0 are excluded, for offline
// validation against a risk-aware route on the same graph (spec §4.5
// "Baseline A*").
func (eng *Engine) ComputeBaseline(startLat, startLon, endLat, endLon float64) (RouteResult, error) {
	return eng.ComputeRoute(startLat, startLon, endLat, endLon, Preferences{Mode: ModeFastest, MaxRiskThreshold: 1.0})
}

// ComputeRouteWithDeadline snaps and searches like ComputeRoute, bounded by
// deadline, returning a timeout error if the search does not finish in
// time. Unlike ComputeRoute it does not relax the risk threshold on
// NO_PATH and adds no fastest-mode warning.
func (eng *Engine) ComputeRouteWithDeadline(startLat, startLon, endLat, endLon float64, prefs Preferences, deadline time.Time) (RouteResult, error) {
	if !eng.store.IsLoaded() {
		return RouteResult{}, apperrors.NewUnavailableError("graph store not loaded")
	}
	prefs = prefs.normalized()

	startNode, startDist, ok := eng.index.NearestNode(startLat, startLon)
	if !ok || startDist > maxSnapDistanceM {
		return RouteResult{}, apperrors.NewNotFoundError("no node within snap distance of start")
	}
	endNode, endDist, ok := eng.index.NearestNode(endLat, endLon)
	if !ok || endDist > maxSnapDistanceM {
		return RouteResult{}, apperrors.NewNotFoundError("no node within snap distance of end")
	}

	route, err := searchWithDeadline(eng.store, startNode.ID, endNode.ID, prefs.penalty(), prefs.MaxRiskThreshold, deadline)
	if err != nil {
		return RouteResult{}, err
	}
	metrics, err := computeMetrics(eng.store, route)
	if err != nil {
		return RouteResult{}, err
	}
	return RouteResult{Nodes: route.Nodes, Metrics: metrics}, nil
}

// CenterCandidate pairs an evacuation center with the route computed to it
// and the selection score used to rank it.
type CenterCandidate struct {
	Center repository.EvacuationCenter
	Route  RouteResult
	Score  float64
}

const defaultMaxCandidates = 5

// selectionWeights is the spec-default scoring function: 0.6*risk +
// 0.4*normalized_distance.
const (
	selectionWeightRisk     = 0.6
	selectionWeightDistance = 0.4
)

// NearestEvacuationCenter ranks candidate centers from the
// EvacuationRepository by straight-line distance, routes to the top
// maxCandidates (0 = use the spec default of 5), and returns the
// lowest-scoring candidate plus the rest sorted by the same metric (spec
// §4.5 "Nearest evacuation center").
func (eng *Engine) NearestEvacuationCenter(lat, lon float64, prefs Preferences, maxCandidates int) (CenterCandidate, []CenterCandidate, error) {
	if eng.evac == nil {
		return CenterCandidate{}, nil, apperrors.NewUnavailableError("evacuation repository not configured")
	}
	if maxCandidates <= 0 {
		maxCandidates = defaultMaxCandidates
	}

	all, err := eng.evac.GetAll()
	if err != nil {
		return CenterCandidate{}, nil, apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "fetch evacuation centers")
	}

	var active []repository.EvacuationCenter
	for _, c := range all {
		if c.IsActive {
			active = append(active, c)
		}
	}
	if len(active) == 0 {
		return CenterCandidate{}, nil, apperrors.New(apperrors.ErrorTypeNotFound, "no active evacuation centers")
	}

	sort.Slice(active, func(i, j int) bool {
		return spatial.Haversine(lat, lon, active[i].Lat, active[i].Lon) < spatial.Haversine(lat, lon, active[j].Lat, active[j].Lon)
	})
	if len(active) > maxCandidates {
		active = active[:maxCandidates]
	}

	var candidates []CenterCandidate
	var maxDist float64
	dists := make([]float64, len(active))
	for i, c := range active {
		d := spatial.Haversine(lat, lon, c.Lat, c.Lon)
		dists[i] = d
		if d > maxDist {
			maxDist = d
		}
	}

	for i, c := range active {
		route, err := eng.ComputeRoute(lat, lon, c.Lat, c.Lon, prefs)
		if err != nil {
			continue // unreachable candidates are skipped, not fatal to the query
		}
		normalizedDist := 0.0
		if maxDist > 0 {
			normalizedDist = dists[i] / maxDist
		}
		score := selectionWeightRisk*route.Metrics.AverageRisk + selectionWeightDistance*normalizedDist
		candidates = append(candidates, CenterCandidate{Center: c, Route: route, Score: score})
	}
	if len(candidates) == 0 {
		return CenterCandidate{}, nil, apperrors.New(apperrors.ErrorTypeNotFound, "no reachable evacuation centers")
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score < candidates[j].Score })
	return candidates[0], candidates[1:], nil
}
