package hazard

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mas-fro/core/internal/clock"
	apperrors "github.com/mas-fro/core/pkg/errors"
	"github.com/mas-fro/core/pkg/graph"
	"github.com/mas-fro/core/pkg/logging"
	"github.com/mas-fro/core/pkg/riskmodel"
	"github.com/mas-fro/core/pkg/spatial"
)

var tracer = otel.Tracer("masfro/hazard")

var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "masfro",
		Subsystem: "hazard_fusion",
		Name:      "tick_duration_seconds",
		Help:      "Duration of one HazardFusion recomputation pass.",
		Buckets:   prometheus.DefBuckets,
	})
	edgesUpdatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "masfro",
		Subsystem: "hazard_fusion",
		Name:      "edges_updated_total",
		Help:      "Cumulative count of edges written by HazardFusion batch updates.",
	})
	rasterFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "masfro",
		Subsystem: "hazard_fusion",
		Name:      "raster_fallbacks_total",
		Help:      "Count of ticks where the raster provider errored and station interpolation was used instead.",
	})
)

// Weights bundles the configured fusion weights (spec §4.4).
type Weights struct {
	Depth      float64
	Crowd      float64
	Historical float64
	Steepness  float64
	Inflection float64
}

// DefaultWeights returns the spec-mandated defaults.
func DefaultWeights() Weights {
	return Weights{Depth: 0.5, Crowd: 0.3, Historical: 0.2, Steepness: 8.0, Inflection: 0.3}
}

const (
	defaultStationCacheCapacity = 100
	defaultScoutCacheCapacity   = 1000
	defaultRiskRadiusM          = 800.0
	defaultScoutRadiusM         = 200.0
	scoutSearchRings            = 2 // H3 res 9 (~174m edge) disk searched for reports; hits are then filtered to defaultScoutRadiusM
)

// Fusion implements HazardFusion: the sole writer of GraphStore edge
// risk_score (spec §4.4). It owns the station and scout caches exclusively;
// no other component reads them directly.
type Fusion struct {
	store   *graph.Store
	index   *spatial.Index
	clock   clock.Clock
	log     logr.Logger
	weights Weights
	raster  RasterProvider // nil when no raster provider is configured

	stations *stationCache
	scouts   *scoutCache

	mu           sync.Mutex
	riskRadiusM  float64
	scenarioTag  string
	scenarioStep int

	// prevGeneration is the risk map produced by the tick before last,
	// retained for one extra cycle so a routing pass started mid-batch
	// still sees a coherent view (spec §4.4 "previous-generation map").
	prevGeneration map[graph.EdgeKey]float64
	curGeneration  map[graph.EdgeKey]float64
}

// New constructs a Fusion over store and index, with an optional raster
// provider (nil is valid: the pass simply falls back to station
// interpolation, per spec §4.4 failure semantics).
func New(store *graph.Store, index *spatial.Index, clk clock.Clock, log logr.Logger, raster RasterProvider) *Fusion {
	return NewWithCacheCapacities(store, index, clk, log, raster, defaultStationCacheCapacity, defaultScoutCacheCapacity)
}

// NewWithCacheCapacities is New with explicit station/scout cache sizes, for
// the process entrypoint applying caches.station_max/caches.scout_max from
// config.
func NewWithCacheCapacities(store *graph.Store, index *spatial.Index, clk clock.Clock, log logr.Logger, raster RasterProvider, stationMax, scoutMax int) *Fusion {
	return &Fusion{
		store:       store,
		index:       index,
		clock:       clk,
		log:         log.WithName("hazard_fusion"),
		weights:     DefaultWeights(),
		raster:      raster,
		stations:    newStationCache(stationMax),
		scouts:      newScoutCache(scoutMax),
		riskRadiusM: defaultRiskRadiusM,
		scenarioTag: "current",
	}
}

// SetWeights overrides the combine weights used by subsequent ticks,
// letting the process apply risk.weights from config instead of the
// built-in defaults.
func (f *Fusion) SetWeights(w Weights) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.weights = w
}

// SetRiskRadius overrides the station/report search radius used by
// subsequent ticks, letting the process apply risk.radius_m from config.
func (f *Fusion) SetRiskRadius(radiusM float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.riskRadiusM = radiusM
}

// SetScenario tells subsequent ticks which raster return-period tag and
// time step to sample, so SimulationManager can drive a scenario run
// through the same raster provider used in production (spec §4.9 step 2:
// "Fusion consumes the injected scenario"). Live (non-simulation) operation
// never calls this and keeps sampling tag "current"/step 0.
func (f *Fusion) SetScenario(returnPeriodTag string, timeStep int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scenarioTag = returnPeriodTag
	f.scenarioStep = timeStep
}

// IngestObservation validates an observation and caches it when it is a
// station reading with a StationName; observations from other sources are
// validated but not cached. Invalid observations are dropped, never
// propagated (spec §4.4 inputs).
func (f *Fusion) IngestObservation(o Observation) error {
	if err := ValidateObservation(&o); err != nil {
		f.log.V(1).Info("dropped invalid observation", logging.NewFields().Error(err).KeysAndValues()...)
		return err
	}
	if o.Source == SourceStation && o.StationName != "" {
		f.stations.Put(o.StationName, o, f.clock.Now())
	}
	return nil
}

// IngestScoutReport validates and caches a crowdsourced report.
func (f *Fusion) IngestScoutReport(r ScoutReport) error {
	if err := ValidateScoutReport(&r); err != nil {
		f.log.V(1).Info("dropped invalid scout report", logging.NewFields().Error(err).KeysAndValues()...)
		return err
	}
	f.scouts.Put(r, f.clock.Now())
	return nil
}

// Tick runs one fusion pass: candidate-edge selection, per-edge risk
// recomputation, and a single GraphStore.BatchUpdateRisks call (spec §4.4).
// firstPass forces the "all edges" candidate set, as required on cold
// start before any station/report has arrived.
func (f *Fusion) Tick(firstPass bool) (TickSummary, error) {
	_, span := tracer.Start(context.Background(), "hazard_fusion.tick",
		trace.WithAttributes(attribute.Bool("first_pass", firstPass)))
	defer span.End()

	start := f.clock.Now()
	now := start

	freshStations := f.stations.Fresh(now)
	candidates := f.candidateEdges(firstPass, freshStations, now)

	updates := make(map[graph.EdgeKey]float64, len(candidates))
	reportsUsed := make(map[uint64]bool)
	var riskSum float64

	for _, e := range candidates {
		u, errU := f.store.GetNode(e.Key.U)
		v, errV := f.store.GetNode(e.Key.V)
		if errU != nil || errV != nil {
			continue
		}
		midLat, midLon := (u.Lat+v.Lat)/2, (u.Lon+v.Lon)/2

		depth, usedRaster := f.sampleDepth(midLat, midLon, now)
		if !usedRaster {
			depth = f.interpolateFromStations(midLat, midLon, freshStations, now)
		}

		hydro := riskmodel.DepthToRisk(depth)

		nearby := f.scouts.Near(midLat, midLon, scoutSearchRings, now)
		var decayedSeverities []float64
		for _, entry := range nearby {
			if spatial.Haversine(midLat, midLon, entry.report.Lat, entry.report.Lon) > defaultScoutRadiusM {
				continue
			}
			severity := 0.5
			if entry.report.Severity != nil {
				severity = *entry.report.Severity
			}
			ageSeconds := now.Sub(entry.report.ObservedAt).Seconds()
			decay := riskmodel.TemporalDecay(1.0, ageSeconds, riskmodel.DefaultHalfLifeScoutSeconds)
			decayedSeverities = append(decayedSeverities, severity*decay)
			reportsUsed[entry.id] = true
		}
		crowd := riskmodel.SigmoidAggregate(decayedSeverities, f.weights.Steepness, f.weights.Inflection)

		closerEndpoint := e.Key.U
		if spatial.Haversine(midLat, midLon, v.Lat, v.Lon) < spatial.Haversine(midLat, midLon, u.Lat, u.Lon) {
			closerEndpoint = e.Key.V
		}
		riverPrior := f.index.RiverRisk(closerEndpoint)

		infra := 0.0
		if depth > 0 {
			infra = riskmodel.InfrastructureRisk(string(e.Highway), depth)
		}

		combined := riskmodel.Clamp01(
			f.weights.Depth*maxFloat(hydro, riverPrior*0.5) +
				f.weights.Crowd*crowd +
				f.weights.Historical*infra,
		)

		updates[e.Key] = combined
		riskSum += combined
	}

	changed, err := f.store.BatchUpdateRisks(updates, now)
	if err != nil {
		// Cache state is untouched; next tick retries from the same
		// observations plus whatever arrived meanwhile (spec §4.4 failure
		// semantics).
		return TickSummary{}, apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "batch risk update failed")
	}

	f.mu.Lock()
	f.prevGeneration = f.curGeneration
	f.curGeneration = updates
	f.mu.Unlock()

	avg := 0.0
	if len(candidates) > 0 {
		avg = riskSum / float64(len(candidates))
	}

	summary := TickSummary{
		EdgesUpdated: len(changed),
		StationsUsed: len(freshStations),
		ReportsUsed:  len(reportsUsed),
		DurationMS:   f.clock.Now().Sub(start).Milliseconds(),
		AverageRisk:  avg,
	}
	tickDuration.Observe(float64(summary.DurationMS) / 1000.0)
	edgesUpdatedTotal.Add(float64(summary.EdgesUpdated))
	span.SetAttributes(
		attribute.Int("edges_updated", summary.EdgesUpdated),
		attribute.Int("stations_used", summary.StationsUsed),
		attribute.Int("reports_used", summary.ReportsUsed),
	)

	f.log.Info("fusion tick complete", logging.NewFields().
		Component("hazard_fusion").Operation("tick").
		Int("edges_updated", summary.EdgesUpdated).
		Int("stations_used", summary.StationsUsed).
		Int("reports_used", summary.ReportsUsed).
		KeysAndValues()...)

	return summary, nil
}

// PreviousGeneration returns the risk map from the cycle before last, so a
// routing pass that started before the current batch committed can still
// read a coherent (if slightly stale) view.
func (f *Fusion) PreviousGeneration() map[graph.EdgeKey]float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prevGeneration
}

// candidateEdges selects the edges a pass should recompute (spec §4.4
// step 1): all edges on the first pass, otherwise the union of edges near
// a fresh station, within the raster footprint, or near a fresh report.
// RasterProvider exposes no footprint/tiling query independent of station
// and report locations, so a configured raster is folded into the
// full-scan trigger instead of contributing its own bounded candidate set:
// every tick while a raster is configured recomputes every edge, the same
// as firstPass, since any edge could fall inside the raster's extent.
func (f *Fusion) candidateEdges(firstPass bool, freshStations []stationEntry, now time.Time) []graph.Edge {
	if firstPass || f.raster != nil {
		return f.store.SnapshotEdges(nil)
	}

	seen := make(map[graph.EdgeKey]bool)
	var out []graph.Edge

	addAll := func(edges []graph.Edge) {
		for _, e := range edges {
			if !seen[e.Key] {
				seen[e.Key] = true
				out = append(out, e)
			}
		}
	}

	for _, s := range freshStations {
		addAll(f.index.EdgesNear(s.obs.Lat, s.obs.Lon, f.riskRadiusM))
	}

	for _, entry := range f.scouts.All(now) {
		addAll(f.index.EdgesNear(entry.report.Lat, entry.report.Lon, defaultScoutRadiusM))
	}

	return out
}

// sampleDepth queries the raster provider at (lat, lon), if one is
// configured. A raster error or a nil provider falls back silently to
// station interpolation, per spec §4.4 failure semantics; raster errors are
// logged as a warning but never fail the pass.
func (f *Fusion) sampleDepth(lat, lon float64, now time.Time) (depthM float64, usedRaster bool) {
	if f.raster == nil {
		return 0, false
	}
	f.mu.Lock()
	tag, step := f.scenarioTag, f.scenarioStep
	f.mu.Unlock()
	depth, ok, err := f.raster.DepthAt(tag, step, lat, lon)
	if err != nil {
		rasterFallbacksTotal.Inc()
		f.log.Info("raster provider error, falling back to station interpolation",
			logging.NewFields().Error(err).KeysAndValues()...)
		return 0, false
	}
	if !ok {
		return 0, false
	}
	return depth, true
}

// interpolateFromStations estimates depth at (lat, lon) by inverse-distance
// weighting of the three nearest fresh stations within riskRadiusM, each
// decayed for observation age (spec §4.4 step 2).
func (f *Fusion) interpolateFromStations(lat, lon float64, fresh []stationEntry, now time.Time) float64 {
	type weighted struct {
		dist  float64
		depth float64
	}
	var nearby []weighted
	for _, s := range fresh {
		if s.obs.DepthM == nil {
			continue
		}
		d := spatial.Haversine(lat, lon, s.obs.Lat, s.obs.Lon)
		if d > f.riskRadiusM {
			continue
		}
		ageSeconds := now.Sub(s.obs.ObservedAt).Seconds()
		decayed := riskmodel.TemporalDecay(*s.obs.DepthM, ageSeconds, riskmodel.DefaultHalfLifeStationSeconds)
		nearby = append(nearby, weighted{dist: d, depth: decayed})
	}
	if len(nearby) == 0 {
		return 0
	}

	sort.Slice(nearby, func(i, j int) bool { return nearby[i].dist < nearby[j].dist })
	if len(nearby) > 3 {
		nearby = nearby[:3]
	}

	var weightSum, depthSum float64
	for _, n := range nearby {
		// A station exactly at the query point dominates the estimate.
		if n.dist < 1.0 {
			return n.depth
		}
		w := 1.0 / n.dist
		weightSum += w
		depthSum += w * n.depth
	}
	if weightSum == 0 {
		return 0
	}
	return depthSum / weightSum
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
