// Package simulation implements SimulationManager (spec §4.9): a
// deterministic, single-threaded, fixed-phase tick replay of a hazard
// scenario, phase-ordered the way jhkimqd-chaos-utils's scenario-phase
// orchestrator runs collect -> inject -> verify strictly in sequence and
// never re-enters a phase while one is in flight.
package simulation

import (
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/mas-fro/core/internal/clock"
	"github.com/mas-fro/core/pkg/bus"
	apperrors "github.com/mas-fro/core/pkg/errors"
	"github.com/mas-fro/core/pkg/hazard"
	"github.com/mas-fro/core/pkg/logging"
	"github.com/mas-fro/core/pkg/orchestrator"
	"github.com/mas-fro/core/pkg/routing"
)

// Mode selects a synthetic scenario's raster return-period tag (spec §4.9).
type Mode string

const (
	ModeLight  Mode = "light"
	ModeMedium Mode = "medium"
	ModeHeavy  Mode = "heavy"
)

var modeReturnPeriod = map[Mode]string{
	ModeLight:  "rr01",
	ModeMedium: "rr02",
	ModeHeavy:  "rr03",
}

const maxTimeStep = 18

// RouteRequest is one queued route-calculation ask, answered during the
// Routing phase of the next run_tick (spec §4.9 step 3).
type RouteRequest struct {
	ID     uuid.UUID
	Start  orchestrator.LatLon
	End    orchestrator.LatLon
	Prefs  routing.Preferences
}

// RouteAnswer pairs a RouteRequest's id with its resolved result or error.
type RouteAnswer struct {
	RequestID uuid.UUID
	Result    routing.RouteResult
	Err       error
}

// Fusion is the subset of hazard.Fusion the simulation drives each tick.
type Fusion interface {
	SetScenario(returnPeriodTag string, timeStep int)
	Tick(firstPass bool) (hazard.TickSummary, error)
	IngestObservation(o hazard.Observation) error
}

// modeIntensity scales a synthetic station reading's depth by scenario
// severity (spec §4.9 modes light/medium/heavy).
var modeIntensity = map[Mode]float64{
	ModeLight:  0.3,
	ModeMedium: 0.6,
	ModeHeavy:  0.9,
}

// syntheticObservation fabricates the station reading a real fetcher would
// report for (mode, timeStep) at a representative point in the covered
// area, ramping depth up over the scenario's time steps.
func syntheticObservation(mode Mode, timeStep int, lat, lon float64, now time.Time) hazard.Observation {
	depth := modeIntensity[mode] * float64(timeStep) / float64(maxTimeStep)
	return hazard.Observation{
		Source:      hazard.SourceStation,
		Lat:         lat,
		Lon:         lon,
		StationName: "synthetic_" + string(mode),
		DepthM:      &depth,
		Confidence:  0.9,
		ObservedAt:  now,
	}
}

// Manager implements SimulationManager.
type Manager struct {
	bus      *bus.Bus
	fusion   Fusion
	router   *routing.Engine
	clock    clock.Clock
	log      logr.Logger
	fetchers []string // agent names requested to emit synthetic observations

	mu          sync.Mutex
	running     bool
	mode        Mode
	timeStep    int
	tickCount   int
	pending     []RouteRequest
	answers     []RouteAnswer
	statistics  Statistics
}

// Statistics accumulates across the scenario run; reset() preserves it only
// when preserveStats is explicitly requested (spec §4.9).
type Statistics struct {
	TicksRun      int
	RoutesAnswered int
}

// New constructs a Manager. fetcherAgents names the bus agents polled during
// the Collection phase.
func New(b *bus.Bus, fusion Fusion, router *routing.Engine, clk clock.Clock, log logr.Logger, fetcherAgents []string) *Manager {
	return &Manager{
		bus:      b,
		fusion:   fusion,
		router:   router,
		clock:    clk,
		log:      log.WithName("simulation_manager"),
		fetchers: fetcherAgents,
	}
}

// IsRunning reports whether a scenario is active; AgentScheduler reads this
// to decide whether to yield its own cadence (spec §4.7/§4.9).
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Start begins a scenario in mode, resetting time_step to 1 (spec §4.9).
func (m *Manager) Start(mode Mode) error {
	if _, ok := modeReturnPeriod[mode]; !ok {
		return apperrors.New(apperrors.ErrorTypeValidation, "unknown simulation mode")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	m.mode = mode
	m.timeStep = 1
	return nil
}

// Stop halts the scenario without clearing accumulated state; Reset clears
// it.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
}

// EnqueueRouteRequest queues a route ask to be answered on the next
// run_tick's Routing phase (spec §4.9 step 3).
func (m *Manager) EnqueueRouteRequest(req RouteRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, req)
}

// TickSummary is RunTick's return value: what each phase did this tick.
type TickSummary struct {
	TimeStep       int
	ReturnPeriod   string
	FusionSummary  hazard.TickSummary
	RoutesAnswered int
}

// RunTick executes one Collection -> Fusion -> Routing pass at the current
// (mode, time_step), then advances time_step by one (or jumps to jumpTo if
// non-zero). Not reentrant: a second concurrent call blocks on mu until the
// first completes, which for a single-threaded scenario driver should never
// actually happen — callers must serialize their own calls.
func (m *Manager) RunTick(jumpTo int) (TickSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return TickSummary{}, apperrors.New(apperrors.ErrorTypeValidation, "simulation is not running")
	}

	returnPeriod := modeReturnPeriod[m.mode]

	// Phase 1: Collection. Each configured fetcher is notified over the bus
	// for audit/observability, and the scenario's synthetic station reading
	// for this (mode, time_step) is ingested directly into Fusion: no
	// production fetcher agent actually answers emit_synthetic (synthetic
	// data has no external source to poll), so the in-process reading below
	// is what step 2 actually consumes.
	for _, agent := range m.fetchers {
		m.bus.Send(bus.Envelope{
			Performative: bus.PerformativeRequest,
			Sender:       "simulation_manager",
			Receiver:     agent,
			Content: map[string]interface{}{
				"op":            "emit_synthetic",
				"return_period": returnPeriod,
				"time_step":     m.timeStep,
			},
			Timestamp: m.clock.Now(),
		})
	}
	if lat, lon, ok := m.router.RepresentativePoint(); ok {
		obs := syntheticObservation(m.mode, m.timeStep, lat, lon, m.clock.Now())
		if err := m.fusion.IngestObservation(obs); err != nil {
			m.log.Info("synthetic observation rejected", logging.NewFields().Error(err).KeysAndValues()...)
		}
	}

	// Phase 2: Fusion — exactly one batch update to GraphStore, sampling the
	// raster at this scenario's injected return period and time step.
	m.fusion.SetScenario(returnPeriod, m.timeStep)
	fusionSummary, err := m.fusion.Tick(m.tickCount == 0)
	if err != nil {
		m.log.Error(err, "simulation fusion phase failed", logging.NewFields().
			Component("simulation_manager").Str("mode", string(m.mode)).KeysAndValues()...)
		return TickSummary{}, err
	}

	// Phase 3: Routing — drain and answer every queued request.
	toAnswer := m.pending
	m.pending = nil
	for _, req := range toAnswer {
		result, rErr := m.router.ComputeRoute(req.Start.Lat, req.Start.Lon, req.End.Lat, req.End.Lon, req.Prefs)
		m.answers = append(m.answers, RouteAnswer{RequestID: req.ID, Result: result, Err: rErr})
	}

	m.tickCount++
	m.statistics.TicksRun++
	m.statistics.RoutesAnswered += len(toAnswer)

	summary := TickSummary{
		TimeStep:       m.timeStep,
		ReturnPeriod:   returnPeriod,
		FusionSummary:  fusionSummary,
		RoutesAnswered: len(toAnswer),
	}

	if jumpTo > 0 {
		m.timeStep = jumpTo
	} else {
		m.timeStep++
	}
	if m.timeStep > maxTimeStep {
		m.timeStep = maxTimeStep
	}

	return summary, nil
}

// DrainAnswers returns and clears every RouteAnswer produced so far.
func (m *Manager) DrainAnswers() []RouteAnswer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.answers
	m.answers = nil
	return out
}

// Reset restores time_step to 0, clears queued requests, stops the
// scenario, and preserves Statistics only if preserveStats is true (spec
// §4.9).
func (m *Manager) Reset(preserveStats bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	m.timeStep = 0
	m.tickCount = 0
	m.pending = nil
	m.answers = nil
	if !preserveStats {
		m.statistics = Statistics{}
	}
}

// Stats returns a snapshot of the accumulated scenario statistics.
func (m *Manager) Stats() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statistics
}

// TimeStep returns the current time step (0 once reset, 1..18 while
// running).
func (m *Manager) TimeStep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeStep
}
