package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/mas-fro/core/internal/clock"
	apperrors "github.com/mas-fro/core/pkg/errors"
	"github.com/mas-fro/core/pkg/bus"
	"github.com/mas-fro/core/pkg/logging"
	"github.com/mas-fro/core/pkg/routing"
)

const (
	defaultMaxConcurrentMissions = 10
	defaultStepTimeout           = 30 * time.Second
)

// Orchestrator sequences missions over the bus: PENDING -> WAITING_REPLY ->
// (COMPLETED | FAILED | CANCELLED), driven entirely by inbox polling on
// Tick (spec §4.8 "never blocks a tick").
type Orchestrator struct {
	bus   *bus.Bus
	clock clock.Clock
	log   logr.Logger

	selfName      string
	maxConcurrent int
	stepTimeout   time.Duration

	mu       sync.Mutex
	missions map[uuid.UUID]*Mission
}

// New constructs an Orchestrator registered on bus under selfName (its own
// inbox receives every mission step's REPLY/FAILURE envelope).
func New(b *bus.Bus, clk clock.Clock, log logr.Logger, selfName string) *Orchestrator {
	b.Register(selfName, bus.DefaultCapacity)
	return &Orchestrator{
		bus:           b,
		clock:         clk,
		log:           log.WithName("orchestrator"),
		selfName:      selfName,
		maxConcurrent: defaultMaxConcurrentMissions,
		stepTimeout:   defaultStepTimeout,
		missions:      make(map[uuid.UUID]*Mission),
	}
}

// SetMaxConcurrentMissions overrides the default concurrency cap.
func (o *Orchestrator) SetMaxConcurrentMissions(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.maxConcurrent = n
}

// SetStepTimeout overrides the default per-step deadline.
func (o *Orchestrator) SetStepTimeout(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stepTimeout = d
}

func (o *Orchestrator) activeCount() int {
	n := 0
	for _, m := range o.missions {
		if m.State == StatePending || m.State == StateWaitingReply {
			n++
		}
	}
	return n
}

// startMission validates the concurrency cap, stores the mission, and
// fires its first REQUEST.
func (o *Orchestrator) startMission(spec string, steps []plannedStep, audit []string) (uuid.UUID, error) {
	if len(steps) == 0 {
		return uuid.Nil, apperrors.New(apperrors.ErrorTypeValidation, "mission has no steps")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.activeCount() >= o.maxConcurrent {
		return uuid.Nil, apperrors.New(apperrors.ErrorTypeUnavailable, "max_concurrent_missions exceeded")
	}

	m := &Mission{
		ID:         uuid.New(),
		Spec:       spec,
		State:      StatePending,
		Steps:      steps,
		StartedAt:  o.clock.Now(),
		AuditTrail: audit,
	}
	o.missions[m.ID] = m
	o.dispatchStep(m)
	return m.ID, nil
}

// dispatchStep posts the REQUEST for m's current StepIndex and transitions
// to WAITING_REPLY. Caller must hold o.mu. If the send itself fails (no such
// agent registered, or its inbox is full), the mission is failed immediately
// with the real cause instead of limping along to a misleading step-timeout.
func (o *Orchestrator) dispatchStep(m *Mission) {
	step := m.Steps[m.StepIndex]
	m.ConversationID = bus.NewConversationID()
	m.PendingFrom = step.agent
	m.StepDeadline = o.clock.Now().Add(o.stepTimeout)
	m.State = StateWaitingReply

	env := bus.Envelope{
		Performative:   bus.PerformativeRequest,
		Sender:         o.selfName,
		Receiver:       step.agent,
		ConversationID: m.ConversationID,
		Content:        step.request,
		Timestamp:      o.clock.Now(),
	}
	if result := o.bus.Send(env); result != bus.SendOK {
		m.State = StateFailed
		m.FailureReason = string(result)
		o.log.Info("mission step dispatch failed", logging.NewFields().
			Component("orchestrator").Str("mission_spec", m.Spec).Str("agent", step.agent).
			Str("send_result", string(result)).KeysAndValues()...)
	}
}

// StartAssessRisk starts an assess_risk mission (spec §4.8).
func (o *Orchestrator) StartAssessRisk(location *LatLon) (uuid.UUID, error) {
	var audit []string
	if location != nil {
		audit = append(audit, "location provided")
	}
	return o.startMission("assess_risk", buildAssessRisk(location), audit)
}

// StartCoordinatedEvacuation starts a coordinated_evacuation mission (spec
// §4.8), recording message in the audit trail as required by spec §8
// scenario 5.
func (o *Orchestrator) StartCoordinatedEvacuation(userLocation LatLon, message string) (uuid.UUID, error) {
	return o.startMission("coordinated_evacuation", buildCoordinatedEvacuation(userLocation, message), []string{message})
}

// StartRouteCalculation starts a route_calculation mission (spec §4.8).
func (o *Orchestrator) StartRouteCalculation(start, end LatLon, prefs routing.Preferences) (uuid.UUID, error) {
	return o.startMission("route_calculation", buildRouteCalculation(start, end, prefs), nil)
}

// StartFindEvacuationCenter starts a find_evacuation_center mission (spec
// §4.8).
func (o *Orchestrator) StartFindEvacuationCenter(location LatLon, query string, maxCenters int) (uuid.UUID, error) {
	return o.startMission("find_evacuation_center", buildFindEvacuationCenter(location, query, maxCenters), nil)
}

// Cancel transitions a WAITING_REPLY/PENDING mission to CANCELLED; later
// replies for it are discarded (spec §4.8).
func (o *Orchestrator) Cancel(id uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.missions[id]
	if !ok {
		return apperrors.NewNotFoundError("mission")
	}
	if m.State == StateCompleted || m.State == StateFailed || m.State == StateCancelled {
		return nil
	}
	m.State = StateCancelled
	return nil
}

// Status returns a snapshot of one mission.
func (o *Orchestrator) Status(id uuid.UUID) (Mission, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.missions[id]
	if !ok {
		return Mission{}, apperrors.NewNotFoundError("mission")
	}
	return *m, nil
}

// Name satisfies scheduler.Tickable.
func (o *Orchestrator) Name() string { return o.selfName }

// Tick drains the orchestrator's inbox, advancing every mission whose
// conversation_id matches an arrived envelope, and fails any mission whose
// step deadline has elapsed (spec §4.8).
func (o *Orchestrator) Tick(ctx context.Context) error {
	for {
		env, ok, err := o.bus.Recv(o.selfName, false, 0)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		o.handleEnvelope(env)
	}

	o.mu.Lock()
	now := o.clock.Now()
	for _, m := range o.missions {
		if m.State == StateWaitingReply && now.After(m.StepDeadline) {
			m.State = StateFailed
			m.FailureReason = "timeout"
			o.log.Info("mission step timed out", logging.NewFields().
				Component("orchestrator").Str("mission_spec", m.Spec).KeysAndValues()...)
		}
	}
	o.mu.Unlock()

	return nil
}

func (o *Orchestrator) handleEnvelope(env bus.Envelope) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var match *Mission
	for _, m := range o.missions {
		if m.State == StateWaitingReply && m.ConversationID == env.ConversationID {
			match = m
			break
		}
	}
	if match == nil {
		return // stale or cancelled mission's reply; discarded per spec §4.8
	}

	if env.Performative == bus.PerformativeFailure {
		match.State = StateFailed
		match.FailureReason = "step failure"
		match.Results = append(match.Results, env.Content)
		return
	}

	match.Results = append(match.Results, env.Content)
	match.StepIndex++

	if match.StepIndex >= len(match.Steps) {
		match.State = StateCompleted
		return
	}
	o.dispatchStep(match)
}
