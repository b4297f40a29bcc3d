// Package orchestrator implements Orchestrator (spec §4.8): mission finite-
// state machines sequenced entirely through MessageBus request/reply
// envelopes, never by calling another agent's methods directly.
package orchestrator

import (
	"time"

	"github.com/google/uuid"

	"github.com/mas-fro/core/pkg/routing"
)

// State is a Mission's FSM state (spec §4.8).
type State string

const (
	StatePending      State = "PENDING"
	StateWaitingReply State = "WAITING_REPLY"
	StateCompleted    State = "COMPLETED"
	StateFailed       State = "FAILED"
	StateCancelled    State = "CANCELLED"
)

// LatLon is a plain coordinate pair used in mission inputs.
type LatLon struct {
	Lat float64
	Lon float64
}

// AgentRequest is the envelope payload every mission step sends: an
// operation name plus an opaque, agent-specific argument payload.
type AgentRequest struct {
	Op      string
	Payload interface{}
}

// plannedStep is one precomputed REQUEST target and payload. Every builtin
// mission spec's steps are fully determined by the mission's initial input,
// so the whole step sequence is built once at Start time rather than
// recomputed from prior replies.
type plannedStep struct {
	agent   string
	request AgentRequest
}

// Mission is one in-flight or completed mission instance.
type Mission struct {
	ID             uuid.UUID
	Spec           string
	State          State
	StepIndex      int
	Steps          []plannedStep
	ConversationID uuid.UUID
	PendingFrom    string
	StepDeadline   time.Time
	StartedAt      time.Time

	Results       []interface{} // one reply payload per completed step, in order
	FailureReason string
	AuditTrail    []string // original message/location values for status reporting
}

// FindEvacuationCenterResult is what a route_calculation or
// find_evacuation_center mission exposes once COMPLETED.
type FindEvacuationCenterResult struct {
	Center      interface{}
	Route       routing.RouteResult
	Explanation string
}

// buildAssessRisk lays out assess_risk's steps (spec §4.8): geocode the
// optional location, collect latest flood data, then fuse and update.
func buildAssessRisk(location *LatLon) []plannedStep {
	var steps []plannedStep
	if location != nil {
		steps = append(steps, plannedStep{agent: "scout", request: AgentRequest{Op: "geocode", Payload: *location}})
	}
	steps = append(steps,
		plannedStep{agent: "flood", request: AgentRequest{Op: "collect_latest"}},
		plannedStep{agent: "hazard", request: AgentRequest{Op: "fuse_and_update"}},
	)
	return steps
}

// buildCoordinatedEvacuation lays out coordinated_evacuation's single step.
func buildCoordinatedEvacuation(userLocation LatLon, message string) []plannedStep {
	return []plannedStep{
		{agent: "router", request: AgentRequest{Op: "find_evacuation_center", Payload: map[string]interface{}{
			"location": userLocation,
			"query":    message,
		}}},
	}
}

// buildRouteCalculation lays out route_calculation's single step.
func buildRouteCalculation(start, end LatLon, prefs routing.Preferences) []plannedStep {
	return []plannedStep{
		{agent: "router", request: AgentRequest{Op: "compute_route", Payload: map[string]interface{}{
			"start":       start,
			"end":         end,
			"preferences": prefs,
		}}},
	}
}

// buildFindEvacuationCenter lays out find_evacuation_center's single step.
func buildFindEvacuationCenter(location LatLon, query string, maxCenters int) []plannedStep {
	return []plannedStep{
		{agent: "router", request: AgentRequest{Op: "find_evacuation_center", Payload: map[string]interface{}{
			"location":    location,
			"query":       query,
			"max_centers": maxCenters,
		}}},
	}
}
