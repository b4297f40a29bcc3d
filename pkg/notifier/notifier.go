// Package notifier defines the websocket notifier interface (spec §1: "out
// of scope... websocket notifier"). The core only depends on this narrow
// interface, wiring it as a GraphStore.Subscribe listener through
// AsGraphListener; the concrete websocket transport lives outside the core.
package notifier

import (
	"github.com/mas-fro/core/pkg/graph"
)

// EdgeRiskChanged is published once per HazardFusion batch commit, naming
// the edges whose risk_score moved (spec §3 "subscribe(listener)").
type EdgeRiskChanged struct {
	Edges []graph.EdgeKey
}

// MissionStatusChanged carries a mission's new state for
// PublishMissionStatusChanged. The Orchestrator does not publish it; no
// component in the core calls PublishMissionStatusChanged.
type MissionStatusChanged struct {
	MissionID string
	State     string
}

// Notifier is the external collaborator that fans events out to connected
// websocket clients. The core never blocks waiting on a Notifier: every
// method is fire-and-forget from the caller's perspective.
type Notifier interface {
	PublishEdgeRiskChanged(event EdgeRiskChanged)
	PublishMissionStatusChanged(event MissionStatusChanged)
}

// NoopNotifier discards every event; used where no websocket transport is
// configured.
type NoopNotifier struct{}

func (NoopNotifier) PublishEdgeRiskChanged(EdgeRiskChanged)           {}
func (NoopNotifier) PublishMissionStatusChanged(MissionStatusChanged) {}

// AsGraphListener adapts a Notifier into a graph.ChangeListener so it can
// be registered directly with GraphStore.Subscribe.
func AsGraphListener(n Notifier) graph.ChangeListener {
	return func(changed []graph.EdgeKey) {
		n.PublishEdgeRiskChanged(EdgeRiskChanged{Edges: changed})
	}
}
