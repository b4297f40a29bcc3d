package main

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/mas-fro/core/internal/clock"
	"github.com/mas-fro/core/pkg/bus"
	apperrors "github.com/mas-fro/core/pkg/errors"
	"github.com/mas-fro/core/pkg/hazard"
	"github.com/mas-fro/core/pkg/logging"
	"github.com/mas-fro/core/pkg/orchestrator"
	"github.com/mas-fro/core/pkg/repository"
	"github.com/mas-fro/core/pkg/routing"
)

// agentHandler answers one AgentRequest with either a reply payload or an
// error, which busAgent turns into a REPLY or FAILURE envelope.
type agentHandler func(ctx context.Context, req orchestrator.AgentRequest) (interface{}, error)

// busAgent adapts a plain agentHandler into scheduler.Tickable by draining
// its own bus inbox every cadence, mirroring the fusionTick adapter already
// used to fold HazardFusion into the scheduler. Every mission step the
// Orchestrator dispatches to "router", "scout", "flood", or "hazard" is
// answered by one of these.
type busAgent struct {
	name   string
	bus    *bus.Bus
	clock  clock.Clock
	log    logr.Logger
	handle agentHandler
}

// newBusAgent registers name on b and returns the Tickable wrapping handle.
func newBusAgent(name string, b *bus.Bus, clk clock.Clock, log logr.Logger, handle agentHandler) *busAgent {
	b.Register(name, bus.DefaultCapacity)
	return &busAgent{name: name, bus: b, clock: clk, log: log.WithName(name), handle: handle}
}

func (a *busAgent) Name() string { return a.name }

// Tick drains every request currently queued, answering each before
// returning; a mission step's reply is never more than one scheduler
// cadence behind its request.
func (a *busAgent) Tick(ctx context.Context) error {
	for {
		env, ok, err := a.bus.Recv(a.name, false, 0)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		req, isReq := env.Content.(orchestrator.AgentRequest)
		if !isReq {
			a.bus.Send(bus.Failure(env, a.name, "malformed agent request", a.clock.Now()))
			continue
		}

		result, err := a.handle(ctx, req)
		if err != nil {
			a.log.V(1).Info("agent request failed", logging.NewFields().
				Component(a.name).Str("op", req.Op).Error(err).KeysAndValues()...)
			a.bus.Send(bus.Failure(env, a.name, err.Error(), a.clock.Now()))
			continue
		}
		a.bus.Send(bus.Reply(env, a.name, result, a.clock.Now()))
	}
}

// routerHandler answers compute_route and find_evacuation_center requests
// over RoutingEngine (spec §4.8 route_calculation/find_evacuation_center/
// coordinated_evacuation missions).
func routerHandler(eng *routing.Engine) agentHandler {
	return func(_ context.Context, req orchestrator.AgentRequest) (interface{}, error) {
		switch req.Op {
		case "compute_route":
			payload, ok := req.Payload.(map[string]interface{})
			if !ok {
				return nil, apperrors.NewValidationError("compute_route payload malformed")
			}
			start, _ := payload["start"].(orchestrator.LatLon)
			end, _ := payload["end"].(orchestrator.LatLon)
			prefs, _ := payload["preferences"].(routing.Preferences)

			result, err := eng.ComputeRoute(start.Lat, start.Lon, end.Lat, end.Lon, prefs)
			if err != nil {
				return nil, err
			}
			return orchestrator.FindEvacuationCenterResult{Route: result}, nil

		case "find_evacuation_center":
			payload, ok := req.Payload.(map[string]interface{})
			if !ok {
				return nil, apperrors.NewValidationError("find_evacuation_center payload malformed")
			}
			location, _ := payload["location"].(orchestrator.LatLon)
			maxCenters, _ := payload["max_centers"].(int)

			best, _, err := eng.NearestEvacuationCenter(location.Lat, location.Lon, routing.DefaultPreferences(), maxCenters)
			if err != nil {
				return nil, err
			}
			return orchestrator.FindEvacuationCenterResult{
				Center:      best.Center,
				Route:       best.Route,
				Explanation: "nearest reachable active evacuation center",
			}, nil

		default:
			return nil, apperrors.New(apperrors.ErrorTypeValidation, "router: unknown op "+req.Op)
		}
	}
}

// scoutHandler answers geocode requests. assess_risk's geocode step carries
// the mission's own LatLon rather than free text (spec §4.8), so there is
// nothing to resolve beyond confirming the location the rest of the mission
// will use.
func scoutHandler() agentHandler {
	return func(_ context.Context, req orchestrator.AgentRequest) (interface{}, error) {
		if req.Op != "geocode" {
			return nil, apperrors.New(apperrors.ErrorTypeValidation, "scout: unknown op "+req.Op)
		}
		location, _ := req.Payload.(orchestrator.LatLon)
		return location, nil
	}
}

// floodHandler answers collect_latest by recording a collection-history run
// against FloodDataRepository; repo may be nil (DATABASE_URL unset), in
// which case the step succeeds with an empty result rather than failing the
// mission over an optional audit trail.
func floodHandler(repo repository.FloodDataRepository, clk clock.Clock) agentHandler {
	return func(_ context.Context, req orchestrator.AgentRequest) (interface{}, error) {
		if req.Op != "collect_latest" {
			return nil, apperrors.New(apperrors.ErrorTypeValidation, "flood: unknown op "+req.Op)
		}
		if repo == nil {
			return map[string]string{"status": "skipped_no_repository"}, nil
		}
		collection := repository.FloodDataCollection{
			ID:          uuid.NewString(),
			CollectedAt: clk.Now(),
			Source:      "assess_risk_mission",
		}
		if err := repo.SaveCollection(collection); err != nil {
			return nil, err
		}
		return collection, nil
	}
}

// hazardHandler answers fuse_and_update by running one non-first-pass
// HazardFusion tick, the same recompute a scheduler cadence tick runs.
func hazardHandler(fusion *hazard.Fusion) agentHandler {
	return func(_ context.Context, req orchestrator.AgentRequest) (interface{}, error) {
		if req.Op != "fuse_and_update" {
			return nil, apperrors.New(apperrors.ErrorTypeValidation, "hazard: unknown op "+req.Op)
		}
		return fusion.Tick(false)
	}
}
