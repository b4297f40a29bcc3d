// Package riskmodel implements the deterministic, stateless functions that
// map hazard inputs to edge risk scores (spec §4.3). Every function here is
// pure: identical inputs yield identical outputs regardless of call order,
// which is what lets HazardFusion recompute a batch of edges from
// goroutines without coordination beyond the final GraphStore write.
package riskmodel

import "math"

// Vehicle is a passability class.
type Vehicle string

const (
	VehicleCar   Vehicle = "car"
	VehicleSUV   Vehicle = "suv"
	VehicleTruck Vehicle = "truck"
)

const gravity = 9.81

// HydrologicalRisk computes the energy-head-based hydrological risk from
// depth and flow velocity. E = depth + velocity^2 / (2*g), piecewise-linear
// mapped into [0,1].
func HydrologicalRisk(depthM, velocityMS float64) float64 {
	e := depthM + (velocityMS*velocityMS)/(2*gravity)
	switch {
	case e < 0.3:
		return lerp(e, 0, 0.3, 0, 0.4)
	case e < 0.6:
		return lerp(e, 0.3, 0.6, 0.4, 0.7)
	case e < 1.0:
		return lerp(e, 0.6, 1.0, 0.7, 1.0)
	default:
		return 1.0
	}
}

// lerp linearly maps x from [x0,x1) to [y0,y1).
func lerp(x, x0, x1, y0, y1 float64) float64 {
	if x1 == x0 {
		return y0
	}
	return y0 + (x-x0)/(x1-x0)*(y1-y0)
}

// baseVulnerability is the per-highway-class vulnerability table (spec
// §4.3 infrastructure_risk).
var baseVulnerability = map[string]float64{
	"motorway":     0.1,
	"trunk":        0.1,
	"primary":      0.2,
	"secondary":    0.3,
	"tertiary":     0.4,
	"residential":  0.5,
	"unclassified": 0.6,
	"service":      0.6,
}

// InfrastructureRisk scales a highway class's base vulnerability by flood
// depth and clamps to 1.
func InfrastructureRisk(highwayClass string, depthM float64) float64 {
	base, ok := baseVulnerability[highwayClass]
	if !ok {
		base = baseVulnerability["unclassified"]
	}
	scale := 1 + math.Min(depthM*0.5, 1.0)
	return Clamp01(base * scale)
}

// CompositeRisk blends hydrological, infrastructure, congestion and
// historical components into a single clamped [0,1] score.
func CompositeRisk(hydrological, infrastructure, congestion, historical float64) float64 {
	return Clamp01(0.50*hydrological + 0.25*infrastructure + 0.15*congestion + 0.10*historical)
}

// DepthToRisk is the piecewise depth→risk curve used when no richer model
// input (velocity, highway class) is available.
func DepthToRisk(depthM float64) float64 {
	switch {
	case depthM <= 0.3:
		return Clamp01(depthM)
	case depthM <= 0.6:
		return Clamp01(0.3 + (depthM-0.3)*1.0)
	case depthM <= 1.0:
		return Clamp01(0.6 + (depthM-0.6)*0.5)
	default:
		return Clamp01(math.Min(0.8+(depthM-1)*0.2, 1.0))
	}
}

// TemporalDecay applies exponential half-life decay: risk * 2^(-age/halfLife).
// Default half-lives (spec §4.3): 1800s for scout reports, 3600s for
// station data — callers pass the appropriate constant.
func TemporalDecay(risk, ageSeconds, halfLifeSeconds float64) float64 {
	if halfLifeSeconds <= 0 {
		return risk
	}
	return risk * math.Pow(2, -ageSeconds/halfLifeSeconds)
}

const (
	DefaultHalfLifeScoutSeconds   = 1800.0
	DefaultHalfLifeStationSeconds = 3600.0
)

// PassabilityResult is the outcome of a Passability check.
type PassabilityResult struct {
	Passable   bool
	Confidence float64
	Reason     string
}

type passabilityThreshold struct {
	staticM     float64
	flowingM    float64
	maxVelocity float64
}

var passabilityThresholds = map[Vehicle]passabilityThreshold{
	VehicleCar:   {staticM: 0.3, flowingM: 0.4, maxVelocity: 0.5},
	VehicleSUV:   {staticM: 0.5, flowingM: 0.6, maxVelocity: 0.5},
	VehicleTruck: {staticM: 0.6, flowingM: 0.7, maxVelocity: 0.6},
}

// Passability judges whether a vehicle class can traverse a segment at the
// given depth and velocity, per the spec §4.3 threshold table. Water below
// 0.1 m/s is treated as static and judged on depth alone; at or above that
// it's flowing, and both the flowing depth AND max-velocity bounds must
// hold for the segment to be passable.
func Passability(depthM, velocityMS float64, vehicle Vehicle) PassabilityResult {
	th, ok := passabilityThresholds[vehicle]
	if !ok {
		th = passabilityThresholds[VehicleCar]
	}

	if depthM <= 0 {
		return PassabilityResult{Passable: true, Confidence: 1.0, Reason: "dry"}
	}

	if velocityMS < 0.1 {
		if depthM < th.staticM {
			return PassabilityResult{Passable: true, Confidence: 0.8, Reason: "shallow static water"}
		}
		return PassabilityResult{Passable: false, Confidence: 0.9, Reason: "water too deep"}
	}

	if depthM < th.flowingM && velocityMS < th.maxVelocity {
		return PassabilityResult{Passable: true, Confidence: 0.6, Reason: "manageable flowing water"}
	}
	return PassabilityResult{Passable: false, Confidence: 0.95, Reason: "dangerous flowing water"}
}

// Clamp01 clamps v to [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SigmoidAggregate combines decayed crowd-report severities into a single
// crowd_risk via a logistic curve centered at inflection, with the
// configured steepness (spec §4.4).
func SigmoidAggregate(decayedSeverities []float64, steepness, inflection float64) float64 {
	if len(decayedSeverities) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range decayedSeverities {
		sum += s
	}
	mean := sum / float64(len(decayedSeverities))
	return 1 / (1 + math.Exp(-steepness*(mean-inflection)))
}

// TravelTimeMultiplier implements the risk-adjusted travel-time curve used
// by RoutingEngine path metrics (spec §4.5).
func TravelTimeMultiplier(risk float64) float64 {
	switch {
	case risk < 0.3:
		return 1 + risk*0.3
	case risk < 0.6:
		return 1.1 + (risk-0.3)*0.6
	default:
		return 1.3 + (risk-0.6)*0.5
	}
}
