package routing

import (
	"fmt"

	"github.com/mas-fro/core/pkg/graph"
	"github.com/mas-fro/core/pkg/riskmodel"
)

// PathMetrics summarizes a Route in one sweep (spec §4.5).
type PathMetrics struct {
	TotalDistanceM       float64
	NumSegments          int
	AverageRisk          float64
	MaxRisk              float64
	EstimatedTimeMinutes float64
	Warnings             []string
}

// computeMetrics sweeps route's segments once, resolving each edge from
// store, and folds in any relaxation warning already recorded on route.
func computeMetrics(store *graph.Store, route Route) (PathMetrics, error) {
	var m PathMetrics
	m.NumSegments = len(route.Segments)

	var riskWeightedSum, timeSeconds float64
	for _, seg := range route.Segments {
		e, err := store.GetEdge(seg.Edge)
		if err != nil {
			continue
		}
		m.TotalDistanceM += e.LengthM
		riskWeightedSum += e.RiskScore * e.LengthM
		if e.RiskScore > m.MaxRisk {
			m.MaxRisk = e.RiskScore
		}

		baseSpeed := e.BaseSpeedKMH
		if baseSpeed <= 0 {
			baseSpeed = graph.BaseSpeedKMH[graph.HighwayUnclassified]
		}
		baseSeconds := (e.LengthM / 1000.0) / baseSpeed * 3600.0
		timeSeconds += baseSeconds * riskmodel.TravelTimeMultiplier(e.RiskScore)

		if e.RiskScore >= 0.7 {
			m.Warnings = append(m.Warnings, fmt.Sprintf("high flood risk on segment %d->%d", seg.Edge.U, seg.Edge.V))
		}
	}

	if m.TotalDistanceM > 0 {
		m.AverageRisk = riskWeightedSum / m.TotalDistanceM
	}
	m.EstimatedTimeMinutes = timeSeconds / 60.0

	if route.RelaxationUsed {
		m.Warnings = append(m.Warnings, fmt.Sprintf("max-risk threshold relaxed to %v", route.RelaxedTo))
	}

	return m, nil
}
