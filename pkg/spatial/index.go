// Package spatial implements SpatialIndex (spec §4.2): nearest-node k-NN,
// edges-within-radius, and precomputed waterway proximity.
//
// The uniform grid spec.md calls for ("cell size ≈ 0.01°") is implemented
// with H3 hexagonal cell hashing at resolution 9 (edge length ≈174m, a
// finer cell than 0.01° at these latitudes) instead of a hand-rolled
// floor-division grid, per other_examples/mohammed-shakir-h3-spatial-cache
// which indexes geospatial points the same way for the same O(1)
// cell-lookup / ring-expansion reason.
package spatial

import (
	"math"
	"sort"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mas-fro/core/pkg/graph"
)

// CellResolution is the H3 resolution used for the node/edge grid.
const CellResolution = 9

const earthRadiusM = 6371000.0

// Haversine returns the great-circle distance between two points in
// meters.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180.0
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

func cellOf(lat, lon float64) h3.Cell {
	return h3.LatLngToCell(h3.NewLatLng(lat, lon), CellResolution)
}

// WaterwayType weights the decayed river-risk contribution of a waterway
// geometry near a node (spec §4.2).
type WaterwayType string

const (
	WaterwayRiver        WaterwayType = "river"
	WaterwayTidalChannel WaterwayType = "tidal_channel"
	WaterwayStream       WaterwayType = "stream"
	WaterwayCanalDrain   WaterwayType = "canal_drain"
	WaterwayDitch        WaterwayType = "ditch"
)

var waterwayTypeWeight = map[WaterwayType]float64{
	WaterwayRiver:        1.0,
	WaterwayTidalChannel: 1.0,
	WaterwayStream:       0.7,
	WaterwayCanalDrain:   0.4,
	WaterwayDitch:        0.3,
}

const riverDecayM = 200.0

// Waterway is a simplified line geometry: a polyline of (lat, lon) points.
type Waterway struct {
	Type   WaterwayType
	Points [][2]float64 // [lat, lon]
}

// Index answers spatial queries over the loaded graph: nearest node,
// edges near a point, and per-node waterway (river) risk priors.
type Index struct {
	nodeCells map[h3.Cell][]graph.Node
	nodes     map[graph.NodeID]graph.Node
	edgeCells map[h3.Cell][]graph.Edge
	riverRisk map[graph.NodeID]float64
}

// Build constructs an Index from the current set of nodes and edges. It
// must be rebuilt (call Build again) whenever the node set changes — the
// index does not track GraphStore mutations on its own for node geometry,
// only for edge risk (which routing reads straight from GraphStore).
func Build(nodes []graph.Node, edges []graph.Edge, waterways []Waterway) *Index {
	idx := &Index{
		nodeCells: make(map[h3.Cell][]graph.Node),
		nodes:     make(map[graph.NodeID]graph.Node, len(nodes)),
		edgeCells: make(map[h3.Cell][]graph.Edge),
		riverRisk: make(map[graph.NodeID]float64, len(nodes)),
	}

	for _, n := range nodes {
		idx.nodes[n.ID] = n
		c := cellOf(n.Lat, n.Lon)
		idx.nodeCells[c] = append(idx.nodeCells[c], n)
	}

	for _, e := range edges {
		u, okU := idx.nodes[e.Key.U]
		v, okV := idx.nodes[e.Key.V]
		if !okU || !okV {
			continue
		}
		midLat, midLon := (u.Lat+v.Lat)/2, (u.Lon+v.Lon)/2
		c := cellOf(midLat, midLon)
		idx.edgeCells[c] = append(idx.edgeCells[c], e)
	}

	idx.computeRiverRisk(waterways)
	return idx
}

// NearestNode returns the graph node closest to (lat, lon) by exact
// haversine distance, expanding the H3 ring search outward until at least
// one candidate is found and the next ring can no longer contain a closer
// candidate.
func (idx *Index) NearestNode(lat, lon float64) (graph.Node, float64, bool) {
	origin := cellOf(lat, lon)

	var best graph.Node
	bestDist := math.Inf(1)
	found := false
	foundK := -1

	for k := 0; k <= 32; k++ {
		ring := origin.GridDisk(k)
		sawNew := false
		for _, c := range ring {
			candidates, ok := idx.nodeCells[c]
			if !ok {
				continue
			}
			sawNew = true
			for _, n := range candidates {
				d := Haversine(lat, lon, n.Lat, n.Lon)
				if d < bestDist {
					bestDist = d
					best = n
					found = true
				}
			}
		}
		if found && foundK < 0 {
			foundK = k
		}
		// Once we have a candidate, one extra ring guarantees correctness
		// against candidates that fall just across the ring boundary.
		if found && k > 0 && !sawNew {
			break
		}
		if found && k >= 2 && k > foundK {
			break
		}
	}

	return best, bestDist, found
}

// EdgesNear returns every edge whose midpoint lies within radiusM of
// (lat, lon), filtered by exact distance after a cell-bounded candidate
// pass.
func (idx *Index) EdgesNear(lat, lon, radiusM float64) []graph.Edge {
	origin := cellOf(lat, lon)
	// H3 resolution 9 has an edge length of roughly 174m; size the ring
	// generously so the radius is never under-covered.
	k := int(math.Ceil(radiusM/100.0)) + 1

	seen := make(map[graph.EdgeKey]bool)
	var out []graph.Edge
	for _, c := range origin.GridDisk(k) {
		for _, e := range idx.edgeCells[c] {
			if seen[e.Key] {
				continue
			}
			u, v := idx.nodes[e.Key.U], idx.nodes[e.Key.V]
			midLat, midLon := (u.Lat+v.Lat)/2, (u.Lon+v.Lon)/2
			if Haversine(lat, lon, midLat, midLon) <= radiusM {
				out = append(out, e)
				seen[e.Key] = true
			}
		}
	}
	return out
}

// RiverRisk returns the precomputed decayed waterway-proximity risk prior
// for a node, or 0 if the node has no nearby waterway / is unknown.
func (idx *Index) RiverRisk(id graph.NodeID) float64 {
	return idx.riverRisk[id]
}

func (idx *Index) computeRiverRisk(waterways []Waterway) {
	if len(waterways) == 0 {
		return
	}
	for id, n := range idx.nodes {
		best := 0.0
		for _, w := range waterways {
			weight := waterwayTypeWeight[w.Type]
			if weight == 0 {
				continue
			}
			dist := nearestPointOnPolyline(n.Lat, n.Lon, w.Points)
			risk := weight * math.Exp(-dist/riverDecayM)
			if risk > best {
				best = risk
			}
		}
		idx.riverRisk[id] = best
	}
}

// nearestPointOnPolyline returns the minimum haversine distance from
// (lat, lon) to any vertex of the polyline. Treating the waterway as a
// dense vertex set (rather than interpolating along segments) is accurate
// enough at the sampling density flood-plain waterway exports use, and
// keeps this a pure point-distance computation.
func nearestPointOnPolyline(lat, lon float64, points [][2]float64) float64 {
	best := math.Inf(1)
	for _, p := range points {
		d := Haversine(lat, lon, p[0], p[1])
		if d < best {
			best = d
		}
	}
	return best
}

// SortByDistance sorts nodes by ascending haversine distance from
// (lat, lon).
func SortByDistance(lat, lon float64, points []graph.Node) {
	sort.Slice(points, func(i, j int) bool {
		return Haversine(lat, lon, points[i].Lat, points[i].Lon) < Haversine(lat, lon, points[j].Lat, points[j].Lon)
	})
}
