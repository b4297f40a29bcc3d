// Package routing implements RoutingEngine (spec §4.5): A* and Dijkstra
// path search over the GraphStore multigraph, path metrics, and nearest-
// evacuation-center selection.
//
// The open-set priority queue follows katalvlaran/lvlath's Dijkstra
// implementation (container/heap with a nodeItem/nodePQ pair implementing
// heap.Interface), extended here with an admissible haversine heuristic for
// A* and a configurable risk threshold.
package routing

import (
	"container/heap"
	"math"
	"time"

	apperrors "github.com/mas-fro/core/pkg/errors"
	"github.com/mas-fro/core/pkg/graph"
	"github.com/mas-fro/core/pkg/spatial"
)

// Mode selects the risk_penalty profile a search runs under (spec §4.5).
type Mode string

const (
	ModeSafest   Mode = "safest"
	ModeBalanced Mode = "balanced"
	ModeFastest  Mode = "fastest"
)

var modePenalty = map[Mode]float64{
	ModeSafest:   100000,
	ModeBalanced: 2000,
	ModeFastest:  0,
}

// Preferences configures one compute_route call.
type Preferences struct {
	Mode              Mode
	AvoidFloods       bool
	Vehicle           string
	MaxRiskThreshold  float64 // default 0.95; (0, 1]
}

// DefaultPreferences returns the spec-mandated defaults for an unset
// Preferences value.
func DefaultPreferences() Preferences {
	return Preferences{Mode: ModeBalanced, MaxRiskThreshold: 0.95}
}

func (p Preferences) normalized() Preferences {
	if p.Mode == "" {
		p.Mode = ModeBalanced
	}
	if p.MaxRiskThreshold <= 0 {
		p.MaxRiskThreshold = 0.95
	}
	return p
}

func (p Preferences) penalty() float64 {
	if v, ok := modePenalty[p.Mode]; ok {
		return v
	}
	return modePenalty[ModeBalanced]
}

// maxSnapDistanceM bounds how far a query point may be from its nearest
// node before the search gives up with NOT_FOUND (spec §4.5).
const maxSnapDistanceM = 500.0

var relaxationSteps = []float64{0.95, 0.99, math.Inf(1)}

// nodeItem is one entry in the A* open set.
type nodeItem struct {
	id       graph.NodeID
	g        float64
	f        float64
	index    int
}

// nodePQ is a min-heap over nodeItem, tie-broken on lower g then lower node
// id for deterministic search order (spec §4.5 "Determinism").
type nodePQ []*nodeItem

func (pq nodePQ) Len() int { return len(pq) }
func (pq nodePQ) Less(i, j int) bool {
	if pq[i].f != pq[j].f {
		return pq[i].f < pq[j].f
	}
	if pq[i].g != pq[j].g {
		return pq[i].g < pq[j].g
	}
	return pq[i].id < pq[j].id
}
func (pq nodePQ) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index, pq[j].index = i, j
}
func (pq *nodePQ) Push(x interface{}) {
	item := x.(*nodeItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}
func (pq *nodePQ) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}

// Segment is one traversed edge in a resolved Route.
type Segment struct {
	Edge graph.EdgeKey
	Node graph.Node // the node arrived at (the edge's V endpoint)
}

// Route is the result of a successful search, before metrics are computed.
type Route struct {
	Nodes          []graph.Node
	Segments       []Segment
	RelaxedTo      float64 // the relaxed threshold used when RelaxationUsed is true; zero otherwise
	RelaxationUsed bool
}

const maxSpeedKMH = 120.0

// heuristic returns an admissible estimate of remaining weight from n to
// end: plain haversine distance in meters, which is <= any route's total w
// because w = L + penalty·L·r >= L for every edge (spec §4.5).
func heuristic(n, end graph.Node) float64 {
	return spatial.Haversine(n.Lat, n.Lon, end.Lat, end.Lon)
}

// edgeWeight returns the effective weight of the cheapest parallel edge
// from u to v, and whether it is passable under threshold. Parallel edges
// are collapsed to their minimum weight per spec §4.5 ("not a bypass
// trick"): parallel edges whose risk is at or above threshold are skipped,
// and the minimum weight is taken over the rest. The step is impassable
// only when every parallel edge from u to v is at or above threshold.
func edgeWeight(store *graph.Store, u, v graph.NodeID, penalty, threshold float64) (float64, bool) {
	edges := store.NeighborsOut(u)
	bestWeight := math.Inf(1)
	passable := false
	for _, e := range edges {
		if e.Key.V != v {
			continue
		}
		if e.RiskScore >= threshold {
			continue
		}
		w := e.LengthM + penalty*e.LengthM*e.RiskScore
		if w < bestWeight {
			bestWeight = w
			passable = true
		}
	}
	return bestWeight, passable
}

// search runs A* from start to end with the given penalty and risk
// threshold. It never performs fallback relaxation itself; Engine.compute
// drives that loop.
func search(store *graph.Store, start, end graph.NodeID, penalty, threshold float64) (Route, error) {
	if start == end {
		n, err := store.GetNode(start)
		if err != nil {
			return Route{}, apperrors.NewNotFoundError("start/end node")
		}
		return Route{Nodes: []graph.Node{n}}, nil
	}

	startNode, err := store.GetNode(start)
	if err != nil {
		return Route{}, apperrors.NewNotFoundError("start node")
	}
	endNode, err := store.GetNode(end)
	if err != nil {
		return Route{}, apperrors.NewNotFoundError("end node")
	}

	gScore := map[graph.NodeID]float64{start: 0}
	cameFrom := map[graph.NodeID]graph.EdgeKey{}
	cameFromNode := map[graph.NodeID]graph.NodeID{}
	closed := map[graph.NodeID]bool{}

	pq := &nodePQ{}
	heap.Init(pq)
	heap.Push(pq, &nodeItem{id: start, g: 0, f: heuristic(startNode, endNode)})

	for pq.Len() > 0 {
		current := heap.Pop(pq).(*nodeItem)
		if closed[current.id] {
			continue
		}
		if current.id == end {
			return reconstructPath(store, start, end, cameFrom, cameFromNode)
		}
		closed[current.id] = true

		visited := make(map[graph.NodeID]bool)
		for _, e := range store.NeighborsOut(current.id) {
			if closed[e.Key.V] || visited[e.Key.V] {
				continue
			}
			visited[e.Key.V] = true

			w, ok := edgeWeight(store, current.id, e.Key.V, penalty, threshold)
			if !ok {
				continue
			}
			tentativeG := current.g + w
			if existing, seen := gScore[e.Key.V]; seen && tentativeG >= existing {
				continue
			}
			gScore[e.Key.V] = tentativeG
			cameFrom[e.Key.V] = minWeightKey(store, current.id, e.Key.V, penalty, threshold)
			cameFromNode[e.Key.V] = current.id

			vNode, err := store.GetNode(e.Key.V)
			if err != nil {
				continue
			}
			heap.Push(pq, &nodeItem{id: e.Key.V, g: tentativeG, f: tentativeG + heuristic(vNode, endNode)})
		}
	}

	return Route{}, apperrors.New(apperrors.ErrorTypeNotFound, "no path between start and end")
}

// minWeightKey returns the EdgeKey of the minimum-weight parallel edge from
// u to v under the given penalty/threshold, for path reconstruction.
func minWeightKey(store *graph.Store, u, v graph.NodeID, penalty, threshold float64) graph.EdgeKey {
	var best graph.EdgeKey
	bestWeight := math.Inf(1)
	for _, e := range store.NeighborsOut(u) {
		if e.Key.V != v || e.RiskScore >= threshold {
			continue
		}
		w := e.LengthM + penalty*e.LengthM*e.RiskScore
		if w < bestWeight {
			bestWeight = w
			best = e.Key
		}
	}
	return best
}

func reconstructPath(store *graph.Store, start, end graph.NodeID, cameFrom map[graph.NodeID]graph.EdgeKey, cameFromNode map[graph.NodeID]graph.NodeID) (Route, error) {
	var nodes []graph.Node
	var segments []Segment

	cur := end
	for {
		n, err := store.GetNode(cur)
		if err != nil {
			return Route{}, apperrors.NewNotFoundError("path node")
		}
		nodes = append([]graph.Node{n}, nodes...)
		if cur == start {
			break
		}
		key := cameFrom[cur]
		segments = append([]Segment{{Edge: key, Node: n}}, segments...)
		cur = cameFromNode[cur]
	}

	return Route{Nodes: nodes, Segments: segments}, nil
}

// Deadline-aware search support: searchWithDeadline runs search on a
// separate goroutine and returns a timeout error if deadline passes before
// the search completes (a zero deadline means no bound). The search loop
// itself does not check the deadline, and a timed-out search goroutine is
// not stopped: it runs to completion and its result is discarded.
func searchWithDeadline(store *graph.Store, start, end graph.NodeID, penalty, threshold float64, deadline time.Time) (Route, error) {
	if deadline.IsZero() {
		return search(store, start, end, penalty, threshold)
	}
	done := make(chan struct{})
	var route Route
	var err error
	go func() {
		route, err = search(store, start, end, penalty, threshold)
		close(done)
	}()
	select {
	case <-done:
		return route, err
	case <-time.After(time.Until(deadline)):
		return Route{}, apperrors.New(apperrors.ErrorTypeTimeout, "route search exceeded deadline")
	}
}
