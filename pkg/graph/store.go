package graph

import (
	"sync"
	"time"

	apperrors "github.com/mas-fro/core/pkg/errors"
)

// ChangeListener is invoked after a batch commits, with the set of edge
// keys that changed. SpatialIndex and the (out of scope) websocket
// notifier subscribe through this.
type ChangeListener func(changed []EdgeKey)

// Store is the single authoritative owner of every Node and Edge record.
// All mutation goes through UpdateEdgeRisk or BatchUpdateRisks, serialized
// by mu; readers take the read lock and copy what they need before
// releasing it, so a long-running read never blocks a writer indefinitely.
type Store struct {
	mu          sync.RWMutex
	loaded      bool
	penalty     float64
	nodes       map[NodeID]Node
	adjacency   map[NodeID]map[NodeID][]*Edge // u -> v -> parallel edges
	edgeIndex   map[EdgeKey]*Edge
	listeners   []ChangeListener
	listenersMu sync.Mutex
}

// NewStore constructs an empty, unloaded Store. A failed or not-yet-run
// Load leaves the store in this state; routing queries against an unloaded
// store return ErrorTypeUnavailable.
func NewStore() *Store {
	return &Store{
		penalty:   DefaultRiskPenalty,
		nodes:     make(map[NodeID]Node),
		adjacency: make(map[NodeID]map[NodeID][]*Edge),
		edgeIndex: make(map[EdgeKey]*Edge),
	}
}

// Subscribe registers a listener invoked after each committed batch.
func (s *Store) Subscribe(l ChangeListener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) notify(changed []EdgeKey) {
	s.listenersMu.Lock()
	listeners := append([]ChangeListener(nil), s.listeners...)
	s.listenersMu.Unlock()
	for _, l := range listeners {
		l(changed)
	}
}

// IsLoaded reports whether a graph has been successfully loaded.
func (s *Store) IsLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// NodeCount and EdgeCount support SimulationManager.reset() invariants
// (spec §8: "preserves node count unchanged").
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

func (s *Store) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edgeIndex)
}

// GetNode returns an immutable snapshot of the node, or a NotFound error.
func (s *Store) GetNode(id NodeID) (Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return Node{}, apperrors.NewNotFoundError("node")
	}
	return n, nil
}

// AllNodes returns a copy of every node, for SpatialIndex construction.
func (s *Store) AllNodes() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	return out
}

// GetEdge returns a value-copy snapshot of the edge at key, or a NotFound
// error if the key is unknown.
func (s *Store) GetEdge(key EdgeKey) (Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.edgeIndex[key]
	if !ok {
		return Edge{}, apperrors.NewNotFoundError("edge")
	}
	return *e, nil
}

// NeighborsOut returns a snapshot of every outgoing edge from u.
func (s *Store) NeighborsOut(u NodeID) []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byTarget, ok := s.adjacency[u]
	if !ok {
		return nil
	}
	out := make([]Edge, 0, len(byTarget))
	for _, parallel := range byTarget {
		for _, e := range parallel {
			out = append(out, *e)
		}
	}
	return out
}

// UpdateEdgeRisk clamps risk to [0,1], recomputes weight and last_updated
// atomically under the write lock, and notifies subscribers of the single
// changed key. Updating an unknown key is a recoverable error; it never
// corrupts store state.
func (s *Store) UpdateEdgeRisk(key EdgeKey, risk float64, at time.Time) error {
	s.mu.Lock()
	e, ok := s.edgeIndex[key]
	if !ok {
		s.mu.Unlock()
		return apperrors.NewNotFoundError("edge")
	}
	e.RiskScore = riskmodelClamp(risk)
	e.Weight = computeWeight(e.LengthM, e.RiskScore, s.penalty)
	e.LastUpdated = at
	s.mu.Unlock()

	s.notify([]EdgeKey{key})
	return nil
}

// BatchUpdateRisks applies every (key, risk) pair in one critical section
// and emits exactly one change notification, regardless of how many edges
// it touched. This is the hard performance requirement of spec §4.4: N
// individual observations must collapse into one GraphStore write, not N.
func (s *Store) BatchUpdateRisks(updates map[EdgeKey]float64, at time.Time) ([]EdgeKey, error) {
	s.mu.Lock()
	changed := make([]EdgeKey, 0, len(updates))
	for key, risk := range updates {
		e, ok := s.edgeIndex[key]
		if !ok {
			continue // unknown keys are skipped, not fatal to the batch
		}
		e.RiskScore = riskmodelClamp(risk)
		e.Weight = computeWeight(e.LengthM, e.RiskScore, s.penalty)
		e.LastUpdated = at
		changed = append(changed, key)
	}
	s.mu.Unlock()

	s.notify(changed)
	return changed, nil
}

// SnapshotEdges returns a copy of every edge matching filter (nil = all),
// suitable for read-heavy routing passes that must not hold the store's
// lock for the duration of a search.
func (s *Store) SnapshotEdges(filter func(Edge) bool) []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Edge, 0, len(s.edgeIndex))
	for _, e := range s.edgeIndex {
		if filter == nil || filter(*e) {
			out = append(out, *e)
		}
	}
	return out
}

// MinParallelWeight returns the minimum Weight among all parallel edges
// between u and v (spec §4.5: "effective weight among parallel edges is
// min over parallel keys"), and whether any edge exists between them.
func (s *Store) MinParallelWeight(u, v NodeID) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parallel, ok := s.adjacency[u][v]
	if !ok || len(parallel) == 0 {
		return 0, false
	}
	min := parallel[0].Weight
	for _, e := range parallel[1:] {
		if e.Weight < min {
			min = e.Weight
		}
	}
	return min, true
}

func riskmodelClamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
