package graph

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	apperrors "github.com/mas-fro/core/pkg/errors"
)

// BoundingBox is the declared lat/lon extent nodes are expected to fall
// within (spec §3 invariant: coordinates outside it log a warning but are
// accepted).
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// Contains reports whether (lat, lon) falls within the box.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// rawGraphFile is the on-disk shape produced by the upstream graph-export
// pipeline (out of core scope): a flat node list and a flat edge list. No
// third-party pack library parses a bespoke graph-export format better
// than encoding/json for a well-known flat schema, so this loader uses the
// standard library directly (see DESIGN.md).
type rawGraphFile struct {
	Nodes []rawNode `json:"nodes"`
	Edges []rawEdge `json:"edges"`
}

type rawNode struct {
	ID     int64   `json:"id"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Degree int     `json:"street_count"`
}

type rawEdge struct {
	U       int64   `json:"u"`
	V       int64   `json:"v"`
	K       int     `json:"k"`
	LengthM float64 `json:"length_m"`
	Highway string  `json:"highway"`
}

// WarnFunc receives a warning message; callers typically wire this to a
// structured logger at WARN level.
type WarnFunc func(msg string, keysAndValues ...interface{})

// Load reads a graph export file from path, validates it, and (re)builds
// the store's node/edge tables. A failed load leaves the store empty and
// IsLoaded() false, per spec §4.1 failure semantics.
func (s *Store) Load(path string, bbox BoundingBox, warn WarnFunc) error {
	f, err := os.Open(path)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeUnavailable, "open graph file %s", path)
	}
	defer f.Close()
	return s.LoadFrom(f, bbox, warn)
}

// LoadFrom reads the same export format from an arbitrary reader, letting
// callers load from an embedded asset or test fixture without touching the
// filesystem.
func (s *Store) LoadFrom(r io.Reader, bbox BoundingBox, warn WarnFunc) error {
	if warn == nil {
		warn = func(string, ...interface{}) {}
	}

	var raw rawGraphFile
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "decode graph file")
	}

	nodes := make(map[NodeID]Node, len(raw.Nodes))
	for _, rn := range raw.Nodes {
		if !bbox.Contains(rn.Lat, rn.Lon) {
			warn("node coordinates outside declared bounding box", "node_id", rn.ID, "lat", rn.Lat, "lon", rn.Lon)
		}
		nodes[NodeID(rn.ID)] = Node{ID: NodeID(rn.ID), Lat: rn.Lat, Lon: rn.Lon, Degree: rn.Degree}
	}

	adjacency := make(map[NodeID]map[NodeID][]*Edge, len(nodes))
	edgeIndex := make(map[EdgeKey]*Edge, len(raw.Edges))
	now := time.Now()

	for _, re := range raw.Edges {
		u, v := NodeID(re.U), NodeID(re.V)
		if _, ok := nodes[u]; !ok {
			return apperrors.New(apperrors.ErrorTypeUnavailable, fmt.Sprintf("edge references unknown node %d", re.U))
		}
		if _, ok := nodes[v]; !ok {
			return apperrors.New(apperrors.ErrorTypeUnavailable, fmt.Sprintf("edge references unknown node %d", re.V))
		}
		if re.LengthM <= 0 {
			return apperrors.New(apperrors.ErrorTypeUnavailable, fmt.Sprintf("edge (%d,%d,%d) has non-positive length", re.U, re.V, re.K))
		}

		highway := HighwayClass(re.Highway)
		speed, known := BaseSpeedKMH[highway]
		if !known {
			highway = HighwayUnclassified
			speed = BaseSpeedKMH[HighwayUnclassified]
		}

		key := EdgeKey{U: u, V: v, K: re.K}
		edge := &Edge{
			Key:          key,
			LengthM:      re.LengthM,
			Highway:      highway,
			BaseSpeedKMH: speed,
			RiskScore:    0,
			Weight:       re.LengthM,
			LastUpdated:  now,
		}

		if _, ok := adjacency[u]; !ok {
			adjacency[u] = make(map[NodeID][]*Edge)
		}
		adjacency[u][v] = append(adjacency[u][v], edge)
		edgeIndex[key] = edge
	}

	s.mu.Lock()
	s.nodes = nodes
	s.adjacency = adjacency
	s.edgeIndex = edgeIndex
	s.loaded = true
	s.mu.Unlock()

	return nil
}
