package main

import (
	"encoding/json"
	"os"

	apperrors "github.com/mas-fro/core/pkg/errors"
	"github.com/mas-fro/core/pkg/spatial"
)

// rawWaterwayFile mirrors the flat export format graph.Store.Load reads:
// a bespoke upstream export, not a format any pack library parses better
// than encoding/json (see DESIGN.md).
type rawWaterwayFile struct {
	Waterways []rawWaterway `json:"waterways"`
}

type rawWaterway struct {
	Type   string       `json:"type"`
	Points [][2]float64 `json:"points"`
}

// loadWaterways reads the optional waterway-geometry export used to seed
// SpatialIndex's river-risk precomputation. An empty path is valid: the
// index then treats every node as having zero river risk.
func loadWaterways(path string) ([]spatial.Waterway, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrorTypeUnavailable, "read waterways file %s", path)
	}
	var f rawWaterwayFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "decode waterways file")
	}
	out := make([]spatial.Waterway, 0, len(f.Waterways))
	for _, w := range f.Waterways {
		out = append(out, spatial.Waterway{Type: spatial.WaterwayType(w.Type), Points: w.Points})
	}
	return out, nil
}
