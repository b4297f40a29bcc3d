package routing_test

import (
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mas-fro/core/pkg/graph"
	"github.com/mas-fro/core/pkg/routing"
	"github.com/mas-fro/core/pkg/spatial"
)

func TestRouting(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "RoutingEngine Suite")
}

func bbox() graph.BoundingBox {
	return graph.BoundingBox{MinLat: -90, MaxLat: 90, MinLon: -180, MaxLon: 180}
}

func buildEngine(raw string) (*routing.Engine, *graph.Store) {
	store := graph.NewStore()
	Expect(store.LoadFrom(strings.NewReader(raw), bbox(), nil)).To(Succeed())
	idx := spatial.Build(store.AllNodes(), store.SnapshotEdges(nil), nil)
	return routing.NewEngine(store, idx, nil, logr.Discard()), store
}

var _ = Describe("Engine", func() {
	Describe("avoiding flooded segments (scenario 2)", func() {
		// 1 --100m--> 2 --100m--> 3, plus a direct 1->3 of length 250.
		const raw = `{
			"nodes": [
				{"id": 1, "lat": 14.6500, "lon": 121.1000},
				{"id": 2, "lat": 14.6509, "lon": 121.1000},
				{"id": 3, "lat": 14.6518, "lon": 121.1000}
			],
			"edges": [
				{"u": 1, "v": 2, "k": 0, "length_m": 100, "highway": "residential"},
				{"u": 2, "v": 3, "k": 0, "length_m": 100, "highway": "residential"},
				{"u": 1, "v": 3, "k": 0, "length_m": 250, "highway": "residential"}
			]
		}`

		It("routes around the flood in safest mode, straight through in fastest mode", func() {
			eng, store := buildEngine(raw)
			Expect(store.UpdateEdgeRisk(graph.EdgeKey{U: 2, V: 3, K: 0}, 0.9, time.Now())).To(Succeed())

			safest, err := eng.ComputeRoute(14.6500, 121.1000, 14.6518, 121.1000, routing.Preferences{Mode: routing.ModeSafest, MaxRiskThreshold: 0.95})
			Expect(err).NotTo(HaveOccurred())
			Expect(nodeIDs(safest.Nodes)).To(Equal([]graph.NodeID{1, 3}))

			fastest, err := eng.ComputeRoute(14.6500, 121.1000, 14.6518, 121.1000, routing.Preferences{Mode: routing.ModeFastest, MaxRiskThreshold: 0.95})
			Expect(err).NotTo(HaveOccurred())
			Expect(nodeIDs(fastest.Nodes)).To(Equal([]graph.NodeID{1, 2, 3}))
			Expect(fastest.Metrics.Warnings).NotTo(BeEmpty())
		})
	})

	Describe("parallel edges (scenario 3)", func() {
		const raw = `{
			"nodes": [
				{"id": 1, "lat": 14.6500, "lon": 121.1000},
				{"id": 2, "lat": 14.6509, "lon": 121.1000}
			],
			"edges": [
				{"u": 1, "v": 2, "k": 0, "length_m": 100, "highway": "residential"},
				{"u": 1, "v": 2, "k": 1, "length_m": 100, "highway": "residential"}
			]
		}`

		It("uses the minimum-weight parallel edge rather than treating them as a bypass", func() {
			eng, store := buildEngine(raw)
			Expect(store.UpdateEdgeRisk(graph.EdgeKey{U: 1, V: 2, K: 0}, 0.95, time.Now())).To(Succeed())
			Expect(store.UpdateEdgeRisk(graph.EdgeKey{U: 1, V: 2, K: 1}, 0.1, time.Now())).To(Succeed())

			result, err := eng.ComputeRoute(14.6500, 121.1000, 14.6509, 121.1000, routing.Preferences{Mode: routing.ModeBalanced, MaxRiskThreshold: 0.95})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Metrics.MaxRisk).To(BeNumerically("<", 0.95))
		})
	})

	Describe("snap distance", func() {
		const raw = `{
			"nodes": [
				{"id": 1, "lat": 14.6500, "lon": 121.1000},
				{"id": 2, "lat": 14.6509, "lon": 121.1000}
			],
			"edges": [
				{"u": 1, "v": 2, "k": 0, "length_m": 100, "highway": "residential"}
			]
		}`

		It("returns NOT_FOUND when the query point is far from every node", func() {
			eng, _ := buildEngine(raw)
			_, err := eng.ComputeRoute(0, 0, 14.6509, 121.1000, routing.DefaultPreferences())
			Expect(err).To(HaveOccurred())
		})
	})
})

func nodeIDs(nodes []graph.Node) []graph.NodeID {
	ids := make([]graph.NodeID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}
