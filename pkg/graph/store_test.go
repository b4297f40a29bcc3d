package graph_test

import (
	"strings"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mas-fro/core/pkg/graph"
)

func TestGraph(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "GraphStore Suite")
}

const threeNodeFixture = `{
	"nodes": [
		{"id": 1, "lat": 14.60, "lon": 121.00, "street_count": 2},
		{"id": 2, "lat": 14.61, "lon": 121.01, "street_count": 3},
		{"id": 3, "lat": 14.62, "lon": 121.02, "street_count": 2}
	],
	"edges": [
		{"u": 1, "v": 2, "k": 0, "length_m": 100, "highway": "residential"},
		{"u": 2, "v": 3, "k": 0, "length_m": 100, "highway": "residential"}
	]
}`

func bbox() graph.BoundingBox {
	return graph.BoundingBox{MinLat: 14.0, MaxLat: 15.0, MinLon: 120.5, MaxLon: 121.5}
}

var _ = Describe("GraphStore", func() {
	var store *graph.Store

	BeforeEach(func() {
		store = graph.NewStore()
		Expect(store.LoadFrom(strings.NewReader(threeNodeFixture), bbox(), nil)).To(Succeed())
	})

	Describe("Load", func() {
		It("imputes base speed from the highway class table", func() {
			e, err := store.GetEdge(graph.EdgeKey{U: 1, V: 2, K: 0})
			Expect(err).NotTo(HaveOccurred())
			Expect(e.BaseSpeedKMH).To(Equal(graph.BaseSpeedKMH[graph.HighwayResidential]))
		})

		It("marks the store loaded with the expected node and edge counts", func() {
			Expect(store.IsLoaded()).To(BeTrue())
			Expect(store.NodeCount()).To(Equal(3))
			Expect(store.EdgeCount()).To(Equal(2))
		})

		It("rejects edges referencing unknown nodes and leaves the store unloaded", func() {
			bad := graph.NewStore()
			err := bad.LoadFrom(strings.NewReader(`{"nodes":[{"id":1,"lat":14.6,"lon":121.0}],"edges":[{"u":1,"v":99,"k":0,"length_m":10,"highway":"residential"}]}`), bbox(), nil)
			Expect(err).To(HaveOccurred())
			Expect(bad.IsLoaded()).To(BeFalse())
		})
	})

	Describe("GetEdge / GetNode", func() {
		It("returns a NotFound error for an unknown edge key", func() {
			_, err := store.GetEdge(graph.EdgeKey{U: 1, V: 99, K: 0})
			Expect(err).To(HaveOccurred())
		})

		It("returns a NotFound error for an unknown node id", func() {
			_, err := store.GetNode(99)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("UpdateEdgeRisk", func() {
		It("clamps risk, recomputes weight atomically, and round-trips", func() {
			key := graph.EdgeKey{U: 1, V: 2, K: 0}
			Expect(store.UpdateEdgeRisk(key, 1.5, time.Now())).To(Succeed())

			e, err := store.GetEdge(key)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.RiskScore).To(Equal(1.0))
			Expect(e.Weight).To(Equal(e.LengthM + graph.DefaultRiskPenalty*e.LengthM*1.0))
		})

		It("clamps negative risk to zero", func() {
			key := graph.EdgeKey{U: 1, V: 2, K: 0}
			Expect(store.UpdateEdgeRisk(key, -0.5, time.Now())).To(Succeed())
			e, _ := store.GetEdge(key)
			Expect(e.RiskScore).To(Equal(0.0))
		})

		It("returns a recoverable error for an unknown edge and does not corrupt state", func() {
			err := store.UpdateEdgeRisk(graph.EdgeKey{U: 1, V: 99, K: 0}, 0.5, time.Now())
			Expect(err).To(HaveOccurred())
			Expect(store.EdgeCount()).To(Equal(2))
		})
	})

	Describe("BatchUpdateRisks", func() {
		It("applies every update atomically and notifies listeners exactly once", func() {
			notifications := 0
			var lastChanged []graph.EdgeKey
			store.Subscribe(func(changed []graph.EdgeKey) {
				notifications++
				lastChanged = changed
			})

			updates := map[graph.EdgeKey]float64{
				{U: 1, V: 2, K: 0}: 0.4,
				{U: 2, V: 3, K: 0}: 0.8,
			}
			changed, err := store.BatchUpdateRisks(updates, time.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(HaveLen(2))
			Expect(notifications).To(Equal(1))
			Expect(lastChanged).To(HaveLen(2))

			e1, _ := store.GetEdge(graph.EdgeKey{U: 1, V: 2, K: 0})
			e2, _ := store.GetEdge(graph.EdgeKey{U: 2, V: 3, K: 0})
			Expect(e1.RiskScore).To(Equal(0.4))
			Expect(e2.RiskScore).To(Equal(0.8))
		})

		It("has the same observable outcome as an equivalent sequence of individual updates", func() {
			individually := graph.NewStore()
			Expect(individually.LoadFrom(strings.NewReader(threeNodeFixture), bbox(), nil)).To(Succeed())
			individually.UpdateEdgeRisk(graph.EdgeKey{U: 1, V: 2, K: 0}, 0.3, time.Now())
			individually.UpdateEdgeRisk(graph.EdgeKey{U: 2, V: 3, K: 0}, 0.6, time.Now())

			batched := graph.NewStore()
			Expect(batched.LoadFrom(strings.NewReader(threeNodeFixture), bbox(), nil)).To(Succeed())
			batched.BatchUpdateRisks(map[graph.EdgeKey]float64{
				{U: 1, V: 2, K: 0}: 0.3,
				{U: 2, V: 3, K: 0}: 0.6,
			}, time.Now())

			a, _ := individually.GetEdge(graph.EdgeKey{U: 1, V: 2, K: 0})
			b, _ := batched.GetEdge(graph.EdgeKey{U: 1, V: 2, K: 0})
			Expect(a.RiskScore).To(Equal(b.RiskScore))
			Expect(a.Weight).To(Equal(b.Weight))
		})
	})

	Describe("MinParallelWeight", func() {
		It("returns the minimum weight among parallel edges", func() {
			p := graph.NewStore()
			fixture := `{
				"nodes": [{"id": 1, "lat": 14.6, "lon": 121.0}, {"id": 2, "lat": 14.61, "lon": 121.0}],
				"edges": [
					{"u": 1, "v": 2, "k": 0, "length_m": 100, "highway": "residential"},
					{"u": 1, "v": 2, "k": 1, "length_m": 100, "highway": "residential"}
				]
			}`
			Expect(p.LoadFrom(strings.NewReader(fixture), bbox(), nil)).To(Succeed())
			p.UpdateEdgeRisk(graph.EdgeKey{U: 1, V: 2, K: 0}, 0.95, time.Now())
			p.UpdateEdgeRisk(graph.EdgeKey{U: 1, V: 2, K: 1}, 0.1, time.Now())

			min, ok := p.MinParallelWeight(1, 2)
			Expect(ok).To(BeTrue())
			e1, _ := p.GetEdge(graph.EdgeKey{U: 1, V: 2, K: 1})
			Expect(min).To(Equal(e1.Weight))
		})
	})

	Describe("SnapshotEdges", func() {
		It("returns a filtered read-only copy", func() {
			all := store.SnapshotEdges(nil)
			Expect(all).To(HaveLen(2))

			risky := store.SnapshotEdges(func(e graph.Edge) bool { return e.RiskScore > 0.5 })
			Expect(risky).To(HaveLen(0))
		})
	})
})
