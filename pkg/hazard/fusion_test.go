package hazard_test

import (
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mas-fro/core/internal/clock"
	"github.com/mas-fro/core/pkg/graph"
	"github.com/mas-fro/core/pkg/hazard"
	"github.com/mas-fro/core/pkg/spatial"
)

func TestHazard(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "HazardFusion Suite")
}

// threeNodeChain builds 1 --100m--> 2 --100m--> 3 along a straight line of
// latitude, all risk 0, matching spec §8 scenario 1's fixture.
func threeNodeChain() *graph.Store {
	store := graph.NewStore()
	raw := `{
		"nodes": [
			{"id": 1, "lat": 14.6500, "lon": 121.1000},
			{"id": 2, "lat": 14.6509, "lon": 121.1000},
			{"id": 3, "lat": 14.6518, "lon": 121.1000}
		],
		"edges": [
			{"u": 1, "v": 2, "k": 0, "length_m": 100, "highway": "residential"},
			{"u": 2, "v": 3, "k": 0, "length_m": 100, "highway": "residential"}
		]
	}`
	_ = store.LoadFrom(strings.NewReader(raw), graph.BoundingBox{MinLat: -90, MaxLat: 90, MinLon: -180, MaxLon: 180}, nil)
	return store
}

var _ = Describe("Fusion", func() {
	var (
		store *graph.Store
		idx   *spatial.Index
		clk   *clock.Simulated
		f     *hazard.Fusion
	)

	BeforeEach(func() {
		store = threeNodeChain()
		idx = spatial.Build(store.AllNodes(), store.SnapshotEdges(nil), nil)
		clk = clock.NewSimulated(time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC))
		f = hazard.New(store, idx, clk, logr.Discard(), nil)
	})

	It("leaves every risk at 0 with no observations and no raster (boundary)", func() {
		summary, err := f.Tick(true)
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.AverageRisk).To(BeNumerically("==", 0))

		for _, e := range store.SnapshotEdges(nil) {
			Expect(e.RiskScore).To(BeNumerically("==", 0))
		}
	})

	It("recomputes only the reported edge's neighborhood (scenario 1)", func() {
		severity := 0.8
		report := hazard.ScoutReport{
			Observation: hazard.Observation{
				Source:     hazard.SourceReport,
				Lat:        14.65135, // near the 2->3 midpoint
				Lon:        121.1000,
				Severity:   &severity,
				Confidence: 0.9,
				ObservedAt: clk.Now(),
				TTLSeconds: 3600,
			},
			ReportType: hazard.ReportFlooding,
		}
		Expect(f.IngestScoutReport(report)).To(Succeed())

		_, err := f.Tick(true)
		Expect(err).NotTo(HaveOccurred())

		edge23, err := store.GetEdge(graph.EdgeKey{U: 2, V: 3, K: 0})
		Expect(err).NotTo(HaveOccurred())
		Expect(edge23.RiskScore).To(BeNumerically(">=", 0.2))

		edge12, err := store.GetEdge(graph.EdgeKey{U: 1, V: 2, K: 0})
		Expect(err).NotTo(HaveOccurred())
		Expect(edge12.RiskScore).To(BeNumerically("<", edge23.RiskScore))
	})

	It("collapses N station observations into exactly one batch write (scenario 4)", func() {
		for i := 0; i < 15; i++ {
			depth := 0.4
			obs := hazard.Observation{
				Source:      hazard.SourceStation,
				StationName: stationName(i),
				Lat:         14.6500 + float64(i)*0.0001,
				Lon:         121.1000,
				DepthM:      &depth,
				Confidence:  0.8,
				ObservedAt:  clk.Now(),
				TTLSeconds:  3600,
			}
			Expect(f.IngestObservation(obs)).To(Succeed())
		}

		var notifyCount int
		store.Subscribe(func(changed []graph.EdgeKey) { notifyCount++ })

		summary, err := f.Tick(false)
		Expect(err).NotTo(HaveOccurred())
		Expect(notifyCount).To(Equal(1), "BatchUpdateRisks must notify exactly once per tick")
		Expect(summary.StationsUsed).To(Equal(15))
	})

	It("decays crowd-reported risk by at least 75% after two half-lives (scenario 6)", func() {
		severity := 1.0
		report := hazard.ScoutReport{
			Observation: hazard.Observation{
				Source:     hazard.SourceReport,
				Lat:        14.6509,
				Lon:        121.1000,
				Severity:   &severity,
				Confidence: 1.0,
				ObservedAt: clk.Now(),
				TTLSeconds: 7200,
			},
			ReportType: hazard.ReportFlooding,
		}
		Expect(f.IngestScoutReport(report)).To(Succeed())

		_, err := f.Tick(true)
		Expect(err).NotTo(HaveOccurred())

		edge, err := store.GetEdge(graph.EdgeKey{U: 1, V: 2, K: 0})
		Expect(err).NotTo(HaveOccurred())
		firstTickRisk := edge.RiskScore
		Expect(firstTickRisk).To(BeNumerically(">", 0))

		clk.Advance(2 * time.Hour) // four half-lives at the default 1800s

		_, err = f.Tick(false)
		Expect(err).NotTo(HaveOccurred())

		edge, err = store.GetEdge(graph.EdgeKey{U: 1, V: 2, K: 0})
		Expect(err).NotTo(HaveOccurred())
		Expect(edge.RiskScore).To(BeNumerically("<=", firstTickRisk*0.25+1e-9))
	})
})

func stationName(i int) string {
	return "station-" + string(rune('A'+i))
}

// fakeRaster records every (tag, timeStep) it was asked to sample, so tests
// can assert SimulationManager's SetScenario actually reaches sampleDepth.
type fakeRaster struct {
	depthM float64
	calls  []fakeRasterCall
}

type fakeRasterCall struct {
	tag  string
	step int
}

func (r *fakeRaster) DepthAt(tag string, step int, lat, lon float64) (float64, bool, error) {
	r.calls = append(r.calls, fakeRasterCall{tag: tag, step: step})
	return r.depthM, true, nil
}

var _ = Describe("Fusion scenario-driven raster sampling", func() {
	It("defaults to current/0 until SetScenario is called", func() {
		store := threeNodeChain()
		idx := spatial.Build(store.AllNodes(), store.SnapshotEdges(nil), nil)
		clk := clock.NewSimulated(time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC))
		raster := &fakeRaster{depthM: 0.2}
		f := hazard.New(store, idx, clk, logr.Discard(), raster)

		_, err := f.Tick(true)
		Expect(err).NotTo(HaveOccurred())
		Expect(raster.calls).NotTo(BeEmpty())
		for _, c := range raster.calls {
			Expect(c.tag).To(Equal("current"))
			Expect(c.step).To(Equal(0))
		}
	})

	It("samples the injected scenario tag and time step after SetScenario", func() {
		store := threeNodeChain()
		idx := spatial.Build(store.AllNodes(), store.SnapshotEdges(nil), nil)
		clk := clock.NewSimulated(time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC))
		raster := &fakeRaster{depthM: 0.5}
		f := hazard.New(store, idx, clk, logr.Discard(), raster)

		f.SetScenario("rr03", 7)
		_, err := f.Tick(true)
		Expect(err).NotTo(HaveOccurred())

		Expect(raster.calls).NotTo(BeEmpty())
		for _, c := range raster.calls {
			Expect(c.tag).To(Equal("rr03"))
			Expect(c.step).To(Equal(7))
		}
	})

	It("recomputes every edge, not just freshly-reported ones, while a raster is configured", func() {
		store := threeNodeChain()
		idx := spatial.Build(store.AllNodes(), store.SnapshotEdges(nil), nil)
		clk := clock.NewSimulated(time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC))
		raster := &fakeRaster{depthM: 0.1}
		f := hazard.New(store, idx, clk, logr.Discard(), raster)

		_, err := f.Tick(true)
		Expect(err).NotTo(HaveOccurred())
		firstPassCalls := len(raster.calls)

		_, err = f.Tick(false) // no fresh station/report input on this pass
		Expect(err).NotTo(HaveOccurred())
		Expect(len(raster.calls)).To(Equal(2 * firstPassCalls),
			"a configured raster must be sampled for every edge on every pass, not only firstPass")
	})
})
