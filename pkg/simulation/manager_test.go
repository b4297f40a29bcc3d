package simulation_test

import (
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mas-fro/core/internal/clock"
	"github.com/mas-fro/core/pkg/bus"
	"github.com/mas-fro/core/pkg/graph"
	"github.com/mas-fro/core/pkg/hazard"
	"github.com/mas-fro/core/pkg/orchestrator"
	"github.com/mas-fro/core/pkg/routing"
	"github.com/mas-fro/core/pkg/simulation"
	"github.com/mas-fro/core/pkg/spatial"
)

func TestSimulation(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "SimulationManager Suite")
}

const twoNodeFixture = `{
	"nodes": [
		{"id": 1, "lat": 14.6500, "lon": 121.1000},
		{"id": 2, "lat": 14.6509, "lon": 121.1000}
	],
	"edges": [
		{"u": 1, "v": 2, "k": 0, "length_m": 100, "highway": "residential"}
	]
}`

var _ = Describe("Manager", func() {
	var (
		store *graph.Store
		idx   *spatial.Index
		clk   *clock.Simulated
		b     *bus.Bus
		fus   *hazard.Fusion
		eng   *routing.Engine
		mgr   *simulation.Manager
	)

	BeforeEach(func() {
		store = graph.NewStore()
		Expect(store.LoadFrom(strings.NewReader(twoNodeFixture), graph.BoundingBox{MinLat: -90, MaxLat: 90, MinLon: -180, MaxLon: 180}, nil)).To(Succeed())
		idx = spatial.Build(store.AllNodes(), store.SnapshotEdges(nil), nil)
		clk = clock.NewSimulated(time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC))
		b = bus.New()
		b.Register("scout", 8)
		fus = hazard.New(store, idx, clk, logr.Discard(), nil)
		eng = routing.NewEngine(store, idx, nil, logr.Discard())
		mgr = simulation.New(b, fus, eng, clk, logr.Discard(), []string{"scout"})
	})

	It("starts at time_step 1 and advances by one per tick", func() {
		Expect(mgr.Start(simulation.ModeLight)).To(Succeed())
		Expect(mgr.TimeStep()).To(Equal(1))

		_, err := mgr.RunTick(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(mgr.TimeStep()).To(Equal(2))
	})

	It("requests synthetic collection from every configured fetcher each tick", func() {
		Expect(mgr.Start(simulation.ModeMedium)).To(Succeed())
		_, err := mgr.RunTick(0)
		Expect(err).NotTo(HaveOccurred())

		env, ok, err := b.Recv("scout", false, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		payload := env.Content.(map[string]interface{})
		Expect(payload["return_period"]).To(Equal("rr02"))
	})

	It("ingests a synthetic station reading into Fusion each tick, not just the bus notification", func() {
		Expect(mgr.Start(simulation.ModeHeavy)).To(Succeed())
		summary, err := mgr.RunTick(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.FusionSummary.StationsUsed).To(BeNumerically(">", 0),
			"Fusion's next tick should see the synthetic reading this tick ingested")
	})

	It("answers queued route requests during the Routing phase", func() {
		Expect(mgr.Start(simulation.ModeLight)).To(Succeed())
		reqID := uuid.New()
		mgr.EnqueueRouteRequest(simulation.RouteRequest{
			ID:    reqID,
			Start: orchestrator.LatLon{Lat: 14.6500, Lon: 121.1000},
			End:   orchestrator.LatLon{Lat: 14.6509, Lon: 121.1000},
			Prefs: routing.DefaultPreferences(),
		})

		summary, err := mgr.RunTick(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.RoutesAnswered).To(Equal(1))

		answers := mgr.DrainAnswers()
		Expect(answers).To(HaveLen(1))
		Expect(answers[0].RequestID).To(Equal(reqID))
		Expect(answers[0].Err).NotTo(HaveOccurred())
	})

	It("reset restores time_step to 0 and clears queued requests", func() {
		Expect(mgr.Start(simulation.ModeHeavy)).To(Succeed())
		mgr.EnqueueRouteRequest(simulation.RouteRequest{ID: uuid.New()})
		_, err := mgr.RunTick(0)
		Expect(err).NotTo(HaveOccurred())

		mgr.Reset(false)
		Expect(mgr.TimeStep()).To(Equal(0))
		Expect(mgr.IsRunning()).To(BeFalse())
		Expect(mgr.Stats().TicksRun).To(Equal(0))
	})

	It("preserves statistics across reset when requested", func() {
		Expect(mgr.Start(simulation.ModeLight)).To(Succeed())
		_, err := mgr.RunTick(0)
		Expect(err).NotTo(HaveOccurred())

		mgr.Reset(true)
		Expect(mgr.Stats().TicksRun).To(Equal(1))
	})

	It("rejects run_tick when the scenario has not been started", func() {
		_, err := mgr.RunTick(0)
		Expect(err).To(HaveOccurred())
	})
})
