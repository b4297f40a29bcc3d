package config_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mas-fro/core/internal/config"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

const validYAML = `
risk:
  weights:
    depth: 0.5
    crowd: 0.3
    historical: 0.2
  radius_m: 800
  decay_half_life_scout_s: 1800
  decay_half_life_station_s: 3600
routing:
  max_snap_m: 500
  mode_penalties:
    safest: 100000
    balanced: 2000
    fastest: 0
  max_risk_threshold: 0.95
scheduler:
  tick_interval_ms: 1000
orchestrator:
  max_concurrent_missions: 10
  step_timeout_s: 30
caches:
  station_max: 100
  scout_max: 1000
graph:
  bbox:
    min_lat: 14.0
    max_lat: 15.0
    min_lon: 120.5
    max_lon: 121.5
`

func writeTemp(t GinkgoTInterface, content string) string {
	dir, err := os.MkdirTemp("", "masfro-config")
	Expect(err).NotTo(HaveOccurred())
	path := filepath.Join(dir, "config.yaml")
	Expect(os.WriteFile(path, []byte(content), 0644)).To(Succeed())
	return path
}

var _ = Describe("Load", func() {
	var path string

	AfterEach(func() {
		for _, v := range []string{
			"DATABASE_URL", "GOOGLE_API_KEY", "LLM_ENABLED", "LLM_TEXT_MODEL",
			"LLM_VISION_MODEL", "MASFRO_LOW_RAM", "MASFRO_DISABLE_SCHEDULER",
			"MASFRO_SCHEDULER_INTERVAL", "ALLOWED_ORIGINS", "API_KEY",
		} {
			os.Unsetenv(v)
		}
	})

	It("loads a valid config file", func() {
		path = writeTemp(GinkgoT(), validYAML)
		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Risk.RadiusM).To(Equal(800.0))
		Expect(cfg.Routing.MaxSnapM).To(Equal(500.0))
		Expect(cfg.Orchestrator.MaxConcurrentMissions).To(Equal(10))
		Expect(cfg.Graph.BBox.MinLat).To(Equal(14.0))
	})

	It("rejects risk weights that do not sum to 1", func() {
		bad := `
risk:
  weights:
    depth: 0.9
    crowd: 0.9
    historical: 0.9
  radius_m: 800
  decay_half_life_scout_s: 1800
  decay_half_life_station_s: 3600
routing:
  max_snap_m: 500
  mode_penalties: {safest: 100000, balanced: 2000, fastest: 0}
  max_risk_threshold: 0.95
scheduler:
  tick_interval_ms: 1000
orchestrator:
  max_concurrent_missions: 10
  step_timeout_s: 30
caches:
  station_max: 100
  scout_max: 1000
graph:
  bbox: {min_lat: 14.0, max_lat: 15.0, min_lon: 120.5, max_lon: 121.5}
`
		path = writeTemp(GinkgoT(), bad)
		_, err := config.Load(path)
		Expect(err).To(HaveOccurred())
	})

	It("rejects an invalid bounding box", func() {
		bad := `
risk:
  weights: {depth: 0.5, crowd: 0.3, historical: 0.2}
  radius_m: 800
  decay_half_life_scout_s: 1800
  decay_half_life_station_s: 3600
routing:
  max_snap_m: 500
  mode_penalties: {safest: 100000, balanced: 2000, fastest: 0}
  max_risk_threshold: 0.95
scheduler:
  tick_interval_ms: 1000
orchestrator:
  max_concurrent_missions: 10
  step_timeout_s: 30
caches:
  station_max: 100
  scout_max: 1000
graph:
  bbox: {min_lat: 15.0, max_lat: 14.0, min_lon: 120.5, max_lon: 121.5}
`
		path = writeTemp(GinkgoT(), bad)
		_, err := config.Load(path)
		Expect(err).To(HaveOccurred())
	})

	It("applies environment variable overrides over the YAML file", func() {
		os.Setenv("DATABASE_URL", "postgres://localhost/masfro")
		os.Setenv("LLM_ENABLED", "true")
		os.Setenv("LLM_TEXT_MODEL", "claude-sonnet")
		os.Setenv("MASFRO_LOW_RAM", "true")
		os.Setenv("MASFRO_SCHEDULER_INTERVAL", "5000")
		os.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
		os.Setenv("API_KEY", "s3cret")

		path = writeTemp(GinkgoT(), validYAML)
		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.DatabaseURL).To(Equal("postgres://localhost/masfro"))
		Expect(cfg.LLM.Enabled).To(BeTrue())
		Expect(cfg.LLM.TextModel).To(Equal("claude-sonnet"))
		Expect(cfg.LowRAM).To(BeTrue())
		Expect(cfg.Scheduler.TickIntervalMS).To(Equal(5000))
		Expect(cfg.AllowedOrigins).To(Equal([]string{"https://a.example", "https://b.example"}))
		Expect(cfg.AdminAPIKey).To(Equal("s3cret"))
	})

	It("errors when the file does not exist", func() {
		_, err := config.Load("/nonexistent/config.yaml")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("derived accessors", func() {
	It("converts risk weights and bounding box for downstream components", func() {
		path := writeTemp(GinkgoT(), validYAML)
		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())

		w := cfg.RiskWeights()
		Expect(w.Depth).To(Equal(0.5))
		Expect(w.Crowd).To(Equal(0.3))
		Expect(w.Historical).To(Equal(0.2))

		bbox := cfg.BoundingBox()
		Expect(bbox.MinLat).To(Equal(14.0))
		Expect(bbox.MaxLon).To(Equal(121.5))

		prefs := cfg.RoutingPreferencesDefault()
		Expect(prefs.MaxRiskThreshold).To(Equal(0.95))
	})
})
