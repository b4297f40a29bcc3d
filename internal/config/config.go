// Package config loads the immutable process Config (spec §4.10): a YAML
// file overlaid with environment variables, validated once at process init
// and handed to every component by value. There is no hot-reload path — the
// spec states configuration is immutable after init.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	apperrors "github.com/mas-fro/core/pkg/errors"
	"github.com/mas-fro/core/pkg/graph"
	"github.com/mas-fro/core/pkg/hazard"
	"github.com/mas-fro/core/pkg/routing"
)

// RiskConfig mirrors spec §4.10's risk.* keys.
type RiskConfig struct {
	Weights                WeightsConfig `yaml:"weights" validate:"required"`
	RadiusM                float64       `yaml:"radius_m" validate:"gt=0"`
	DecayHalfLifeScoutS    float64       `yaml:"decay_half_life_scout_s" validate:"gt=0"`
	DecayHalfLifeStationS  float64       `yaml:"decay_half_life_station_s" validate:"gt=0"`
}

// WeightsConfig holds the three risk-combine weights, which must sum to 1
// (spec §4.3).
type WeightsConfig struct {
	Depth      float64 `yaml:"depth" validate:"gte=0"`
	Crowd      float64 `yaml:"crowd" validate:"gte=0"`
	Historical float64 `yaml:"historical" validate:"gte=0"`
}

// RoutingConfig mirrors spec §4.10's routing.* keys.
type RoutingConfig struct {
	MaxSnapM         float64            `yaml:"max_snap_m" validate:"gt=0"`
	ModePenalties    map[string]float64 `yaml:"mode_penalties" validate:"required"`
	MaxRiskThreshold float64            `yaml:"max_risk_threshold" validate:"gte=0,lte=1"`
}

// SchedulerConfig mirrors spec §4.10's scheduler.* keys.
type SchedulerConfig struct {
	TickIntervalMS int  `yaml:"tick_interval_ms" validate:"gt=0"`
	Disabled       bool `yaml:"-"` // set from MASFRO_DISABLE_SCHEDULER, never from YAML
}

// OrchestratorConfig mirrors spec §4.10's orchestrator.* keys.
type OrchestratorConfig struct {
	MaxConcurrentMissions int `yaml:"max_concurrent_missions" validate:"gt=0"`
	StepTimeoutS          int `yaml:"step_timeout_s" validate:"gt=0"`
}

// CachesConfig mirrors spec §4.10's caches.* keys.
type CachesConfig struct {
	StationMax int `yaml:"station_max" validate:"gt=0"`
	ScoutMax   int `yaml:"scout_max" validate:"gt=0"`
}

// GraphConfig mirrors spec §4.10's graph.bbox key.
type GraphConfig struct {
	BBox BBoxConfig `yaml:"bbox" validate:"required"`
}

// BBoxConfig is a validated (min_lat, max_lat, min_lon, max_lon) box.
type BBoxConfig struct {
	MinLat float64 `yaml:"min_lat" validate:"gte=-90,lte=90"`
	MaxLat float64 `yaml:"max_lat" validate:"gte=-90,lte=90,gtfield=MinLat"`
	MinLon float64 `yaml:"min_lon" validate:"gte=-180,lte=180"`
	MaxLon float64 `yaml:"max_lon" validate:"gte=-180,lte=180,gtfield=MinLon"`
}

// LLMConfig carries the env-only LLM adapter settings (spec §6, §9).
type LLMConfig struct {
	Enabled    bool
	TextModel  string
	VisionModel string
	APIKey     string // from GOOGLE_API_KEY
}

// Config is the immutable, fully validated process configuration (spec
// §4.10, §6).
type Config struct {
	Risk         RiskConfig         `yaml:"risk" validate:"required"`
	Routing      RoutingConfig      `yaml:"routing" validate:"required"`
	Scheduler    SchedulerConfig    `yaml:"scheduler" validate:"required"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" validate:"required"`
	Caches       CachesConfig       `yaml:"caches" validate:"required"`
	Graph        GraphConfig        `yaml:"graph" validate:"required"`

	// Populated from environment variables only; never present in YAML.
	DatabaseURL     string
	LLM             LLMConfig
	LowRAM          bool
	AllowedOrigins  []string
	AdminAPIKey     string
}

var validate = validator.New()

// Load reads path, overlays the recognized environment variables (spec §6),
// and validates the result. The returned Config is never mutated after
// Load returns.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "parse config yaml")
	}

	applyEnvOverrides(&cfg)

	if sum := cfg.Risk.Weights.Depth + cfg.Risk.Weights.Crowd + cfg.Risk.Weights.Historical; sum < 0.999 || sum > 1.001 {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, "risk.weights must sum to 1")
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "config validation")
	}

	return &cfg, nil
}

// applyEnvOverrides reads the spec §6 environment variables over whatever
// the YAML set.
func applyEnvOverrides(cfg *Config) {
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.LLM.APIKey = os.Getenv("GOOGLE_API_KEY")
	cfg.LLM.Enabled = os.Getenv("LLM_ENABLED") == "true"
	cfg.LLM.TextModel = os.Getenv("LLM_TEXT_MODEL")
	cfg.LLM.VisionModel = os.Getenv("LLM_VISION_MODEL")
	cfg.LowRAM = os.Getenv("MASFRO_LOW_RAM") == "true"
	cfg.Scheduler.Disabled = os.Getenv("MASFRO_DISABLE_SCHEDULER") == "true"
	cfg.AdminAPIKey = os.Getenv("API_KEY")

	if v := os.Getenv("MASFRO_SCHEDULER_INTERVAL"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Scheduler.TickIntervalMS = ms
		}
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		parts := strings.Split(v, ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				origins = append(origins, p)
			}
		}
		cfg.AllowedOrigins = origins
	}
}

// RiskWeights converts the loaded config into hazard.Weights, carrying
// forward the fusion sigmoid constants from hazard.DefaultWeights (the
// spec's risk.weights config key only covers the three combine weights,
// not the crowd-aggregation sigmoid shape).
func (c *Config) RiskWeights() hazard.Weights {
	d := hazard.DefaultWeights()
	return hazard.Weights{
		Depth:      c.Risk.Weights.Depth,
		Crowd:      c.Risk.Weights.Crowd,
		Historical: c.Risk.Weights.Historical,
		Steepness:  d.Steepness,
		Inflection: d.Inflection,
	}
}

// RoutingPreferencesDefault builds the default routing.Preferences implied
// by this config's mode_penalties/max_risk_threshold.
func (c *Config) RoutingPreferencesDefault() routing.Preferences {
	return routing.Preferences{Mode: routing.ModeBalanced, MaxRiskThreshold: c.Routing.MaxRiskThreshold}
}

// BoundingBox converts the loaded graph.bbox into graph.BoundingBox.
func (c *Config) BoundingBox() graph.BoundingBox {
	return graph.BoundingBox{
		MinLat: c.Graph.BBox.MinLat,
		MaxLat: c.Graph.BBox.MaxLat,
		MinLon: c.Graph.BBox.MinLon,
		MaxLon: c.Graph.BBox.MaxLon,
	}
}
