// Package hazard implements HazardFusion (spec §4.4): the authoritative
// writer of edge risk_score. It fuses station readings, raster samples and
// crowdsourced scout reports into per-edge risk and applies them to the
// GraphStore as a single batch per recalculation pass.
package hazard

import (
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/mas-fro/core/pkg/errors"
)

// Source enumerates where a HazardObservation originated.
type Source string

const (
	SourceStation Source = "station"
	SourceRaster  Source = "raster"
	SourceReport  Source = "report"
	SourceDam     Source = "dam"
	SourceScrape  Source = "scrape"
)

// Observation is the inbound, short-lived hazard signal (spec §3). It is
// validated on ingest with go-playground/validator struct tags; invalid
// observations are dropped, never propagated: the drop is logged at V(1)
// and the validation error is returned to the caller. No counter of
// dropped observations is kept.
type Observation struct {
	Source        Source    `validate:"required,oneof=station raster report dam scrape"`
	Lat           float64   `validate:"required,latitude"`
	Lon           float64   `validate:"required,longitude"`
	StationName   string    // set when Source == station
	DepthM        *float64  `validate:"omitempty,gte=0"`
	RainfallMM1h  *float64  `validate:"omitempty,gte=0"`
	Severity      *float64  `validate:"omitempty,gte=0,lte=1"`
	Confidence    float64   `validate:"gte=0,lte=1"`
	ObservedAt    time.Time `validate:"required"`
	TTLSeconds    int       `validate:"gte=0"`
}

// ReportType classifies a ScoutReport's free-text content (spec §3).
type ReportType string

const (
	ReportFlooding   ReportType = "flooding"
	ReportClear      ReportType = "clear"
	ReportBlocked    ReportType = "blocked"
	ReportTraffic    ReportType = "traffic"
	ReportHazard     ReportType = "hazard"
	ReportEvacuation ReportType = "evacuation"
)

// ScoutReport specializes Observation with crowdsourced-report fields.
type ScoutReport struct {
	Observation
	Text           string `validate:"max=500"`
	ImageRef       string
	IsFloodRelated bool
	ReportType     ReportType
}

var validate = validator.New()

// ValidateObservation runs struct-tag validation and fills in the default
// TTL (3600s per spec §3) when unset.
func ValidateObservation(o *Observation) error {
	if o.TTLSeconds == 0 {
		o.TTLSeconds = 3600
	}
	if err := validate.Struct(o); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeValidation, "invalid hazard observation")
	}
	return nil
}

// ValidateScoutReport validates the embedded Observation plus report-only
// fields.
func ValidateScoutReport(r *ScoutReport) error {
	if err := ValidateObservation(&r.Observation); err != nil {
		return err
	}
	if err := validate.Struct(r); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeValidation, "invalid scout report")
	}
	return nil
}

// TickSummary is returned by Fusion.Tick (spec §4.4).
type TickSummary struct {
	EdgesUpdated  int
	StationsUsed  int
	ReportsUsed   int
	DurationMS    int64
	AverageRisk   float64
}

// RasterProvider samples flood depth at an arbitrary point for a given
// scenario tag and time step (spec §4.4 "Optional raster provider"). It is
// an external collaborator; the concrete implementation lives outside the
// core.
type RasterProvider interface {
	DepthAt(returnPeriodTag string, timeStep int, lat, lon float64) (depthM float64, ok bool, err error)
}
