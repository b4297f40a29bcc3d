// Package fetchers defines the external-fetcher interfaces the core depends
// on (spec §6) and wraps each one with a circuit breaker plus exponential
// backoff, grounded on the teacher's dependency.NewCircuitBreaker
// closed/open/half-open model (pkg/orchestration/dependency), reimplemented
// over sony/gobreaker since gobreaker already provides exactly that state
// machine.
package fetchers

import (
	"time"

	"github.com/sony/gobreaker"

	apperrors "github.com/mas-fro/core/pkg/errors"
)

// StationReading is one gauge station's latest level/depth sample.
type StationReading struct {
	StationName string
	Lat         float64
	Lon         float64
	DepthM      float64
	ObservedAt  time.Time
}

// WeatherSnapshot is one point-in-time rainfall/weather sample.
type WeatherSnapshot struct {
	Lat          float64
	Lon          float64
	RainfallMM1h float64
	ObservedAt   time.Time
}

// RawReport is one unprocessed crowdsourced report, prior to
// hazard.ScoutReport classification.
type RawReport struct {
	Lat        float64
	Lon        float64
	Text       string
	ImageRef   string
	ObservedAt time.Time
}

// StationFetcher fetches the current set of gauge station readings.
type StationFetcher interface {
	FetchStationLevels() ([]StationReading, error)
}

// WeatherFetcher fetches a weather snapshot near (lat, lon).
type WeatherFetcher interface {
	FetchWeather(lat, lon float64) (WeatherSnapshot, error)
}

// RasterFetcher fetches a flood-depth raster sample for a scenario tag and
// simulation time step; ok=false means "no coverage here", not a failure.
type RasterFetcher interface {
	FetchRaster(tag string, step int, lat, lon float64) (depthM float64, ok bool, err error)
}

// ReportFetcher fetches recent crowdsourced reports, at most limit, newer
// than since.
type ReportFetcher interface {
	FetchSocialReports(limit int, since time.Time) ([]RawReport, error)
}

// retryDelays is the spec §6 exponential backoff schedule: after the first
// attempt, up to 3 retries, waiting 200ms -> 1s -> 5s before each retry.
var retryDelays = []time.Duration{200 * time.Millisecond, time.Second, 5 * time.Second}

// withRetry runs fn, retrying up to len(retryDelays) additional times with
// the spec §6 backoff schedule. It does not sleep after the final attempt.
func withRetry(fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= len(retryDelays) {
			return err
		}
		time.Sleep(retryDelays[attempt])
	}
}

// breakerSettings builds the gobreaker.Settings this package uses for every
// fetcher: opens after 5 consecutive failures, probes again after 30s.
func breakerSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
}

// CircuitStationFetcher wraps a StationFetcher with a circuit breaker and
// retry schedule.
type CircuitStationFetcher struct {
	inner StationFetcher
	cb    *gobreaker.CircuitBreaker
}

// NewCircuitStationFetcher wraps inner.
func NewCircuitStationFetcher(name string, inner StationFetcher) *CircuitStationFetcher {
	return &CircuitStationFetcher{inner: inner, cb: gobreaker.NewCircuitBreaker(breakerSettings(name))}
}

// FetchStationLevels calls through the breaker, retrying transient failures
// before counting a consecutive failure against the breaker.
func (f *CircuitStationFetcher) FetchStationLevels() ([]StationReading, error) {
	result, err := f.cb.Execute(func() (interface{}, error) {
		var readings []StationReading
		err := withRetry(func() error {
			var innerErr error
			readings, innerErr = f.inner.FetchStationLevels()
			return innerErr
		})
		return readings, err
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "fetch station levels")
	}
	return result.([]StationReading), nil
}

// CircuitWeatherFetcher wraps a WeatherFetcher with a circuit breaker and
// retry schedule.
type CircuitWeatherFetcher struct {
	inner WeatherFetcher
	cb    *gobreaker.CircuitBreaker
}

// NewCircuitWeatherFetcher wraps inner.
func NewCircuitWeatherFetcher(name string, inner WeatherFetcher) *CircuitWeatherFetcher {
	return &CircuitWeatherFetcher{inner: inner, cb: gobreaker.NewCircuitBreaker(breakerSettings(name))}
}

// FetchWeather calls through the breaker, retrying transient failures.
func (f *CircuitWeatherFetcher) FetchWeather(lat, lon float64) (WeatherSnapshot, error) {
	result, err := f.cb.Execute(func() (interface{}, error) {
		var snap WeatherSnapshot
		err := withRetry(func() error {
			var innerErr error
			snap, innerErr = f.inner.FetchWeather(lat, lon)
			return innerErr
		})
		return snap, err
	})
	if err != nil {
		return WeatherSnapshot{}, apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "fetch weather")
	}
	return result.(WeatherSnapshot), nil
}

// rasterResult is the breaker's payload for RasterFetcher, which returns
// three values instead of (T, error).
type rasterResult struct {
	depthM float64
	ok     bool
}

// CircuitRasterFetcher wraps a RasterFetcher with a circuit breaker and
// retry schedule.
type CircuitRasterFetcher struct {
	inner RasterFetcher
	cb    *gobreaker.CircuitBreaker
}

// NewCircuitRasterFetcher wraps inner.
func NewCircuitRasterFetcher(name string, inner RasterFetcher) *CircuitRasterFetcher {
	return &CircuitRasterFetcher{inner: inner, cb: gobreaker.NewCircuitBreaker(breakerSettings(name))}
}

// FetchRaster calls through the breaker, retrying transient failures. A
// coverage miss (ok=false, err=nil) is not a failure and never trips the
// breaker.
func (f *CircuitRasterFetcher) FetchRaster(tag string, step int, lat, lon float64) (float64, bool, error) {
	result, err := f.cb.Execute(func() (interface{}, error) {
		var out rasterResult
		err := withRetry(func() error {
			depth, ok, innerErr := f.inner.FetchRaster(tag, step, lat, lon)
			out = rasterResult{depthM: depth, ok: ok}
			return innerErr
		})
		return out, err
	})
	if err != nil {
		return 0, false, apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "fetch raster")
	}
	r := result.(rasterResult)
	return r.depthM, r.ok, nil
}

// CircuitReportFetcher wraps a ReportFetcher with a circuit breaker and
// retry schedule.
type CircuitReportFetcher struct {
	inner ReportFetcher
	cb    *gobreaker.CircuitBreaker
}

// NewCircuitReportFetcher wraps inner.
func NewCircuitReportFetcher(name string, inner ReportFetcher) *CircuitReportFetcher {
	return &CircuitReportFetcher{inner: inner, cb: gobreaker.NewCircuitBreaker(breakerSettings(name))}
}

// FetchSocialReports calls through the breaker, retrying transient
// failures.
func (f *CircuitReportFetcher) FetchSocialReports(limit int, since time.Time) ([]RawReport, error) {
	result, err := f.cb.Execute(func() (interface{}, error) {
		var reports []RawReport
		err := withRetry(func() error {
			var innerErr error
			reports, innerErr = f.inner.FetchSocialReports(limit, since)
			return innerErr
		})
		return reports, err
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "fetch social reports")
	}
	return result.([]RawReport), nil
}
