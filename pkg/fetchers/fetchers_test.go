package fetchers_test

import (
	"errors"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mas-fro/core/pkg/fetchers"
)

func TestFetchers(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Fetchers Suite")
}

type countingStationFetcher struct {
	calls    int
	failN    int // fail the first failN calls
	readings []fetchers.StationReading
}

func (f *countingStationFetcher) FetchStationLevels() ([]fetchers.StationReading, error) {
	f.calls++
	if f.calls <= f.failN {
		return nil, errors.New("upstream timeout")
	}
	return f.readings, nil
}

var _ = Describe("CircuitStationFetcher", func() {
	It("retries transient failures before succeeding", func() {
		inner := &countingStationFetcher{failN: 1, readings: []fetchers.StationReading{{StationName: "A"}}}
		f := fetchers.NewCircuitStationFetcher("station-a", inner)

		readings, err := f.FetchStationLevels()
		Expect(err).NotTo(HaveOccurred())
		Expect(readings).To(HaveLen(1))
		Expect(inner.calls).To(Equal(2))
	})

	It("opens the circuit after repeated failures and fails fast", func() {
		inner := &countingStationFetcher{failN: 1000}
		f := fetchers.NewCircuitStationFetcher("station-b", inner)

		// Each call here exhausts the retry schedule (4 attempts) before the
		// breaker counts one failure; 5 consecutive breaker failures trip it.
		for i := 0; i < 5; i++ {
			_, err := f.FetchStationLevels()
			Expect(err).To(HaveOccurred())
		}

		callsBeforeOpen := inner.calls
		_, err := f.FetchStationLevels()
		Expect(err).To(HaveOccurred())
		Expect(inner.calls).To(Equal(callsBeforeOpen), "open circuit must not invoke the wrapped fetcher")
	})
})

type flakyRasterFetcher struct {
	calls int
}

func (f *flakyRasterFetcher) FetchRaster(tag string, step int, lat, lon float64) (float64, bool, error) {
	f.calls++
	return 0, false, nil
}

var _ = Describe("CircuitRasterFetcher", func() {
	It("treats a coverage miss as success, not a breaker failure", func() {
		inner := &flakyRasterFetcher{}
		f := fetchers.NewCircuitRasterFetcher("raster-a", inner)

		depth, ok, err := f.FetchRaster("rr01", 1, 14.6, 121.1)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
		Expect(depth).To(Equal(0.0))
		Expect(inner.calls).To(Equal(1))
	})
})

type alwaysFailingWeatherFetcher struct {
	calls int
}

func (f *alwaysFailingWeatherFetcher) FetchWeather(lat, lon float64) (fetchers.WeatherSnapshot, error) {
	f.calls++
	return fetchers.WeatherSnapshot{}, errors.New("upstream down")
}

var _ = Describe("CircuitWeatherFetcher", func() {
	It("exhausts the backoff schedule on a persistent failure", func() {
		inner := &alwaysFailingWeatherFetcher{}
		f := fetchers.NewCircuitWeatherFetcher("weather-a", inner)

		start := time.Now()
		_, err := f.FetchWeather(14.6, 121.1)
		elapsed := time.Since(start)

		Expect(err).To(HaveOccurred())
		Expect(inner.calls).To(Equal(4)) // 1 initial + 3 retries
		Expect(elapsed).To(BeNumerically(">=", 200*time.Millisecond))
	})
})
