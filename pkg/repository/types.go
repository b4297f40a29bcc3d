// Package repository defines the persistence-boundary interfaces the core
// depends on but never implements against a concrete store directly: the
// EvacuationRepository and FloodDataRepository the original process backed
// with a database (spec §6). The core reads immutable snapshots through
// these interfaces; occupancy mutation and collection-history writes are
// the repository's responsibility, not RoutingEngine's or HazardFusion's.
package repository

import "time"

// EvacuationCenter is an immutable snapshot of one evacuation site (spec
// §3). Occupancy mutations happen through EvacuationRepository, never by
// editing a snapshot in place.
type EvacuationCenter struct {
	ID               string
	Name             string
	Lat              float64
	Lon              float64
	Capacity         int
	CurrentOccupancy int
	Type             string
	Barangay         string
	Contact          string
	Facilities       []string
	IsActive         bool
	UpdatedAt        time.Time
}

// EvacuationRepository is the persistence boundary for evacuation centers
// (spec §6). Implementations must treat GetAll/GetByName results as
// point-in-time snapshots safe to hold without further locking.
type EvacuationRepository interface {
	GetAll() ([]EvacuationCenter, error)
	GetByName(name string) (EvacuationCenter, error)
	UpdateOccupancy(name string, n int, reason string) error
	AddEvacuees(name string, n int) error
	ResetAll() error
	Statistics() (EvacuationStatistics, error)
}

// EvacuationStatistics summarizes occupancy across all centers.
type EvacuationStatistics struct {
	TotalCenters     int
	ActiveCenters    int
	TotalCapacity    int
	TotalOccupancy   int
	OccupancyPercent float64
}

// RiverLevelReading is one child row of a FloodDataCollection.
type RiverLevelReading struct {
	StationName string    `db:"station_name"`
	LevelM      float64   `db:"level_m"`
	ObservedAt  time.Time `db:"observed_at"`
}

// WeatherReading is one child row of a FloodDataCollection.
type WeatherReading struct {
	StationName  string    `db:"station_name"`
	RainfallMM1h float64   `db:"rainfall_mm_1h"`
	ObservedAt   time.Time `db:"observed_at"`
}

// FloodDataCollection is one collection-history run: a header identified by
// UUID plus the river-level and weather readings gathered during it (spec
// §6).
type FloodDataCollection struct {
	ID         string
	CollectedAt time.Time
	Source     string
	RiverLevels []RiverLevelReading
	Weather     []WeatherReading
}

// FloodDataRepository persists collection-history runs for audit and
// offline analysis; the core writes to it but never reads back from it
// during a live routing or fusion pass.
type FloodDataRepository interface {
	SaveCollection(c FloodDataCollection) error
	GetCollection(id string) (FloodDataCollection, error)
	ListRecent(limit int) ([]FloodDataCollection, error)
}
