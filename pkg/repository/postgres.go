package repository

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	apperrors "github.com/mas-fro/core/pkg/errors"
)

// PostgresEvacuationRepository implements EvacuationRepository against a
// Postgres `evacuation_centers` table.
type PostgresEvacuationRepository struct {
	db *sqlx.DB
}

// NewPostgresEvacuationRepository opens db with the pq driver and wraps it.
func NewPostgresEvacuationRepository(databaseURL string) (*PostgresEvacuationRepository, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "connect to evacuation repository")
	}
	return &PostgresEvacuationRepository{db: db}, nil
}

// NewPostgresEvacuationRepositoryFromDB wraps an already-open handle,
// letting tests inject a sqlmock-backed *sqlx.DB.
func NewPostgresEvacuationRepositoryFromDB(db *sqlx.DB) *PostgresEvacuationRepository {
	return &PostgresEvacuationRepository{db: db}
}

type evacuationCenterRow struct {
	ID               string         `db:"id"`
	Name             string         `db:"name"`
	Lat              float64        `db:"lat"`
	Lon              float64        `db:"lon"`
	Capacity         int            `db:"capacity"`
	CurrentOccupancy int            `db:"current_occupancy"`
	Type             string         `db:"type"`
	Barangay         string         `db:"barangay"`
	Contact          sql.NullString `db:"contact"`
	Facilities       sql.NullString `db:"facilities"` // comma-joined
	IsActive         bool           `db:"is_active"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func (r evacuationCenterRow) toCenter() EvacuationCenter {
	var facilities []string
	if r.Facilities.Valid && r.Facilities.String != "" {
		facilities = splitCSV(r.Facilities.String)
	}
	return EvacuationCenter{
		ID:               r.ID,
		Name:             r.Name,
		Lat:              r.Lat,
		Lon:              r.Lon,
		Capacity:         r.Capacity,
		CurrentOccupancy: r.CurrentOccupancy,
		Type:             r.Type,
		Barangay:         r.Barangay,
		Contact:          r.Contact.String,
		Facilities:       facilities,
		IsActive:         r.IsActive,
		UpdatedAt:        r.UpdatedAt,
	}
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// GetAll returns every evacuation center, active or not (spec §6).
func (r *PostgresEvacuationRepository) GetAll() ([]EvacuationCenter, error) {
	var rows []evacuationCenterRow
	if err := r.db.Select(&rows, `SELECT id, name, lat, lon, capacity, current_occupancy, type, barangay, contact, facilities, is_active, updated_at FROM evacuation_centers`); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "query evacuation centers")
	}
	centers := make([]EvacuationCenter, 0, len(rows))
	for _, row := range rows {
		centers = append(centers, row.toCenter())
	}
	return centers, nil
}

// GetByName looks up one center by its unique name.
func (r *PostgresEvacuationRepository) GetByName(name string) (EvacuationCenter, error) {
	var row evacuationCenterRow
	err := r.db.Get(&row, `SELECT id, name, lat, lon, capacity, current_occupancy, type, barangay, contact, facilities, is_active, updated_at FROM evacuation_centers WHERE name = $1`, name)
	if err == sql.ErrNoRows {
		return EvacuationCenter{}, apperrors.NewNotFoundError("evacuation center")
	}
	if err != nil {
		return EvacuationCenter{}, apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "query evacuation center")
	}
	return row.toCenter(), nil
}

// UpdateOccupancy sets current_occupancy to n. reason is accepted for the
// interface but not stored.
func (r *PostgresEvacuationRepository) UpdateOccupancy(name string, n int, reason string) error {
	res, err := r.db.Exec(`UPDATE evacuation_centers SET current_occupancy = $1, updated_at = now() WHERE name = $2`, n, name)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "update occupancy")
	}
	return mustAffectOne(res, "evacuation center")
}

// AddEvacuees increments current_occupancy by n (n may be negative).
func (r *PostgresEvacuationRepository) AddEvacuees(name string, n int) error {
	res, err := r.db.Exec(`UPDATE evacuation_centers SET current_occupancy = current_occupancy + $1, updated_at = now() WHERE name = $2`, n, name)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "add evacuees")
	}
	return mustAffectOne(res, "evacuation center")
}

// ResetAll zeroes current_occupancy across every center.
func (r *PostgresEvacuationRepository) ResetAll() error {
	if _, err := r.db.Exec(`UPDATE evacuation_centers SET current_occupancy = 0, updated_at = now()`); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "reset occupancy")
	}
	return nil
}

// Statistics aggregates occupancy across all centers.
func (r *PostgresEvacuationRepository) Statistics() (EvacuationStatistics, error) {
	var stats struct {
		TotalCenters   int     `db:"total_centers"`
		ActiveCenters  int     `db:"active_centers"`
		TotalCapacity  int     `db:"total_capacity"`
		TotalOccupancy int     `db:"total_occupancy"`
	}
	err := r.db.Get(&stats, `SELECT
		count(*) AS total_centers,
		count(*) FILTER (WHERE is_active) AS active_centers,
		coalesce(sum(capacity), 0) AS total_capacity,
		coalesce(sum(current_occupancy), 0) AS total_occupancy
		FROM evacuation_centers`)
	if err != nil {
		return EvacuationStatistics{}, apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "query evacuation statistics")
	}
	pct := 0.0
	if stats.TotalCapacity > 0 {
		pct = float64(stats.TotalOccupancy) / float64(stats.TotalCapacity) * 100
	}
	return EvacuationStatistics{
		TotalCenters:     stats.TotalCenters,
		ActiveCenters:    stats.ActiveCenters,
		TotalCapacity:    stats.TotalCapacity,
		TotalOccupancy:   stats.TotalOccupancy,
		OccupancyPercent: pct,
	}, nil
}

func mustAffectOne(res sql.Result, resource string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "check rows affected")
	}
	if n == 0 {
		return apperrors.NewNotFoundError(resource)
	}
	return nil
}

// PostgresFloodDataRepository implements FloodDataRepository against
// `flood_data_collections`, `river_level_readings`, and `weather_readings`
// tables, written as one transaction per SaveCollection call.
type PostgresFloodDataRepository struct {
	db *sqlx.DB
}

// NewPostgresFloodDataRepository opens db with the pq driver and wraps it.
func NewPostgresFloodDataRepository(databaseURL string) (*PostgresFloodDataRepository, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "connect to flood data repository")
	}
	return &PostgresFloodDataRepository{db: db}, nil
}

// NewPostgresFloodDataRepositoryFromDB wraps an already-open handle,
// letting tests inject a sqlmock-backed *sqlx.DB.
func NewPostgresFloodDataRepositoryFromDB(db *sqlx.DB) *PostgresFloodDataRepository {
	return &PostgresFloodDataRepository{db: db}
}

// SaveCollection writes a collection header and its child readings as one
// transaction.
func (r *PostgresFloodDataRepository) SaveCollection(c FloodDataCollection) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "begin collection transaction")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO flood_data_collections (id, collected_at, source) VALUES ($1, $2, $3)`,
		c.ID, c.CollectedAt, c.Source); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "insert collection header")
	}

	for _, rl := range c.RiverLevels {
		if _, err := tx.Exec(`INSERT INTO river_level_readings (collection_id, station_name, level_m, observed_at) VALUES ($1, $2, $3, $4)`,
			c.ID, rl.StationName, rl.LevelM, rl.ObservedAt); err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "insert river level reading")
		}
	}
	for _, w := range c.Weather {
		if _, err := tx.Exec(`INSERT INTO weather_readings (collection_id, station_name, rainfall_mm_1h, observed_at) VALUES ($1, $2, $3, $4)`,
			c.ID, w.StationName, w.RainfallMM1h, w.ObservedAt); err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "insert weather reading")
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "commit collection transaction")
	}
	return nil
}

// GetCollection loads one collection header plus its child readings.
func (r *PostgresFloodDataRepository) GetCollection(id string) (FloodDataCollection, error) {
	var header struct {
		ID          string    `db:"id"`
		CollectedAt time.Time `db:"collected_at"`
		Source      string    `db:"source"`
	}
	err := r.db.Get(&header, `SELECT id, collected_at, source FROM flood_data_collections WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return FloodDataCollection{}, apperrors.NewNotFoundError("flood data collection")
	}
	if err != nil {
		return FloodDataCollection{}, apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "query collection header")
	}

	var riverLevels []RiverLevelReading
	if err := r.db.Select(&riverLevels, `SELECT station_name, level_m, observed_at FROM river_level_readings WHERE collection_id = $1`, id); err != nil {
		return FloodDataCollection{}, apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "query river level readings")
	}
	var weather []WeatherReading
	if err := r.db.Select(&weather, `SELECT station_name, rainfall_mm_1h, observed_at FROM weather_readings WHERE collection_id = $1`, id); err != nil {
		return FloodDataCollection{}, apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "query weather readings")
	}

	return FloodDataCollection{
		ID:          header.ID,
		CollectedAt: header.CollectedAt,
		Source:      header.Source,
		RiverLevels: riverLevels,
		Weather:     weather,
	}, nil
}

// ListRecent returns the most recent limit collection headers, newest
// first, without their child readings.
func (r *PostgresFloodDataRepository) ListRecent(limit int) ([]FloodDataCollection, error) {
	var headers []struct {
		ID          string    `db:"id"`
		CollectedAt time.Time `db:"collected_at"`
		Source      string    `db:"source"`
	}
	if err := r.db.Select(&headers, `SELECT id, collected_at, source FROM flood_data_collections ORDER BY collected_at DESC LIMIT $1`, limit); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "query recent collections")
	}
	out := make([]FloodDataCollection, 0, len(headers))
	for _, h := range headers {
		out = append(out, FloodDataCollection{ID: h.ID, CollectedAt: h.CollectedAt, Source: h.Source})
	}
	return out, nil
}
