package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/afroash/env-logger/internal/models"
)

// Store defines the interface for reading storage
type Store interface {
	Close() error
	Migrate() error
	InsertReading(reading *models.Reading) error
	InsertBatch(readings []*models.Reading) error
	GetReadingsInRange(sensorID string, start, end time.Time, limit int) ([]*models.Reading, error)
	GetReadingsBefore(sensorID string, before time.Time, limit int) ([]*models.Reading, error)
	GetReadingsAfter(sensorID string, after time.Time, limit int) ([]*models.Reading, error)
	GetLatestReading(sensorID string) (*models.Reading, error)
	GetDailyStats(sensorID string, start, end time.Time) ([]DailyStat, error)
	DeleteOlderThan(days int) (int64, error)
	GetStorageStats() (*StorageStats, error)
	GetSensorIDs() ([]string, error)
}

var _ Store = (*SQLiteStore)(nil)

// Timestamps are stored as UTC text so that SQLite's date() and string
// comparison agree.
const timeLayout = "2006-01-02 15:04:05"

const readingColumns = "sensor_id, kind, temperature, humidity, dew_point, pm1, pm25, pm10, recorded_at"

// SQLiteStore persists climate and dust readings in a single table.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// DailyStat aggregates one sensor's readings for one day. Climate sensors
// fill the temperature and humidity fields, dust sensors the PM2.5 ones.
type DailyStat struct {
	Date           time.Time   `json:"date"`
	SensorID       string      `json:"sensor_id"`
	Kind           models.Kind `json:"kind"`
	MinTemperature float64     `json:"min_temperature"`
	MaxTemperature float64     `json:"max_temperature"`
	AvgTemperature float64     `json:"avg_temperature"`
	MinHumidity    float64     `json:"min_humidity"`
	MaxHumidity    float64     `json:"max_humidity"`
	AvgHumidity    float64     `json:"avg_humidity"`
	AvgPM25        float64     `json:"avg_pm25,omitempty"`
	MaxPM25        float64     `json:"max_pm25,omitempty"`
	ReadingCount   int         `json:"reading_count"`
}

// StorageStats contains information about the database
type StorageStats struct {
	TotalReadings  int64     `json:"total_readings"`
	ClimateCount   int64     `json:"climate_readings"`
	DustCount      int64     `json:"dust_readings"`
	OldestReading  time.Time `json:"oldest_reading,omitempty"`
	NewestReading  time.Time `json:"newest_reading,omitempty"`
	UniqueSensors  int       `json:"unique_sensors"`
	DatabaseSizeMB float64   `json:"database_size_mb"`
}

// NewSQLiteStore opens (and migrates) the database at dbPath.
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=10000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:     db,
		logger: logger.With().Str("component", "sqlite").Logger(),
	}
	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	store.logger.Info().Str("path", dbPath).Msg("SQLite store initialized")
	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate creates the schema if it doesn't exist
func (s *SQLiteStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sensor_id TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'climate',
		temperature REAL NOT NULL DEFAULT 0,
		humidity REAL NOT NULL DEFAULT 0,
		dew_point REAL NOT NULL DEFAULT 0,
		pm1 INTEGER NOT NULL DEFAULT 0,
		pm25 INTEGER NOT NULL DEFAULT 0,
		pm10 INTEGER NOT NULL DEFAULT 0,
		recorded_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_readings_sensor_time ON readings(sensor_id, recorded_at DESC);
	CREATE INDEX IF NOT EXISTS idx_readings_time ON readings(recorded_at DESC);
	CREATE INDEX IF NOT EXISTS idx_readings_kind ON readings(kind);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Debug().Msg("Database schema migrated")
	return nil
}

func insertArgs(r *models.Reading) []any {
	kind := r.Kind
	if kind == "" {
		kind = models.KindClimate
	}
	return []any{
		r.SensorID,
		string(kind),
		r.Temperature,
		r.Humidity,
		r.DewPoint,
		r.PM1,
		r.PM25,
		r.PM10,
		r.Timestamp.UTC().Format(timeLayout),
	}
}

const insertQuery = "INSERT INTO readings (" + readingColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"

// InsertReading inserts a single reading
func (s *SQLiteStore) InsertReading(reading *models.Reading) error {
	if _, err := s.db.Exec(insertQuery, insertArgs(reading)...); err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

// InsertBatch inserts multiple readings in a single transaction
func (s *SQLiteStore) InsertBatch(readings []*models.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, reading := range readings {
		if _, err := stmt.Exec(insertArgs(reading)...); err != nil {
			return fmt.Errorf("failed to insert reading in batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug().Int("count", len(readings)).Msg("Batch insert completed")
	return nil
}

// selectReadings runs a reading query. An empty sensorID matches every
// sensor.
func (s *SQLiteStore) selectReadings(sensorID string, conds []string, args []any, order string, limit int) ([]*models.Reading, error) {
	if sensorID != "" {
		conds = append([]string{"sensor_id = ?"}, conds...)
		args = append([]any{sensorID}, args...)
	}
	query := "SELECT " + readingColumns + " FROM readings"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY recorded_at " + order + ", id " + order + " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []*models.Reading
	for rows.Next() {
		r, err := s.scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return readings, nil
}

// GetReadingsInRange returns readings within [start, end], newest first
func (s *SQLiteStore) GetReadingsInRange(sensorID string, start, end time.Time, limit int) ([]*models.Reading, error) {
	return s.selectReadings(sensorID,
		[]string{"recorded_at BETWEEN ? AND ?"},
		[]any{start.UTC().Format(timeLayout), end.UTC().Format(timeLayout)},
		"DESC", limit)
}

// GetReadingsBefore returns readings before a timestamp, newest first
func (s *SQLiteStore) GetReadingsBefore(sensorID string, before time.Time, limit int) ([]*models.Reading, error) {
	return s.selectReadings(sensorID,
		[]string{"recorded_at < ?"},
		[]any{before.UTC().Format(timeLayout)},
		"DESC", limit)
}

// GetReadingsAfter returns the readings closest after a timestamp, newest
// first
func (s *SQLiteStore) GetReadingsAfter(sensorID string, after time.Time, limit int) ([]*models.Reading, error) {
	readings, err := s.selectReadings(sensorID,
		[]string{"recorded_at > ?"},
		[]any{after.UTC().Format(timeLayout)},
		"ASC", limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(readings)-1; i < j; i, j = i+1, j-1 {
		readings[i], readings[j] = readings[j], readings[i]
	}
	return readings, nil
}

// GetLatestReading returns the most recent reading for a sensor, or nil if
// it has none.
func (s *SQLiteStore) GetLatestReading(sensorID string) (*models.Reading, error) {
	readings, err := s.selectReadings(sensorID, nil, nil, "DESC", 1)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest reading: %w", err)
	}
	if len(readings) == 0 {
		return nil, nil
	}
	return readings[0], nil
}

// GetDailyStats returns per-day, per-sensor aggregates, newest day first
func (s *SQLiteStore) GetDailyStats(sensorID string, start, end time.Time) ([]DailyStat, error) {
	conds := []string{"recorded_at BETWEEN ? AND ?"}
	args := []any{start.UTC().Format(timeLayout), end.UTC().Format(timeLayout)}
	if sensorID != "" {
		conds = append(conds, "sensor_id = ?")
		args = append(args, sensorID)
	}

	query := `
		SELECT
			date(recorded_at) AS day,
			sensor_id,
			kind,
			MIN(temperature), MAX(temperature), AVG(temperature),
			MIN(humidity), MAX(humidity), AVG(humidity),
			AVG(pm25), MAX(pm25),
			COUNT(*)
		FROM readings
		WHERE ` + strings.Join(conds, " AND ") + `
		GROUP BY day, sensor_id, kind
		ORDER BY day DESC, sensor_id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	defer rows.Close()

	var stats []DailyStat
	for rows.Next() {
		var stat DailyStat
		var day, kind string
		err := rows.Scan(
			&day,
			&stat.SensorID,
			&kind,
			&stat.MinTemperature, &stat.MaxTemperature, &stat.AvgTemperature,
			&stat.MinHumidity, &stat.MaxHumidity, &stat.AvgHumidity,
			&stat.AvgPM25, &stat.MaxPM25,
			&stat.ReadingCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily stat: %w", err)
		}
		stat.Kind = models.Kind(kind)
		if stat.Date, err = time.Parse("2006-01-02", day); err != nil {
			return nil, fmt.Errorf("failed to parse date: %w", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return stats, nil
}

// DeleteOlderThan removes readings recorded more than days ago
func (s *SQLiteStore) DeleteOlderThan(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	result, err := s.db.Exec("DELETE FROM readings WHERE recorded_at < ?", cutoff.Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old readings: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	s.logger.Info().
		Int("days", days).
		Int64("deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Deleted old readings")
	return deleted, nil
}

// GetStorageStats returns statistics about the database
func (s *SQLiteStore) GetStorageStats() (*StorageStats, error) {
	stats := &StorageStats{}

	err := s.db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(kind = 'climate'), 0),
			COALESCE(SUM(kind = 'dust'), 0),
			COUNT(DISTINCT sensor_id)
		FROM readings`).Scan(&stats.TotalReadings, &stats.ClimateCount, &stats.DustCount, &stats.UniqueSensors)
	if err != nil {
		return nil, fmt.Errorf("failed to count readings: %w", err)
	}
	if stats.TotalReadings == 0 {
		return stats, nil
	}

	var oldest, newest string
	err = s.db.QueryRow("SELECT MIN(recorded_at), MAX(recorded_at) FROM readings").Scan(&oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("failed to get timestamp range: %w", err)
	}
	stats.OldestReading, _ = parseTimestamp(oldest)
	stats.NewestReading, _ = parseTimestamp(newest)

	var pageCount, pageSize int64
	s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	stats.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)

	return stats, nil
}

// GetSensorIDs returns every sensor ID in the database, sorted
func (s *SQLiteStore) GetSensorIDs() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT sensor_id FROM readings ORDER BY sensor_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan sensor ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) scanReading(row interface{ Scan(...any) error }) (*models.Reading, error) {
	var r models.Reading
	var kind, recordedAt string

	err := row.Scan(&r.SensorID, &kind, &r.Temperature, &r.Humidity, &r.DewPoint,
		&r.PM1, &r.PM25, &r.PM10, &recordedAt)
	if err != nil {
		return nil, err
	}
	r.Kind = models.Kind(kind)
	if r.Timestamp, err = parseTimestamp(recordedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// parseTimestamp accepts the layouts the sqlite3 driver may hand back.
func parseTimestamp(ts string) (time.Time, error) {
	formats := []string{
		timeLayout,
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05.000",
		time.RFC3339Nano,
	}
	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", ts)
}
