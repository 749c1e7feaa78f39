package server

import (
	"time"

	"github.com/afroash/env-logger/internal/models"
	"github.com/afroash/env-logger/internal/pm1006"
	"github.com/afroash/env-logger/internal/storage"
)

// ReadingStore holds recent readings in memory. MemoryStore implements it.
type ReadingStore interface {
	// Add adds a reading to the store
	Add(reading *models.Reading)

	// GetLatest returns the n most recent readings for a sensor (newest first)
	GetLatest(sensorID string, n int) []*models.Reading

	// GetCurrentReading returns the most recent reading for a sensor
	GetCurrentReading(sensorID string) *models.Reading

	// GetSensorIDs returns the sorted IDs of every sensor seen
	GetSensorIDs() []string

	Stats() StoreStats
	GetAll() []*models.Reading
	Clear()
}

// HistoricalStore is the read side of persistent storage.
// storage.SQLiteStore implements it.
type HistoricalStore interface {
	GetReadingsInRange(sensorID string, start, end time.Time, limit int) ([]*models.Reading, error)
	GetLatestReading(sensorID string) (*models.Reading, error)
	GetSensorIDs() ([]string, error)
	GetDailyStats(sensorID string, start, end time.Time) ([]storage.DailyStat, error)
	GetStorageStats() (*storage.StorageStats, error)
}

// ReadingSink accepts readings for asynchronous persistence.
// storage.DBWriter implements it.
type ReadingSink interface {
	Write(reading *models.Reading) bool
}

// DeviceSource exposes a logger's live sensor cells. sensor.Reader
// implements it.
type DeviceSource interface {
	ClimateCount() int
	Climate(index int) (models.Reading, bool, error)
	Dust() (pm1006.DustReading, bool)
	DustStats() (pm1006.ReaderStats, bool)
}

var (
	_ HistoricalStore = (*storage.SQLiteStore)(nil)
	_ ReadingSink     = (*storage.DBWriter)(nil)
)
