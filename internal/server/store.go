package server

import (
	"slices"
	"sync"
	"time"

	"github.com/afroash/env-logger/internal/models"
)

// MemoryStore keeps the last capacity readings of every sensor.
type MemoryStore struct {
	capacity      int
	data          map[string][]*models.Reading
	kinds         map[string]models.Kind
	mutex         sync.RWMutex
	totalReadings int64
}

var _ ReadingStore = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity < 1 {
		capacity = 1
	}
	return &MemoryStore{
		capacity: capacity,
		data:     make(map[string][]*models.Reading),
		kinds:    make(map[string]models.Kind),
	}
}

// Add stores a copy of reading, evicting the sensor's oldest one when full.
func (ms *MemoryStore) Add(reading *models.Reading) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	readings := ms.data[reading.SensorID]
	if len(readings) >= ms.capacity {
		readings[0] = nil
		readings = readings[1:]
	}
	ms.data[reading.SensorID] = append(readings, reading.Copy())
	if reading.Kind != "" {
		ms.kinds[reading.SensorID] = reading.Kind
	}
	ms.totalReadings++
}

// GetLatest returns copies of the n most recent readings, newest first
func (ms *MemoryStore) GetLatest(sensorID string, n int) []*models.Reading {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	readings := ms.data[sensorID]
	n = min(n, len(readings))
	if n <= 0 {
		return nil
	}

	result := make([]*models.Reading, n)
	for i := range result {
		result[i] = readings[len(readings)-1-i].Copy()
	}
	return result
}

// GetAll returns copies of every stored reading
func (ms *MemoryStore) GetAll() []*models.Reading {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	var result []*models.Reading
	for _, readings := range ms.data {
		for _, r := range readings {
			result = append(result, r.Copy())
		}
	}
	return result
}

// GetCurrentReading returns the most recent reading for a sensor, or nil
func (ms *MemoryStore) GetCurrentReading(sensorID string) *models.Reading {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	readings := ms.data[sensorID]
	if len(readings) == 0 {
		return nil
	}
	return readings[len(readings)-1].Copy()
}

// GetSensorIDs returns the sorted IDs of every sensor with data
func (ms *MemoryStore) GetSensorIDs() []string {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	ids := make([]string, 0, len(ms.data))
	for id := range ms.data {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// SensorKind returns the kind last reported by a sensor.
func (ms *MemoryStore) SensorKind(sensorID string) (models.Kind, bool) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()
	k, ok := ms.kinds[sensorID]
	return k, ok
}

// StoreStats contains statistics about the memory store
type StoreStats struct {
	TotalReadings   int64     `json:"total_readings"`
	UniqueSensors   int       `json:"unique_sensors"`
	ClimateSensors  int       `json:"climate_sensors"`
	DustSensors     int       `json:"dust_sensors"`
	CurrentReadings int       `json:"current_readings"`
	OldestReading   time.Time `json:"oldest_reading,omitempty"`
	NewestReading   time.Time `json:"newest_reading,omitempty"`
}

// Stats returns statistics about the store
func (ms *MemoryStore) Stats() StoreStats {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	stats := StoreStats{
		TotalReadings: ms.totalReadings,
		UniqueSensors: len(ms.data),
	}
	for id, readings := range ms.data {
		if ms.kinds[id] == models.KindDust {
			stats.DustSensors++
		} else {
			stats.ClimateSensors++
		}
		stats.CurrentReadings += len(readings)
		for _, r := range readings {
			if stats.OldestReading.IsZero() || r.Timestamp.Before(stats.OldestReading) {
				stats.OldestReading = r.Timestamp
			}
			if r.Timestamp.After(stats.NewestReading) {
				stats.NewestReading = r.Timestamp
			}
		}
	}
	return stats
}

// Clear removes all data from the store
func (ms *MemoryStore) Clear() {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	ms.data = make(map[string][]*models.Reading)
	ms.kinds = make(map[string]models.Kind)
	ms.totalReadings = 0
}
