package sensor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/env-logger/internal/models"
	"github.com/afroash/env-logger/internal/pm1006"
)

// DustSource exposes the latest decoded dust frame.
type DustSource interface {
	Latest() (pm1006.DustReading, bool)
}

type climateEntry struct {
	id     string
	sensor ClimateSensor
	latest *models.Reading
}

// Reader polls every climate sensor in order on a fixed interval and
// forwards fresh dust frames. Readings are published on a channel and the
// last good value per sensor is kept for the HTTP API.
type Reader struct {
	interval time.Duration
	logger   zerolog.Logger
	readings chan *models.Reading

	mu       sync.RWMutex
	climate  []*climateEntry
	dust     DustSource
	dustID   string
	lastDust time.Time
}

// NewReader creates a poller publishing into a channel of the given depth.
func NewReader(interval time.Duration, logger zerolog.Logger) *Reader {
	return &Reader{
		interval: interval,
		logger:   logger,
		readings: make(chan *models.Reading, 32),
	}
}

// AddClimate appends a climate sensor. Its index in the API is the order of
// registration, starting at 1.
func (r *Reader) AddClimate(id string, s ClimateSensor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.climate = append(r.climate, &climateEntry{id: id, sensor: s})
}

// SetDust attaches the dust sensor.
func (r *Reader) SetDust(id string, src DustSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dustID = id
	r.dust = src
}

// Start polls until ctx is cancelled. The first poll happens immediately.
func (r *Reader) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		for _, reading := range r.PollOnce() {
			select {
			case r.readings <- reading:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollOnce measures every climate sensor once and picks up a new dust frame
// if one arrived since the last poll. Failed sensors are logged and skipped.
func (r *Reader) PollOnce() []*models.Reading {
	r.mu.RLock()
	entries := make([]*climateEntry, len(r.climate))
	copy(entries, r.climate)
	r.mu.RUnlock()

	var out []*models.Reading
	for i, e := range entries {
		temperature, humidity, err := e.sensor.Read()
		if err != nil {
			r.logger.Error().
				Err(err).
				Int("index", i+1).
				Str("sensor_id", e.id).
				Msg("Failed to read climate sensor")
			continue
		}

		reading := models.NewClimateReading(e.id, temperature, humidity)
		r.mu.Lock()
		e.latest = reading
		r.mu.Unlock()

		r.logger.Debug().Msgf("read from sensor: %s", reading.String())
		out = append(out, reading)
	}

	if d := r.pollDust(); d != nil {
		out = append(out, d)
	}
	return out
}

func (r *Reader) pollDust() *models.Reading {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dust == nil {
		return nil
	}
	d, ok := r.dust.Latest()
	if !ok || !d.Updated.After(r.lastDust) {
		return nil
	}
	r.lastDust = d.Updated
	return models.NewDustReading(r.dustID, d.PM1, d.PM25, d.PM10, d.Updated)
}

// ErrNoSensor is returned for an out of range sensor index.
var ErrNoSensor = errors.New("no such sensor")

// ClimateCount returns how many climate sensors are registered.
func (r *Reader) ClimateCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.climate)
}

// Climate returns the last good reading of the sensor at the 1-based index.
// ok is false while the sensor has not produced a reading yet.
func (r *Reader) Climate(index int) (reading models.Reading, ok bool, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if index < 1 || index > len(r.climate) {
		return models.Reading{}, false, fmt.Errorf("%w: index %d of %d", ErrNoSensor, index, len(r.climate))
	}
	e := r.climate[index-1]
	if e.latest == nil {
		return models.Reading{SensorID: e.id, Kind: models.KindClimate}, false, nil
	}
	return *e.latest, true, nil
}

// Dust returns the latest dust frame, if a dust sensor is attached.
func (r *Reader) Dust() (pm1006.DustReading, bool) {
	r.mu.RLock()
	src := r.dust
	r.mu.RUnlock()
	if src == nil {
		return pm1006.DustReading{}, false
	}
	return src.Latest()
}

// DustStats returns the frame counters of the dust source, if it keeps any.
func (r *Reader) DustStats() (pm1006.ReaderStats, bool) {
	r.mu.RLock()
	src := r.dust
	r.mu.RUnlock()
	counted, ok := src.(interface{ Stats() pm1006.ReaderStats })
	if !ok {
		return pm1006.ReaderStats{}, false
	}
	return counted.Stats(), true
}

// Readings returns the channel where readings are published
func (r *Reader) Readings() <-chan *models.Reading {
	return r.readings
}

// Close releases every climate sensor.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, e := range r.climate {
		if err := e.sensor.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", e.id, err))
		}
	}
	return errors.Join(errs...)
}
