package models

import (
	"fmt"
	"math"
	"time"

	"github.com/afroash/env-logger/internal/units"
)

// Kind tells which measurement fields of a Reading are populated.
type Kind string

const (
	KindClimate Kind = "climate"
	KindDust    Kind = "dust"
)

// Reading is one measurement from a climate or dust sensor.
type Reading struct {
	SensorID  string    `json:"sensor_id"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	DewPoint    float64 `json:"dew_point"`

	PM1  uint16 `json:"pm1"`
	PM25 uint16 `json:"pm25"`
	PM10 uint16 `json:"pm10"`
}

// Plausibility bounds. The SHT1x covers -40..123.8 °C.
const (
	minTemp     = -40.0
	maxTemp     = 125.0
	minHumidity = 0.0
	maxHumidity = 100.0
)

// IsValid checks that the reading is attributable and its values plausible.
// An empty Kind is treated as climate.
func (r *Reading) IsValid() bool {
	if r.SensorID == "" || r.Timestamp.IsZero() || !r.Finite() {
		return false
	}

	switch r.Kind {
	case KindDust:
		return true
	case KindClimate, "":
		if r.Temperature < minTemp || r.Temperature > maxTemp {
			return false
		}
		return r.Humidity >= minHumidity && r.Humidity <= maxHumidity
	default:
		return false
	}
}

func (r *Reading) String() string {
	if r.Kind == KindDust {
		return fmt.Sprintf("SensorID: %s, Timestamp: %s, PM1: %d, PM2.5: %d, PM10: %d µg/m³",
			r.SensorID,
			r.Timestamp.Format(time.RFC3339),
			r.PM1, r.PM25, r.PM10)
	}
	return fmt.Sprintf("SensorID: %s, Timestamp: %s, Temperature: %.2f°C, Humidity: %.1f%%, DewPoint: %.2f°C",
		r.SensorID,
		r.Timestamp.Format(time.RFC3339),
		r.Temperature,
		r.Humidity,
		r.DewPoint)
}

// NewClimateReading stamps a temperature/humidity pair with the current time
// and derives the dew point.
func NewClimateReading(sensorID string, temperature, humidity float64) *Reading {
	return &Reading{
		SensorID:    sensorID,
		Kind:        KindClimate,
		Timestamp:   time.Now(),
		Temperature: temperature,
		Humidity:    humidity,
		DewPoint:    units.DewPoint(humidity, temperature),
	}
}

// NewDustReading records particle concentrations taken at ts.
func NewDustReading(sensorID string, pm1, pm25, pm10 uint16, ts time.Time) *Reading {
	return &Reading{
		SensorID:  sensorID,
		Kind:      KindDust,
		Timestamp: ts,
		PM1:       pm1,
		PM25:      pm25,
		PM10:      pm10,
	}
}

// Finite reports whether every float field can be encoded as JSON.
func (r *Reading) Finite() bool {
	for _, v := range [...]float64{r.Temperature, r.Humidity, r.DewPoint} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Copy returns a copy of the Reading.
func (r *Reading) Copy() *Reading {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
