package sensor

import (
	"fmt"

	"github.com/afroash/dht"
)

// ClimateSensor is a temperature/humidity source polled by the Reader.
// Both SHT1x sessions and DHT11 readers satisfy it.
type ClimateSensor interface {
	// Read performs a single measurement.
	// Returns temperature (°C), humidity (%), and any error
	Read() (temperature float64, humidity float64, err error)

	// Close cleans up GPIO resources
	Close() error
}

// DHT11Reader implements ClimateSensor for DHT11 hardware
type DHT11Reader struct {
	pin        int
	maxRetries int
	sensor     *dht.Sensor
}

// NewDHT11Reader opens a DHT11 on the given pin.
func NewDHT11Reader(pin int) (*DHT11Reader, error) {
	s, err := dht.NewDHT11(pin)
	if err != nil {
		return nil, fmt.Errorf("open DHT11 on pin %d: %w", pin, err)
	}
	return &DHT11Reader{
		pin:        pin,
		maxRetries: 3,
		sensor:     s,
	}, nil
}

// Read performs a reading from the DHT11 sensor with retry logic
func (d *DHT11Reader) Read() (float64, float64, error) {
	reading, err := d.sensor.ReadRetry(d.maxRetries)
	if err != nil {
		return 0, 0, fmt.Errorf("DHT11 pin %d: failed after %d retries: %w", d.pin, d.maxRetries, err)
	}
	if err := validateReading(reading.Temperature, reading.Humidity); err != nil {
		return 0, 0, fmt.Errorf("DHT11 pin %d: invalid reading: %w", d.pin, err)
	}

	return reading.Temperature, reading.Humidity, nil
}

// Close cleans up GPIO resources
func (d *DHT11Reader) Close() error {
	return d.sensor.Close()
}

// validateReading rejects values outside the DHT11's rated range, which
// indicate a corrupted transfer that still passed the parity byte.
func validateReading(temp, humidity float64) error {
	const (
		minTemp     = -20.0
		maxTemp     = 60.0
		minHumidity = 0.0
		maxHumidity = 100.0
	)
	if temp < minTemp || temp > maxTemp {
		return fmt.Errorf("temperature %.1f°C outside %.0f..%.0f°C", temp, minTemp, maxTemp)
	}
	if humidity < minHumidity || humidity > maxHumidity {
		return fmt.Errorf("humidity %.1f%% outside %.0f..%.0f%%", humidity, minHumidity, maxHumidity)
	}
	return nil
}
