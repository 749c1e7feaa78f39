package models

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"
)

func TestReading_IsValid(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		reading  Reading
		expected bool
	}{
		{
			name:     "valid climate reading",
			reading:  Reading{SensorID: "sht-1", Kind: KindClimate, Temperature: 22.5, Humidity: 45.0, Timestamp: now},
			expected: true,
		},
		{
			name:     "empty kind treated as climate",
			reading:  Reading{SensorID: "sht-1", Temperature: 22.5, Humidity: 45.0, Timestamp: now},
			expected: true,
		},
		{
			name:     "frost is fine",
			reading:  Reading{SensorID: "sht-1", Kind: KindClimate, Temperature: -2.22, Humidity: 11.2, Timestamp: now},
			expected: true,
		},
		{
			name:     "temperature too low",
			reading:  Reading{SensorID: "sht-1", Kind: KindClimate, Temperature: -45.0, Humidity: 45.0, Timestamp: now},
			expected: false,
		},
		{
			name:     "temperature too high",
			reading:  Reading{SensorID: "sht-1", Kind: KindClimate, Temperature: 130.0, Humidity: 45.0, Timestamp: now},
			expected: false,
		},
		{
			name:     "humidity too high",
			reading:  Reading{SensorID: "sht-1", Kind: KindClimate, Temperature: 22.5, Humidity: 100.5, Timestamp: now},
			expected: false,
		},
		{
			name:     "dew point not a number",
			reading:  Reading{SensorID: "sht-1", Kind: KindClimate, Temperature: 21, Humidity: 40, DewPoint: math.NaN(), Timestamp: now},
			expected: false,
		},
		{
			name:     "dust reading",
			reading:  Reading{SensorID: "pm-1", Kind: KindDust, PM25: 1000, Timestamp: now},
			expected: true,
		},
		{
			name:     "unknown kind",
			reading:  Reading{SensorID: "x", Kind: "noise", Timestamp: now},
			expected: false,
		},
		{
			name:     "missing sensor id",
			reading:  Reading{Kind: KindDust, Timestamp: now},
			expected: false,
		},
		{
			name:     "zero timestamp",
			reading:  Reading{SensorID: "sht-1", Kind: KindClimate, Temperature: 22.5, Humidity: 45.0},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.reading.IsValid()
			if result != tt.expected {
				t.Errorf("IsValid() = %v, expected %v", result, tt.expected)
			}
		})
	}
}

func TestNewClimateReading(t *testing.T) {
	reading := NewClimateReading("sht-1", 20.0, 50.0)

	if reading.Kind != KindClimate {
		t.Errorf("Kind = %v, want %v", reading.Kind, KindClimate)
	}
	if reading.Timestamp.IsZero() {
		t.Error("Timestamp should not be zero")
	}
	if math.Abs(reading.DewPoint-9.26) > 0.05 {
		t.Errorf("DewPoint = %v, want about 9.26", reading.DewPoint)
	}
	if !reading.IsValid() {
		t.Error("new climate reading should be valid")
	}
}

func TestNewClimateReading_BoneDry(t *testing.T) {
	reading := NewClimateReading("dht-indoor", 21, 0)

	if !reading.Finite() {
		t.Fatalf("DewPoint = %v, want a finite value", reading.DewPoint)
	}
	if !reading.IsValid() {
		t.Error("0 % humidity reading should be valid")
	}
	msg, err := NewMessage(MessageTypeBatch, BatchMessage{DeviceID: "d", Readings: []Reading{*reading}, Count: 1})
	if err != nil || msg == nil {
		t.Errorf("NewMessage() error = %v", err)
	}
}

func TestNewDustReading(t *testing.T) {
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	reading := NewDustReading("pm-1", 2000, 1000, 3000, ts)

	if reading.Kind != KindDust {
		t.Errorf("Kind = %v, want %v", reading.Kind, KindDust)
	}
	if reading.PM1 != 2000 || reading.PM25 != 1000 || reading.PM10 != 3000 {
		t.Errorf("PM = %d/%d/%d, want 2000/1000/3000", reading.PM1, reading.PM25, reading.PM10)
	}
	if !reading.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", reading.Timestamp, ts)
	}
	if !strings.Contains(reading.String(), "PM2.5: 1000") {
		t.Errorf("String() = %q", reading.String())
	}
}

func TestReading_JSONKeepsKind(t *testing.T) {
	original := NewDustReading("pm-1", 1, 2, 3, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	if !strings.Contains(string(data), `"kind":"dust"`) {
		t.Errorf("JSON %s missing kind", data)
	}

	var decoded Reading
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if !decoded.Timestamp.Equal(original.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", decoded.Timestamp, original.Timestamp)
	}
	decoded.Timestamp = original.Timestamp
	if decoded != *original {
		t.Errorf("decoded = %+v, want %+v", decoded, *original)
	}
}

func TestReading_Copy(t *testing.T) {
	var nilReading *Reading
	if nilReading.Copy() != nil {
		t.Error("Copy of nil should be nil")
	}

	r := NewClimateReading("sht-1", 21, 40)
	c := r.Copy()
	c.Temperature = 99
	if r.Temperature != 21 {
		t.Error("Copy should not alias the original")
	}
}
