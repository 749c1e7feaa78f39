package models

import (
	"encoding/json"
	"testing"
	"time"
)

func testSensors() []SensorDescriptor {
	return []SensorDescriptor{
		{ID: "sht-1", Type: "SHT1x", Kind: KindClimate},
		{ID: "sht-2", Type: "SHT1x", Kind: KindClimate},
		{ID: "pm-1", Type: "PM1006", Kind: KindDust},
	}
}

func TestNewDeviceInfo(t *testing.T) {
	info := NewDeviceInfo("logger-01", "Workshop", "v1.0.0", testSensors())

	if info.ID != "logger-01" {
		t.Errorf("ID = %v, want logger-01", info.ID)
	}
	if info.Location != "Workshop" {
		t.Errorf("Location = %v, want Workshop", info.Location)
	}
	if info.StartTime.IsZero() {
		t.Error("StartTime should not be zero")
	}
	if got := info.ClimateSensorCount(); got != 2 {
		t.Errorf("ClimateSensorCount() = %d, want 2", got)
	}
}

func TestDeviceInfo_Uptime(t *testing.T) {
	info := &DeviceInfo{ID: "logger-01", StartTime: time.Now().Add(-1 * time.Hour)}

	uptime := info.Uptime()
	if uptime < 59*time.Minute || uptime > 61*time.Minute {
		t.Errorf("Uptime = %v, expected approximately 1 hour", uptime)
	}
}

func TestDeviceInfo_JSONSerialization(t *testing.T) {
	original := NewDeviceInfo("logger-01", "Workshop", "v1.0.0", testSensors())

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded DeviceInfo
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(decoded.Sensors) != 3 || decoded.Sensors[2].Kind != KindDust {
		t.Errorf("Sensors = %+v", decoded.Sensors)
	}
}
