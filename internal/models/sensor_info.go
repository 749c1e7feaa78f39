package models

import "time"

// SensorDescriptor names one sensor attached to a device.
type SensorDescriptor struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Kind Kind   `json:"kind"`
}

// DeviceInfo describes a logger device and what is wired to it.
type DeviceInfo struct {
	ID        string             `json:"id"`
	Location  string             `json:"location"`
	Version   string             `json:"version"`
	Sensors   []SensorDescriptor `json:"sensors"`
	StartTime time.Time          `json:"start_time"`
}

// Uptime returns the duration since the device started.
func (d *DeviceInfo) Uptime() time.Duration {
	return time.Since(d.StartTime)
}

// ClimateSensorCount returns how many climate sensors are attached.
func (d *DeviceInfo) ClimateSensorCount() int {
	n := 0
	for _, s := range d.Sensors {
		if s.Kind == KindClimate {
			n++
		}
	}
	return n
}

// NewDeviceInfo creates a DeviceInfo started now.
func NewDeviceInfo(id, location, version string, sensors []SensorDescriptor) *DeviceInfo {
	return &DeviceInfo{
		ID:        id,
		Location:  location,
		Version:   version,
		Sensors:   sensors,
		StartTime: time.Now(),
	}
}
