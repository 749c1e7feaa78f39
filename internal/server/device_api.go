package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/env-logger/internal/models"
	"github.com/afroash/env-logger/internal/pm1006"
)

// DeviceAPI is the REST surface of a logger device: sensor count, climate
// values by index, the dust cell and device info.
type DeviceAPI struct {
	source DeviceSource
	device *models.DeviceInfo
	logger zerolog.Logger
}

// NewDeviceAPI creates the device API.
func NewDeviceAPI(source DeviceSource, device *models.DeviceInfo, logger zerolog.Logger) *DeviceAPI {
	return &DeviceAPI{
		source: source,
		device: device,
		logger: logger.With().Str("component", "device-api").Logger(),
	}
}

// Register mounts the device routes on mux.
func (d *DeviceAPI) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/sensorcnt", d.HandleSensorCount)
	mux.HandleFunc("GET /api/v1/temp/{n}", d.HandleTemperature)
	mux.HandleFunc("GET /api/v1/dust", d.HandleDust)
	mux.HandleFunc("GET /api/v1/info", d.HandleInfo)
}

// HandleSensorCount returns {"cnt": N}.
func (d *DeviceAPI) HandleSensorCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"cnt": d.source.ClimateCount()})
}

// ClimateResponse is the body of /api/v1/temp/{n}.
type ClimateResponse struct {
	Temperature float64 `json:"temp"`
	Humidity    float64 `json:"rh"`
	DewPoint    float64 `json:"dp"`
}

// HandleTemperature returns the latest values of the climate sensor at the
// 1-based index in the path. A sensor that has not measured yet reports
// zeros.
func (d *DeviceAPI) HandleTemperature(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "illegal sensor index")
		return
	}
	if n > d.source.ClimateCount() {
		writeError(w, http.StatusNotFound, "no such sensor")
		return
	}

	reading, _, err := d.source.Climate(n)
	if err != nil {
		d.logger.Warn().Err(err).Int("index", n).Msg("Climate lookup failed")
		writeError(w, http.StatusNotFound, "no such sensor")
		return
	}
	writeJSON(w, http.StatusOK, ClimateResponse{
		Temperature: reading.Temperature,
		Humidity:    reading.Humidity,
		DewPoint:    reading.DewPoint,
	})
}

// HandleDust returns the latest dust frame, or 404 when no dust sensor is
// attached. Before the first frame all values are zero.
func (d *DeviceAPI) HandleDust(w http.ResponseWriter, r *http.Request) {
	if !d.hasDustSensor() {
		writeError(w, http.StatusNotFound, "no dust sensor")
		return
	}
	dust, _ := d.source.Dust()
	writeJSON(w, http.StatusOK, dust)
}

func (d *DeviceAPI) hasDustSensor() bool {
	for _, s := range d.device.Sensors {
		if s.Kind == models.KindDust {
			return true
		}
	}
	return false
}

// InfoResponse is the body of /api/v1/info.
type InfoResponse struct {
	*models.DeviceInfo
	UptimeSeconds int64               `json:"uptime_seconds"`
	Now           time.Time           `json:"now"`
	DustStats     *pm1006.ReaderStats `json:"dust_stats,omitempty"`
}

// HandleInfo returns device identity, attached sensors, uptime and the dust
// frame counters.
func (d *DeviceAPI) HandleInfo(w http.ResponseWriter, r *http.Request) {
	resp := InfoResponse{
		DeviceInfo:    d.device,
		UptimeSeconds: int64(d.device.Uptime().Seconds()),
		Now:           time.Now(),
	}
	if stats, ok := d.source.DustStats(); ok {
		resp.DustStats = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

// HealthHandler returns a handler reporting {"status":"ok","version":...}.
func HealthHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version})
	}
}
