package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/env-logger/internal/models"
	"github.com/afroash/env-logger/internal/storage"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 5000
	defaultStatsDays    = 7
)

// APIHandler serves readings from the memory store and, when configured,
// from persistent history.
type APIHandler struct {
	store   ReadingStore
	history HistoricalStore
	logger  zerolog.Logger
}

// NewAPIHandler creates an API handler over the memory store only.
func NewAPIHandler(store ReadingStore, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		store:  store,
		logger: logger.With().Str("component", "api").Logger(),
	}
}

// NewAPIHandlerWithHistory creates an API handler that answers range and
// daily queries from history.
func NewAPIHandlerWithHistory(store ReadingStore, history HistoricalStore, logger zerolog.Logger) *APIHandler {
	api := NewAPIHandler(store, logger)
	api.history = history
	return api
}

// Register mounts the API routes on mux.
func (api *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/current", api.HandleCurrent)
	mux.HandleFunc("GET /api/history", api.HandleHistory)
	mux.HandleFunc("GET /api/stats", api.HandleStats)
	mux.HandleFunc("GET /api/daily/stats", api.HandleDailyStats)
	mux.HandleFunc("GET /api/sensors", api.HandleSensors)
	mux.HandleFunc("GET /api/dashboard-data", api.HandleDashboardData)
}

// writeJSON encodes v before writing the header, so an unencodable value
// becomes a 500 instead of an empty 200.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		status = http.StatusInternalServerError
		buf.Reset()
		json.NewEncoder(&buf).Encode(map[string]string{"error": "encode response: " + err.Error()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// sensorParam returns the sensor_id query parameter, falling back to the
// first known sensor.
func (api *APIHandler) sensorParam(r *http.Request) string {
	if id := r.URL.Query().Get("sensor_id"); id != "" {
		return id
	}
	if ids := api.store.GetSensorIDs(); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

// HandleCurrent returns the current reading for a sensor
func (api *APIHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	sensorID := api.sensorParam(r)
	if sensorID == "" {
		writeError(w, http.StatusNotFound, "no sensors found")
		return
	}

	reading := api.store.GetCurrentReading(sensorID)
	if reading == nil {
		writeError(w, http.StatusNotFound, "no readings available")
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// HandleHistory returns recent readings, newest first. With from and to
// (RFC 3339) the range is read from history instead of memory.
func (api *APIHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultHistoryLimit
	if s := q.Get("limit"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 {
			limit = min(parsed, maxHistoryLimit)
		}
	}

	if q.Has("from") || q.Has("to") {
		api.handleHistoryRange(w, r, limit)
		return
	}

	sensorID := api.sensorParam(r)
	if sensorID == "" {
		writeJSON(w, http.StatusOK, []*models.Reading{})
		return
	}
	readings := api.store.GetLatest(sensorID, limit)
	if readings == nil {
		readings = []*models.Reading{}
	}
	writeJSON(w, http.StatusOK, readings)
}

func (api *APIHandler) handleHistoryRange(w http.ResponseWriter, r *http.Request, limit int) {
	if api.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history storage not enabled")
		return
	}

	q := r.URL.Query()
	end := time.Now()
	start := end.Add(-24 * time.Hour)
	var err error
	if s := q.Get("from"); s != "" {
		if start, err = time.Parse(time.RFC3339, s); err != nil {
			writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
			return
		}
	}
	if s := q.Get("to"); s != "" {
		if end, err = time.Parse(time.RFC3339, s); err != nil {
			writeError(w, http.StatusBadRequest, "invalid to: "+err.Error())
			return
		}
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "to is before from")
		return
	}

	readings, err := api.history.GetReadingsInRange(q.Get("sensor_id"), start, end, limit)
	if err != nil {
		api.logger.Error().Err(err).Msg("History query failed")
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	if readings == nil {
		readings = []*models.Reading{}
	}
	writeJSON(w, http.StatusOK, readings)
}

// StatsResponse combines memory and database statistics.
type StatsResponse struct {
	Memory  StoreStats            `json:"memory"`
	Storage *storage.StorageStats `json:"storage,omitempty"`
}

// HandleStats returns store statistics
func (api *APIHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Memory: api.store.Stats()}
	if api.history != nil {
		stats, err := api.history.GetStorageStats()
		if err != nil {
			api.logger.Warn().Err(err).Msg("Storage stats unavailable")
		} else {
			resp.Storage = stats
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleDailyStats returns per-day aggregates for the last days (default 7).
func (api *APIHandler) HandleDailyStats(w http.ResponseWriter, r *http.Request) {
	if api.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history storage not enabled")
		return
	}

	days := defaultStatsDays
	if s := r.URL.Query().Get("days"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil || parsed < 1 || parsed > 366 {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 366")
			return
		}
		days = parsed
	}

	end := time.Now()
	stats, err := api.history.GetDailyStats(r.URL.Query().Get("sensor_id"), end.AddDate(0, 0, -days), end)
	if err != nil {
		api.logger.Error().Err(err).Msg("Daily stats query failed")
		writeError(w, http.StatusInternalServerError, "daily stats query failed")
		return
	}
	if stats == nil {
		stats = []storage.DailyStat{}
	}
	writeJSON(w, http.StatusOK, stats)
}

// SensorSummary describes one known sensor.
type SensorSummary struct {
	ID      string          `json:"id"`
	Kind    models.Kind     `json:"kind,omitempty"`
	Current *models.Reading `json:"current,omitempty"`
}

// HandleSensors lists every sensor in memory or history with its latest
// reading.
func (api *APIHandler) HandleSensors(w http.ResponseWriter, r *http.Request) {
	ids := api.store.GetSensorIDs()
	if api.history != nil {
		stored, err := api.history.GetSensorIDs()
		if err != nil {
			api.logger.Warn().Err(err).Msg("Failed to list stored sensors")
		}
		for _, id := range stored {
			if !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
		slices.Sort(ids)
	}

	summaries := make([]SensorSummary, 0, len(ids))
	for _, id := range ids {
		current := api.store.GetCurrentReading(id)
		if current == nil && api.history != nil {
			current, _ = api.history.GetLatestReading(id)
		}
		s := SensorSummary{ID: id, Current: current}
		if current != nil {
			s.Kind = current.Kind
		}
		summaries = append(summaries, s)
	}
	writeJSON(w, http.StatusOK, summaries)
}

// DashboardData contains all data for the dashboard
type DashboardData struct {
	CurrentReading *models.Reading `json:"current_reading"`
	Stats          StoreStats      `json:"stats"`
	SensorIDs      []string        `json:"sensor_ids"`
	LastUpdate     time.Time       `json:"last_update"`
}

// HandleDashboardData returns combined data for the dashboard
func (api *APIHandler) HandleDashboardData(w http.ResponseWriter, r *http.Request) {
	var current *models.Reading
	if id := api.sensorParam(r); id != "" {
		current = api.store.GetCurrentReading(id)
	}

	writeJSON(w, http.StatusOK, DashboardData{
		CurrentReading: current,
		Stats:          api.store.Stats(),
		SensorIDs:      api.store.GetSensorIDs(),
		LastUpdate:     time.Now(),
	})
}
