package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afroash/env-logger/internal/models"
	"github.com/afroash/env-logger/internal/pm1006"
)

type fakeDevice struct {
	climate []*models.Reading // nil entry: not measured yet
	dust    pm1006.DustReading
	stats   *pm1006.ReaderStats
}

func (f *fakeDevice) ClimateCount() int { return len(f.climate) }

func (f *fakeDevice) Climate(index int) (models.Reading, bool, error) {
	if index < 1 || index > len(f.climate) {
		return models.Reading{}, false, fmt.Errorf("no sensor %d", index)
	}
	if r := f.climate[index-1]; r != nil {
		return *r, true, nil
	}
	return models.Reading{}, false, nil
}

func (f *fakeDevice) Dust() (pm1006.DustReading, bool) {
	return f.dust, !f.dust.Updated.IsZero()
}

func (f *fakeDevice) DustStats() (pm1006.ReaderStats, bool) {
	if f.stats == nil {
		return pm1006.ReaderStats{}, false
	}
	return *f.stats, true
}

func deviceMux(src DeviceSource, sensors ...models.SensorDescriptor) *http.ServeMux {
	info := models.NewDeviceInfo("logger-1", "Kitchen", "v1.2.3", sensors)
	mux := http.NewServeMux()
	NewDeviceAPI(src, info, zerolog.Nop()).Register(mux)
	mux.HandleFunc("GET /health", HealthHandler("v1.2.3"))
	return mux
}

func get(mux http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestDeviceAPI_SensorCount(t *testing.T) {
	mux := deviceMux(&fakeDevice{climate: make([]*models.Reading, 3)})

	rec := get(mux, "/api/v1/sensorcnt")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cnt":3}`, rec.Body.String())
}

func TestDeviceAPI_Temperature(t *testing.T) {
	r := models.NewClimateReading("sht-1", 21.5, 40)
	mux := deviceMux(&fakeDevice{climate: []*models.Reading{r, nil}})

	rec := get(mux, "/api/v1/temp/1")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[ClimateResponse](t, rec)
	assert.Equal(t, 21.5, body.Temperature)
	assert.Equal(t, 40.0, body.Humidity)
	assert.Equal(t, r.DewPoint, body.DewPoint)

	// Registered but not measured yet.
	rec = get(mux, "/api/v1/temp/2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"temp":0,"rh":0,"dp":0}`, rec.Body.String())
}

func TestDeviceAPI_TemperatureBadIndex(t *testing.T) {
	mux := deviceMux(&fakeDevice{climate: []*models.Reading{nil}})

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/temp/0", http.StatusBadRequest},
		{"/api/v1/temp/-1", http.StatusBadRequest},
		{"/api/v1/temp/abc", http.StatusBadRequest},
		{"/api/v1/temp/2", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, get(mux, tt.path).Code)
		})
	}
}

func TestDeviceAPI_Dust(t *testing.T) {
	updated := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	dustSensor := models.SensorDescriptor{ID: "dust", Type: "pm1006", Kind: models.KindDust}

	src := &fakeDevice{}
	mux := deviceMux(src, dustSensor)

	rec := get(mux, "/api/v1/dust")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"pm1":0,"pm2":0,"pm10":0,"updated":"0001-01-01T00:00:00Z"}`, rec.Body.String())

	src.dust = pm1006.DustReading{PM1: 2000, PM25: 1000, PM10: 3000, Updated: updated}
	rec = get(mux, "/api/v1/dust")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"pm1":2000,"pm2":1000,"pm10":3000,"updated":"2026-05-01T12:00:00Z"}`, rec.Body.String())

	noDust := deviceMux(&fakeDevice{})
	assert.Equal(t, http.StatusNotFound, get(noDust, "/api/v1/dust").Code)
}

func TestDeviceAPI_InfoAndHealth(t *testing.T) {
	mux := deviceMux(&fakeDevice{}, models.SensorDescriptor{ID: "sht-1", Type: "SHT1x", Kind: models.KindClimate})

	rec := get(mux, "/api/v1/info")
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[map[string]any](t, rec)
	assert.Equal(t, "logger-1", info["id"])
	assert.Equal(t, "Kitchen", info["location"])
	assert.Equal(t, "v1.2.3", info["version"])
	assert.Contains(t, info, "uptime_seconds")
	assert.Len(t, info["sensors"], 1)
	assert.NotContains(t, info, "dust_stats")

	rec = get(mux, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","version":"v1.2.3"}`, rec.Body.String())
}

func TestDeviceAPI_InfoDustStats(t *testing.T) {
	src := &fakeDevice{stats: &pm1006.ReaderStats{BytesRead: 60, ValidFrames: 2, InvalidFrames: 1, ReadErrors: 3}}
	mux := deviceMux(src, models.SensorDescriptor{ID: "dust", Type: "PM1006", Kind: models.KindDust})

	rec := get(mux, "/api/v1/info")
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[struct {
		DustStats pm1006.ReaderStats `json:"dust_stats"`
	}](t, rec)
	assert.Equal(t, *src.stats, info.DustStats)
}

func TestDeviceAPI_RejectsPost(t *testing.T) {
	mux := deviceMux(&fakeDevice{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sensorcnt", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
