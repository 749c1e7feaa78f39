package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afroash/env-logger/internal/config"
	"github.com/afroash/env-logger/internal/models"
	"github.com/afroash/env-logger/internal/pm1006"
	"github.com/afroash/env-logger/internal/server"
)

const collectorToken = "bench-token"

// benchConfig runs a replayed dust sensor only, so no hardware is needed.
func benchConfig(uplinkURL string) *config.Config {
	cfg := &config.Config{
		Device: config.DeviceConfig{ID: "bench-1", Location: "lab"},
		DustSensor: config.DustSensorConfig{
			Enabled:      true,
			ID:           "dust-1",
			Replay:       true,
			ReadTimeout:  5 * time.Millisecond,
			PollInterval: 20 * time.Millisecond,
		},
		Measurement: config.MeasurementConfig{Interval: 20 * time.Millisecond, History: 100},
		HTTP:        config.HTTPConfig{Host: "127.0.0.1", Port: 0},
		Buffer:      config.BufferConfig{Size: 100},
	}
	if uplinkURL != "" {
		cfg.Uplink = config.UplinkConfig{
			Enabled:              true,
			URL:                  uplinkURL,
			AuthToken:            collectorToken,
			PushInterval:         20 * time.Millisecond,
			BatchSize:            10,
			ConnectTimeout:       time.Second,
			ReconnectInterval:    20 * time.Millisecond,
			MaxReconnectInterval: 100 * time.Millisecond,
			PingInterval:         time.Second,
			PongTimeout:          time.Second,
		}
	}
	return cfg
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestApp_ServesDeviceAPI(t *testing.T) {
	a, err := newApp(benchConfig(""), zerolog.Nop())
	require.NoError(t, err)
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx) }()

	base := "http://" + a.Addr().String()

	var cnt struct {
		Cnt int `json:"cnt"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, base+"/api/v1/sensorcnt", &cnt))
	assert.Equal(t, 0, cnt.Cnt)
	assert.Equal(t, http.StatusNotFound, getJSON(t, base+"/api/v1/temp/1", nil))

	require.Eventually(t, func() bool {
		var dust struct {
			PM25 uint16 `json:"pm2"`
		}
		return getJSON(t, base+"/api/v1/dust", &dust) == http.StatusOK && dust.PM25 == 1000
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		var current models.Reading
		return getJSON(t, base+"/api/current?sensor_id=dust-1", &current) == http.StatusOK &&
			current.Kind == models.KindDust && current.PM10 == 3000
	}, 2*time.Second, 20*time.Millisecond)

	var info struct {
		ID        string                    `json:"id"`
		Version   string                    `json:"version"`
		Sensors   []models.SensorDescriptor `json:"sensors"`
		DustStats *pm1006.ReaderStats       `json:"dust_stats"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, base+"/api/v1/info", &info))
	assert.Equal(t, "bench-1", info.ID)
	assert.Equal(t, version, info.Version)
	require.Len(t, info.Sensors, 1)
	assert.Equal(t, models.KindDust, info.Sensors[0].Kind)
	require.NotNil(t, info.DustStats)
	assert.NotZero(t, info.DustStats.ValidFrames)

	assert.Equal(t, http.StatusOK, getJSON(t, base+"/health", nil))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestApp_PushesToCollector(t *testing.T) {
	store := server.NewMemoryStore(100)
	collector := httptest.NewServer(server.NewHandler(collectorToken, store, zerolog.Nop()))
	defer collector.Close()

	a, err := newApp(benchConfig("ws"+strings.TrimPrefix(collector.URL, "http")), zerolog.Nop())
	require.NoError(t, err)
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.serve(ctx)

	require.Eventually(t, func() bool {
		r := store.GetCurrentReading("dust-1")
		return r != nil && r.PM1 == 2000
	}, 3*time.Second, 20*time.Millisecond)
}

func TestNewApp_NoSensors(t *testing.T) {
	cfg := benchConfig("")
	cfg.DustSensor.Enabled = false
	cfg.ClimateSensors = []config.ClimateSensorConfig{{ID: "x", Type: "BME280"}}

	_, err := newApp(cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "no sensor")
}
