package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/env-logger/internal/client"
	"github.com/afroash/env-logger/internal/config"
	"github.com/afroash/env-logger/internal/gpio"
	"github.com/afroash/env-logger/internal/models"
	"github.com/afroash/env-logger/internal/pm1006"
	"github.com/afroash/env-logger/internal/sensor"
	"github.com/afroash/env-logger/internal/server"
	"github.com/afroash/env-logger/internal/sht1x"
)

const shutdownTimeout = 5 * time.Second

// app is everything the logger runs, wired from config.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	ctrl     gpio.Controller
	poller   *sensor.Reader
	dust     *pm1006.Reader
	store    *server.MemoryStore
	buffer   *client.ReadingBuffer
	uplink   *client.Connection
	device   *models.DeviceInfo
	listener net.Listener
	http     *http.Server
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()
	return a.serve(ctx)
}

// newApp sets up every configured sensor. A sensor that fails to set up is
// logged and left out; it is an error only if none is left.
func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		poller: sensor.NewReader(cfg.Measurement.Interval, logger.With().Str("component", "poller").Logger()),
		store:  server.NewMemoryStore(cfg.Measurement.History),
	}

	var sensors []models.SensorDescriptor
	for i, sc := range cfg.ClimateSensors {
		s, err := a.openClimate(sc)
		if err != nil {
			logger.Error().
				Err(err).
				Int("index", i+1).
				Str("sensor_id", sc.ID).
				Str("type", sc.Type).
				Msg("Climate sensor setup failed, skipping")
			continue
		}
		a.poller.AddClimate(sc.ID, s)
		sensors = append(sensors, models.SensorDescriptor{ID: sc.ID, Type: sc.Type, Kind: models.KindClimate})
	}

	if cfg.DustSensor.Enabled {
		if err := a.openDust(); err != nil {
			logger.Error().Err(err).Str("port", cfg.DustSensor.Port).Msg("Dust sensor setup failed, skipping")
		} else {
			a.poller.SetDust(cfg.DustSensor.ID, a.dust)
			sensors = append(sensors, models.SensorDescriptor{ID: cfg.DustSensor.ID, Type: "PM1006", Kind: models.KindDust})
		}
	}

	if len(sensors) == 0 {
		a.close()
		return nil, errors.New("no sensor could be set up")
	}
	a.device = models.NewDeviceInfo(cfg.Device.ID, cfg.Device.Location, version, sensors)

	if cfg.Uplink.Enabled {
		a.buffer = client.NewReadingBuffer(cfg.Buffer.Size, cfg.Buffer.DropOldest)
		a.uplink = client.NewConnection(client.ConnectionConfig{
			URL:                  cfg.Uplink.URL,
			AuthToken:            cfg.Uplink.AuthToken,
			ConnectTimeout:       cfg.Uplink.ConnectTimeout,
			ReconnectInterval:    cfg.Uplink.ReconnectInterval,
			MaxReconnectInterval: cfg.Uplink.MaxReconnectInterval,
			PingInterval:         cfg.Uplink.PingInterval,
			PongTimeout:          cfg.Uplink.PongTimeout,
			PushInterval:         cfg.Uplink.PushInterval,
			BatchSize:            cfg.Uplink.BatchSize,
		}, a.device, a.buffer, logger)
	}

	addr := net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	a.listener = ln
	a.http = &http.Server{
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a, nil
}

func (a *app) openClimate(sc config.ClimateSensorConfig) (sensor.ClimateSensor, error) {
	switch sc.Type {
	case config.SensorTypeSHT1x:
		if a.ctrl == nil {
			ctrl, err := gpio.Open(a.cfg.GPIO.Driver, a.cfg.GPIO.Chip)
			if err != nil {
				return nil, err
			}
			a.ctrl = ctrl
		}
		s := sht1x.NewSensor(sc.ID, a.ctrl, sc.ClockPin, sc.DataPin, sht1x.Options{
			BitDelay:       sc.BitDelay,
			MeasureTimeout: sc.MeasureTimeout,
			DataPull:       gpio.ParsePull(sc.DataPull),
		}, a.logger)
		if err := s.Setup(); err != nil {
			return nil, err
		}
		return s, nil
	case config.SensorTypeDHT11:
		return sensor.NewDHT11Reader(sc.Pin)
	default:
		return nil, fmt.Errorf("unknown sensor type %q", sc.Type)
	}
}

func (a *app) openDust() error {
	dc := a.cfg.DustSensor

	var stream pm1006.Stream
	if dc.Replay {
		stream = pm1006.NewReplayStream(nil)
	} else {
		s, err := pm1006.OpenSerial(dc.Port, dc.BaudRate)
		if err != nil {
			return err
		}
		stream = s
	}
	a.dust = pm1006.NewReader(stream, pm1006.ReaderConfig{
		ReadTimeout:  dc.ReadTimeout,
		PollInterval: dc.PollInterval,
	}, a.logger.With().Str("component", "pm1006").Str("sensor_id", dc.ID).Logger())
	return nil
}

func (a *app) routes() *http.ServeMux {
	mux := http.NewServeMux()
	server.NewDeviceAPI(a.poller, a.device, a.logger).Register(mux)
	server.NewAPIHandler(a.store, a.logger).Register(mux)
	mux.HandleFunc("GET /health", server.HealthHandler(version))
	return mux
}

// Addr is the address the HTTP API listens on.
func (a *app) Addr() net.Addr {
	return a.listener.Addr()
}

// serve runs the loops until ctx is cancelled or the HTTP server fails.
func (a *app) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errc := make(chan error, 1)
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error().Err(err).Str("task", name).Msg("Task failed")
				select {
				case errc <- fmt.Errorf("%s: %w", name, err):
				default:
				}
				cancel()
			}
		}()
	}

	if a.dust != nil {
		spawn("dust", a.dust.Run)
	}
	spawn("poller", a.poller.Start)
	spawn("fanout", a.fanOut)
	if a.uplink != nil {
		spawn("uplink", a.uplink.Run)
	}
	spawn("http", a.serveHTTP)

	a.logger.Info().
		Str("addr", a.Addr().String()).
		Int("sensors", len(a.device.Sensors)).
		Bool("uplink", a.uplink != nil).
		Msg("Logger running")

	<-ctx.Done()
	wg.Wait()

	select {
	case err := <-errc:
		return err
	default:
		return ctx.Err()
	}
}

// fanOut delivers every polled reading to the local store and the uplink
// buffer.
func (a *app) fanOut(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-a.poller.Readings():
			a.store.Add(r)
			if a.buffer != nil && !a.buffer.Push(r) {
				a.logger.Warn().Str("sensor_id", r.SensorID).Msg("Uplink buffer full, reading dropped")
			}
		}
	}
}

func (a *app) serveHTTP(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.http.Shutdown(shutdownCtx); err != nil {
			a.logger.Error().Err(err).Msg("HTTP shutdown error")
		}
	}()

	if err := a.http.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

// close releases sensors, the serial port and GPIO lines.
func (a *app) close() {
	if a.uplink != nil {
		a.uplink.Close()
	}
	if err := a.poller.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to release climate sensors")
	}
	if a.dust != nil {
		if err := a.dust.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close dust stream")
		}
	}
	if a.ctrl != nil {
		if err := a.ctrl.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to release GPIO")
		}
	}
}
