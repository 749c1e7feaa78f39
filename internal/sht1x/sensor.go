package sht1x

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/env-logger/internal/gpio"
	"github.com/afroash/env-logger/internal/units"
)

var (
	ErrNoAck        = errors.New("sensor did not acknowledge command")
	ErrTimeout      = errors.New("measurement not ready in time")
	ErrChecksum     = errors.New("checksum mismatch")
	ErrBusFault     = errors.New("gpio fault during transaction")
	ErrNotSetUp     = errors.New("sensor not set up")
	ErrNoReadingYet = errors.New("no successful measurement yet")
)

// Reading is one calibrated measurement.
type Reading struct {
	Temperature float64
	Humidity    float64
	DewPoint    float64
	Time        time.Time
}

// Sensor is one SHT1x on its own pin pair. Transactions on a Sensor are
// serialized; separate sensors share nothing.
type Sensor struct {
	id     string
	bus    *Bus
	opts   Options
	logger zerolog.Logger
	now    func() time.Time

	txMu sync.Mutex

	mu          sync.RWMutex
	temperature float64
	humidity    float64
	updated     time.Time
}

// NewSensor creates a sensor on the given pins. Call Setup before measuring.
func NewSensor(id string, ctrl gpio.Controller, sck, data int, opts Options, logger zerolog.Logger) *Sensor {
	opts = opts.withDefaults()
	logger = logger.With().Str("sensor", id).Logger()
	return &Sensor{
		id:     id,
		bus:    NewBus(ctrl, sck, data, opts, logger),
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// ID returns the configured sensor id.
func (s *Sensor) ID() string {
	return s.id
}

// Setup initializes the pins and soft-resets the sensor.
func (s *Sensor) Setup() error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := s.bus.InitPins(); err != nil {
		return err
	}
	s.bus.Reset()
	s.logger.Info().Msg("SHT1x sensor set up")
	return nil
}

// PerformMeasurement reads temperature then humidity. The stored reading is
// only replaced when both succeed.
func (s *Sensor) PerformMeasurement() error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if !s.bus.Initialized() {
		return fmt.Errorf("sensor %s: %w", s.id, ErrNotSetUp)
	}

	rawT, err := s.measure(CmdMeasureTemp)
	if err != nil {
		return fmt.Errorf("measure temperature: %w", err)
	}
	rawRH, err := s.measure(CmdMeasureRH)
	if err != nil {
		return fmt.Errorf("measure humidity: %w", err)
	}

	t := units.TemperatureFromRaw(rawT)
	rh := units.HumidityFromRaw(rawRH, t)

	s.mu.Lock()
	s.temperature = t
	s.humidity = rh
	s.updated = s.now()
	s.mu.Unlock()

	s.logger.Debug().
		Uint16("raw_t", rawT).
		Uint16("raw_rh", rawRH).
		Float64("temperature", t).
		Float64("humidity", rh).
		Msg("Measurement complete")
	return nil
}

// measure runs one command transaction and returns the 16 bit result.
func (s *Sensor) measure(cmd byte) (uint16, error) {
	b := s.bus

	b.TransmissionStart()
	ack := b.SendByte(cmd)
	if err := b.Err(); err != nil {
		return 0, s.fail(cmd, fmt.Errorf("%w: %v", ErrBusFault, err))
	}
	if !ack {
		return 0, s.fail(cmd, ErrNoAck)
	}

	ready := false
	for i := 0; i < s.opts.maxPolls(); i++ {
		b.Sleep(s.opts.PollInterval)
		if b.DataLow() {
			ready = true
			break
		}
	}
	if !ready {
		return 0, s.fail(cmd, ErrTimeout)
	}

	hi := b.ReadByte(true)
	b.UpdateCRC(hi)
	lo := b.ReadByte(true)
	b.UpdateCRC(lo)
	chk := b.ReadByte(false)

	if err := b.Err(); err != nil {
		return 0, s.fail(cmd, fmt.Errorf("%w: %v", ErrBusFault, err))
	}
	if mirror(chk) != b.CRC() {
		s.logger.Debug().
			Uint8("received", mirror(chk)).
			Uint8("computed", b.CRC()).
			Msg("Checksum mismatch")
		return 0, s.fail(cmd, ErrChecksum)
	}

	return uint16(hi)<<8 | uint16(lo), nil
}

func (s *Sensor) fail(cmd byte, err error) error {
	s.logger.Warn().Err(err).Uint8("cmd", cmd).Msg("SHT1x transaction failed")
	return fmt.Errorf("sht1x %s (sck %d, data %d): %w", s.id, s.bus.sck, s.bus.data, err)
}

// Temperature returns the last temperature in °C.
func (s *Sensor) Temperature() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.temperature
}

// Humidity returns the last relative humidity in %.
func (s *Sensor) Humidity() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.humidity
}

// DewPoint derives the dew point from the last reading, or 0 before the
// first measurement.
func (s *Sensor) DewPoint() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.updated.IsZero() {
		return 0
	}
	return units.DewPoint(s.humidity, s.temperature)
}

// Latest returns the last reading and whether one exists.
func (s *Sensor) Latest() (Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.updated.IsZero() {
		return Reading{}, false
	}
	return Reading{
		Temperature: s.temperature,
		Humidity:    s.humidity,
		DewPoint:    units.DewPoint(s.humidity, s.temperature),
		Time:        s.updated,
	}, true
}

// Read measures and returns temperature and humidity. A failed measurement
// returns the error; the stale values stay available through the getters.
func (s *Sensor) Read() (float64, float64, error) {
	if err := s.PerformMeasurement(); err != nil {
		return 0, 0, err
	}
	r, ok := s.Latest()
	if !ok {
		return 0, 0, ErrNoReadingYet
	}
	return r.Temperature, r.Humidity, nil
}

// Close parks both pins as inputs.
func (s *Sensor) Close() error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	errSck := s.bus.ctrl.Reset(s.bus.sck)
	errData := s.bus.ctrl.Reset(s.bus.data)
	s.bus.initialized = false
	if errSck != nil {
		return fmt.Errorf("release sck %d: %w", s.bus.sck, errSck)
	}
	if errData != nil {
		return fmt.Errorf("release data %d: %w", s.bus.data, errData)
	}
	return nil
}
