// Package sht1x drives Sensirion SHT1x temperature/humidity sensors over a
// bit-banged two-wire bus.
package sht1x

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/env-logger/internal/gpio"
)

// Commands understood by the sensor.
const (
	CmdMeasureTemp byte = 0x03
	CmdMeasureRH   byte = 0x05
	CmdReadStatus  byte = 0x07
	CmdWriteStatus byte = 0x06
	CmdSoftReset   byte = 0x1E
)

const resetClockPulses = 9

// Defaults for Options.
const (
	// DefaultBitDelay is long enough for a 5 m cable.
	DefaultBitDelay       = 50 * time.Microsecond
	DefaultMeasureTimeout = 250 * time.Millisecond
	DefaultPollInterval   = 5 * time.Millisecond
)

// Options tunes bus timing.
type Options struct {
	// BitDelay is held after every clock or data edge.
	BitDelay time.Duration
	// MeasureTimeout bounds the wait for a conversion to finish.
	MeasureTimeout time.Duration
	// PollInterval is the spacing between ready checks while waiting.
	PollInterval time.Duration
	// Sleep replaces the delay function, mostly for tests.
	Sleep func(time.Duration)
	// DataPull is the internal bias on the data line. The zero value leaves
	// it floating for boards with an external pull-up.
	DataPull gpio.Pull
}

func (o Options) withDefaults() Options {
	if o.BitDelay <= 0 {
		o.BitDelay = DefaultBitDelay
	}
	if o.MeasureTimeout <= 0 {
		o.MeasureTimeout = DefaultMeasureTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Sleep == nil {
		o.Sleep = delay
	}
	return o
}

// maxPolls is the number of ready checks that fit in MeasureTimeout.
func (o Options) maxPolls() int {
	n := int(o.MeasureTimeout / o.PollInterval)
	if n < 1 {
		return 1
	}
	return n
}

// delay busy-waits for sub-millisecond durations, where the scheduler is too
// coarse, and sleeps otherwise.
func delay(d time.Duration) {
	if d <= 0 {
		return
	}
	if d < time.Millisecond {
		start := time.Now()
		for time.Since(start) < d {
		}
		return
	}
	time.Sleep(d)
}

// Bus is one clock/data pin pair. The clock is always driven by the host;
// the data line is either driven low or released to the external pull-up.
//
// GPIO failures inside a transaction do not change the edge sequence. The
// first one is kept and reported by Err until the next TransmissionStart.
type Bus struct {
	ctrl   gpio.Controller
	sck    int
	data   int
	opts   Options
	logger zerolog.Logger

	initialized bool
	status      byte
	crc         byte
	err         error
}

// NewBus creates a bus on the given pins. No pin is touched until InitPins.
func NewBus(ctrl gpio.Controller, sck, data int, opts Options, logger zerolog.Logger) *Bus {
	return &Bus{
		ctrl:   ctrl,
		sck:    sck,
		data:   data,
		opts:   opts.withDefaults(),
		logger: logger.With().Int("sck", sck).Int("data", data).Logger(),
	}
}

// InitPins configures the clock as a low output and the data line as a low
// output with the configured bias.
func (b *Bus) InitPins() error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"reset sck", func() error { return b.ctrl.Reset(b.sck) }},
		{"reset data", func() error { return b.ctrl.Reset(b.data) }},
		{"sck level", func() error { return b.ctrl.SetLevel(b.sck, gpio.Low) }},
		{"sck direction", func() error { return b.ctrl.SetDirection(b.sck, gpio.Output) }},
		{"sck level", func() error { return b.ctrl.SetLevel(b.sck, gpio.Low) }},
		{"data pull", func() error { return b.ctrl.SetPull(b.data, b.opts.DataPull) }},
		{"data level", func() error { return b.ctrl.SetLevel(b.data, gpio.Low) }},
		{"data direction", func() error { return b.ctrl.SetDirection(b.data, gpio.Output) }},
	}

	for _, s := range steps {
		if err := s.fn(); err != nil {
			b.logger.Error().Err(err).Str("step", s.name).Msg("Failed to init pins")
			return fmt.Errorf("init pins (sck %d, data %d): %s: %w", b.sck, b.data, s.name, err)
		}
	}

	b.initialized = true
	return nil
}

// Initialized reports whether InitPins succeeded.
func (b *Bus) Initialized() bool {
	return b.initialized
}

// Reset clocks the interface back into a known state and issues a soft
// reset. Nothing is reported; a missing ack only gets logged.
func (b *Bus) Reset() {
	b.releaseData()
	b.delay()
	for i := 0; i < resetClockPulses; i++ {
		b.pulse()
	}

	b.TransmissionStart()
	if !b.SendByte(CmdSoftReset) {
		b.logger.Warn().Msg("Soft reset not acknowledged")
	}
	if err := b.Err(); err != nil {
		b.logger.Warn().Err(err).Msg("GPIO error during reset")
	}
}

// TransmissionStart emits the start condition and reseeds the checksum. It
// panics if InitPins has not succeeded.
func (b *Bus) TransmissionStart() {
	if !b.initialized {
		panic(fmt.Sprintf("sht1x: transmission start on uninitialized bus (sck %d, data %d)", b.sck, b.data))
	}
	b.err = nil

	b.setClock(gpio.High)
	b.delay()
	b.driveDataLow()
	b.delay()
	b.setClock(gpio.Low)
	b.delay()
	b.setClock(gpio.High)
	b.delay()
	b.releaseData()
	b.delay()
	b.setClock(gpio.Low)
	b.delay()

	// The status register is never read back, so the seed is always zero.
	b.crc = mirror(b.status & 0x0F)
}

// SendByte clocks v out MSB first and reports whether the sensor pulled the
// data line low on the ninth clock. The checksum includes v either way.
func (b *Bus) SendByte(v byte) bool {
	for mask := byte(0x80); mask != 0; mask >>= 1 {
		b.setClock(gpio.Low)
		b.delay()
		if v&mask != 0 {
			b.releaseData()
		} else {
			b.driveDataLow()
		}
		b.delay()
		b.setClock(gpio.High)
		b.delay()
	}

	b.setClock(gpio.Low)
	b.delay()
	b.releaseData()
	b.delay()
	b.setClock(gpio.High)
	b.delay()
	ack := b.sample() == gpio.Low
	b.setClock(gpio.Low)
	b.delay()

	b.crc = crcUpdate(b.crc, v)
	return ack
}

// ReadByte clocks in one byte MSB first. With ack set the host pulls data
// low for the acknowledge clock, asking for more. The checksum is left to
// the caller.
func (b *Bus) ReadByte(ack bool) byte {
	var v byte
	for i := 0; i < 8; i++ {
		b.setClock(gpio.High)
		b.delay()
		v <<= 1
		if b.sample() == gpio.High {
			v |= 1
		}
		b.setClock(gpio.Low)
		b.delay()
	}

	if ack {
		b.driveDataLow()
		b.delay()
	}
	b.pulse()
	if ack {
		b.releaseData()
		b.delay()
	}
	return v
}

// UpdateCRC folds a received byte into the running checksum.
func (b *Bus) UpdateCRC(v byte) {
	b.crc = crcUpdate(b.crc, v)
}

// CRC returns the running checksum.
func (b *Bus) CRC() byte {
	return b.crc
}

// Err returns the first GPIO error since the last TransmissionStart.
func (b *Bus) Err() error {
	return b.err
}

// DataLow samples the data line once.
func (b *Bus) DataLow() bool {
	return b.sample() == gpio.Low
}

// Sleep waits using the configured delay function.
func (b *Bus) Sleep(d time.Duration) {
	b.opts.Sleep(d)
}

func (b *Bus) delay() {
	b.opts.Sleep(b.opts.BitDelay)
}

func (b *Bus) pulse() {
	b.setClock(gpio.High)
	b.delay()
	b.setClock(gpio.Low)
	b.delay()
}

func (b *Bus) setClock(l gpio.Level) {
	b.record(b.ctrl.SetLevel(b.sck, l))
}

// driveDataLow relies on the latched low level set by InitPins, re-set here
// in case the controller was reset underneath us.
func (b *Bus) driveDataLow() {
	b.record(b.ctrl.SetLevel(b.data, gpio.Low))
	b.record(b.ctrl.SetDirection(b.data, gpio.Output))
}

func (b *Bus) releaseData() {
	b.record(b.ctrl.SetDirection(b.data, gpio.Input))
}

func (b *Bus) sample() gpio.Level {
	l, err := b.ctrl.Level(b.data)
	b.record(err)
	return l
}

func (b *Bus) record(err error) {
	if err != nil && b.err == nil {
		b.err = err
	}
}
