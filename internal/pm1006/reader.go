package pm1006

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Stream is a byte source with a bounded wait. A read that times out returns
// zero bytes and no error.
type Stream interface {
	ReadBytes(p []byte, timeout time.Duration) (int, error)
}

// Reader defaults, matching the sensor's output rate.
const (
	DefaultReadBufferSize = 1024
	DefaultReadTimeout    = 20 * time.Millisecond
	DefaultPollInterval   = 3 * time.Second
)

// ReaderConfig tunes the read loop.
type ReaderConfig struct {
	ReadTimeout    time.Duration
	PollInterval   time.Duration
	ReadBufferSize int
}

func (c ReaderConfig) withDefaults() ReaderConfig {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	return c
}

// ReaderStats counts decoder outcomes since start.
type ReaderStats struct {
	BytesRead     uint64 `json:"bytes_read"`
	ValidFrames   uint64 `json:"valid_frames"`
	InvalidFrames uint64 `json:"invalid_frames"`
	ReadErrors    uint64 `json:"read_errors"`
}

// Reader owns a Stream and keeps the latest dust reading. Run is the only
// writer; the getters may be called from any goroutine.
type Reader struct {
	stream  Stream
	decoder *Decoder
	cfg     ReaderConfig
	logger  zerolog.Logger
	buf     []byte
	now     func() time.Time

	mu     sync.RWMutex
	latest DustReading
	stats  ReaderStats
}

// NewReader creates a reader over stream.
func NewReader(stream Stream, cfg ReaderConfig, logger zerolog.Logger) *Reader {
	cfg = cfg.withDefaults()
	return &Reader{
		stream:  stream,
		decoder: NewDecoder(logger),
		cfg:     cfg,
		logger:  logger,
		buf:     make([]byte, cfg.ReadBufferSize),
		now:     time.Now,
	}
}

// Run reads and decodes until ctx is cancelled. Stream errors are logged and
// the loop carries on.
func (r *Reader) Run(ctx context.Context) error {
	r.logger.Info().
		Dur("poll_interval", r.cfg.PollInterval).
		Msg("Dust reader started")

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.Process(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to read dust stream")
		}

		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Dust reader stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Process performs one bounded read and feeds every byte to the decoder.
// It returns the number of valid frames published.
func (r *Reader) Process() (int, error) {
	n, err := r.stream.ReadBytes(r.buf, r.cfg.ReadTimeout)
	if n < 0 {
		n = 0
	}

	frames := 0
	for _, b := range r.buf[:n] {
		switch r.decoder.Feed(b) {
		case FrameValid:
			if r.publish() {
				frames++
			}
		case FrameInvalid:
			r.mu.Lock()
			r.stats.InvalidFrames++
			r.mu.Unlock()
		}
	}

	r.mu.Lock()
	r.stats.BytesRead += uint64(n)
	if err != nil {
		r.stats.ReadErrors++
	}
	r.mu.Unlock()

	return frames, err
}

func (r *Reader) publish() bool {
	reading, err := ParseReading(r.decoder.Payload())
	if err != nil {
		r.logger.Warn().Err(err).Msg("Discarding frame")
		return false
	}
	reading.Updated = r.now()

	r.mu.Lock()
	r.latest = reading
	r.stats.ValidFrames++
	r.mu.Unlock()

	r.logger.Debug().
		Uint16("pm1", reading.PM1).
		Uint16("pm25", reading.PM25).
		Uint16("pm10", reading.PM10).
		Msg("Dust frame decoded")
	return true
}

// Latest returns the last decoded reading and whether one exists.
func (r *Reader) Latest() (DustReading, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest, !r.latest.Updated.IsZero()
}

func (r *Reader) PM1() uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest.PM1
}

func (r *Reader) PM25() uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest.PM25
}

func (r *Reader) PM10() uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest.PM10
}

// Stats returns a snapshot of the decoder counters.
func (r *Reader) Stats() ReaderStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// Close closes the stream if it supports closing.
func (r *Reader) Close() error {
	if c, ok := r.stream.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
