package storage

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/env-logger/internal/models"
)

// BatchInserter is the part of a store the writer needs.
type BatchInserter interface {
	InsertBatch(readings []*models.Reading) error
}

// DBWriter queues readings and writes them in batches from one goroutine,
// so ingest never waits on SQLite.
type DBWriter struct {
	store       BatchInserter
	logger      zerolog.Logger
	writeChan   chan *models.Reading
	batchSize   int
	flushPeriod time.Duration
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	mu            sync.RWMutex
	stats         DBWriterStats
	lastWriteTime time.Time
}

// DBWriterConfig holds configuration for the async writer
type DBWriterConfig struct {
	BatchSize   int           // readings per transaction
	FlushPeriod time.Duration // max time a partial batch waits
	ChannelSize int           // queue length before Write drops
}

// DefaultDBWriterConfig returns the defaults used by the collector.
func DefaultDBWriterConfig() DBWriterConfig {
	return DBWriterConfig{
		BatchSize:   100,
		FlushPeriod: 5 * time.Second,
		ChannelSize: 1000,
	}
}

func (c DBWriterConfig) withDefaults() DBWriterConfig {
	d := DefaultDBWriterConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.FlushPeriod <= 0 {
		c.FlushPeriod = d.FlushPeriod
	}
	if c.ChannelSize <= 0 {
		c.ChannelSize = d.ChannelSize
	}
	return c
}

// DBWriterStats contains statistics about the writer
type DBWriterStats struct {
	TotalWritten  int64     `json:"total_written"`
	ClimateWrites int64     `json:"climate_written"`
	DustWrites    int64     `json:"dust_written"`
	TotalBatches  int64     `json:"total_batches"`
	TotalErrors   int64     `json:"total_errors"`
	TotalDropped  int64     `json:"total_dropped"`
	LastWriteTime time.Time `json:"last_write_time,omitempty"`
	QueueLength   int       `json:"queue_length"`
}

// NewDBWriter creates and starts an async writer over store.
func NewDBWriter(store BatchInserter, config DBWriterConfig, logger zerolog.Logger) *DBWriter {
	config = config.withDefaults()
	w := &DBWriter{
		store:       store,
		logger:      logger.With().Str("component", "dbwriter").Logger(),
		writeChan:   make(chan *models.Reading, config.ChannelSize),
		batchSize:   config.BatchSize,
		flushPeriod: config.FlushPeriod,
		stopChan:    make(chan struct{}),
	}

	w.wg.Add(1)
	go w.writerLoop()

	w.logger.Info().
		Int("batch_size", config.BatchSize).
		Dur("flush_period", config.FlushPeriod).
		Int("channel_size", config.ChannelSize).
		Msg("DBWriter started")
	return w
}

// Write queues a reading. It returns false if the queue is full and the
// reading was dropped.
func (w *DBWriter) Write(reading *models.Reading) bool {
	select {
	case w.writeChan <- reading:
		return true
	default:
		w.mu.Lock()
		w.stats.TotalDropped++
		w.mu.Unlock()
		w.logger.Warn().Str("sensor_id", reading.SensorID).Msg("DBWriter queue full, dropping reading")
		return false
	}
}

func (w *DBWriter) writerLoop() {
	defer w.wg.Done()

	batch := make([]*models.Reading, 0, w.batchSize)
	ticker := time.NewTicker(w.flushPeriod)
	defer ticker.Stop()

	for {
		select {
		case reading := <-w.writeChan:
			batch = append(batch, reading)
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = make([]*models.Reading, 0, w.batchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = make([]*models.Reading, 0, w.batchSize)
			}

		case <-w.stopChan:
			for {
				select {
				case reading := <-w.writeChan:
					batch = append(batch, reading)
					continue
				default:
				}
				break
			}
			w.flush(batch)
			w.logger.Info().Msg("DBWriter stopped")
			return
		}
	}
}

func (w *DBWriter) flush(batch []*models.Reading) {
	if len(batch) == 0 {
		return
	}

	err := w.store.InsertBatch(batch)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.stats.TotalErrors++
		w.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to write batch")
		return
	}
	for _, r := range batch {
		if r.Kind == models.KindDust {
			w.stats.DustWrites++
		} else {
			w.stats.ClimateWrites++
		}
	}
	w.stats.TotalWritten += int64(len(batch))
	w.stats.TotalBatches++
	w.lastWriteTime = time.Now()
	w.logger.Debug().Int("count", len(batch)).Msg("Flushed batch")
}

// Stop flushes whatever is queued and stops the writer. Safe to call twice.
func (w *DBWriter) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.wg.Wait()
	})
}

// Stats returns current writer statistics
func (w *DBWriter) Stats() DBWriterStats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s := w.stats
	s.LastWriteTime = w.lastWriteTime
	s.QueueLength = len(w.writeChan)
	return s
}
