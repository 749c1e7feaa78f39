package storage

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Pruner deletes readings older than a number of days.
type Pruner interface {
	DeleteOlderThan(days int) (int64, error)
}

// RetentionCleaner periodically prunes readings past the retention window.
type RetentionCleaner struct {
	store         Pruner
	logger        zerolog.Logger
	retentionDays int
	cleanupPeriod time.Duration
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup

	// Stats
	mu              sync.RWMutex
	totalDeleted    int64
	totalCleanups   int64
	lastCleanup     time.Time
	lastDeleteCount int64
}

// RetentionCleanerConfig holds configuration for the cleaner
type RetentionCleanerConfig struct {
	RetentionDays int
	CleanupPeriod time.Duration
}

// DefaultRetentionCleanerConfig keeps 30 days and prunes hourly.
func DefaultRetentionCleanerConfig() RetentionCleanerConfig {
	return RetentionCleanerConfig{
		RetentionDays: 30,
		CleanupPeriod: 1 * time.Hour,
	}
}

// RetentionCleanerStats contains statistics about the cleaner
type RetentionCleanerStats struct {
	TotalDeleted    int64     `json:"total_deleted"`
	TotalCleanups   int64     `json:"total_cleanups"`
	LastCleanup     time.Time `json:"last_cleanup,omitempty"`
	LastDeleteCount int64     `json:"last_delete_count"`
	RetentionDays   int       `json:"retention_days"`
}

// NewRetentionCleaner starts a cleaner that prunes immediately and then
// every CleanupPeriod.
func NewRetentionCleaner(store Pruner, config RetentionCleanerConfig, logger zerolog.Logger) *RetentionCleaner {
	logger = logger.With().Str("component", "retention").Logger()
	defaults := DefaultRetentionCleanerConfig()

	cleanupPeriod := config.CleanupPeriod
	if cleanupPeriod <= 0 {
		logger.Warn().
			Dur("provided_period", cleanupPeriod).
			Dur("default_period", defaults.CleanupPeriod).
			Msg("Invalid cleanup period, using default")
		cleanupPeriod = defaults.CleanupPeriod
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = defaults.RetentionDays
	}

	c := &RetentionCleaner{
		store:         store,
		logger:        logger,
		retentionDays: config.RetentionDays,
		cleanupPeriod: cleanupPeriod,
		stopChan:      make(chan struct{}),
	}

	c.wg.Add(1)
	go c.cleanupLoop()

	logger.Info().
		Int("retention_days", config.RetentionDays).
		Dur("cleanup_period", cleanupPeriod).
		Msg("RetentionCleaner started")

	return c
}

func (c *RetentionCleaner) cleanupLoop() {
	defer c.wg.Done()

	c.runCleanup()

	ticker := time.NewTicker(c.cleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.stopChan:
			c.logger.Info().Msg("RetentionCleaner stopped")
			return
		}
	}
}

func (c *RetentionCleaner) runCleanup() {
	deleted, err := c.store.DeleteOlderThan(c.retentionDays)

	c.mu.Lock()
	c.totalCleanups++
	c.lastCleanup = time.Now()

	if err != nil {
		c.logger.Error().Err(err).Msg("Retention cleanup failed")
	} else {
		c.totalDeleted += deleted
		c.lastDeleteCount = deleted
		if deleted > 0 {
			c.logger.Info().
				Int64("deleted", deleted).
				Int("retention_days", c.retentionDays).
				Msg("Retention cleanup completed")
		} else {
			c.logger.Debug().
				Int("retention_days", c.retentionDays).
				Msg("Retention cleanup completed, no old data to delete")
		}
	}
	c.mu.Unlock()
}

// Stop stops the cleaner. Safe to call twice.
func (c *RetentionCleaner) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		c.wg.Wait()
	})
}

// Stats returns current cleaner statistics
func (c *RetentionCleaner) Stats() RetentionCleanerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return RetentionCleanerStats{
		TotalDeleted:    c.totalDeleted,
		TotalCleanups:   c.totalCleanups,
		LastCleanup:     c.lastCleanup,
		LastDeleteCount: c.lastDeleteCount,
		RetentionDays:   c.retentionDays,
	}
}

// RunNow prunes immediately.
func (c *RetentionCleaner) RunNow() {
	c.runCleanup()
}
