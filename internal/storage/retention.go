package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RetentionCleaner periodically drops sessions that ended more than the
// retention window ago. A session is removed as a whole, so the summary
// stored for it never covers only part of its run.
type RetentionCleaner struct {
	store     Store
	logger    zerolog.Logger
	retention time.Duration
	period    time.Duration
	active    func() []string
	now       func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu    sync.RWMutex
	stats RetentionCleanerStats
}

// RetentionCleanerConfig holds configuration for the cleaner
type RetentionCleanerConfig struct {
	RetentionDays int
	CleanupPeriod time.Duration

	// ActiveSessions lists sessions still being recorded. They are kept
	// even when their newest stored reading is past the cutoff.
	ActiveSessions func() []string
}

// DefaultRetentionCleanerConfig keeps 30 days and checks hourly
func DefaultRetentionCleanerConfig() RetentionCleanerConfig {
	return RetentionCleanerConfig{
		RetentionDays: 30,
		CleanupPeriod: time.Hour,
	}
}

// RetentionCleanerStats contains cumulative cleaner statistics
type RetentionCleanerStats struct {
	Runs            int64     `json:"runs"`
	Failures        int64     `json:"failures"`
	SessionsRemoved int64     `json:"sessions_removed"`
	ChannelsRemoved int64     `json:"channels_removed"`
	ReadingsRemoved int64     `json:"readings_removed"`
	LastRun         time.Time `json:"last_run,omitempty"`
	LastPruned      []string  `json:"last_pruned,omitempty"`
	RetentionDays   int       `json:"retention_days"`
	ProtectedOnLast int       `json:"protected_on_last"`
}

// NewRetentionCleaner starts a cleaner that prunes once immediately and then
// every CleanupPeriod until Stop
func NewRetentionCleaner(store Store, config RetentionCleanerConfig, logger zerolog.Logger) *RetentionCleaner {
	period := config.CleanupPeriod
	if period <= 0 {
		logger.Warn().Dur("cleanup_period", period).Msg("Invalid cleanup period, using 1h")
		period = time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &RetentionCleaner{
		store:     store,
		logger:    logger.With().Str("component", "retention").Logger(),
		retention: time.Duration(config.RetentionDays) * 24 * time.Hour,
		period:    period,
		active:    config.ActiveSessions,
		now:       time.Now,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	c.stats.RetentionDays = config.RetentionDays

	go c.loop(ctx)

	c.logger.Info().
		Int("retention_days", config.RetentionDays).
		Dur("cleanup_period", period).
		Msg("Retention cleaner started")
	return c
}

func (c *RetentionCleaner) loop(ctx context.Context) {
	defer close(c.done)

	c.RunNow()

	ticker := time.NewTicker(c.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunNow()
		}
	}
}

// RunNow prunes expired sessions synchronously and returns what was removed
func (c *RetentionCleaner) RunNow() (PruneResult, error) {
	var keep []string
	if c.active != nil {
		keep = c.active()
	}
	cutoff := c.now().Add(-c.retention)

	res, err := c.store.PruneSessions(cutoff, keep)

	c.mu.Lock()
	c.stats.Runs++
	c.stats.LastRun = c.now()
	c.stats.ProtectedOnLast = len(keep)
	if err != nil {
		c.stats.Failures++
	} else {
		c.stats.SessionsRemoved += int64(len(res.Sessions))
		c.stats.ChannelsRemoved += int64(res.Channels)
		c.stats.ReadingsRemoved += res.Readings
		c.stats.LastPruned = res.Sessions
	}
	c.mu.Unlock()

	switch {
	case err != nil:
		c.logger.Error().Err(err).Time("cutoff", cutoff).Msg("Retention cleanup failed")
	case len(res.Sessions) > 0:
		c.logger.Info().
			Strs("session_id", res.Sessions).
			Int("sessions", len(res.Sessions)).
			Int("channels", res.Channels).
			Int64("readings", res.Readings).
			Int("protected", len(keep)).
			Time("cutoff", cutoff).
			Msg("Expired sessions removed")
	default:
		c.logger.Debug().Time("cutoff", cutoff).Int("protected", len(keep)).Msg("No expired sessions")
	}
	return res, err
}

// Stop ends the cleanup loop and waits for a running cleanup to finish
func (c *RetentionCleaner) Stop() {
	c.once.Do(func() {
		c.cancel()
		<-c.done
		c.logger.Info().Msg("Retention cleaner stopped")
	})
}

// Stats returns a snapshot of the cleaner statistics
func (c *RetentionCleaner) Stats() RetentionCleanerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.stats
	s.LastPruned = append([]string(nil), c.stats.LastPruned...)
	return s
}
