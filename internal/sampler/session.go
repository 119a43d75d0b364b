// Package sampler runs a sampling session: it attaches one sensor handle
// per channel, reads every channel once per tick at a fixed rate, and
// feeds each reading to the statistics tracker and the listeners.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/afroash/thermolog/internal/config"
	"github.com/afroash/thermolog/internal/models"
	"github.com/afroash/thermolog/internal/sensor"
	"github.com/afroash/thermolog/internal/stats"
	"github.com/rs/zerolog"
)

// Options configures a Session
type Options struct {
	SessionID     string
	Channels      []int
	Interval      time.Duration
	AttachTimeout time.Duration
	StartDelay    time.Duration
	Policy        stats.Policy
	// ChangeTrigger only applies to Watch
	ChangeTrigger float64
}

// OptionsFrom converts the session section of the config
func OptionsFrom(cfg config.SessionConfig, sessionID string) (Options, error) {
	policy, err := stats.ParsePolicy(cfg.StatsPolicy)
	if err != nil {
		return Options{}, err
	}
	return Options{
		SessionID:     sessionID,
		Channels:      cfg.Channels,
		Interval:      cfg.Interval(),
		AttachTimeout: cfg.AttachTimeout,
		StartDelay:    cfg.StartDelay,
		Policy:        policy,
		ChangeTrigger: cfg.ChangeTrigger,
	}, nil
}

// Channel is one sampled input: its port, the handle the session owns
// and the running statistics.
type Channel struct {
	Port   int
	Handle sensor.Handle
	Stats  *stats.Tracker
}

// Session owns every channel for its lifetime. It is driven from a single
// goroutine; nothing else touches channel state.
type Session struct {
	opts      Options
	factory   sensor.Factory
	listeners []sensor.Listener
	logger    zerolog.Logger
	now       func() time.Time

	channels []*Channel
	acquired bool
	ticks    int
}

// New creates a session. Handles are not opened until Acquire or Run.
func New(opts Options, factory sensor.Factory, logger zerolog.Logger, listeners ...sensor.Listener) *Session {
	return &Session{
		opts:      opts,
		factory:   factory,
		listeners: listeners,
		logger:    logger,
		now:       time.Now,
	}
}

// Acquire opens one handle per channel in order. If any channel fails to
// attach the handles opened so far are released and the error returned;
// the session cannot run with a missing channel.
func (s *Session) Acquire() error {
	if s.acquired {
		return nil
	}
	s.channels = nil
	s.ticks = 0

	for _, port := range s.opts.Channels {
		h, err := s.factory(port)
		if err != nil {
			s.Release()
			return fmt.Errorf("create handle for channel %d: %w", port, err)
		}
		if err := h.Open(s.opts.AttachTimeout); err != nil {
			s.Release()
			return fmt.Errorf("acquire channel %d: %w", port, err)
		}
		s.channels = append(s.channels, &Channel{
			Port:   port,
			Handle: h,
			Stats:  stats.NewTracker(s.opts.Policy),
		})
		s.logger.Debug().Int("channel", port).Msg("Channel attached")
	}

	s.acquired = true
	s.logger.Info().
		Ints("channels", s.opts.Channels).
		Dur("interval", s.opts.Interval).
		Str("policy", s.opts.Policy.String()).
		Msg("All channels attached")
	return nil
}

// Run samples until ctx is cancelled, then releases every handle and
// returns the per-channel summaries. Cancellation is only observed
// between ticks. An interrupt is not an error; a failed read ends the
// session with that error after teardown.
func (s *Session) Run(ctx context.Context) ([]models.ChannelSummary, error) {
	if err := s.Acquire(); err != nil {
		return nil, err
	}
	defer s.releaseAndLog()

	if !wait(ctx, s.opts.StartDelay) {
		return s.Summaries(), nil
	}

	for {
		if err := s.Tick(); err != nil {
			return s.Summaries(), err
		}
		if !wait(ctx, s.opts.Interval) {
			break
		}
	}

	s.logger.Info().Int("ticks", s.ticks).Msg("Sampling stopped")
	return s.Summaries(), nil
}

// Tick reads every channel once, in channel order
func (s *Session) Tick() error {
	for _, ch := range s.channels {
		t, err := ch.Handle.Temperature()
		if err != nil {
			return fmt.Errorf("read channel %d: %w", ch.Port, err)
		}
		ch.Stats.Add(t)

		reading := models.Reading{
			SessionID:   s.opts.SessionID,
			Channel:     ch.Port,
			Temperature: t,
			Timestamp:   s.now(),
		}
		for _, l := range s.listeners {
			l.OnReading(reading)
		}
	}

	s.ticks++
	for _, l := range s.listeners {
		if tl, ok := l.(sensor.TickListener); ok {
			tl.OnTickEnd(s.ticks)
		}
	}
	return nil
}

// Watch runs the event-driven variant: readings are delivered only when a
// channel's value changes, and no statistics are kept. It polls at the
// session interval until ctx is cancelled.
func (s *Session) Watch(ctx context.Context) error {
	if err := s.Acquire(); err != nil {
		return err
	}
	defer s.releaseAndLog()

	handles := make([]sensor.Handle, 0, len(s.channels))
	for _, ch := range s.channels {
		handles = append(handles, ch.Handle)
	}

	w := sensor.NewWatcher(handles, s.opts.SessionID, s.opts.Interval, s.opts.ChangeTrigger, fanout(s.listeners), s.logger)
	err := w.Start(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Release closes every open handle exactly once. It is safe to call again.
func (s *Session) Release() error {
	var errs []error
	for _, ch := range s.channels {
		if ch.Handle == nil {
			continue
		}
		if err := ch.Handle.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel %d: %w", ch.Port, err))
		}
		ch.Handle = nil
	}
	s.acquired = false
	return errors.Join(errs...)
}

func (s *Session) releaseAndLog() {
	if err := s.Release(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to release channels")
		return
	}
	s.logger.Debug().Int("channels", len(s.channels)).Msg("Channels released")
}

// Summaries returns the statistics of every acquired channel in order
func (s *Session) Summaries() []models.ChannelSummary {
	out := make([]models.ChannelSummary, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch.Stats.Summary(ch.Port))
	}
	return out
}

// Channels returns the acquired channels
func (s *Session) Channels() []*Channel {
	return s.channels
}

// Ticks returns the number of completed ticks
func (s *Session) Ticks() int {
	return s.ticks
}

// wait sleeps for d unless ctx is done first. It reports whether the
// session should keep going.
func wait(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// fanout delivers each reading to every listener in turn
type fanout []sensor.Listener

func (f fanout) OnReading(r models.Reading) {
	for _, l := range f {
		l.OnReading(r)
	}
}
