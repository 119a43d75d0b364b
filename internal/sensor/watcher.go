package sensor

import (
	"context"
	"math"
	"time"

	"github.com/afroash/thermolog/internal/models"
	"github.com/rs/zerolog"
)

// Watcher delivers readings only when a channel's temperature changes,
// the polled stand-in for the hub's change-notification callback.
type Watcher struct {
	handles   []Handle
	sessionID string
	interval  time.Duration
	trigger   float64
	listener  Listener
	logger    zerolog.Logger
	last      map[int]float64
}

// NewWatcher creates a watcher over already opened handles. A reading is
// delivered when it differs from the last delivered value of its channel
// by more than trigger; the first reading of each channel always is.
func NewWatcher(handles []Handle, sessionID string, interval time.Duration, trigger float64, listener Listener, logger zerolog.Logger) *Watcher {
	return &Watcher{
		handles:   handles,
		sessionID: sessionID,
		interval:  interval,
		trigger:   trigger,
		listener:  listener,
		logger:    logger,
		last:      make(map[int]float64, len(handles)),
	}
}

// Start polls every handle until ctx is cancelled
func (w *Watcher) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Poll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Poll()
		}
	}
}

// Poll reads every handle once and returns the number of readings delivered
func (w *Watcher) Poll() int {
	delivered := 0
	for _, h := range w.handles {
		t, err := h.Temperature()
		if err != nil {
			w.logger.Error().Err(err).Int("channel", h.Channel()).Msg("failed to read from sensor")
			continue
		}
		if !w.changed(h.Channel(), t) {
			continue
		}
		w.last[h.Channel()] = t
		w.listener.OnReading(*models.NewReading(w.sessionID, h.Channel(), t))
		delivered++
	}
	return delivered
}

func (w *Watcher) changed(channel int, t float64) bool {
	prev, ok := w.last[channel]
	if !ok {
		return true
	}
	if w.trigger == 0 {
		return t != prev
	}
	return math.Abs(t-prev) > w.trigger
}
