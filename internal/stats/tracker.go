// Package stats keeps per-channel running statistics for a sampling
// session: an append-only sample history plus running extremes.
package stats

import (
	"errors"
	"fmt"

	"github.com/afroash/thermolog/internal/models"
)

// ErrEmptyHistory is returned when a mean is requested before any sample
// was recorded.
var ErrEmptyHistory = errors.New("no samples recorded")

// Policy selects how running extremes are updated.
type Policy int

const (
	// Independent seeds min and max from the first sample and checks every
	// later sample against both bounds.
	Independent Policy = iota

	// Legacy lets the first sample set max and the second set min.
	// Afterwards a sample raises max or lowers min but never both, with
	// max checked first.
	Legacy
)

// ParsePolicy maps a config value to a Policy
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "independent":
		return Independent, nil
	case "legacy":
		return Legacy, nil
	default:
		return Independent, fmt.Errorf("unknown stats policy %q", s)
	}
}

func (p Policy) String() string {
	switch p {
	case Independent:
		return "independent"
	case Legacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// Tracker accumulates samples for one channel. It is not safe for
// concurrent use; the sampling loop owns it.
type Tracker struct {
	policy  Policy
	samples []float64
	max     float64
	min     float64
	hasMax  bool
	hasMin  bool
}

// NewTracker creates an empty tracker
func NewTracker(policy Policy) *Tracker {
	return &Tracker{policy: policy}
}

// Add records a sample and updates the running extremes
func (t *Tracker) Add(v float64) {
	t.samples = append(t.samples, v)

	switch t.policy {
	case Legacy:
		switch {
		case !t.hasMax:
			t.max, t.hasMax = v, true
		case !t.hasMin:
			t.min, t.hasMin = v, true
		case v > t.max:
			t.max = v
		case v < t.min:
			t.min = v
		}
	default:
		if !t.hasMax || v > t.max {
			t.max, t.hasMax = v, true
		}
		if !t.hasMin || v < t.min {
			t.min, t.hasMin = v, true
		}
	}
}

// Len returns the number of recorded samples
func (t *Tracker) Len() int {
	return len(t.samples)
}

// Samples returns a copy of the recorded samples, oldest first
func (t *Tracker) Samples() []float64 {
	out := make([]float64, len(t.samples))
	copy(out, t.samples)
	return out
}

// Max returns the running maximum, if set
func (t *Tracker) Max() (float64, bool) {
	return t.max, t.hasMax
}

// Min returns the running minimum, if set
func (t *Tracker) Min() (float64, bool) {
	return t.min, t.hasMin
}

// Mean returns the arithmetic mean of all samples
func (t *Tracker) Mean() (float64, error) {
	if len(t.samples) == 0 {
		return 0, ErrEmptyHistory
	}
	var sum float64
	for _, v := range t.samples {
		sum += v
	}
	return sum / float64(len(t.samples)), nil
}

// Summary reports the tracker state for channel. An empty history yields
// a summary whose NoData method returns true.
func (t *Tracker) Summary(channel int) models.ChannelSummary {
	s := models.ChannelSummary{
		Channel: channel,
		Count:   len(t.samples),
		Max:     t.max,
		Min:     t.min,
		HasMax:  t.hasMax,
		HasMin:  t.hasMin,
	}
	if mean, err := t.Mean(); err == nil {
		s.Mean = mean
	}
	return s
}
