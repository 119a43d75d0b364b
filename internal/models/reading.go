package models

import (
	"fmt"
	"time"
)

// Reading is one temperature sample taken from a channel during a tick.
type Reading struct {
	SessionID   string    `json:"session_id,omitempty"`
	Channel     int       `json:"channel"`
	Temperature float64   `json:"temperature"`
	Timestamp   time.Time `json:"timestamp"`
}

// Physical limits used to reject garbage values before they are persisted.
// The span covers thermocouple inputs, not just the on-board IC.
const (
	MinTemperature = -273.15
	MaxTemperature = 1800.0
)

// IsValid checks that the reading carries a timestamp, a non-negative
// channel and a physically possible temperature.
func (r *Reading) IsValid() bool {
	if r.Channel < 0 {
		return false
	}
	if r.Timestamp.IsZero() {
		return false
	}
	// NaN fails both comparisons, so test the accepted range directly
	if !(r.Temperature >= MinTemperature && r.Temperature <= MaxTemperature) {
		return false
	}
	return true
}

// String renders the reading the way the console reporter prints it.
func (r *Reading) String() string {
	return fmt.Sprintf("Temperature %d: %0.3f°C | %s",
		r.Channel,
		r.Temperature,
		r.Timestamp.Format(time.ANSIC))
}

// NewReading creates a new Reading stamped with the current time
func NewReading(sessionID string, channel int, temperature float64) *Reading {
	return &Reading{
		SessionID:   sessionID,
		Channel:     channel,
		Temperature: temperature,
		Timestamp:   time.Now(),
	}
}

// Copy returns a deep copy of the Reading
func (r *Reading) Copy() *Reading {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
