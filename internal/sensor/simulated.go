package sensor

import (
	"math/rand"
	"sync"
	"time"
)

// Simulated is an in-process handle producing values around a base
// temperature. Each channel is offset by half a degree so that channels
// are distinguishable in the output.
type Simulated struct {
	channel     int
	base        float64
	jitter      float64
	attachDelay time.Duration

	mu     sync.Mutex
	rng    *rand.Rand
	opened bool
}

// NewSimulated creates an unopened simulated handle. A zero seed picks a
// time based one.
func NewSimulated(channel int, base, jitter float64, attachDelay time.Duration, seed int64) *Simulated {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulated{
		channel:     channel,
		base:        base,
		jitter:      jitter,
		attachDelay: attachDelay,
		rng:         rand.New(rand.NewSource(seed + int64(channel))),
	}
}

// Channel returns the channel this handle serves
func (s *Simulated) Channel() int {
	return s.channel
}

// Open waits for the configured attach delay, timing out like real
// hardware would when the delay exceeds timeout.
func (s *Simulated) Open(timeout time.Duration) error {
	delay := s.attachDelay
	err := attachWithin(s.channel, timeout, func() error {
		time.Sleep(delay)
		return nil
	}, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.opened = true
	s.mu.Unlock()
	return nil
}

// Temperature returns base + channel offset + uniform jitter
func (s *Simulated) Temperature() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return 0, ErrNotOpen
	}
	noise := (s.rng.Float64()*2 - 1) * s.jitter
	return s.base + float64(s.channel)*0.5 + noise, nil
}

// Close marks the handle closed
func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	return nil
}
