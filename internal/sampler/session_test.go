package sampler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/afroash/thermolog/internal/config"
	"github.com/afroash/thermolog/internal/models"
	"github.com/afroash/thermolog/internal/report"
	"github.com/afroash/thermolog/internal/sensor"
	"github.com/afroash/thermolog/internal/stats"
	"github.com/rs/zerolog"
)

// fakeHandle replays values and counts lifecycle calls
type fakeHandle struct {
	channel    int
	values     []float64
	openErr    error
	readErrAt  int // fail the n-th read (1-based), 0 = never
	reads      int
	openCount  int
	closeCount int
}

func (f *fakeHandle) Channel() int { return f.channel }

func (f *fakeHandle) Open(timeout time.Duration) error {
	f.openCount++
	return f.openErr
}

func (f *fakeHandle) Temperature() (float64, error) {
	f.reads++
	if f.readErrAt > 0 && f.reads == f.readErrAt {
		return 0, errors.New("device detached")
	}
	return f.values[(f.reads-1)%len(f.values)], nil
}

func (f *fakeHandle) Close() error {
	f.closeCount++
	return nil
}

type fakeHub struct {
	handles map[int]*fakeHandle
	built   []int
}

func newFakeHub(channels ...int) *fakeHub {
	hub := &fakeHub{handles: make(map[int]*fakeHandle)}
	for _, ch := range channels {
		hub.handles[ch] = &fakeHandle{
			channel: ch,
			values:  []float64{20 + float64(ch), 21 + float64(ch), 19 + float64(ch)},
		}
	}
	return hub
}

func (h *fakeHub) factory(channel int) (sensor.Handle, error) {
	fh, ok := h.handles[channel]
	if !ok {
		return nil, fmt.Errorf("no device on channel %d", channel)
	}
	h.built = append(h.built, channel)
	return fh, nil
}

// stopAfter cancels the session context once n ticks completed
type stopAfter struct {
	n      int
	cancel context.CancelFunc
	ticks  int
}

func (s *stopAfter) OnReading(models.Reading) {}

func (s *stopAfter) OnTickEnd(tick int) {
	s.ticks = tick
	if tick >= s.n {
		s.cancel()
	}
}

type recorder struct {
	mu       sync.Mutex
	readings []models.Reading
}

func (r *recorder) OnReading(reading models.Reading) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings = append(r.readings, reading)
}

func testOptions(channels ...int) Options {
	return Options{
		SessionID:     "test-session",
		Channels:      channels,
		Interval:      time.Millisecond,
		AttachTimeout: time.Second,
		Policy:        stats.Independent,
	}
}

func TestSession_InterruptAfterFiveTicks(t *testing.T) {
	hub := newFakeHub(0, 1, 2, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out bytes.Buffer
	reporter := report.New(&out)
	stop := &stopAfter{n: 5, cancel: cancel}

	s := New(testOptions(0, 1, 2, 4), hub.factory, zerolog.Nop(), reporter, stop)
	summaries, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if s.Ticks() != 5 {
		t.Errorf("Ticks() = %d, want 5", s.Ticks())
	}
	for ch, h := range hub.handles {
		if h.openCount != 1 {
			t.Errorf("channel %d opened %d times, want 1", ch, h.openCount)
		}
		if h.closeCount != 1 {
			t.Errorf("channel %d closed %d times, want 1", ch, h.closeCount)
		}
	}
	for _, ch := range s.Channels() {
		if ch.Stats.Len() != 5 {
			t.Errorf("channel %d history = %d, want 5", ch.Port, ch.Stats.Len())
		}
	}

	if len(summaries) != 4 {
		t.Fatalf("got %d summaries, want 4", len(summaries))
	}
	reporter.Summary(summaries)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	var summaryLines int
	for _, line := range lines {
		if strings.HasPrefix(line, "C") && strings.Contains(line, "| AVG:") {
			summaryLines++
		}
	}
	if summaryLines != 4 {
		t.Errorf("printed %d summary lines, want 4:\n%s", summaryLines, out.String())
	}
	if n := strings.Count(out.String(), "Temperature "); n != 20 {
		t.Errorf("printed %d reading lines, want 20", n)
	}
}

func TestSession_StatisticsFollowReadings(t *testing.T) {
	hub := newFakeHub(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(testOptions(0), hub.factory, zerolog.Nop(), &stopAfter{n: 3, cancel: cancel})
	summaries, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// values 20, 21, 19
	got := summaries[0]
	if got.Count != 3 || got.Max != 21 || got.Min != 19 {
		t.Errorf("summary = %+v, want count 3 max 21 min 19", got)
	}
	if math.Abs(got.Mean-20) > 1e-9 {
		t.Errorf("mean = %v, want 20", got.Mean)
	}
}

func TestSession_ReadingsInChannelOrder(t *testing.T) {
	hub := newFakeHub(4, 0, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	s := New(testOptions(4, 0, 2), hub.factory, zerolog.Nop(), rec, &stopAfter{n: 2, cancel: cancel})
	if _, err := s.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []int{4, 0, 2, 4, 0, 2}
	if len(rec.readings) != len(want) {
		t.Fatalf("got %d readings, want %d", len(rec.readings), len(want))
	}
	for i, r := range rec.readings {
		if r.Channel != want[i] {
			t.Errorf("reading %d channel = %d, want %d", i, r.Channel, want[i])
		}
		if r.SessionID != "test-session" {
			t.Errorf("reading %d session = %q", i, r.SessionID)
		}
		if r.Timestamp.IsZero() {
			t.Errorf("reading %d has no timestamp", i)
		}
	}
}

func TestSession_AttachmentTimeoutAbortsSession(t *testing.T) {
	hub := newFakeHub(0, 1, 2, 4)
	hub.handles[2].openErr = fmt.Errorf("channel 2: %w after 5s", sensor.ErrAttachmentTimeout)

	s := New(testOptions(0, 1, 2, 4), hub.factory, zerolog.Nop())
	summaries, err := s.Run(context.Background())

	if !errors.Is(err, sensor.ErrAttachmentTimeout) {
		t.Fatalf("Run error = %v, want ErrAttachmentTimeout", err)
	}
	if summaries != nil {
		t.Errorf("summaries = %v, want nil when acquisition fails", summaries)
	}
	for _, ch := range []int{0, 1} {
		if hub.handles[ch].closeCount != 1 {
			t.Errorf("channel %d closed %d times, want 1", ch, hub.handles[ch].closeCount)
		}
	}
	if hub.handles[4].openCount != 0 {
		t.Error("channel 4 should never be opened after channel 2 failed")
	}
	for _, ch := range hub.built {
		if ch == 4 {
			t.Error("channel 4 handle should never be built")
		}
	}
	if hub.handles[0].reads != 0 {
		t.Error("no tick may run when acquisition fails")
	}
}

func TestSession_InterruptBeforeFirstTick(t *testing.T) {
	hub := newFakeHub(0, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	s := New(testOptions(0, 1), hub.factory, zerolog.Nop(), report.New(&out))
	summaries, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, sum := range summaries {
		if !sum.NoData() {
			t.Errorf("channel %d should have no data, got %+v", sum.Channel, sum)
		}
	}
	for ch, h := range hub.handles {
		if h.closeCount != 1 {
			t.Errorf("channel %d closed %d times, want 1", ch, h.closeCount)
		}
	}

	report.New(&out).Summary(summaries)
	if !strings.Contains(out.String(), "C0 | no data") || !strings.Contains(out.String(), "C1 | no data") {
		t.Errorf("expected no data lines, got %q", out.String())
	}
}

func TestSession_ReadErrorEndsSession(t *testing.T) {
	hub := newFakeHub(0, 1)
	hub.handles[1].readErrAt = 3

	s := New(testOptions(0, 1), hub.factory, zerolog.Nop())
	summaries, err := s.Run(context.Background())
	if err == nil {
		t.Fatal("Run should return the read error")
	}
	if !strings.Contains(err.Error(), "read channel 1") {
		t.Errorf("error = %v, want channel context", err)
	}
	if s.Ticks() != 2 {
		t.Errorf("Ticks() = %d, want 2 completed ticks", s.Ticks())
	}
	if summaries[1].Count != 2 {
		t.Errorf("channel 1 count = %d, want 2", summaries[1].Count)
	}
	for ch, h := range hub.handles {
		if h.closeCount != 1 {
			t.Errorf("channel %d closed %d times, want 1", ch, h.closeCount)
		}
	}
}

func TestSession_InterruptDuringLongWait(t *testing.T) {
	hub := newFakeHub(0)
	opts := testOptions(0)
	opts.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	s := New(opts, hub.factory, zerolog.Nop(), sensor.ListenerFunc(func(models.Reading) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := s.Run(ctx); err != nil {
			t.Errorf("Run failed: %v", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop while waiting between ticks")
	}
	if s.Ticks() != 1 {
		t.Errorf("Ticks() = %d, want 1", s.Ticks())
	}
}

func TestSession_ReleaseIsIdempotent(t *testing.T) {
	hub := newFakeHub(0, 1)
	s := New(testOptions(0, 1), hub.factory, zerolog.Nop())

	if err := s.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := s.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := s.Release(); err != nil {
		t.Fatalf("second Release failed: %v", err)
	}
	for ch, h := range hub.handles {
		if h.closeCount != 1 {
			t.Errorf("channel %d closed %d times, want 1", ch, h.closeCount)
		}
	}
}

func TestSession_Watch(t *testing.T) {
	hub := newFakeHub(0, 1)
	opts := testOptions(0, 1)
	opts.Interval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	rec := &recorder{}
	s := New(opts, hub.factory, zerolog.Nop(), rec)
	if err := s.Watch(ctx); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	rec.mu.Lock()
	n := len(rec.readings)
	rec.mu.Unlock()
	if n < 2 {
		t.Errorf("got %d readings, expected at least one per channel", n)
	}
	for ch, h := range hub.handles {
		if h.closeCount != 1 {
			t.Errorf("channel %d closed %d times, want 1", ch, h.closeCount)
		}
	}
}

func TestOptionsFrom(t *testing.T) {
	cfg := config.Default().Session
	cfg.StatsPolicy = "legacy"
	cfg.FrequencyHz = 4

	opts, err := OptionsFrom(cfg, "abc")
	if err != nil {
		t.Fatalf("OptionsFrom failed: %v", err)
	}
	if opts.Policy != stats.Legacy {
		t.Errorf("Policy = %v, want legacy", opts.Policy)
	}
	if opts.Interval != 250*time.Millisecond {
		t.Errorf("Interval = %v, want 250ms", opts.Interval)
	}
	if opts.SessionID != "abc" {
		t.Errorf("SessionID = %q", opts.SessionID)
	}

	cfg.StatsPolicy = "weird"
	if _, err := OptionsFrom(cfg, "abc"); err == nil {
		t.Error("OptionsFrom should reject an unknown policy")
	}
}
