package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/thermolog/internal/config"
	"github.com/afroash/thermolog/internal/sensor"
	"github.com/afroash/thermolog/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Session.Channels = []int{0, 1}
	cfg.Session.FrequencyHz = 100
	cfg.Session.StartDelay = time.Millisecond
	cfg.Sensor.Simulated.Seed = 7
	return cfg
}

func TestRun_PeriodicPrintsReadingsAndSummary(t *testing.T) {
	cfg := testConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	if err := run(ctx, cfg, strings.NewReader(""), &out, zerolog.Nop()); err != nil {
		t.Fatalf("run: %v", err)
	}

	text := out.String()
	if !strings.Contains(text, " --- Press CTRL+C to stop ---") {
		t.Errorf("missing banner in output:\n%s", text)
	}
	if !strings.Contains(text, "Temperature 0: ") || !strings.Contains(text, "Temperature 1: ") {
		t.Errorf("missing reading lines in output:\n%s", text)
	}
	for _, prefix := range []string{"C0 | MAX: ", "C1 | MAX: "} {
		if !strings.Contains(text, prefix) {
			t.Errorf("missing summary %q in output:\n%s", prefix, text)
		}
	}
}

func TestRun_AttachTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.AttachTimeout = 10 * time.Millisecond
	cfg.Sensor.Simulated.AttachDelay = time.Second

	var out bytes.Buffer
	err := run(context.Background(), cfg, strings.NewReader(""), &out, zerolog.Nop())
	if !errors.Is(err, sensor.ErrAttachmentTimeout) {
		t.Fatalf("run = %v, want ErrAttachmentTimeout", err)
	}
	if strings.Contains(out.String(), "Temperature") {
		t.Errorf("no readings expected after attach failure, got:\n%s", out.String())
	}
}

func TestRun_EventsStopsOnEnter(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.Mode = config.ModeEvents

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	var out bytes.Buffer
	go func() {
		done <- run(context.Background(), cfg, pr, &out, zerolog.Nop())
	}()

	time.Sleep(50 * time.Millisecond)
	pw.Write([]byte("\n"))

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events mode did not stop on Enter")
	}

	if !strings.Contains(out.String(), " --- Press ENTER to stop ---") {
		t.Errorf("missing banner in output:\n%s", out.String())
	}
	if strings.Contains(out.String(), "MAX:") {
		t.Errorf("events mode should not print a summary:\n%s", out.String())
	}
}

func TestRun_PersistsToDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Enabled = true
	cfg.Database.Path = filepath.Join(t.TempDir(), "data", "thermolog.db")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := run(ctx, cfg, strings.NewReader(""), io.Discard, zerolog.Nop()); err != nil {
		t.Fatalf("run: %v", err)
	}

	store, err := storage.NewSQLiteStore(cfg.Database.Path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store.Close()

	ids, err := store.GetSessionIDs()
	if err != nil {
		t.Fatalf("GetSessionIDs: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("sessions = %v, want exactly one", ids)
	}
	summaries, err := store.GetChannelStats(ids[0])
	if err != nil {
		t.Fatalf("GetChannelStats: %v", err)
	}
	if len(summaries) != 2 || summaries[0].Count == 0 || summaries[0].Count != summaries[1].Count {
		t.Errorf("stored summaries = %+v, want equal non-zero counts on two channels", summaries)
	}
}

func TestWriteDaily(t *testing.T) {
	var out bytes.Buffer
	writeDaily(&out, nil)
	if out.String() != "no data\n" {
		t.Errorf("empty report = %q", out.String())
	}

	out.Reset()
	writeDaily(&out, []storage.DailyStat{{
		Date:           time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		Channel:        4,
		MinTemperature: 19.5,
		MaxTemperature: 24.25,
		AvgTemperature: 21.875,
		ReadingCount:   86400,
	}})
	want := "2026-10-01 C4 | MAX: 24.250 | MIN: 19.500 | AVG: 21.875 | N: 86400\n"
	if out.String() != want {
		t.Errorf("report = %q, want %q", out.String(), want)
	}
}
