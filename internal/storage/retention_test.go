package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestCleaner(t *testing.T, config RetentionCleanerConfig) (*SQLiteStore, *RetentionCleaner) {
	t.Helper()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "retention.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	cleaner := NewRetentionCleaner(store, config, zerolog.Nop())
	t.Cleanup(func() {
		cleaner.Stop()
		store.Close()
	})

	// The first pass runs as soon as the cleaner starts
	deadline := time.Now().Add(time.Second)
	for cleaner.Stats().Runs == 0 {
		if time.Now().After(deadline) {
			t.Fatal("initial cleanup never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return store, cleaner
}

func TestRetentionCleaner_RunNow(t *testing.T) {
	store, cleaner := newTestCleaner(t, RetentionCleanerConfig{
		RetentionDays: 30,
		CleanupPeriod: time.Hour,
	})

	now := time.Now().UTC()
	insertSession(t, store, "old", now.AddDate(0, 0, -35), []int{0, 1, 2, 4}, 5)
	insertSession(t, store, "new", now.Add(-time.Hour), []int{0, 1, 2, 4}, 5)

	res, err := cleaner.RunNow()
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if len(res.Sessions) != 1 || res.Sessions[0] != "old" || res.Channels != 4 || res.Readings != 20 {
		t.Errorf("RunNow result = %+v", res)
	}

	stats := cleaner.Stats()
	if stats.SessionsRemoved != 1 || stats.ChannelsRemoved != 4 || stats.ReadingsRemoved != 20 {
		t.Errorf("Stats = %+v", stats)
	}
	if len(stats.LastPruned) != 1 || stats.LastPruned[0] != "old" {
		t.Errorf("LastPruned = %v", stats.LastPruned)
	}
	if ids := sessionIDs(t, store); len(ids) != 1 || ids[0] != "new" {
		t.Errorf("remaining = %v, want [new]", ids)
	}
}

func TestRetentionCleaner_ProtectsActiveSessions(t *testing.T) {
	active := []string{"live"}
	store, cleaner := newTestCleaner(t, RetentionCleanerConfig{
		RetentionDays:  1,
		CleanupPeriod:  time.Hour,
		ActiveSessions: func() []string { return active },
	})

	old := time.Now().UTC().AddDate(0, 0, -3)
	insertSession(t, store, "live", old, []int{0}, 3)
	insertSession(t, store, "done", old, []int{0}, 3)

	if _, err := cleaner.RunNow(); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if ids := sessionIDs(t, store); len(ids) != 1 || ids[0] != "live" {
		t.Errorf("remaining = %v, want [live]", ids)
	}
	if got := cleaner.Stats().ProtectedOnLast; got != 1 {
		t.Errorf("ProtectedOnLast = %d, want 1", got)
	}
}

func TestRetentionCleaner_PeriodicCleanup(t *testing.T) {
	store, cleaner := newTestCleaner(t, RetentionCleanerConfig{
		RetentionDays: 1,
		CleanupPeriod: 50 * time.Millisecond,
	})

	insertSession(t, store, "stale", time.Now().UTC().AddDate(0, 0, -2), []int{0, 1}, 3)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(sessionIDs(t, store)) > 0 {
		time.Sleep(20 * time.Millisecond)
	}

	stats := cleaner.Stats()
	if stats.Runs < 2 {
		t.Errorf("Runs = %d, expected >= 2", stats.Runs)
	}
	if stats.SessionsRemoved != 1 || stats.ReadingsRemoved != 6 {
		t.Errorf("SessionsRemoved = %d, ReadingsRemoved = %d, want 1 and 6", stats.SessionsRemoved, stats.ReadingsRemoved)
	}
}

func TestRetentionCleaner_RetentionWindow(t *testing.T) {
	tests := []struct {
		name          string
		retentionDays int
		ageDays       int
		removed       bool
	}{
		{"30 day retention, 35 day old session", 30, 35, true},
		{"30 day retention, 25 day old session", 30, 25, false},
		{"7 day retention, 10 day old session", 7, 10, true},
		{"1 day retention, 2 day old session", 1, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, cleaner := newTestCleaner(t, RetentionCleanerConfig{
				RetentionDays: tt.retentionDays,
				CleanupPeriod: time.Hour,
			})
			insertSession(t, store, "bench", time.Now().UTC().AddDate(0, 0, -tt.ageDays), []int{0}, 1)

			res, err := cleaner.RunNow()
			if err != nil {
				t.Fatalf("RunNow: %v", err)
			}
			if got := len(res.Sessions) == 1; got != tt.removed {
				t.Errorf("removed = %t, want %t", got, tt.removed)
			}
		})
	}
}

func TestRetentionCleaner_InvalidPeriod(t *testing.T) {
	_, cleaner := newTestCleaner(t, RetentionCleanerConfig{RetentionDays: 30})
	if cleaner.period != time.Hour {
		t.Errorf("period = %v, want 1h fallback", cleaner.period)
	}
	if cleaner.Stats().RetentionDays != 30 {
		t.Errorf("RetentionDays = %d, want 30", cleaner.Stats().RetentionDays)
	}
}

func TestRetentionCleaner_Stop(t *testing.T) {
	_, cleaner := newTestCleaner(t, RetentionCleanerConfig{
		RetentionDays: 30,
		CleanupPeriod: 20 * time.Millisecond,
	})
	time.Sleep(60 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		cleaner.Stop()
		cleaner.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() timed out")
	}
	if cleaner.Stats().Runs < 1 {
		t.Error("expected at least the initial run")
	}
}
