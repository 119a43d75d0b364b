package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/thermolog/internal/models"
	"github.com/afroash/thermolog/internal/storage"
)

func newTestAPI(t *testing.T, withHistory bool) (*APIHandler, *MemoryStore, *storage.SQLiteStore) {
	t.Helper()
	live := NewMemoryStore(100)
	if !withHistory {
		return NewAPIHandler(live, zerolog.Nop()), live, nil
	}
	db, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAPIHandlerWithHistory(live, db, zerolog.Nop()), live, db
}

func get(t *testing.T, api *APIHandler, target string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	api.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode: %v (body %s)", err, rec.Body.String())
	}
}

func TestAPI_Current(t *testing.T) {
	api, live, _ := newTestAPI(t, false)

	if rec := get(t, api, "/api/current"); rec.Code != http.StatusNotFound {
		t.Errorf("empty store status = %d, want 404", rec.Code)
	}

	live.Add(testReading("s1", 0, 20))
	live.Add(testReading("s1", 0, 21))
	live.Add(testReading("s1", 2, 30))

	var all []models.Reading
	decode(t, get(t, api, "/api/current"), &all)
	if len(all) != 2 || all[0].Temperature != 21 || all[1].Channel != 2 {
		t.Errorf("current = %+v", all)
	}

	var one []models.Reading
	decode(t, get(t, api, "/api/current?session=s1&channel=2"), &one)
	if len(one) != 1 || one[0].Temperature != 30 {
		t.Errorf("current channel 2 = %+v", one)
	}

	if rec := get(t, api, "/api/current?channel=x"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad channel status = %d, want 400", rec.Code)
	}
}

func TestAPI_CurrentFallsBackToStorage(t *testing.T) {
	api, live, db := newTestAPI(t, true)
	now := time.Now()
	for i, ts := range []time.Time{now.Add(-2 * time.Hour), now.Add(-time.Hour)} {
		r := &models.Reading{SessionID: "yesterday", Channel: 3, Temperature: 40 + float64(i), Timestamp: ts}
		if err := db.InsertReading(r); err != nil {
			t.Fatalf("InsertReading: %v", err)
		}
	}

	var stored []models.Reading
	decode(t, get(t, api, "/api/current?channel=3"), &stored)
	if len(stored) != 1 || stored[0].Temperature != 41 || stored[0].SessionID != "yesterday" {
		t.Errorf("stored current = %+v", stored)
	}

	if rec := get(t, api, "/api/current?channel=3&session=yesterday"); rec.Code != http.StatusNotFound {
		t.Errorf("explicit session status = %d, want 404", rec.Code)
	}
	if rec := get(t, api, "/api/current?channel=5"); rec.Code != http.StatusNotFound {
		t.Errorf("empty channel status = %d, want 404", rec.Code)
	}

	live.Add(testReading("now", 3, 22))
	var fresh []models.Reading
	decode(t, get(t, api, "/api/current?channel=3"), &fresh)
	if len(fresh) != 1 || fresh[0].Temperature != 22 {
		t.Errorf("live current = %+v", fresh)
	}
}

func TestAPI_HistoryFromMemory(t *testing.T) {
	api, live, _ := newTestAPI(t, false)
	for i := 0; i < 10; i++ {
		live.Add(testReading("s1", 1, float64(i)))
	}

	var readings []models.Reading
	decode(t, get(t, api, "/api/history?channel=1&limit=3"), &readings)
	if len(readings) != 3 || readings[0].Temperature != 9 {
		t.Errorf("history = %+v", readings)
	}

	var none []models.Reading
	decode(t, get(t, api, "/api/history?channel=5"), &none)
	if len(none) != 0 {
		t.Errorf("unknown channel history = %+v", none)
	}

	if rec := get(t, api, "/api/history?hours=1"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("hours without database status = %d, want 503", rec.Code)
	}
}

func TestAPI_HistoryFromStorage(t *testing.T) {
	api, _, db := newTestAPI(t, true)
	now := time.Now()
	for i := 0; i < 5; i++ {
		r := &models.Reading{SessionID: "old", Channel: 0, Temperature: float64(i), Timestamp: now.Add(-time.Duration(i) * time.Minute)}
		if err := db.InsertReading(r); err != nil {
			t.Fatalf("InsertReading: %v", err)
		}
	}
	stale := &models.Reading{SessionID: "old", Channel: 0, Temperature: 99, Timestamp: now.Add(-3 * time.Hour)}
	if err := db.InsertReading(stale); err != nil {
		t.Fatalf("InsertReading: %v", err)
	}

	var readings []models.Reading
	decode(t, get(t, api, "/api/history?channel=0&hours=1"), &readings)
	if len(readings) != 5 {
		t.Errorf("len = %d, want 5", len(readings))
	}

	if rec := get(t, api, "/api/history?hours=-2"); rec.Code != http.StatusBadRequest {
		t.Errorf("negative hours status = %d, want 400", rec.Code)
	}
}

func TestAPI_Summary(t *testing.T) {
	api, live, db := newTestAPI(t, true)

	if rec := get(t, api, "/api/summary"); rec.Code != http.StatusNotFound {
		t.Errorf("no sessions status = %d, want 404", rec.Code)
	}

	// Running session: aggregated from storage
	now := time.Now()
	batch := []*models.Reading{
		{SessionID: "run", Channel: 0, Temperature: 20, Timestamp: now},
		{SessionID: "run", Channel: 0, Temperature: 22, Timestamp: now},
	}
	if err := db.InsertBatch(batch); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	live.Add(batch[1])

	var running SummaryResponse
	decode(t, get(t, api, "/api/summary?session=run"), &running)
	if running.Final {
		t.Error("running session reported as final")
	}
	if len(running.Summaries) != 1 || running.Summaries[0].Mean != 21 {
		t.Errorf("running summaries = %+v", running.Summaries)
	}
	if len(running.Lines) != 1 || running.Lines[0] != "C0 | MAX: 22.000 | MIN: 20.000 | AVG: 21.000" {
		t.Errorf("lines = %q", running.Lines)
	}

	// Finished session: the summary the sampler sent wins
	live.SetSummary("run", []models.ChannelSummary{
		{Channel: 0, Count: 2, Max: 22, Mean: 21, HasMax: true},
		{Channel: 1},
	})
	var final SummaryResponse
	decode(t, get(t, api, "/api/summary"), &final)
	if !final.Final || final.SessionID != "run" {
		t.Errorf("final = %+v", final)
	}
	want := []string{"C0 | MAX: 22.000 | MIN: n/a | AVG: 21.000", "C1 | no data"}
	if len(final.Lines) != 2 || final.Lines[0] != want[0] || final.Lines[1] != want[1] {
		t.Errorf("lines = %q, want %q", final.Lines, want)
	}
}

func TestAPI_DailyStats(t *testing.T) {
	noDB, _, _ := newTestAPI(t, false)
	if rec := get(t, noDB, "/api/daily/stats"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status without database = %d, want 503", rec.Code)
	}

	api, _, db := newTestAPI(t, true)
	now := time.Now()
	for ch := 0; ch < 2; ch++ {
		r := &models.Reading{SessionID: "s1", Channel: ch, Temperature: 20 + float64(ch), Timestamp: now}
		if err := db.InsertReading(r); err != nil {
			t.Fatalf("InsertReading: %v", err)
		}
	}

	var all []storage.DailyStat
	decode(t, get(t, api, "/api/daily/stats?days=2"), &all)
	if len(all) != 2 {
		t.Errorf("all channels = %d stats, want 2", len(all))
	}

	var one []storage.DailyStat
	decode(t, get(t, api, "/api/daily/stats?channel=1"), &one)
	if len(one) != 1 || one[0].MaxTemperature != 21 {
		t.Errorf("channel 1 = %+v", one)
	}

	tests := []string{"/api/daily/stats?days=0", "/api/daily/stats?channel=-5", "/api/daily/stats?days=abc"}
	for _, target := range tests {
		if rec := get(t, api, target); rec.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", target, rec.Code)
		}
	}
}

func TestAPI_SessionsAndStats(t *testing.T) {
	api, live, db := newTestAPI(t, true)
	live.Add(testReading("live-1", 0, 20))
	if err := db.InsertReading(testReading("stored-1", 0, 20)); err != nil {
		t.Fatalf("InsertReading: %v", err)
	}
	h := NewHandler(testToken, live, zerolog.Nop())
	api.SetActiveSource(h)

	var sessions SessionsResponse
	decode(t, get(t, api, "/api/sessions"), &sessions)
	if len(sessions.Live) != 1 || sessions.Live[0] != "live-1" {
		t.Errorf("live = %v", sessions.Live)
	}
	if len(sessions.Stored) != 1 || sessions.Stored[0] != "stored-1" {
		t.Errorf("stored = %v", sessions.Stored)
	}
	if sessions.Active == nil || len(sessions.Active) != 0 {
		t.Errorf("active = %v, want empty list", sessions.Active)
	}

	var stats StatsResponse
	decode(t, get(t, api, "/api/stats"), &stats)
	if stats.Live.TotalReadings != 1 {
		t.Errorf("live total = %d, want 1", stats.Live.TotalReadings)
	}
	if stats.Database == nil || stats.Database.TotalReadings != 1 {
		t.Errorf("database stats = %+v", stats.Database)
	}
}
