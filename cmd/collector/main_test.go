package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/thermolog/internal/config"
	"github.com/afroash/thermolog/internal/models"
	"github.com/afroash/thermolog/internal/storage"
)

func testCollectorConfig(t *testing.T, withDB bool) *config.CollectorConfig {
	t.Helper()
	cfg := &config.CollectorConfig{Server: config.ServerSettings{AuthToken: "secret"}}
	cfg.Database.Enabled = withDB
	cfg.Database.Path = filepath.Join(t.TempDir(), "data", "collector.db")
	cfg.Database.FlushPeriod = 10 * time.Millisecond
	cfg.ApplyDefaults()
	return cfg
}

func TestCollector_Health(t *testing.T) {
	c, err := newCollector(testCollectorConfig(t, false), zerolog.Nop())
	if err != nil {
		t.Fatalf("newCollector: %v", err)
	}
	defer c.close()

	rec := httptest.NewRecorder()
	c.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["version"] != version {
		t.Errorf("health = %v", body)
	}
}

func TestCollector_PersistsStreamedReadings(t *testing.T) {
	cfg := testCollectorConfig(t, true)
	c, err := newCollector(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newCollector: %v", err)
	}
	srv := httptest.NewServer(c.mux)
	defer srv.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer secret")
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/stream", header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	readings := []models.Reading{
		*models.NewReading("bench-9", 0, 20.0),
		*models.NewReading("bench-9", 0, 24.0),
	}
	msg, err := models.NewMessage(models.MessageTypeBatch, models.BatchMessage{Readings: readings, Count: 2})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var ack models.Message
	if err := conn.ReadJSON(&ack); err != nil || ack.Type != models.MessageTypeAck {
		t.Fatalf("ack = %v, %v", ack.Type, err)
	}
	conn.Close()

	// close stops the writer, which flushes the queued batch
	c.close()

	store, err := storage.NewSQLiteStore(cfg.Database.Path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	summaries, err := store.GetChannelStats("bench-9")
	if err != nil {
		t.Fatalf("GetChannelStats: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Count != 2 || summaries[0].Mean != 22.0 {
		t.Errorf("stored summaries = %+v", summaries)
	}
}
